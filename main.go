package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"spacearena/server"
)

// 服务端入口：绑定 UDP 游戏端口，启动 Tick 循环与 HTTP 管理/观战接口
func main() {
	cfg := server.DefaultConfig()
	flag.StringVar(&cfg.UDPAddr, "addr", cfg.UDPAddr, "udp listen address for game traffic, e.g. :34481")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "http listen address for admin, metrics and spectators (empty disables)")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file path (empty logs to stderr)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flag.IntVar(&cfg.TicksPerSecond, "tps", cfg.TicksPerSecond, "simulation ticks per second")
	flag.DurationVar(&cfg.ClientTimeout, "client-timeout", cfg.ClientTimeout, "drop clients silent for longer than this")
	flag.Float64Var(&cfg.ActionsPerSec, "actions-per-sec", cfg.ActionsPerSec, "per-client action rate limit")
	flag.IntVar(&cfg.ActionBurst, "action-burst", cfg.ActionBurst, "per-client action burst")
	flag.Parse()

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	m, err := server.NewManager(cfg)
	if err != nil {
		server.Log.Fatalf("startup: %v", err)
	}
	m.Start(context.Background())

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")
	if err := m.Close(); err != nil {
		server.Log.Warnf("close: %v", err)
	}
}
