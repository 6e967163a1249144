// 无界面机器人：登录、广播、周期性安排随机机动，并记录插值后的位置。
// 用于对运行中的服务端做冒烟测试。
package main

import (
	"context"
	"flag"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spacearena/client"
	"spacearena/game"
)

func main() {
	addr := flag.String("server", "127.0.0.1:34481", "server udp address")
	message := flag.String("message", "hello from bot", "broadcast text (empty disables)")
	every := flag.Duration("maneuver-every", 5*time.Second, "interval between scheduled maneuvers")
	send := flag.Duration("send-every", 100*time.Millisecond, "interval between actions (heartbeats)")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	level := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	lvl, err := zapcore.ParseLevel(*level)
	if err != nil {
		panic(err)
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	conn, err := client.Dial(*addr, log.Named("conn"))
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Login(); err != nil {
		log.Warnf("login: %v", err)
	}
	if *message != "" {
		if err := conn.StartBroadcast(*message); err != nil {
			log.Warnf("broadcast: %v", err)
		}
	}
	run(ctx, conn, client.NewReconciler(log.Named("reconciler")), log, *send, *every)

	if err := conn.Leave(); err != nil {
		log.Warnf("leave: %v", err)
	}
	log.Info("bot stopped")
}

func run(ctx context.Context, conn *client.Conn, rec *client.Reconciler, log *zap.SugaredLogger, send, every time.Duration) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sendTicker := time.NewTicker(send)
	defer sendTicker.Stop()
	maneuverTicker := time.NewTicker(every)
	defer maneuverTicker.Stop()
	reportTicker := time.NewTicker(time.Second)
	defer reportTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-conn.Perceptions():
			if !ok {
				return
			}
			rec.Apply(p, time.Now())
		case <-sendTicker.C:
			if err := conn.Heartbeat(); err != nil {
				log.Debugw("send failed", "err", err)
			}
		case <-maneuverTicker.C:
			d := game.ManeuverData{
				Start:    rec.Latest() + 0.5,
				Duration: 1 + rng.Float64(),
				Angle:    rng.Float64() * 2 * math.Pi,
				Thrust:   rng.Float64(),
			}
			if err := conn.ScheduleManeuver(d); err != nil {
				log.Warnf("schedule maneuver: %v", err)
				continue
			}
			log.Infow("maneuver scheduled", "start", d.Start, "duration", d.Duration, "angle", d.Angle, "thrust", d.Thrust)
		case now := <-reportTicker.C:
			if gone := rec.Prune(); len(gone) > 0 {
				log.Debugw("pruned stale ships", "ids", gone)
			}
			self, ok := rec.Self()
			if !ok {
				log.Info("waiting for login confirmation")
				continue
			}
			t := rec.RenderTime(now)
			pos, _ := rec.Interpolate(self, t)
			f := rec.Frame(t)
			log.Infow("status", "ship", self, "time", t, "x", pos.X(), "y", pos.Y(),
				"ships", len(f.Ships), "planets", len(f.Planets), "maneuvers", len(f.Maneuvers), "confirmed", conn.Confirmed(), "pending", conn.Pending())
		}
	}
}
