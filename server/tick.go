package server

import (
	"context"
	"time"
)

const (
	// TicksPerSecond 默认世界推进频率（20 TPS）
	TicksPerSecond = 20
)

func tickInterval(tps int) time.Duration {
	if tps <= 0 {
		tps = TicksPerSecond
	}
	return time.Second / time.Duration(tps)
}

// Run 阻塞运行 Tick 循环（单线程推进世界），直到 ctx 结束。
// 网络读写不会阻塞 Tick：输入来自有界邮箱，发送失败只记录日志。
func (r *Room) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval(r.tps))
	defer ticker.Stop()
	defer r.stop()
	Log.Infof("tick loop started at %d TPS", r.tps)
	for {
		select {
		case <-ctx.Done():
			Log.Info("tick loop stopped")
			return
		case now := <-ticker.C:
			// 核心循环：处理输入 → 更新世界 → 下发感知
			start := time.Now()
			r.Tick(now)
			r.metrics.AddTick(time.Since(start).Nanoseconds())
		}
	}
}
