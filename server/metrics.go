package server

import (
	"sync/atomic"
)

// RoomMetrics 记录世界运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount         int64 // 统计的 Tick 次数
	ActionsAccepted   int64 // 被应用的 Action 数
	RateLimited       int64 // 因限流未应用的 Action 数
	OldSeqIgnored     int64 // 因旧序列（重复/乱序）未应用的 Action 数
	StepsReplayed     int64 // 已应用过、随重发再次到达而跳过的步骤数
	UnknownIgnored    int64 // 未登录地址发来的非登录 Action 数
	DecodeErrors      int64 // 解码失败被丢弃的报文数
	ChanFullDiscarded int64 // 因邮箱满被丢弃的报文数
	PacketsSent       int64 // 发出的感知报文数
	SendErrors        int64 // 发送失败次数
	Logins            int64 // 新建会话数
	Evictions         int64 // 超时移除的会话数
	ShipsDestroyed    int64 // 碰撞销毁的飞船数
	TotalTickNs       int64 // Tick 累计耗时（纳秒）
}

func (m *RoomMetrics) IncAccepted()          { atomic.AddInt64(&m.ActionsAccepted, 1) }
func (m *RoomMetrics) IncRateLimited()       { atomic.AddInt64(&m.RateLimited, 1) }
func (m *RoomMetrics) IncOldSeqIgnored()     { atomic.AddInt64(&m.OldSeqIgnored, 1) }
func (m *RoomMetrics) IncStepsReplayed()     { atomic.AddInt64(&m.StepsReplayed, 1) }
func (m *RoomMetrics) IncUnknownIgnored()    { atomic.AddInt64(&m.UnknownIgnored, 1) }
func (m *RoomMetrics) IncDecodeErrors()      { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *RoomMetrics) IncChanFullDiscarded() { atomic.AddInt64(&m.ChanFullDiscarded, 1) }
func (m *RoomMetrics) IncPacketsSent()       { atomic.AddInt64(&m.PacketsSent, 1) }
func (m *RoomMetrics) IncSendErrors()        { atomic.AddInt64(&m.SendErrors, 1) }
func (m *RoomMetrics) IncLogins()            { atomic.AddInt64(&m.Logins, 1) }
func (m *RoomMetrics) IncEvictions()         { atomic.AddInt64(&m.Evictions, 1) }
func (m *RoomMetrics) AddShipsDestroyed(n int) {
	atomic.AddInt64(&m.ShipsDestroyed, int64(n))
}
func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"actions_accepted":    atomic.LoadInt64(&m.ActionsAccepted),
		"rate_limited":        atomic.LoadInt64(&m.RateLimited),
		"old_seq_ignored":     atomic.LoadInt64(&m.OldSeqIgnored),
		"steps_replayed":      atomic.LoadInt64(&m.StepsReplayed),
		"unknown_ignored":     atomic.LoadInt64(&m.UnknownIgnored),
		"decode_errors":       atomic.LoadInt64(&m.DecodeErrors),
		"chan_full_discarded": atomic.LoadInt64(&m.ChanFullDiscarded),
		"packets_sent":        atomic.LoadInt64(&m.PacketsSent),
		"send_errors":         atomic.LoadInt64(&m.SendErrors),
		"logins":              atomic.LoadInt64(&m.Logins),
		"evictions":           atomic.LoadInt64(&m.Evictions),
		"ships_destroyed":     atomic.LoadInt64(&m.ShipsDestroyed),
		"avg_tick_ms":         avgMs,
	}
}
