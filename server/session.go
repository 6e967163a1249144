package server

import (
	"math/rand"
	"net"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"spacearena/game"
	"spacearena/protocol"
)

// callsignAttempts 生成呼号时的最大重试次数
const callsignAttempts = 16

// Session 一个已登录地址的会话（服务端权威状态）
type Session struct {
	ID         game.EntityID // 该会话的飞船；飞船被销毁后由 Room 重新分配
	Callsign   string
	Addr       net.Addr
	LastActive time.Time
	Seq        Sequencer

	limiter *rate.Limiter
}

// AdmitResult Registry.Admit 对一个 Action 的判定
type AdmitResult int

const (
	AdmitUnknown     AdmitResult = iota // 未登录地址且不含 Login：忽略
	AdmitNew                            // 新会话，需要为其创建飞船
	AdmitFresh                          // 新序列号，应用其步骤
	AdmitStale                          // 重复或乱序的旧序列号：只刷新活跃时间
	AdmitRateLimited                    // 超出速率：不确认，等待客户端重发
)

func (a AdmitResult) String() string {
	switch a {
	case AdmitUnknown:
		return "unknown"
	case AdmitNew:
		return "new"
	case AdmitFresh:
		return "fresh"
	case AdmitStale:
		return "stale"
	case AdmitRateLimited:
		return "rate_limited"
	default:
		return "invalid"
	}
}

// Registry 按网络地址索引的会话表，负责超时淘汰。只在 Tick 协程中使用。
type Registry struct {
	sessions  map[string]*Session
	callsigns map[string]struct{}
	rng       *rand.Rand
}

func NewRegistry(rng *rand.Rand) *Registry {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		callsigns: make(map[string]struct{}),
		rng:       rng,
	}
}

// Admit 判定来自 addr 的 Action；已知地址无论结果如何都刷新活跃时间
func (r *Registry) Admit(addr net.Addr, a protocol.Action, now time.Time, t Tunables) (*Session, AdmitResult) {
	s, ok := r.sessions[addr.String()]
	if !ok {
		if !a.HasLogin() {
			return nil, AdmitUnknown
		}
		s = &Session{
			Callsign:   r.newCallsign(),
			Addr:       addr,
			LastActive: now,
			limiter:    rate.NewLimiter(rate.Limit(t.ActionsPerSec), t.ActionBurst),
		}
		s.limiter.AllowN(now, 1)
		s.Seq.Observe(a.Seq)
		r.sessions[addr.String()] = s
		r.callsigns[s.Callsign] = struct{}{}
		return s, AdmitNew
	}

	s.LastActive = now
	if !s.Seq.Fresh(a.Seq) {
		return s, AdmitStale
	}
	if !s.limiter.AllowN(now, 1) {
		return s, AdmitRateLimited
	}
	s.Seq.Observe(a.Seq)
	return s, AdmitFresh
}

// newCallsign 拒绝并重试与在线会话重复的呼号
func (r *Registry) newCallsign() string {
	var cs string
	for i := 0; i < callsignAttempts; i++ {
		cs = GenerateCallsign(r.rng)
		if _, taken := r.callsigns[cs]; !taken {
			return cs
		}
	}
	Log.Warnw("callsign collision persisted, accepting duplicate", "callsign", cs)
	return cs
}

// Lookup 按地址查找会话
func (r *Registry) Lookup(addr net.Addr) (*Session, bool) {
	s, ok := r.sessions[addr.String()]
	return s, ok
}

// Remove 移除会话；幂等
func (r *Registry) Remove(s *Session) {
	if cur, ok := r.sessions[s.Addr.String()]; ok && cur == s {
		delete(r.sessions, s.Addr.String())
		delete(r.callsigns, s.Callsign)
	}
}

// Expired 返回超过 timeout 未活跃的会话（按飞船 ID 排序），不移除
func (r *Registry) Expired(now time.Time, timeout time.Duration) []*Session {
	var out []*Session
	for _, s := range r.sessions {
		if now.Sub(s.LastActive) > timeout {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out
}

// Sessions 所有会话（按飞船 ID 排序）
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sortSessions(out)
	return out
}

func (r *Registry) Len() int { return len(r.sessions) }

// SetRate 热更新所有会话的限流参数
func (r *Registry) SetRate(t Tunables) {
	for _, s := range r.sessions {
		s.limiter.SetLimit(rate.Limit(t.ActionsPerSec))
		s.limiter.SetBurst(t.ActionBurst)
	}
}

func sortSessions(ss []*Session) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].ID < ss[j].ID })
}
