// Package client 客户端侧：按序发送 Action 并在确认前重发，
// 以及把收到的感知整理成可插值的双槽快照供渲染使用。
package client

import (
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"spacearena/game"
	"spacearena/protocol"
)

const (
	// DefaultStaleAfter 超过该时长（服务器秒）未再出现的实体被丢弃
	DefaultStaleAfter = 1.0
	// DefaultInterpolationDelay 渲染时间落后最新感知的时长，约两个 Tick
	DefaultInterpolationDelay = 0.1
)

// State 某一服务器时刻的飞船状态
type State struct {
	Time float64
	Body game.Body
}

// Snapshot 一个远端实体最近的两次状态
type Snapshot struct {
	Previous State
	Current  State
}

// At 返回 t 时刻的插值位置；t 被夹在 [Previous.Time, Current.Time] 内
func (s Snapshot) At(t float64) mgl64.Vec2 {
	prev, cur := s.Previous, s.Current
	if cur.Time <= prev.Time {
		return cur.Body.Position
	}
	t = mgl64.Clamp(t, prev.Time, cur.Time)
	f := (t - prev.Time) / (cur.Time - prev.Time)
	return prev.Body.Position.Add(cur.Body.Position.Sub(prev.Body.Position).Mul(f))
}

type broadcast struct {
	time    float64
	message string
}

type maneuver struct {
	time float64
	ship game.EntityID
	data game.ManeuverData
}

// Reconciler 把感知报文整理成每个实体的快照。
// 一个报文在一把锁内整体应用，并发渲染不会读到半更新的快照。
type Reconciler struct {
	StaleAfter         float64
	InterpolationDelay float64

	log *zap.SugaredLogger

	mu         sync.RWMutex
	selfID     *game.EntityID
	seen       bool
	latest     float64
	receivedAt time.Time
	ships      map[game.EntityID]*Snapshot
	planets    map[game.EntityID]game.Planet
	broadcasts map[game.EntityID]broadcast
	maneuvers  map[game.EntityID]maneuver
}

func NewReconciler(log *zap.SugaredLogger) *Reconciler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconciler{
		StaleAfter:         DefaultStaleAfter,
		InterpolationDelay: DefaultInterpolationDelay,
		log:                log,
		ships:              make(map[game.EntityID]*Snapshot),
		planets:            make(map[game.EntityID]game.Planet),
		broadcasts:         make(map[game.EntityID]broadcast),
		maneuvers:          make(map[game.EntityID]maneuver),
	}
}

// Apply 应用一个感知报文；at 为本地接收时间。
// 时间戳不新于已存状态的飞船条目被丢弃（同一 Tick 的重复报文也一样）。
func (r *Reconciler) Apply(p protocol.Perception, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := p.Header
	if h.SelfID != nil {
		id := *h.SelfID
		r.selfID = &id
	}
	if !r.seen || h.Time > r.latest {
		r.seen = true
		r.latest = h.Time
		r.receivedAt = at
	}

	for _, pc := range p.Percepts {
		switch pc := pc.(type) {
		case protocol.ShipPercept:
			st := State{Time: h.Time, Body: pc.Body}
			s, ok := r.ships[pc.ID]
			if !ok {
				r.ships[pc.ID] = &Snapshot{Previous: st, Current: st}
				continue
			}
			if st.Time <= s.Current.Time {
				r.log.Debugw("discarding out-of-order ship state", "ship", pc.ID, "time", st.Time, "current", s.Current.Time)
				continue
			}
			s.Previous, s.Current = s.Current, st
		case protocol.BroadcastPercept:
			if b, ok := r.broadcasts[pc.Sender]; ok && h.Time < b.time {
				continue
			}
			r.broadcasts[pc.Sender] = broadcast{time: h.Time, message: pc.Message}
		case protocol.PlanetPercept:
			r.planets[pc.ID] = pc.Planet
		case protocol.ManeuverPercept:
			if m, ok := r.maneuvers[pc.ID]; ok && h.Time < m.time {
				continue
			}
			r.maneuvers[pc.ID] = maneuver{time: h.Time, ship: pc.ShipID, data: pc.Data}
		}
	}
}

// Interpolate 返回实体在服务器时间 t 的位置
func (r *Reconciler) Interpolate(id game.EntityID, t float64) (mgl64.Vec2, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.ships[id]
	if !ok {
		return mgl64.Vec2{}, false
	}
	return s.At(t), true
}

// Snapshot 返回实体快照的副本
func (r *Reconciler) Snapshot(id game.EntityID) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.ships[id]
	if !ok {
		return Snapshot{}, false
	}
	return *s, true
}

// Prune 丢弃长时间未出现的飞船、广播与机动（已销毁、已结束或已离开），返回被丢弃的飞船
func (r *Reconciler) Prune() []game.EntityID {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.latest - r.StaleAfter
	var gone []game.EntityID
	for id, s := range r.ships {
		if s.Current.Time < cutoff {
			delete(r.ships, id)
			gone = append(gone, id)
		}
	}
	for id, b := range r.broadcasts {
		if b.time < cutoff {
			delete(r.broadcasts, id)
		}
	}
	for id, m := range r.maneuvers {
		if m.time < cutoff {
			delete(r.maneuvers, id)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	return gone
}

// ManeuverView 本客户端飞船的一个机动；ID 可用于取消
type ManeuverView struct {
	ID     game.EntityID
	ShipID game.EntityID
	Data   game.ManeuverData
}

// Maneuvers 服务端报告的本客户端机动，按 ID 排序
func (r *Reconciler) Maneuvers() []ManeuverView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maneuverViews()
}

func (r *Reconciler) maneuverViews() []ManeuverView {
	out := make([]ManeuverView, 0, len(r.maneuvers))
	for id, m := range r.maneuvers {
		out = append(out, ManeuverView{ID: id, ShipID: m.ship, Data: m.data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ManeuverFor 按安排时的参数查找服务端分配的机动 ID
func (r *Reconciler) ManeuverFor(d game.ManeuverData) (game.EntityID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.maneuverViews() {
		if m.Data == d {
			return m.ID, true
		}
	}
	return 0, false
}

// Forget 立即丢弃一个机动，例如本地已请求取消
func (r *Reconciler) Forget(maneuverID game.EntityID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.maneuvers, maneuverID)
}

// Self 服务端分配给本客户端的飞船
func (r *Reconciler) Self() (game.EntityID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selfID == nil {
		return 0, false
	}
	return *r.selfID, true
}

// Latest 最新感知的服务器时间
func (r *Reconciler) Latest() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// RenderTime 本地时刻 now 对应的渲染用服务器时间
func (r *Reconciler) RenderTime(now time.Time) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.seen {
		return 0
	}
	return r.latest + now.Sub(r.receivedAt).Seconds() - r.InterpolationDelay
}

// ShipView 渲染用的飞船
type ShipView struct {
	ID        game.EntityID
	Position  mgl64.Vec2
	Broadcast string
	Self      bool
}

// PlanetView 渲染用的行星
type PlanetView struct {
	ID     game.EntityID
	Planet game.Planet
}

// Frame 某一渲染时刻的完整画面
type Frame struct {
	Time      float64
	Ships     []ShipView
	Planets   []PlanetView
	Maneuvers []ManeuverView
}

// Frame 生成服务器时间 t 的画面，按 ID 排序
func (r *Reconciler) Frame(t float64) Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f := Frame{Time: t}
	for id, s := range r.ships {
		v := ShipView{ID: id, Position: s.At(t), Self: r.selfID != nil && *r.selfID == id}
		if b, ok := r.broadcasts[id]; ok {
			v.Broadcast = b.message
		}
		f.Ships = append(f.Ships, v)
	}
	for id, p := range r.planets {
		f.Planets = append(f.Planets, PlanetView{ID: id, Planet: p})
	}
	sort.Slice(f.Ships, func(i, j int) bool { return f.Ships[i].ID < f.Ships[j].ID })
	sort.Slice(f.Planets, func(i, j int) bool { return f.Planets[i].ID < f.Planets[j].ID })
	f.Maneuvers = r.maneuverViews()
	return f
}
