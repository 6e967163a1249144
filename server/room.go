package server

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"spacearena/game"
	"spacearena/protocol"
)

// Room 权威世界：状态只在 Tick 协程内修改，单线程推进
type Room struct {
	game     *game.GameState
	registry *Registry
	conn     net.PacketConn
	metrics  *RoomMetrics

	inputs        chan Input
	spectatorChan chan spectatorEvent
	stopped       chan struct{} // Run 返回后关闭
	stopOnce      sync.Once

	spectators map[*ClientConn]struct{}

	builder *protocol.Builder
	sendBuf []byte

	mu       sync.Mutex // 保护 tunables（管理接口写，Tick 读）
	tunables Tunables
	current  Tunables // 本 Tick 使用的副本

	tps     int
	start   time.Time
	tickSeq uint64
	simTime float64

	sessionCount atomic.Int64 // 供 HTTP 协程读取
}

// NewRoom 创建世界并放置配置中的行星；conn 用于发送感知报文
func NewRoom(cfg Config, conn net.PacketConn) *Room {
	r := &Room{
		game:          game.NewGameState(Log.Named("game")),
		registry:      NewRegistry(rand.New(rand.NewSource(time.Now().UnixNano()))),
		conn:          conn,
		metrics:       &RoomMetrics{},
		inputs:        make(chan Input, cfg.MailboxSize), // 足够缓冲，避免网络读阻塞影响 Tick
		spectatorChan: make(chan spectatorEvent, 64),
		stopped:       make(chan struct{}),
		spectators:    make(map[*ClientConn]struct{}),
		builder:       protocol.NewBuilder(protocol.MaxPacketSize),
		sendBuf:       make([]byte, 0, protocol.MaxPacketSize),
		tunables:      cfg.Tunables.sanitize(),
		tps:           cfg.TicksPerSecond,
		start:         time.Now(),
	}
	r.current = r.tunables
	if r.tps <= 0 {
		r.tps = TicksPerSecond
	}
	for _, p := range cfg.Planets {
		id := r.game.AddPlanet(p)
		Log.Infow("planet placed", "id", id, "position", p.Position, "radius", p.Radius, "mass", p.Mass)
	}
	return r
}

// Inputs 邮箱写端，交给 Listener
func (r *Room) Inputs() chan<- Input { return r.inputs }

func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// Tunables 当前规则参数
func (r *Room) Tunables() Tunables {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tunables
}

// UpdateTunables 热更新规则参数，下一次 Tick 生效
func (r *Room) UpdateTunables(f func(*Tunables)) Tunables {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.tunables)
	r.tunables = r.tunables.sanitize()
	return r.tunables
}

// Tick 推进一帧：处理输入 → 淘汰超时 → 更新世界 → 下发感知 → 推送观战快照
func (r *Room) Tick(now time.Time) {
	r.BeginTick()
	r.ProcessInputs()
	r.EvictExpired(now)
	r.UpdateWorld(now)
	exports := r.game.Export()
	r.SendPerceptions(exports)
	r.PublishSpectators(exports)
	r.sessionCount.Store(int64(r.registry.Len()))
}

// SessionCount 上一 Tick 结束时的在线会话数
func (r *Room) SessionCount() int64 { return r.sessionCount.Load() }

// BeginTick 复制本 Tick 使用的规则参数
func (r *Room) BeginTick() {
	r.tickSeq++
	next := r.Tunables()
	if next != r.current {
		r.registry.SetRate(next)
		r.current = next
	}
}

// ProcessInputs 非阻塞地处理邮箱与观战者进出请求。
// 每个 Tick 最多处理开始时已在队列中的条目，之后到达的留给下一 Tick。
func (r *Room) ProcessInputs() {
	for n := len(r.spectatorChan); n > 0; n-- {
		ev := <-r.spectatorChan
		if ev.join {
			r.spectators[ev.conn] = struct{}{}
		} else if _, ok := r.spectators[ev.conn]; ok {
			delete(r.spectators, ev.conn)
			ev.conn.Close()
		}
	}
	for n := len(r.inputs); n > 0; n-- {
		r.handleInput(<-r.inputs)
	}
}

func (r *Room) handleInput(in Input) {
	// 本 Action 之前的确认状态，用来识别随重发再次到达的步骤
	var before Sequencer
	if s, ok := r.registry.Lookup(in.Addr); ok {
		before = s.Seq
	}
	s, result := r.registry.Admit(in.Addr, in.Action, in.ReceivedAt, r.current)
	switch result {
	case AdmitUnknown:
		r.metrics.IncUnknownIgnored()
		Log.Debugw("ignoring action from unknown address", "addr", in.Addr.String(), "seq", in.Action.Seq)
		return
	case AdmitStale:
		r.metrics.IncOldSeqIgnored()
		return
	case AdmitRateLimited:
		r.metrics.IncRateLimited()
		return
	case AdmitNew:
		s.ID = r.game.OnEnter()
		r.metrics.IncLogins()
		Log.Infow("client logged in", "addr", in.Addr.String(), "callsign", s.Callsign, "ship", s.ID)
	case AdmitFresh:
	}
	r.metrics.IncAccepted()
	r.applySteps(s, in.Action, &before)
}

// applySteps 按顺序应用步骤。来源序列号已被 before 确认的步骤之前已经应用过，跳过。
func (r *Room) applySteps(s *Session, a protocol.Action, before *Sequencer) {
	for i, step := range a.Steps {
		if before.Covers(a.Origin(i)) {
			r.metrics.IncStepsReplayed()
			continue
		}
		switch st := step.(type) {
		case protocol.Login, protocol.Heartbeat:
		case protocol.ScheduleManeuver:
			if id, ok := r.game.OnScheduleManeuver(s.ID, st.Data); ok {
				Log.Debugw("maneuver scheduled", "callsign", s.Callsign, "ship", s.ID, "maneuver", id)
			} else {
				Log.Debugw("maneuver not scheduled", "callsign", s.Callsign, "ship", s.ID)
			}
		case protocol.CancelManeuver:
			if !r.game.OnCancelManeuver(s.ID, st.ID) {
				Log.Debugw("maneuver not cancelled", "callsign", s.Callsign, "ship", s.ID, "maneuver", st.ID)
			}
		case protocol.StartBroadcast:
			r.game.OnStartBroadcast(s.ID, truncateUTF8(st.Message, r.current.MaxBroadcastLen))
		case protocol.StopBroadcast:
			r.game.OnStopBroadcast(s.ID)
		case protocol.Leave:
			r.removeSession(s, "leave")
			return
		}
	}
}

// EvictExpired 移除超时会话，效果等同主动离开
func (r *Room) EvictExpired(now time.Time) {
	for _, s := range r.registry.Expired(now, r.current.ClientTimeout) {
		r.metrics.IncEvictions()
		r.removeSession(s, "timeout")
	}
}

func (r *Room) removeSession(s *Session, reason string) {
	r.game.OnLeave(s.ID)
	r.registry.Remove(s)
	Log.Infow("client removed", "addr", s.Addr.String(), "callsign", s.Callsign, "ship", s.ID, "reason", reason)
}

// UpdateWorld 推进模拟；被碰撞销毁的飞船在下一刻为其会话重生
func (r *Room) UpdateWorld(now time.Time) {
	r.simTime = now.Sub(r.start).Seconds()
	destroyed := r.game.OnUpdate(r.simTime)
	if len(destroyed) == 0 {
		return
	}
	gone := make(map[game.EntityID]bool, len(destroyed))
	for _, id := range destroyed {
		gone[id] = true
	}
	for _, s := range r.registry.Sessions() {
		if gone[s.ID] {
			r.metrics.AddShipsDestroyed(1)
			old := s.ID
			s.ID = r.game.OnEnter()
			Log.Infow("ship destroyed, respawning", "callsign", s.Callsign, "old", old, "new", s.ID)
		}
	}
}

// SendPerceptions 给每个会话下发本 Tick 的感知：广播优先，其次自己飞船的机动，
// 然后飞船，最后行星。放不下时发送当前报文并以相同头部继续，不丢弃任何条目。
func (r *Room) SendPerceptions(exports []game.ShipExport) {
	broadcasts, bodies := r.percepts(exports)
	own := make(map[game.EntityID][]protocol.Percept)
	for _, m := range r.game.Maneuvers() {
		ship := m.Maneuver.ShipID
		own[ship] = append(own[ship], protocol.ManeuverPercept{ID: m.ID, ShipID: ship, Data: m.Maneuver.Data})
	}
	for _, s := range r.registry.Sessions() {
		self := s.ID
		header := protocol.PerceptionHeader{
			Confirm: s.Seq.Confirmed(),
			SelfID:  &self,
			Time:    r.simTime,
		}
		r.builder.Begin(header)
		for _, list := range [][]protocol.Percept{broadcasts, own[s.ID], bodies} {
			for _, p := range list {
				if r.builder.Add(p) {
					continue
				}
				r.flush(s)
				r.builder.Begin(header)
				if !r.builder.Add(p) {
					// 广播长度在接收时已截断，单个条目总能放进空报文
					Log.Errorw("percept does not fit an empty packet", "percept", p)
				}
			}
		}
		r.flush(s)
	}
}

// percepts 所有会话共享的条目：广播，以及飞船与行星
func (r *Room) percepts(exports []game.ShipExport) (broadcasts, bodies []protocol.Percept) {
	planets := r.game.Planets()
	bodies = make([]protocol.Percept, 0, len(exports)+len(planets))
	for _, ex := range exports {
		if ex.Broadcast != nil {
			broadcasts = append(broadcasts, protocol.BroadcastPercept{Sender: ex.Broadcast.Sender, Message: ex.Broadcast.Message})
		}
		bodies = append(bodies, protocol.ShipPercept{ID: ex.ID, Body: ex.Body})
	}
	for _, p := range planets {
		bodies = append(bodies, protocol.PlanetPercept{ID: p.ID, Planet: p.Planet})
	}
	return broadcasts, bodies
}

func (r *Room) flush(s *Session) {
	msg, err := r.builder.Encode(r.sendBuf)
	if err != nil {
		Log.Errorf("encode perception: %v", err)
		return
	}
	if _, err := r.conn.WriteTo(msg, s.Addr); err != nil {
		// 发送失败不断开，客户端会自然超时
		r.metrics.IncSendErrors()
		Log.Warnw("send perception failed", "addr", s.Addr.String(), "err", err)
		return
	}
	r.metrics.IncPacketsSent()
}

// ShipState 观战快照中的飞船
type ShipState struct {
	ID        uint64  `json:"id"`
	Callsign  string  `json:"callsign,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VX        float64 `json:"vx"`
	VY        float64 `json:"vy"`
	Broadcast string  `json:"broadcast,omitempty"`
}

// PlanetState 观战快照中的行星
type PlanetState struct {
	ID     uint64  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Color  string  `json:"color"`
}

// WorldSnapshot 每 Tick 推送给观战者（渲染方）的只读快照
type WorldSnapshot struct {
	Type    string        `json:"type"`
	Tick    uint64        `json:"tick"`
	Time    float64       `json:"time"`
	Ships   []ShipState   `json:"ships"`
	Planets []PlanetState `json:"planets"`
}

// Snapshot 由本 Tick 的导出结果构建观战快照
func (r *Room) Snapshot(exports []game.ShipExport) WorldSnapshot {
	callsigns := make(map[game.EntityID]string, r.registry.Len())
	for _, s := range r.registry.Sessions() {
		callsigns[s.ID] = s.Callsign
	}
	snap := WorldSnapshot{Type: "state", Tick: r.tickSeq, Time: r.simTime}
	for _, ex := range exports {
		st := ShipState{
			ID:       uint64(ex.ID),
			Callsign: callsigns[ex.ID],
			X:        ex.Body.Position.X(),
			Y:        ex.Body.Position.Y(),
			VX:       ex.Body.Velocity.X(),
			VY:       ex.Body.Velocity.Y(),
		}
		if ex.Broadcast != nil {
			st.Broadcast = ex.Broadcast.Message
		}
		snap.Ships = append(snap.Ships, st)
	}
	for _, p := range r.game.Planets() {
		c := p.Planet.Color
		snap.Planets = append(snap.Planets, PlanetState{
			ID:     uint64(p.ID),
			X:      p.Planet.Position.X(),
			Y:      p.Planet.Position.Y(),
			Radius: p.Planet.Radius,
			Color:  hexColor(c),
		})
	}
	return snap
}

// PublishSpectators 将快照广播给所有观战连接（文本 JSON）
func (r *Room) PublishSpectators(exports []game.ShipExport) {
	if len(r.spectators) == 0 {
		return
	}
	b, err := json.Marshal(r.Snapshot(exports))
	if err != nil {
		Log.Errorf("marshal snapshot: %v", err)
		return
	}
	for c := range r.spectators {
		c.Enqueue(b)
	}
}

// spectatorEvent 观战者进出请求；同一通道保证先加入后离开的顺序
type spectatorEvent struct {
	conn *ClientConn
	join bool
}

// JoinSpectator 请求在 Tick 线程中加入观战者；Tick 循环已停止时返回 false
func (r *Room) JoinSpectator(c *ClientConn) bool {
	return r.sendSpectatorEvent(spectatorEvent{conn: c, join: true})
}

// RequestLeave 请求在 Tick 线程中移除观战者，避免并发改动房间状态
func (r *Room) RequestLeave(c *ClientConn) {
	r.sendSpectatorEvent(spectatorEvent{conn: c})
}

// sendSpectatorEvent 阻塞直到 Tick 线程收下请求，或 Tick 循环已停止
func (r *Room) sendSpectatorEvent(ev spectatorEvent) bool {
	select {
	case <-r.stopped:
		return false
	default:
	}
	select {
	case r.spectatorChan <- ev:
		return true
	case <-r.stopped:
		return false
	}
}

// stop 标记 Tick 循环已结束，释放等待中的观战者请求
func (r *Room) stop() {
	r.stopOnce.Do(func() { close(r.stopped) })
}

// truncateUTF8 按字节截断且不切断多字节字符
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func hexColor(c game.Color) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
