package game

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
)

const (
	// ShipMass 新飞船质量
	ShipMass = 1.0
	// SpawnAltitude 出生轨道半径相对行星半径的倍数
	SpawnAltitude = 3.0
)

// GameState 权威世界：组件表 + 按固定顺序执行的系统。
// 只能由 Tick 协程调用。
type GameState struct {
	Entities *Entities

	log      *zap.SugaredLogger
	rng      *rand.Rand
	lastTime float64
}

// NewGameState 创建空世界；log 为 nil 时不输出日志
func NewGameState(log *zap.SugaredLogger) *GameState {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &GameState{
		Entities: NewEntities(),
		log:      log,
		rng:      rand.New(rand.NewSource(1)),
	}
}

// AddPlanet 添加静态行星
func (g *GameState) AddPlanet(p Planet) EntityID {
	return g.Entities.Create(Components{Planet: &p})
}

// OnEnter 为新客户端创建飞船：有行星时放在第一颗行星的圆轨道上，否则静止于原点
func (g *GameState) OnEnter() EntityID {
	body := Body{Mass: ShipMass}
	if planets := g.Entities.Planets(); len(planets) > 0 {
		p := planets[0].Planet
		r := p.Radius * SpawnAltitude
		angle := g.rng.Float64() * 2 * math.Pi
		radial := mgl64.Vec2{math.Cos(angle), math.Sin(angle)}
		tangent := mgl64.Vec2{-radial.Y(), radial.X()}
		speed := math.Sqrt(GravitationalConstant * p.Mass / r)
		body.Position = p.Position.Add(radial.Mul(r))
		body.Velocity = tangent.Mul(speed)
	}
	return g.Entities.Create(Components{Body: &body, Ship: &Ship{}})
}

// OnLeave 立即销毁飞船（连同其广播与机动）
func (g *GameState) OnLeave(ship EntityID) {
	g.Entities.Destroy(ship)
}

// OnScheduleManeuver 安排机动；同一飞船已有完全相同的机动时视为重复消息
func (g *GameState) OnScheduleManeuver(ship EntityID, data ManeuverData) (EntityID, bool) {
	if !g.Entities.IsShip(ship) {
		g.log.Debugw("schedule maneuver for missing ship", "ship", ship)
		return 0, false
	}
	for _, id := range g.Entities.ManeuversOf(ship) {
		if m, _ := g.Entities.Maneuver(id); m.Data == data {
			return id, false
		}
	}
	return g.Entities.Create(Components{Maneuver: &Maneuver{ShipID: ship, Data: data}}), true
}

// OnCancelManeuver 只有机动所属飞船才能取消
func (g *GameState) OnCancelManeuver(ship, maneuver EntityID) bool {
	m, ok := g.Entities.Maneuver(maneuver)
	if !ok {
		return false
	}
	if m.ShipID != ship {
		g.log.Debugw("refusing to cancel foreign maneuver", "ship", ship, "maneuver", maneuver, "owner", m.ShipID)
		return false
	}
	g.Entities.Destroy(maneuver)
	return true
}

// OnStartBroadcast 设置飞船的广播（每个发送者至多一条）
func (g *GameState) OnStartBroadcast(ship EntityID, message string) {
	if !g.Entities.IsShip(ship) {
		return
	}
	g.Entities.Update(ship, Components{Broadcast: &Broadcast{Sender: ship, Message: message}})
}

// OnStopBroadcast 撤销广播
func (g *GameState) OnStopBroadcast(ship EntityID) {
	g.Entities.RemoveBroadcast(ship)
}

// OnUpdate 推进到模拟时间 now（秒，从 0 起算），按固定顺序执行系统，返回本 Tick 销毁的实体
func (g *GameState) OnUpdate(now float64) []EntityID {
	dt := math.Max(0, now-g.lastTime)
	g.lastTime = math.Max(g.lastTime, now)

	ApplyGravity(g.Entities)
	ApplyManeuvers(g.Entities, now, g.log)
	MoveBodies(g.Entities, dt)
	CheckCollisions(g.Entities)
	return g.Entities.Sweep()
}

// Export 见 Entities.Export
func (g *GameState) Export() []ShipExport { return g.Entities.Export() }

// Maneuvers 见 Entities.Maneuvers
func (g *GameState) Maneuvers() []ManeuverExport { return g.Entities.Maneuvers() }

// Planets 见 Entities.Planets
func (g *GameState) Planets() []PlanetExport { return g.Entities.Planets() }
