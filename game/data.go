package game

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// EntityID 实体唯一标识，单调递增分配，不复用
type EntityID uint64

// Body 质点状态：位置、速度、本 Tick 累积的力与质量
type Body struct {
	Position mgl64.Vec2
	Velocity mgl64.Vec2
	Force    mgl64.Vec2
	Mass     float64
}

// Color 行星颜色（仅用于渲染方）
type Color struct {
	R, G, B uint8
}

// Planet 静态行星：引力源与碰撞目标
type Planet struct {
	Position mgl64.Vec2
	Radius   float64
	Mass     float64
	Color    Color
}

// Ship 标记实体为玩家控制的飞船
type Ship struct{}

// ManeuverData 客户端提交的机动计划（时间单位：服务器模拟秒）
type ManeuverData struct {
	Start    float64
	Duration float64
	Angle    float64
	Thrust   float64 // 0.0 = 0%, 1.0 = 100%
}

// ClampedThrust 推力限制在 [-1, 1]
func (d ManeuverData) ClampedThrust() float64 {
	return math.Max(-1, math.Min(1, d.Thrust))
}

// End 机动结束时间
func (d ManeuverData) End() float64 {
	return d.Start + d.Duration
}

// Maneuver 挂在独立实体上的机动组件，引用所属飞船
type Maneuver struct {
	ShipID EntityID
	Data   ManeuverData
}

// Broadcast 文本广播，每个发送者至多一条
type Broadcast struct {
	Sender  EntityID
	Message string
}
