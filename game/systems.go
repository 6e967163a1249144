package game

import (
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
)

// GravitationalConstant 世界尺度下的引力常数
const GravitationalConstant = 1.0

// ApplyGravity 对每个 (行星, 质点) 对累加指向行星的平方反比引力
func ApplyGravity(e *Entities) {
	for _, pid := range keys(e.planets) {
		planet := e.planets[pid]
		for _, bid := range keys(e.bodies) {
			body := e.bodies[bid]
			delta := planet.Position.Sub(body.Position)
			d2 := delta.Dot(delta)
			if d2 == 0 {
				continue
			}
			magnitude := GravitationalConstant * planet.Mass * body.Mass / d2
			body.Force = body.Force.Add(delta.Normalize().Mul(magnitude))
		}
	}
}

// ApplyManeuvers 对已开始的机动施加推力；到期的机动标记销毁
func ApplyManeuvers(e *Entities, now float64, log *zap.SugaredLogger) {
	for _, id := range keys(e.maneuvers) {
		m := e.maneuvers[id]
		if now >= m.Data.Start {
			direction := mgl64.Rotate2D(m.Data.Angle).Mul2x1(mgl64.Vec2{1, 0})
			force := direction.Mul(m.Data.ClampedThrust())
			if body, ok := e.bodies[m.ShipID]; ok {
				body.Force = body.Force.Add(force)
			} else {
				// 飞船可能在消息途中已被销毁
				log.Debugw("maneuver references missing ship", "maneuver", id, "ship", m.ShipID)
			}
		}
		if now >= m.Data.End() {
			e.MarkDestroyed(id)
		}
	}
}

// MoveBodies 半隐式欧拉积分，积分后清零受力
func MoveBodies(e *Entities, dt float64) {
	for _, id := range keys(e.bodies) {
		body := e.bodies[id]
		if body.Mass > 0 {
			body.Velocity = body.Velocity.Add(body.Force.Mul(dt / body.Mass))
		}
		body.Position = body.Position.Add(body.Velocity.Mul(dt))
		body.Force = mgl64.Vec2{}
	}
}

// CheckCollisions 飞船进入行星半径内即标记销毁（不做碰撞响应）
func CheckCollisions(e *Entities) {
	for _, sid := range keys(e.ships) {
		body, ok := e.bodies[sid]
		if !ok {
			continue
		}
		for _, pid := range keys(e.planets) {
			planet := e.planets[pid]
			delta := body.Position.Sub(planet.Position)
			if delta.Dot(delta) < planet.Radius*planet.Radius {
				e.MarkDestroyed(sid)
				break
			}
		}
	}
}
