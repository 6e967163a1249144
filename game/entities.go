package game

import "sort"

// Components 创建或更新实体时携带的组件；nil 表示不涉及该组件
type Components struct {
	Body      *Body
	Planet    *Planet
	Ship      *Ship
	Maneuver  *Maneuver
	Broadcast *Broadcast
}

// ShipExport 导出给传播层和渲染方的飞船只读快照
type ShipExport struct {
	ID        EntityID
	Body      Body
	Broadcast *Broadcast
}

// ManeuverExport 机动只读快照
type ManeuverExport struct {
	ID       EntityID
	Maneuver Maneuver
}

// PlanetExport 行星只读快照
type PlanetExport struct {
	ID     EntityID
	Planet Planet
}

// Entities 权威组件表。只在 Tick 内由单一协程修改；
// 通过 Body/Maneuvers 等拿到的指针只在当前 Tick 内有效。
type Entities struct {
	nextID EntityID

	bodies     map[EntityID]*Body
	planets    map[EntityID]*Planet
	ships      map[EntityID]Ship
	maneuvers  map[EntityID]*Maneuver
	broadcasts map[EntityID]*Broadcast

	toDestroy []EntityID
}

func NewEntities() *Entities {
	return &Entities{
		bodies:     make(map[EntityID]*Body),
		planets:    make(map[EntityID]*Planet),
		ships:      make(map[EntityID]Ship),
		maneuvers:  make(map[EntityID]*Maneuver),
		broadcasts: make(map[EntityID]*Broadcast),
	}
}

// Create 分配新 ID 并插入组件
func (e *Entities) Create(c Components) EntityID {
	id := e.nextID
	e.nextID++
	e.Update(id, c)
	return id
}

// Update 为已有实体添加或替换组件
func (e *Entities) Update(id EntityID, c Components) {
	if c.Body != nil {
		b := *c.Body
		e.bodies[id] = &b
	}
	if c.Planet != nil {
		p := *c.Planet
		e.planets[id] = &p
	}
	if c.Ship != nil {
		e.ships[id] = *c.Ship
	}
	if c.Maneuver != nil {
		m := *c.Maneuver
		e.maneuvers[id] = &m
	}
	if c.Broadcast != nil {
		b := *c.Broadcast
		e.broadcasts[id] = &b
	}
}

// RemoveBroadcast 只移除广播组件
func (e *Entities) RemoveBroadcast(id EntityID) {
	delete(e.broadcasts, id)
}

// Destroy 从所有表中移除实体；幂等。销毁飞船时连同其机动一起移除。
func (e *Entities) Destroy(id EntityID) {
	if _, ok := e.ships[id]; ok {
		for _, m := range e.ManeuversOf(id) {
			delete(e.maneuvers, m)
		}
	}
	delete(e.bodies, id)
	delete(e.planets, id)
	delete(e.ships, id)
	delete(e.maneuvers, id)
	delete(e.broadcasts, id)
}

// MarkDestroyed 记录待销毁实体，Sweep 时统一删除
func (e *Entities) MarkDestroyed(id EntityID) {
	e.toDestroy = append(e.toDestroy, id)
}

// Sweep 执行延迟销毁，返回去重排序后的实体 ID
func (e *Entities) Sweep() []EntityID {
	if len(e.toDestroy) == 0 {
		return nil
	}
	ids := sortedIDs(e.toDestroy)
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		e.Destroy(id)
		out = append(out, id)
	}
	e.toDestroy = nil
	return out
}

func (e *Entities) Body(id EntityID) (*Body, bool) {
	b, ok := e.bodies[id]
	return b, ok
}

func (e *Entities) IsShip(id EntityID) bool {
	_, ok := e.ships[id]
	return ok
}

func (e *Entities) Maneuver(id EntityID) (*Maneuver, bool) {
	m, ok := e.maneuvers[id]
	return m, ok
}

// ManeuverCount 当前存活的机动数
func (e *Entities) ManeuverCount() int { return len(e.maneuvers) }

// ManeuversOf 某艘飞船的机动 ID（升序）
func (e *Entities) ManeuversOf(ship EntityID) []EntityID {
	var ids []EntityID
	for id, m := range e.maneuvers {
		if m.ShipID == ship {
			ids = append(ids, id)
		}
	}
	return sortedIDs(ids)
}

func (e *Entities) Broadcast(id EntityID) (*Broadcast, bool) {
	b, ok := e.broadcasts[id]
	return b, ok
}

// Export 导出每艘飞船的 (Body, 可选 Broadcast)，按 ID 升序
func (e *Entities) Export() []ShipExport {
	ids := keys(e.ships)
	out := make([]ShipExport, 0, len(ids))
	for _, id := range ids {
		body, ok := e.bodies[id]
		if !ok {
			continue
		}
		ex := ShipExport{ID: id, Body: *body}
		if b, ok := e.broadcasts[id]; ok {
			bc := *b
			ex.Broadcast = &bc
		}
		out = append(out, ex)
	}
	return out
}

// Planets 导出所有行星，按 ID 升序
func (e *Entities) Planets() []PlanetExport {
	ids := keys(e.planets)
	out := make([]PlanetExport, 0, len(ids))
	for _, id := range ids {
		out = append(out, PlanetExport{ID: id, Planet: *e.planets[id]})
	}
	return out
}

// Maneuvers 导出所有存活的机动，按 ID 升序
func (e *Entities) Maneuvers() []ManeuverExport {
	ids := keys(e.maneuvers)
	out := make([]ManeuverExport, 0, len(ids))
	for _, id := range ids {
		out = append(out, ManeuverExport{ID: id, Maneuver: *e.maneuvers[id]})
	}
	return out
}

// keys 以确定的顺序遍历组件表
func keys[T any](m map[EntityID]T) []EntityID {
	ids := make([]EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return sortedIDs(ids)
}

func sortedIDs(ids []EntityID) []EntityID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
