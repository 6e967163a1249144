package client

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"spacearena/game"
	"spacearena/protocol"
)

func shipAt(id game.EntityID, x, y float64) protocol.ShipPercept {
	return protocol.ShipPercept{ID: id, Body: game.Body{Position: mgl64.Vec2{x, y}, Mass: 1}}
}

func perception(t float64, percepts ...protocol.Percept) protocol.Perception {
	return protocol.Perception{Header: protocol.PerceptionHeader{Time: t}, Percepts: percepts}
}

func TestInterpolation(t *testing.T) {
	r := NewReconciler(nil)
	now := time.Unix(0, 0)
	r.Apply(perception(0, shipAt(1, 0, 0)), now)
	r.Apply(perception(1, shipAt(1, 10, 0)), now)

	cases := []struct {
		t    float64
		want mgl64.Vec2
	}{
		{0.5, mgl64.Vec2{5, 0}},
		{1.5, mgl64.Vec2{10, 0}},
		{-1, mgl64.Vec2{0, 0}},
		{1, mgl64.Vec2{10, 0}},
	}
	for _, c := range cases {
		got, ok := r.Interpolate(1, c.t)
		if !ok || !got.ApproxEqual(c.want) {
			t.Fatalf("t=%v: got %v, want %v", c.t, got, c.want)
		}
	}
	if _, ok := r.Interpolate(2, 0.5); ok {
		t.Fatal("unknown entity interpolated")
	}
}

func TestFirstSightingFillsBothSlots(t *testing.T) {
	r := NewReconciler(nil)
	r.Apply(perception(3, shipAt(1, 4, 2)), time.Unix(0, 0))
	s, ok := r.Snapshot(1)
	if !ok || s.Previous != s.Current {
		t.Fatalf("unexpected first snapshot %+v", s)
	}
	got, _ := r.Interpolate(1, 100)
	if !got.ApproxEqual(mgl64.Vec2{4, 2}) {
		t.Fatalf("got %v", got)
	}
}

func TestOlderPerceptionIsIgnored(t *testing.T) {
	r := NewReconciler(nil)
	now := time.Unix(0, 0)
	r.Apply(perception(0, shipAt(1, 0, 0)), now)
	r.Apply(perception(1, shipAt(1, 10, 0)), now)
	r.Apply(perception(0.5, shipAt(1, -100, 0)), now)
	r.Apply(perception(1, shipAt(1, 99, 0)), now)

	s, _ := r.Snapshot(1)
	if s.Previous.Time != 0 || s.Current.Time != 1 || s.Current.Body.Position.X() != 10 {
		t.Fatalf("stale perception changed snapshot: %+v", s)
	}
	if got, _ := r.Interpolate(1, 0.5); !got.ApproxEqual(mgl64.Vec2{5, 0}) {
		t.Fatalf("got %v", got)
	}
	if r.Latest() != 1 {
		t.Fatalf("latest time regressed to %v", r.Latest())
	}
}

func TestPruneDropsStaleEntities(t *testing.T) {
	r := NewReconciler(nil)
	now := time.Unix(0, 0)
	r.Apply(perception(0, shipAt(1, 0, 0), shipAt(2, 0, 0),
		protocol.BroadcastPercept{Sender: 2, Message: "bye"}), now)
	r.Apply(perception(2, shipAt(1, 1, 0)), now)

	gone := r.Prune()
	if len(gone) != 1 || gone[0] != 2 {
		t.Fatalf("pruned %v, want [2]", gone)
	}
	f := r.Frame(2)
	if len(f.Ships) != 1 || f.Ships[0].ID != 1 || f.Ships[0].Broadcast != "" {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestFrameMarksSelfAndBroadcasts(t *testing.T) {
	r := NewReconciler(nil)
	self := game.EntityID(2)
	p := perception(1,
		protocol.BroadcastPercept{Sender: 2, Message: "hello"},
		shipAt(2, 1, 1),
		shipAt(1, 3, 3),
		protocol.PlanetPercept{ID: 9, Planet: game.Planet{Radius: 5}},
	)
	p.Header.SelfID = &self
	r.Apply(p, time.Unix(0, 0))

	if id, ok := r.Self(); !ok || id != 2 {
		t.Fatalf("self = %v %v", id, ok)
	}
	f := r.Frame(1)
	if len(f.Ships) != 2 || f.Ships[0].ID != 1 || f.Ships[0].Self || !f.Ships[1].Self || f.Ships[1].Broadcast != "hello" {
		t.Fatalf("unexpected ships %+v", f.Ships)
	}
	if len(f.Planets) != 1 || f.Planets[0].Planet.Radius != 5 {
		t.Fatalf("unexpected planets %+v", f.Planets)
	}
}

func TestRenderTimeTracksLatestPerception(t *testing.T) {
	r := NewReconciler(nil)
	start := time.Unix(100, 0)
	if r.RenderTime(start) != 0 {
		t.Fatal("render time before any perception")
	}
	r.Apply(perception(4, shipAt(1, 0, 0)), start)
	got := r.RenderTime(start.Add(250 * time.Millisecond))
	if want := 4 + 0.25 - DefaultInterpolationDelay; mgl64.Abs(got-want) > 1e-9 {
		t.Fatalf("render time %v, want %v", got, want)
	}
}

func TestManeuverIDsAreTracked(t *testing.T) {
	r := NewReconciler(nil)
	now := time.Unix(0, 0)
	burn := game.ManeuverData{Start: 5, Duration: 1, Thrust: 1}
	coast := game.ManeuverData{Start: 9, Duration: 2, Angle: 1, Thrust: 0.5}
	r.Apply(perception(0,
		protocol.ManeuverPercept{ID: 12, ShipID: 3, Data: coast},
		protocol.ManeuverPercept{ID: 11, ShipID: 3, Data: burn},
		shipAt(3, 0, 0),
	), now)

	if id, ok := r.ManeuverFor(burn); !ok || id != 11 {
		t.Fatalf("ManeuverFor = %v %v", id, ok)
	}
	if _, ok := r.ManeuverFor(game.ManeuverData{Start: 1}); ok {
		t.Fatal("found a maneuver that was never scheduled")
	}
	f := r.Frame(0)
	if len(f.Maneuvers) != 2 || f.Maneuvers[0].ID != 11 || f.Maneuvers[1].Data != coast || f.Maneuvers[0].ShipID != 3 {
		t.Fatalf("unexpected maneuvers %+v", f.Maneuvers)
	}

	r.Forget(11)
	if ms := r.Maneuvers(); len(ms) != 1 || ms[0].ID != 12 {
		t.Fatalf("forget left %+v", ms)
	}

	// 已结束或已取消的机动不再出现，超时后被丢弃
	r.Apply(perception(2, shipAt(3, 1, 0)), now)
	r.Prune()
	if ms := r.Maneuvers(); len(ms) != 0 {
		t.Fatalf("stale maneuvers kept: %+v", ms)
	}
}
