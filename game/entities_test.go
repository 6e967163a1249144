package game

import (
	"reflect"
	"testing"
)

func TestCreateAllocatesIncreasingIDs(t *testing.T) {
	e := NewEntities()
	var last EntityID
	for i := 0; i < 5; i++ {
		id := e.Create(Components{Ship: &Ship{}, Body: &Body{Mass: 1}})
		if i > 0 && id <= last {
			t.Fatalf("id %d not greater than %d", id, last)
		}
		last = id
	}
	e.Destroy(last)
	if id := e.Create(Components{Ship: &Ship{}}); id <= last {
		t.Fatalf("id %d reused after destroy of %d", id, last)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	e := NewEntities()
	id := e.Create(Components{Ship: &Ship{}, Body: &Body{Mass: 1}, Broadcast: &Broadcast{Message: "hi"}})
	e.Destroy(id)
	e.Destroy(id)
	if _, ok := e.Body(id); ok {
		t.Fatal("body survived destroy")
	}
	if e.IsShip(id) {
		t.Fatal("ship survived destroy")
	}
	if len(e.Export()) != 0 {
		t.Fatal("export not empty")
	}
}

func TestSweepAppliesMarksOnce(t *testing.T) {
	e := NewEntities()
	a := e.Create(Components{Ship: &Ship{}, Body: &Body{}})
	b := e.Create(Components{Ship: &Ship{}, Body: &Body{}})
	c := e.Create(Components{Ship: &Ship{}, Body: &Body{}})

	e.MarkDestroyed(c)
	e.MarkDestroyed(a)
	e.MarkDestroyed(c)
	if !e.IsShip(a) {
		t.Fatal("mark must not destroy before sweep")
	}

	got := e.Sweep()
	if want := []EntityID{a, c}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sweep returned %v, want %v", got, want)
	}
	if e.Sweep() != nil {
		t.Fatal("second sweep should be empty")
	}
	ex := e.Export()
	if len(ex) != 1 || ex[0].ID != b {
		t.Fatalf("unexpected export %+v", ex)
	}
}

func TestExportCopiesComponents(t *testing.T) {
	e := NewEntities()
	id := e.Create(Components{Ship: &Ship{}, Body: &Body{Mass: 1}, Broadcast: &Broadcast{Sender: 0, Message: "a"}})
	ex := e.Export()
	ex[0].Body.Mass = 42
	ex[0].Broadcast.Message = "b"

	body, _ := e.Body(id)
	bc, _ := e.Broadcast(id)
	if body.Mass != 1 || bc.Message != "a" {
		t.Fatal("export aliases store components")
	}
}

func TestDestroyShipCascadesToManeuvers(t *testing.T) {
	e := NewEntities()
	ship := e.Create(Components{Ship: &Ship{}, Body: &Body{Mass: 1}})
	other := e.Create(Components{Ship: &Ship{}, Body: &Body{Mass: 1}})
	e.Create(Components{Maneuver: &Maneuver{ShipID: ship}})
	e.Create(Components{Maneuver: &Maneuver{ShipID: ship, Data: ManeuverData{Thrust: 1}}})
	m := e.Create(Components{Maneuver: &Maneuver{ShipID: other}})

	e.MarkDestroyed(ship)
	e.Sweep()
	ms := e.Maneuvers()
	if len(ms) != 1 || ms[0].ID != m || ms[0].Maneuver.ShipID != other {
		t.Fatalf("unexpected maneuvers after sweep %+v", ms)
	}

	// 销毁机动本身不影响飞船
	e.Destroy(m)
	if !e.IsShip(other) {
		t.Fatal("destroying a maneuver removed its ship")
	}
}
