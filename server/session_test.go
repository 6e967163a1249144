package server

import (
	"math/rand"
	"net"
	"regexp"
	"testing"
	"time"

	"spacearena/protocol"
)

func TestSequencerConfirmationNeverRegresses(t *testing.T) {
	orders := [][]uint64{{5, 9}, {9, 5}, {9, 9, 5, 1}, {1, 5, 9}}
	for _, order := range orders {
		var s Sequencer
		for _, seq := range order {
			s.Observe(seq)
		}
		if s.Confirmed() != 9 {
			t.Fatalf("order %v: confirmed %d, want 9", order, s.Confirmed())
		}
	}

	var s Sequencer
	if !s.Observe(0) {
		t.Fatal("first sequence must be fresh, even zero")
	}
	if s.Observe(0) {
		t.Fatal("duplicate sequence reported fresh")
	}
	if !s.Fresh(1) || s.Fresh(0) {
		t.Fatal("Fresh disagrees with Observe")
	}
}

var callsignPattern = regexp.MustCompile(`^[A-Z]{3}-[A-Z0-9]{5}$`)

func TestGenerateCallsignFormat(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		if cs := GenerateCallsign(rng); !callsignPattern.MatchString(cs) {
			t.Fatalf("callsign %q does not match format", cs)
		}
	}
}

func TestRegistryRetriesCallsignCollision(t *testing.T) {
	first := GenerateCallsign(rand.New(rand.NewSource(7)))
	r := NewRegistry(rand.New(rand.NewSource(7)))
	r.callsigns[first] = struct{}{}

	if cs := r.newCallsign(); cs == first {
		t.Fatalf("registry handed out live callsign %q", cs)
	}
}

func addr(i int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 20000 + i}
}

func action(seq uint64, steps ...protocol.Step) protocol.Action {
	return protocol.Action{Seq: seq, Steps: steps}
}

func TestRegistryAdmit(t *testing.T) {
	r := NewRegistry(rand.New(rand.NewSource(1)))
	tun := DefaultConfig().Tunables
	t0 := time.Unix(1000, 0)

	if s, res := r.Admit(addr(1), action(1, protocol.Heartbeat{}), t0, tun); res != AdmitUnknown || s != nil {
		t.Fatalf("non-login from unknown address: %v", res)
	}
	if r.Len() != 0 {
		t.Fatal("unknown address created a session")
	}

	s, res := r.Admit(addr(1), action(4, protocol.Login{}), t0, tun)
	if res != AdmitNew || s.Seq.Confirmed() != 4 {
		t.Fatalf("login: %v confirmed %d", res, s.Seq.Confirmed())
	}

	t1 := t0.Add(time.Second)
	if _, res := r.Admit(addr(1), action(2, protocol.Login{}), t1, tun); res != AdmitStale {
		t.Fatalf("old sequence: %v", res)
	}
	if !s.LastActive.Equal(t1) {
		t.Fatal("stale packet did not refresh liveness")
	}
	if s.Seq.Confirmed() != 4 {
		t.Fatalf("stale packet regressed confirmation to %d", s.Seq.Confirmed())
	}

	if _, res := r.Admit(addr(1), action(6, protocol.Heartbeat{}), t1, tun); res != AdmitFresh {
		t.Fatalf("new sequence: %v", res)
	}
	if s.Seq.Confirmed() != 6 {
		t.Fatalf("confirmed %d, want 6", s.Seq.Confirmed())
	}
}

func TestRegistryRateLimitDoesNotConfirm(t *testing.T) {
	r := NewRegistry(rand.New(rand.NewSource(1)))
	tun := Tunables{ClientTimeout: time.Second, ActionsPerSec: 1, ActionBurst: 1, MaxBroadcastLen: 10}
	t0 := time.Unix(1000, 0)

	s, _ := r.Admit(addr(1), action(1, protocol.Login{}), t0, tun)
	if _, res := r.Admit(addr(1), action(2, protocol.Heartbeat{}), t0, tun); res != AdmitRateLimited {
		t.Fatalf("expected rate limit, got %v", res)
	}
	if s.Seq.Confirmed() != 1 {
		t.Fatalf("rate limited action was confirmed: %d", s.Seq.Confirmed())
	}
	if _, res := r.Admit(addr(1), action(2, protocol.Heartbeat{}), t0.Add(2*time.Second), tun); res != AdmitFresh {
		t.Fatalf("expected fresh after refill, got %v", res)
	}
}

func TestRegistryExpired(t *testing.T) {
	r := NewRegistry(rand.New(rand.NewSource(1)))
	tun := DefaultConfig().Tunables
	t0 := time.Unix(1000, 0)

	a, _ := r.Admit(addr(1), action(1, protocol.Login{}), t0, tun)
	a.ID = 1
	b, _ := r.Admit(addr(2), action(1, protocol.Login{}), t0.Add(3*time.Second), tun)
	b.ID = 2

	expired := r.Expired(t0.Add(6*time.Second), 5*time.Second)
	if len(expired) != 1 || expired[0] != a {
		t.Fatalf("expired %v, want only first session", expired)
	}
	r.Remove(a)
	r.Remove(a)
	if r.Len() != 1 {
		t.Fatalf("registry has %d sessions", r.Len())
	}
	if _, ok := r.Lookup(addr(1)); ok {
		t.Fatal("removed session still found")
	}
}
