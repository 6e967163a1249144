package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spacearena/protocol"
)

func TestListenerDropsGarbageAndForwardsActions(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	inputs := make(chan Input, 4)
	metrics := &RoomMetrics{}
	l := NewListener(conn, inputs, metrics, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	client, err := net.Dial("udp", conn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	valid, err := protocol.EncodeAction(7, []protocol.Step{protocol.Login{}})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range [][]byte{{0xc1, 0xff, 0x00}, make([]byte, protocol.MaxPacketSize+1), valid} {
		if _, err := client.Write(p); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case in := <-inputs:
		if in.Action.Seq != 7 || !in.Action.HasLogin() {
			t.Fatalf("unexpected action %+v", in.Action)
		}
		if in.Addr.String() != client.LocalAddr().String() {
			t.Fatalf("input from %s, want %s", in.Addr, client.LocalAddr())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid action not forwarded")
	}
	if n := metrics.Snapshot()["decode_errors"]; n != int64(2) {
		t.Fatalf("decode_errors = %v", n)
	}
}

func TestListenerDiscardsWhenMailboxFull(t *testing.T) {
	l := NewListener(nil, make(chan Input), &RoomMetrics{}, time.Millisecond)
	valid, _ := protocol.EncodeAction(1, []protocol.Step{protocol.Heartbeat{}})
	l.handle(valid, addr(1))
	if l.metrics.ChanFullDiscarded != 1 {
		t.Fatalf("chan_full_discarded = %d", l.metrics.ChanFullDiscarded)
	}
}

func TestAdminConfigRoundTrip(t *testing.T) {
	r, _ := newTestRoom()
	h := HandleAdminConfig(r)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/admin/config", strings.NewReader(`{"clientTimeoutMs":1500,"actionBurst":5}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("post status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/admin/config", nil))
	var got struct {
		ClientTimeoutMs int     `json:"clientTimeoutMs"`
		ActionsPerSec   float64 `json:"actionsPerSec"`
		ActionBurst     int     `json:"actionBurst"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ClientTimeoutMs != 1500 || got.ActionBurst != 5 || got.ActionsPerSec != DefaultConfig().ActionsPerSec {
		t.Fatalf("unexpected config %+v", got)
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/admin/config", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodDelete, "/admin/config", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("delete status %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRoom()
	r.push(addr(1), r.at(0), 1, protocol.Login{})
	r.Tick(r.at(50 * time.Millisecond))

	rec := httptest.NewRecorder()
	HandleMetrics(r)(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	var got struct {
		Sessions int64              `json:"sessions"`
		Metrics  map[string]float64 `json:"metrics"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Sessions != 1 || got.Metrics["logins"] != 1 || got.Metrics["actions_accepted"] != 1 {
		t.Fatalf("unexpected metrics %+v", got)
	}
}

func TestSpectatorReceivesSnapshots(t *testing.T) {
	r, _ := newTestRoom()
	srv := httptest.NewServer(HandleSpectate(r))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	r.push(addr(1), r.at(0), 1, protocol.Login{}, protocol.StartBroadcast{Message: "watch me"})
	deadline := time.Now().Add(2 * time.Second)
	for len(r.spectators) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("spectator never joined")
		}
		r.Tick(r.at(50 * time.Millisecond))
		time.Sleep(5 * time.Millisecond)
	}
	r.Tick(r.at(100 * time.Millisecond))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap WorldSnapshot
	if err := ws.ReadJSON(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Type != "state" || len(snap.Ships) != 1 || snap.Ships[0].Broadcast != "watch me" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSpectatorRequestsDoNotBlockAfterStop(t *testing.T) {
	r, _ := newTestRoom()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	c := NewClientConn(nil)
	returned := make(chan bool, 1)
	go func() {
		for i := 0; i <= cap(r.spectatorChan); i++ {
			r.RequestLeave(c)
		}
		returned <- r.JoinSpectator(c)
	}()
	select {
	case joined := <-returned:
		if joined {
			t.Fatal("spectator joined a stopped room")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("spectator request blocked on a stopped room")
	}
}

func TestSpectatorConnCloseIsIdempotent(t *testing.T) {
	c := NewClientConn(nil)
	c.Enqueue([]byte("a"))
	c.Close()
	c.Close()
	c.Enqueue([]byte("b"))

	if msg, ok := <-c.send; !ok || string(msg) != "a" {
		t.Fatalf("queued message lost: %q %v", msg, ok)
	}
	if _, ok := <-c.send; ok {
		t.Fatal("send queue not closed")
	}
}
