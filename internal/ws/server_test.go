package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"battle-relay/internal/battle"
	"battle-relay/internal/sim"
	"battle-relay/internal/store"
)

// nopStore satisfies battle.RecordStore for transport tests; persistence has
// its own coverage in the store package.
type nopStore struct{}

func (nopStore) CreateBattle(context.Context, store.Battle) error { return nil }
func (nopStore) GetBattle(context.Context, string) (*store.Battle, error) {
	return nil, store.ErrNotFound
}
func (nopStore) DeleteBattle(context.Context, string) error                 { return nil }
func (nopStore) MarkBattleActive(context.Context, string, string, string) error { return nil }
func (nopStore) MarkBattleFinished(context.Context, string, string) error   { return nil }
func (nopStore) SetSideConnected(context.Context, string, string, bool) error { return nil }
func (nopStore) SaveLastRequest(context.Context, string, string, json.RawMessage) error {
	return nil
}
func (nopStore) SaveOpeningTranscript(context.Context, string, []string) error { return nil }

type stubInstance struct {
	mu      sync.Mutex
	choices []string
	events  chan sim.Event
	once    sync.Once
}

func (i *stubInstance) SubmitChoice(_ context.Context, side sim.Side, choice string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.choices = append(i.choices, ">"+string(side)+" "+choice)
	return nil
}

func (i *stubInstance) Events() <-chan sim.Event { return i.events }

func (i *stubInstance) Destroy() { i.once.Do(func() { close(i.events) }) }

func (i *stubInstance) submitted() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.choices...)
}

type stubEngine struct {
	inst *stubInstance
}

func (e *stubEngine) Start(context.Context, string, string, string, string) (sim.Instance, error) {
	return e.inst, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubEngine) {
	t.Helper()
	eng := &stubEngine{inst: &stubInstance{events: make(chan sim.Event, 8)}}
	coord := battle.New(nopStore{}, eng, battle.Options{})
	srv := NewServer(coord)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)
	return ts, eng
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) battle.OutboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg battle.OutboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestFullSessionOverWebsocket(t *testing.T) {
	ts, eng := newTestServer(t)

	p1 := dialWS(t, ts)
	p2 := dialWS(t, ts)

	sendJSON(t, p1, IdentifyMessage{Type: "identify", UserID: "alice"})
	if msg := readUntil(t, p1, "identified"); msg.UserID != "alice" {
		t.Fatalf("identified wrong: %+v", msg)
	}
	sendJSON(t, p2, IdentifyMessage{Type: "identify", UserID: "bob"})
	readUntil(t, p2, "identified")

	sendJSON(t, p1, CreateRoomMessage{Type: "create_room", Format: "gen9ou"})
	created := readUntil(t, p1, "room_created")
	if created.RoomID == "" || created.Role != battle.RoleP1 {
		t.Fatalf("room_created wrong: %+v", created)
	}

	sendJSON(t, p2, JoinRoomMessage{Type: "join_room", RoomID: created.RoomID})
	joined := readUntil(t, p2, "room_joined")
	if joined.Role != battle.RoleP2 || joined.OpponentUserID != "alice" {
		t.Fatalf("room_joined wrong: %+v", joined)
	}
	readUntil(t, p1, "room_joined")

	// Engine output is relayed to both players.
	eng.inst.events <- sim.Event{Scope: sim.ScopeOmniscient, Lines: []string{"|start", "|turn|1"}}
	for _, conn := range []*websocket.Conn{p1, p2} {
		ev := readUntil(t, conn, "protocol_event")
		if len(ev.Lines) != 2 || ev.Lines[1] != "|turn|1" {
			t.Fatalf("protocol_event wrong: %+v", ev)
		}
	}

	// A full turn: both decisions land in the engine.
	sendJSON(t, p1, DecisionMessage{Type: "submit_decision", RoomID: created.RoomID, Kind: battle.DecisionMove, Index: 1})
	sendJSON(t, p2, DecisionMessage{Type: "submit_decision", RoomID: created.RoomID, Kind: battle.DecisionSwitch, Index: 2})
	waitForCond(t, func() bool { return len(eng.inst.submitted()) == 2 })
	got := eng.inst.submitted()
	if got[0] != ">p1 move 1" || got[1] != ">p2 switch 2" {
		t.Fatalf("choices wrong: %+v", got)
	}
}

func TestIdentifyConflictClosesConnection(t *testing.T) {
	ts, _ := newTestServer(t)

	p1 := dialWS(t, ts)
	sendJSON(t, p1, IdentifyMessage{Type: "identify", UserID: "alice"})
	readUntil(t, p1, "identified")

	p2 := dialWS(t, ts)
	sendJSON(t, p2, IdentifyMessage{Type: "identify", UserID: "alice"})
	msg := readUntil(t, p2, "error")
	if !strings.Contains(msg.Error, "identity_conflict") {
		t.Fatalf("error = %q, want identity_conflict", msg.Error)
	}
	// The server tears the rejected connection down after the error.
	_ = p2.SetReadDeadline(time.Now().Add(2 * time.Second))
	var drained battle.OutboundMessage
	if err := p2.ReadJSON(&drained); err == nil {
		t.Fatalf("connection still open after conflict: %+v", drained)
	}
}

func TestCoordinatorRejectionsReachClient(t *testing.T) {
	ts, _ := newTestServer(t)

	p1 := dialWS(t, ts)
	// Acting before identify is rejected.
	sendJSON(t, p1, CreateRoomMessage{Type: "create_room", Format: "gen9ou"})
	if msg := readUntil(t, p1, "error"); !strings.Contains(msg.Error, "not_identified") {
		t.Fatalf("error = %q, want not_identified", msg.Error)
	}

	sendJSON(t, p1, IdentifyMessage{Type: "identify", UserID: "alice"})
	readUntil(t, p1, "identified")
	sendJSON(t, p1, JoinRoomMessage{Type: "join_room", RoomID: "missing"})
	if msg := readUntil(t, p1, "error"); !strings.Contains(msg.Error, "room_not_found") {
		t.Fatalf("error = %q, want room_not_found", msg.Error)
	}

	// Malformed frames are dropped without killing the connection.
	if err := p1.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	sendJSON(t, p1, CreateRoomMessage{Type: "create_room", Format: "gen9ou"})
	readUntil(t, p1, "room_created")
}

func waitForCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
