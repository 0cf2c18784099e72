package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"battle-relay/internal/sim"
	"battle-relay/internal/store"
)

type fakeConn struct {
	mu     sync.Mutex
	msgs   []OutboundMessage
	closed bool
}

func (f *fakeConn) Send(msg OutboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeConn) Close(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) messagesOfType(typ string) []OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []OutboundMessage
	for _, m := range f.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) lastOfType(typ string) (OutboundMessage, bool) {
	msgs := f.messagesOfType(typ)
	if len(msgs) == 0 {
		return OutboundMessage{}, false
	}
	return msgs[len(msgs)-1], true
}

type submittedChoice struct {
	Side   sim.Side
	Choice string
}

type fakeInstance struct {
	mu         sync.Mutex
	choices    []submittedChoice
	failWrites bool
	failSides  map[sim.Side]bool
	destroyed  int

	events    chan sim.Event
	closeOnce sync.Once
}

func newFakeInstance() *fakeInstance {
	return &fakeInstance{
		events:    make(chan sim.Event, 32),
		failSides: map[sim.Side]bool{},
	}
}

func (f *fakeInstance) SubmitChoice(_ context.Context, side sim.Side, choice string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites || f.failSides[side] {
		return errors.New("engine pipe closed")
	}
	f.choices = append(f.choices, submittedChoice{Side: side, Choice: choice})
	return nil
}

func (f *fakeInstance) Events() <-chan sim.Event { return f.events }

func (f *fakeInstance) Destroy() {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
}

func (f *fakeInstance) setFailWrites(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = fail
}

// setFailSide fails writes for one side only, leaving the other accepted.
func (f *fakeInstance) setFailSide(side sim.Side, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSides[side] = fail
}

func (f *fakeInstance) submitted() []submittedChoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submittedChoice(nil), f.choices...)
}

func (f *fakeInstance) destroyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// emit pushes an engine event as if the simulator wrote it.
func (f *fakeInstance) emit(ev sim.Event) { f.events <- ev }

type startCall struct {
	BattleID, Format, P1, P2 string
}

type fakeEngine struct {
	mu        sync.Mutex
	starts    []startCall
	failStart bool
	inst      *fakeInstance
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{inst: newFakeInstance()}
}

func (e *fakeEngine) Start(_ context.Context, battleID, format, p1Name, p2Name string) (sim.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failStart {
		return nil, errors.New("engine spawn failed")
	}
	e.starts = append(e.starts, startCall{BattleID: battleID, Format: format, P1: p1Name, P2: p2Name})
	return e.inst, nil
}

func (e *fakeEngine) startCalls() []startCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]startCall(nil), e.starts...)
}

// memStore is an in-memory RecordStore for coordinator tests; the pgx-backed
// implementation has its own tests against a real database.
type memStore struct {
	mu         sync.Mutex
	battles    map[string]*store.Battle
	failWrites bool
}

func newMemStore() *memStore {
	return &memStore{battles: map[string]*store.Battle{}}
}

func (m *memStore) setFailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = fail
}

func (m *memStore) CreateBattle(_ context.Context, b store.Battle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("store down")
	}
	cp := b
	m.battles[b.ID] = &cp
	return nil
}

func (m *memStore) GetBattle(_ context.Context, id string) (*store.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) DeleteBattle(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("store down")
	}
	if _, ok := m.battles[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.battles, id)
	return nil
}

func (m *memStore) MarkBattleActive(_ context.Context, id, p2UserID, p2Name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("store down")
	}
	b, ok := m.battles[id]
	if !ok {
		return store.ErrNotFound
	}
	b.Status = store.BattleStatusActive
	b.P2UserID = p2UserID
	b.P2Name = p2Name
	b.P2Connected = true
	return nil
}

func (m *memStore) MarkBattleFinished(_ context.Context, id, winner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("store down")
	}
	b, ok := m.battles[id]
	if !ok {
		return store.ErrNotFound
	}
	b.Status = store.BattleStatusFinished
	b.Winner = winner
	return nil
}

func (m *memStore) SetSideConnected(_ context.Context, id, side string, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("store down")
	}
	b, ok := m.battles[id]
	if !ok {
		return store.ErrNotFound
	}
	if side == "p1" {
		b.P1Connected = connected
	} else {
		b.P2Connected = connected
	}
	return nil
}

func (m *memStore) SaveLastRequest(_ context.Context, id, side string, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("store down")
	}
	b, ok := m.battles[id]
	if !ok {
		return store.ErrNotFound
	}
	if side == "p1" {
		b.P1LastRequest = payload
	} else {
		b.P2LastRequest = payload
	}
	return nil
}

func (m *memStore) SaveOpeningTranscript(_ context.Context, id string, lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("store down")
	}
	b, ok := m.battles[id]
	if !ok {
		return store.ErrNotFound
	}
	b.OpeningTranscript = append([]string(nil), lines...)
	return nil
}

func (m *memStore) record(t *testing.T, id string) store.Battle {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[id]
	if !ok {
		t.Fatalf("no record for %s", id)
	}
	return *b
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeEngine, *memStore) {
	t.Helper()
	eng := newFakeEngine()
	st := newMemStore()
	coord := New(st, eng, Options{
		ReconnectGrace:   30 * time.Minute,
		RoomCleanupDelay: 30 * time.Minute,
	})
	return coord, eng, st
}

var connSeq int

func identify(t *testing.T, c *Coordinator, userID string) (string, *fakeConn) {
	t.Helper()
	connSeq++
	connID := fmt.Sprintf("conn-%s-%d", userID, connSeq)
	conn := &fakeConn{}
	if err := c.Identify(connID, userID, conn); err != nil {
		t.Fatalf("identify %s: %v", userID, err)
	}
	return connID, conn
}

// activeRoom drives two players through create+join into an Active room.
func activeRoom(t *testing.T, c *Coordinator) (roomID, p1Conn, p2Conn string, p1, p2 *fakeConn) {
	t.Helper()
	ctx := context.Background()
	p1Conn, p1 = identify(t, c, "alice")
	p2Conn, p2 = identify(t, c, "bob")
	roomID, err := c.CreateRoom(ctx, p1Conn, "gen9randombattle")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := c.JoinRoom(ctx, p2Conn, roomID); err != nil {
		t.Fatalf("join room: %v", err)
	}
	return roomID, p1Conn, p2Conn, p1, p2
}

// waitFor polls until cond holds; engine events are routed asynchronously.
func waitFor(t *testing.T, cond func() bool) {
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
