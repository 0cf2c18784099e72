package battle

import (
	"context"
	"testing"

	"battle-relay/internal/sim"
)

func TestOmniscientEventsBroadcastInOrder(t *testing.T) {
	coord, eng, st := newTestCoordinator(t)
	roomID, _, _, p1, p2 := activeRoom(t, coord)

	opening := []string{
		"|player|p1|alice|1",
		"|player|p2|bob|2",
		"|teamsize|p1|6",
		"|teamsize|p2|6",
		"|start",
	}
	eng.inst.emit(sim.Event{Scope: sim.ScopeOmniscient, Lines: opening})
	eng.inst.emit(sim.Event{Scope: sim.ScopeOmniscient, Lines: []string{"|turn|1"}})

	waitFor(t, func() bool {
		return len(p1.messagesOfType("protocol_event")) == 2 &&
			len(p2.messagesOfType("protocol_event")) == 2
	})
	for _, conn := range []*fakeConn{p1, p2} {
		got := conn.messagesOfType("protocol_event")
		if len(got[0].Lines) != len(opening) {
			t.Fatalf("first batch truncated: %+v", got[0].Lines)
		}
		for i, line := range opening {
			if got[0].Lines[i] != line {
				t.Fatalf("opening line %d = %q, want %q", i, got[0].Lines[i], line)
			}
		}
		if got[1].Lines[0] != "|turn|1" {
			t.Fatalf("ordering broken: %+v", got[1].Lines)
		}
	}

	// The first omniscient batch is the opening transcript, persisted as-is.
	waitFor(t, func() bool {
		return len(st.record(t, roomID).OpeningTranscript) == len(opening)
	})
	rec := st.record(t, roomID)
	for i, line := range opening {
		if rec.OpeningTranscript[i] != line {
			t.Fatalf("persisted transcript line %d = %q, want %q", i, rec.OpeningTranscript[i], line)
		}
	}
}

func TestSideEventDeliveredToOnePlayer(t *testing.T) {
	coord, eng, st := newTestCoordinator(t)
	roomID, _, _, p1, p2 := activeRoom(t, coord)

	payload := `{"active":[{"moves":[{"id":"thunderbolt"}]}],"rqid":3}`
	eng.inst.emit(sim.Event{Scope: sim.ScopeSide, Side: sim.SideP1, Lines: []string{"|request|" + payload}})

	waitFor(t, func() bool { return len(p1.messagesOfType("protocol_event")) == 1 })
	if got := p2.messagesOfType("protocol_event"); len(got) != 0 {
		t.Fatalf("side event leaked to opponent: %+v", got)
	}

	room, _ := coord.RoomByID(roomID)
	room.mu.Lock()
	retained := string(room.slotLocked(RoleP1).LastRequest)
	room.mu.Unlock()
	if retained != payload {
		t.Fatalf("request not retained: %q", retained)
	}
	waitFor(t, func() bool { return string(st.record(t, roomID).P1LastRequest) == payload })
}

func TestSideEventRetainedWhileDisconnected(t *testing.T) {
	coord, eng, _ := newTestCoordinator(t)
	ctx := context.Background()
	roomID, p1Conn, _, _, _ := activeRoom(t, coord)

	coord.HandleDisconnect(ctx, p1Conn)

	payload := `{"forceSwitch":[true],"rqid":7}`
	eng.inst.emit(sim.Event{Scope: sim.ScopeSide, Side: sim.SideP1, Lines: []string{"|request|" + payload}})

	room, _ := coord.RoomByID(roomID)
	waitFor(t, func() bool {
		room.mu.Lock()
		defer room.mu.Unlock()
		return string(room.slotLocked(RoleP1).LastRequest) == payload
	})
}

func TestOnlyLatestRequestRetained(t *testing.T) {
	coord, eng, _ := newTestCoordinator(t)
	roomID, _, _, p1, _ := activeRoom(t, coord)

	eng.inst.emit(sim.Event{Scope: sim.ScopeSide, Side: sim.SideP1, Lines: []string{`|request|{"rqid":1}`}})
	eng.inst.emit(sim.Event{Scope: sim.ScopeSide, Side: sim.SideP1, Lines: []string{`|request|{"rqid":2}`}})

	waitFor(t, func() bool { return len(p1.messagesOfType("protocol_event")) == 2 })
	room, _ := coord.RoomByID(roomID)
	room.mu.Lock()
	retained := string(room.slotLocked(RoleP1).LastRequest)
	room.mu.Unlock()
	if retained != `{"rqid":2}` {
		t.Fatalf("stale request retained: %q", retained)
	}
}

func TestTerminalEventFinishesRoom(t *testing.T) {
	coord, eng, st := newTestCoordinator(t)
	roomID, _, _, p1, p2 := activeRoom(t, coord)

	eng.inst.emit(sim.Event{Scope: sim.ScopeOmniscient, Lines: []string{"|move|p1a: Pikachu|Thunderbolt|p2a: Gyarados", "|faint|p2a: Gyarados", "|win|alice"}})

	room, _ := coord.RoomByID(roomID)
	waitFor(t, func() bool { return room.State() == StateFinished })
	if room.Winner() != RoleP1 {
		t.Fatalf("winner = %q, want p1", room.Winner())
	}
	for _, conn := range []*fakeConn{p1, p2} {
		msg, ok := conn.lastOfType("room_finished")
		if !ok || msg.Winner != RoleP1 || msg.Reason != "engine_terminal" {
			t.Fatalf("room_finished wrong: %+v", msg)
		}
		// The terminal protocol lines were still delivered before the result.
		if got := conn.messagesOfType("protocol_event"); len(got) == 0 {
			t.Fatal("terminal batch not relayed")
		}
	}
	waitFor(t, func() bool { return st.record(t, roomID).Winner == "p1" })
}

func TestTieFinishesRoomWithoutWinner(t *testing.T) {
	coord, eng, _ := newTestCoordinator(t)
	roomID, _, _, _, p2 := activeRoom(t, coord)

	eng.inst.emit(sim.Event{Scope: sim.ScopeOmniscient, Lines: []string{"|tie"}})

	room, _ := coord.RoomByID(roomID)
	waitFor(t, func() bool { return room.State() == StateFinished })
	if room.Winner() != "" {
		t.Fatalf("tie produced a winner: %q", room.Winner())
	}
	if msg, ok := p2.lastOfType("room_finished"); !ok || msg.Winner != "" {
		t.Fatalf("tie notification wrong: %+v", msg)
	}
}
