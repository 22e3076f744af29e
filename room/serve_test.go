package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"board-room/domain"
	"board-room/storage"
)

func TestHandshakeRejections(t *testing.T) {
	cases := []struct {
		name    string
		board   string
		frame   string
		message string
	}{
		{"expired token", "b1", `{"token":"expired"}`, "Token has expired"},
		{"invalid token", "b1", `{"token":"garbage"}`, "Invalid token"},
		{"unknown token", "b1", `{"token":"nobody"}`, "Invalid token"},
		{"malformed json", "b1", `{"token":`, "Unauthorized: Invalid or missing token"},
		{"missing token", "b1", `{}`, "Unauthorized: Invalid or missing token"},
		{"empty payload", "b1", ``, "Unauthorized: Invalid or missing token"},
		{"board not found", "ghost", `{"token":"tok-owner"}`, "Board not found"},
		{"not a member", "b1", `{"token":"tok-outsider"}`, "Unauthorized: not a board member"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			c := h.dial(t, tc.board, "")
			c.sendRaw(tc.frame)

			msg := c.next(t)
			if msg["type"] != domain.TypeError || msg["message"] != tc.message {
				t.Fatalf("unexpected rejection frame %v", msg)
			}
			code, _ := c.waitClosed(t)
			if code != StatusPolicyViolation {
				t.Fatalf("expected close 1008, got %d", code)
			}
			select {
			case err := <-c.done:
				if err == nil {
					t.Fatal("expected Serve to report the rejection")
				}
			case <-time.After(time.Second):
				t.Fatal("Serve did not return")
			}
			if len(h.hub.Rooms()) != 0 {
				t.Fatalf("rejected connection must not create a room: %v", h.hub.Rooms())
			}
			if n := h.hub.SessionCount("owner") + h.hub.SessionCount("outsider"); n != 0 {
				t.Fatalf("rejected connection registered %d sessions", n)
			}
		})
	}
}

func TestHandshakeExpiredTokenReportsAuthError(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, "b1", "expired")
	c.next(t)
	c.waitClosed(t)
	err := <-c.done
	if !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected token expired, got %v", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, "b1", "")
	msg := c.next(t)
	if msg["message"] != "Unauthorized: Invalid or missing token" {
		t.Fatalf("unexpected timeout frame %v", msg)
	}
	if code, _ := c.waitClosed(t); code != StatusPolicyViolation {
		t.Fatalf("expected close 1008, got %d", code)
	}
}

func TestAckCarriesSnapshotAndRole(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, "b1", "tok-viewer")
	ack := c.next(t)
	if ack["type"] != domain.TypeConnectionAck || ack["role"] != "viewer" {
		t.Fatalf("unexpected ack %v", ack)
	}
	board, ok := ack["board"].(map[string]any)
	if !ok || board["id"] != "b1" || board["title"] != "Roadmap" {
		t.Fatalf("ack missing board snapshot: %v", ack["board"])
	}
	c.hangUp(t)
}

func TestSenderExclusiveBroadcast(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "b1", "owner")
	b := h.connect(t, "b1", "member")
	v := h.connect(t, "b1", "viewer")

	a.send(t, map[string]any{"type": "column.create", "data": map[string]string{"title": "Todo"}})

	for _, peer := range []*conn{b, v} {
		msg := peer.next(t)
		if msg["type"] != "column.create" {
			t.Fatalf("unexpected broadcast %v", msg)
		}
		sender, ok := msg["sender"].(map[string]any)
		if !ok || sender["id"] != "owner" || sender["username"] != "olga" || sender["email"] != "olga@example.com" {
			t.Fatalf("unexpected sender %v", msg["sender"])
		}
		data := msg["data"].(map[string]any)
		if data["title"] != "Todo" || data["index"] != float64(0) {
			t.Fatalf("unexpected column %v", data)
		}
	}
	a.expectNothing(t)

	for _, c := range []*conn{a, b, v} {
		c.hangUp(t)
	}
}

func TestViewerCannotAct(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "b1", "owner")
	v := h.connect(t, "b1", "viewer")

	v.send(t, map[string]any{"type": "column.create", "data": map[string]string{"title": "Sneaky"}})
	v.sendRaw(`not json`)
	a.expectNothing(t)
	v.expectNothing(t)

	cols, _ := h.store.Columns(context.Background(), "b1")
	if len(cols) != 0 {
		t.Fatalf("viewer frame mutated the board: %v", cols)
	}
	a.hangUp(t)
	v.hangUp(t)
}

func TestActionErrorGoesOnlyToSender(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "b1", "owner")
	b := h.connect(t, "b1", "member")

	a.send(t, map[string]any{"type": "column.rename", "data": map[string]string{"id": "missing", "title": "x"}})
	msg := a.next(t)
	if msg["type"] != domain.TypeError || msg["message"] != "Column does not exist" {
		t.Fatalf("unexpected error frame %v", msg)
	}
	a.send(t, map[string]any{"type": "nope"})
	msg = a.next(t)
	if msg["message"] != "Unknown action: nope" {
		t.Fatalf("unexpected error frame %v", msg)
	}
	b.expectNothing(t)

	// the connection survives action failures
	a.send(t, map[string]any{"type": "column.create", "data": map[string]string{"title": "ok"}})
	if msg := b.next(t); msg["type"] != "column.create" {
		t.Fatalf("unexpected broadcast %v", msg)
	}
	a.hangUp(t)
	b.hangUp(t)
}

func TestFramesWithoutTypeAreIgnored(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "b1", "owner")
	b := h.connect(t, "b1", "member")

	a.sendRaw(`{"data":{"title":"x"}}`)
	a.expectNothing(t)
	b.expectNothing(t)
	a.hangUp(t)
	b.hangUp(t)
}

func TestQueryRepliesOnlyToRequester(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "b1", "owner")
	b := h.connect(t, "b1", "member")

	a.send(t, map[string]any{"type": "column.list", "data": nil})
	msg := a.next(t)
	if msg["type"] != "column.list" {
		t.Fatalf("unexpected reply %v", msg)
	}
	if _, ok := msg["data"].([]any); !ok {
		t.Fatalf("expected list data, got %v", msg["data"])
	}
	b.expectNothing(t)
	a.hangUp(t)
	b.hangUp(t)
}

func TestLastDisconnectRemovesRoom(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "b1", "owner")
	b := h.connect(t, "b1", "owner")
	if n := h.hub.SessionCount("owner"); n != 2 {
		t.Fatalf("expected two sessions, got %d", n)
	}

	a.hangUp(t)
	r, ok := h.hub.Room("b1")
	if !ok || r.Len() != 1 {
		t.Fatalf("room should survive with one member")
	}
	b.hangUp(t)
	if _, ok := h.hub.Room("b1"); ok {
		t.Fatal("empty room must be removed")
	}
	if n := h.hub.SessionCount("owner"); n != 0 {
		t.Fatalf("expected sessions cleared, got %d", n)
	}

	c := h.connect(t, "b1", "member")
	fresh, ok := h.hub.Room("b1")
	if !ok || fresh == r || fresh.Len() != 1 {
		t.Fatal("expected a fresh room with one member")
	}
	c.hangUp(t)
}

func TestConcurrentCardCreatesThroughRoom(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "b1", "owner")
	b := h.connect(t, "b1", "member")
	watcher := h.connect(t, "b1", "viewer")

	a.send(t, map[string]any{"type": "column.create", "data": map[string]string{"title": "Todo"}})
	col := watcher.next(t)["data"].(map[string]any)
	b.next(t)

	a.send(t, map[string]any{"type": "card.create", "data": map[string]any{"title": "one", "columnId": col["id"]}})
	b.send(t, map[string]any{"type": "card.create", "data": map[string]any{"title": "two", "columnId": col["id"]}})

	seen := map[float64]bool{}
	for i := 0; i < 2; i++ {
		msg := watcher.next(t)
		seen[msg["data"].(map[string]any)["index"].(float64)] = true
	}
	if !seen[0] || !seen[1] {
		t.Fatalf("expected indices 0 and 1, got %v", seen)
	}
	for _, c := range []*conn{a, b, watcher} {
		c.hangUp(t)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "b1", "owner")
	h.hub.Shutdown()
	if code, _ := a.waitClosed(t); code != StatusGoingAway {
		t.Fatalf("expected 1001, got %d", code)
	}
	<-a.done

	c := h.dial(t, "b1", "tok-owner")
	if code, _ := c.waitClosed(t); code != StatusGoingAway {
		t.Fatalf("expected refusal after shutdown, got %d", code)
	}
}

// vanishingBoard reports the board once, then as deleted.
type vanishingBoard struct {
	*storage.Memory
	mu    sync.Mutex
	calls int
}

func (v *vanishingBoard) Board(ctx context.Context, id string) (domain.Board, error) {
	v.mu.Lock()
	v.calls++
	n := v.calls
	v.mu.Unlock()
	if n > 1 {
		return domain.Board{}, domain.NotFound("Board not found")
	}
	return v.Memory.Board(ctx, id)
}

func TestBoardDeletedDuringHandshakeIsRejectedAfterJoin(t *testing.T) {
	h := newHarness(t)
	h.hub.storage = &vanishingBoard{Memory: h.store}

	c := h.dial(t, "b1", "tok-owner")
	msg := c.next(t)
	if msg["type"] != domain.TypeError || msg["message"] != "Board not found" {
		t.Fatalf("unexpected frame %v", msg)
	}
	if code, _ := c.waitClosed(t); code != StatusPolicyViolation {
		t.Fatalf("expected close 1008, got %d", code)
	}
	if err := <-c.done; domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if rooms := h.hub.Rooms(); len(rooms) != 0 {
		t.Fatalf("room left behind for a deleted board: %v", rooms)
	}
	if n := h.hub.SessionCount("owner"); n != 0 {
		t.Fatalf("session left behind: %d", n)
	}
}
