package room

import (
	"context"
	"sync"
	"time"

	"board-room/actions"
	"board-room/domain"
)

// Room is the broadcast domain of one board's live clients.
type Room struct {
	boardID string
	hub     *Hub

	mu      sync.Mutex
	members map[*Client]struct{}
}

func newRoom(boardID string, hub *Hub) *Room {
	return &Room{boardID: boardID, hub: hub, members: make(map[*Client]struct{})}
}

func (r *Room) BoardID() string { return r.boardID }

// Add is idempotent.
func (r *Room) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[c] = struct{}{}
}

// Remove drops c and returns how many members remain.
func (r *Room) Remove(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, c)
	return len(r.members)
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) Has(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[c]
	return ok
}

// Members returns a snapshot of the current membership.
func (r *Room) Members() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.members))
	for c := range r.members {
		out = append(out, c)
	}
	return out
}

// Broadcast sends msg to every member except sender and returns the number
// of members reached.
func (r *Room) Broadcast(sender *Client, msg any) int {
	return r.fanout(sender, msg)
}

// BroadcastAll sends a system-initiated msg to every member.
func (r *Room) BroadcastAll(msg any) int {
	return r.fanout(nil, msg)
}

// fanout encodes once and enqueues under the room lock so every member
// observes broadcasts in the same order.
func (r *Room) fanout(sender *Client, msg any) int {
	frame, err := domain.Encode(msg)
	if err != nil {
		r.hub.log.WithError(err).WithField("board", r.boardID).Error("failed to encode broadcast")
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sent := 0
	for c := range r.members {
		if c == sender {
			continue
		}
		if c.Closed() {
			delete(r.members, c)
			continue
		}
		if !c.Enqueue(frame) {
			delete(r.members, c)
			continue
		}
		sent++
	}
	return sent
}

// Close tells every member why the room is going away, disconnects them and
// empties the membership.
func (r *Room) Close(reason string) []*Client {
	frame, _ := domain.Encode(domain.NewErrorPayload(reason))
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.members))
	for c := range r.members {
		if frame != nil {
			c.Enqueue(frame)
		}
		c.Close(StatusNormalClosure, reason)
		out = append(out, c)
	}
	r.members = make(map[*Client]struct{})
	return out
}

// closeWhere disconnects the members matching pick with code and reason.
func (r *Room) closeWhere(pick func(*Client) bool, code StatusCode, reason string) int {
	frame, _ := domain.Encode(domain.NewErrorPayload(reason))
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for c := range r.members {
		if !pick(c) {
			continue
		}
		if frame != nil && code == StatusPolicyViolation {
			c.Enqueue(frame)
		}
		c.Close(code, reason)
		delete(r.members, c)
		n++
	}
	return n
}

// ExecuteAction runs one inbound action for client. Failures are reported to
// client only; successes fan out to the rest of the room.
func (r *Room) ExecuteAction(ctx context.Context, client *Client, in domain.Inbound) {
	h := r.hub
	metrics, ctx := newActionMetrics(ctx, h.log, r.boardID, in.Type)
	entry := client.log.WithField("action", in.Type)

	res, err := h.registry.Execute(ctx, in.Type, actions.Request{BoardID: r.boardID, UserID: client.UserID, Data: in.Data})
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindStorage:
			entry.WithError(err).Error("unexpected action failure")
		default:
			entry.WithError(err).Warn("action rejected")
		}
		client.SendError(domain.PublicMessage(err))
		metrics.Log(0, err)
		return
	}

	out := domain.Outbound{Type: in.Type, Data: res.Data, Sender: client.Sender()}
	if res.Query {
		client.Send(out)
		metrics.SetQuery(true)
		metrics.Log(1, nil)
		return
	}

	recipients := r.Broadcast(client, out)
	for _, n := range res.Notices {
		recipients += h.notify(r.boardID, n)
	}
	metrics.Log(recipients, nil)

	h.invalidate(ctx, r.boardID)
	if h.activity != nil {
		h.activity.Publish(ctx, domain.Activity{
			BoardID: r.boardID,
			UserID:  client.UserID,
			Action:  in.Type,
			At:      time.Now().UTC(),
			Data:    res.Data,
		})
	}
	entry.WithField("recipients", recipients).Debug("action applied")
}
