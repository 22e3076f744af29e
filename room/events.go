package room

import (
	"context"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"board-room/domain"
)

const (
	msgBoardDeleted  = "Board has been deleted"
	msgAccessRevoked = "Access to board revoked"
	msgAccessChanged = "Board access changed"
)

type unassignment struct {
	UserID string `json:"userId"`
	CardID string `json:"cardId"`
}

type memberRemoval struct {
	BoardID string `json:"boardId"`
}

// ApplyBoardEvent brings live rooms in line with a change made outside the
// socket layer.
func (h *Hub) ApplyBoardEvent(ctx context.Context, ev domain.BoardEvent) error {
	entry := h.log.WithFields(log.Fields{"board": ev.BoardID, "event": ev.Type})
	// Events stand for changes already committed elsewhere.
	h.invalidate(ctx, ev.BoardID)
	switch ev.Type {
	case domain.EventBoardDeleted:
		h.CloseRoom(ev.BoardID, msgBoardDeleted)
	case domain.EventMemberRemoved:
		if ev.UserID == "" {
			return domain.Validation("member.removed requires userId")
		}
		return h.removeMember(ctx, ev.BoardID, ev.UserID)
	case domain.EventMembershipChanged:
		return h.RevalidateMembership(ctx, ev.BoardID)
	default:
		var data any
		if len(ev.Data) > 0 {
			if err := sonic.Unmarshal(ev.Data, &data); err != nil {
				return domain.Validation("event data is not valid JSON")
			}
		}
		n := h.SystemBroadcast(ev.BoardID, ev.Type, data)
		entry.WithField("recipients", n).Debug("system broadcast")
	}
	return nil
}

// removeMember unassigns the user from every card of the board, tells the
// room and the user, then drops the user's connections to that board.
func (h *Hub) removeMember(ctx context.Context, boardID, userID string) error {
	cards, err := h.storage.UnassignFromBoard(ctx, boardID, userID)
	if err != nil {
		return domain.Storage(err)
	}
	for _, cardID := range cards {
		h.SystemBroadcast(boardID, "assignee.unassign", unassignment{UserID: userID, CardID: cardID})
	}
	if len(cards) > 0 {
		h.invalidate(ctx, boardID)
	}
	h.SendToUser(userID, domain.EventMemberRemoved, memberRemoval{BoardID: boardID})

	r, ok := h.Room(boardID)
	if !ok {
		return nil
	}
	n := r.closeWhere(func(c *Client) bool { return c.UserID == userID }, StatusPolicyViolation, msgAccessRevoked)
	h.log.WithFields(log.Fields{"board": boardID, "user": userID, "cards": len(cards), "clients": n}).Info("member removed")
	return nil
}

// RevalidateMembership re-resolves the role of every live client of the
// board. Clients whose role changed are closed so they reconnect with the new tier.
func (h *Hub) RevalidateMembership(ctx context.Context, boardID string) error {
	r, ok := h.Room(boardID)
	if !ok {
		return nil
	}
	board, err := h.storage.Board(ctx, boardID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			h.CloseRoom(boardID, msgBoardDeleted)
			return nil
		}
		return domain.Storage(err)
	}
	revoked := r.closeWhere(func(c *Client) bool {
		return board.RoleOf(c.UserID) == domain.RoleNone
	}, StatusPolicyViolation, msgAccessRevoked)
	changed := r.closeWhere(func(c *Client) bool {
		role := board.RoleOf(c.UserID)
		return role != domain.RoleNone && role != c.Role
	}, StatusNormalClosure, msgAccessChanged)
	h.log.WithFields(log.Fields{"board": boardID, "revoked": revoked, "changed": changed}).Info("membership revalidated")
	return nil
}
