package room

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"board-room/domain"
)

const (
	msgBoardNotFound = "Board not found"
	msgNotAMember    = "Unauthorized: not a board member"
)

type frame struct {
	data []byte
	err  error
}

// Serve runs one connection from handshake to close. It returns the reason
// the connection was rejected, or nil once an admitted connection ends.
func (h *Hub) Serve(ctx context.Context, boardID string, t Transport) error {
	hs := NewHandshake()
	entry := h.log.WithField("board", boardID)
	advance(hs, Authenticating, entry)

	cred, err := h.authenticate(ctx, t)
	if err != nil {
		h.reject(hs, t, entry, err)
		return err
	}
	entry = entry.WithField("user", cred.UserID)

	board, err := h.storage.Board(ctx, boardID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			err = domain.NotFound(msgBoardNotFound)
		}
		h.reject(hs, t, entry, err)
		return err
	}
	role := board.RoleOf(cred.UserID)
	if role == domain.RoleNone {
		err = domain.Unauthorized(msgNotAMember)
		h.reject(hs, t, entry, err)
		return err
	}
	user, err := h.storage.User(ctx, cred.UserID)
	if err != nil {
		if domain.KindOf(err) != domain.KindNotFound {
			h.reject(hs, t, entry, err)
			return err
		}
		user = domain.User{ID: cred.UserID}
	}
	if err := hs.Advance(Authorized); err != nil {
		return err
	}

	c := h.newClient(boardID, user, role, t)
	r, err := h.join(c)
	if err != nil {
		_ = t.Close(StatusGoingAway, "Server shutting down")
		advance(hs, Closed, entry)
		return err
	}
	// A board deleted while the handshake ran may have swept its room before
	// join recreated it.
	if _, err := h.storage.Board(ctx, boardID); err != nil {
		h.leave(c)
		if domain.KindOf(err) == domain.KindNotFound {
			err = domain.NotFound(msgBoardNotFound)
		}
		h.reject(hs, t, entry, err)
		return err
	}
	advance(hs, Active, entry)
	c.log.Info("client connected")

	defer func() {
		h.leave(c)
		c.Close(StatusNormalClosure, "")
		<-c.finished
		advance(hs, Closed, c.log)
		c.log.Info("client disconnected")
	}()

	if err := h.acknowledge(ctx, c, role); err != nil {
		c.log.WithError(err).Warn("failed to send acknowledgement")
		c.Close(StatusInternalError, domain.PublicMessage(err))
		go c.writePump()
		return nil
	}
	go c.writePump()

	h.readLoop(ctx, r, c)
	return nil
}

func advance(hs *Handshake, to State, entry *log.Entry) {
	if err := hs.Advance(to); err != nil {
		entry.WithError(err).Debug("handshake transition refused")
	}
}

// authenticate waits for the token frame. The read runs on its own goroutine
// so a timeout still leaves the transport writable for the error body.
func (h *Hub) authenticate(ctx context.Context, t Transport) (Credential, error) {
	frames := make(chan frame, 1)
	go func() {
		data, err := t.Read(ctx)
		frames <- frame{data: data, err: err}
	}()

	timer := time.NewTimer(h.handshakeTimeout)
	defer timer.Stop()

	var f frame
	select {
	case f = <-frames:
	case <-timer.C:
		return Credential{}, domain.ErrMissingToken
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
	if f.err != nil {
		return Credential{}, f.err
	}
	msg, err := domain.DecodeHandshake(f.data)
	if err != nil || msg.Token == "" {
		return Credential{}, domain.ErrMissingToken
	}
	cred, err := h.verifier.Resolve(msg.Token)
	if err != nil {
		if domain.KindOf(err) == domain.KindAuth {
			return Credential{}, err
		}
		return Credential{}, domain.ErrInvalidToken
	}
	if cred.UserID == "" {
		return Credential{}, domain.ErrInvalidToken
	}
	return cred, nil
}

// reject tells the peer why it was refused and closes with a policy violation.
func (h *Hub) reject(hs *Handshake, t Transport, entry *log.Entry, err error) {
	advance(hs, Rejected, entry)
	defer advance(hs, Closed, entry)

	var de *domain.Error
	if !errors.As(err, &de) {
		entry.WithError(err).Debug("connection dropped during handshake")
		_ = t.Close(StatusPolicyViolation, "")
		return
	}
	code := StatusPolicyViolation
	if de.Kind == domain.KindStorage {
		code = StatusInternalError
		entry.WithError(err).Error("handshake storage failure")
	} else {
		entry.WithError(err).Warn("connection rejected")
	}
	msg := domain.PublicMessage(err)
	if payload, encErr := domain.Encode(domain.NewErrorPayload(msg)); encErr == nil {
		wctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		_ = t.Write(wctx, payload)
		cancel()
	}
	_ = t.Close(code, msg)
}

// acknowledge writes the connection ack straight to the transport, ahead of
// anything already queued for the client.
func (h *Hub) acknowledge(ctx context.Context, c *Client, role domain.Role) error {
	if h.snapshots == nil {
		return domain.Storage(errors.New("no snapshot source configured"))
	}
	snap, err := h.snapshots.Snapshot(ctx, c.BoardID)
	if err != nil {
		return domain.Storage(err)
	}
	payload, err := domain.Encode(domain.Ack{Type: domain.TypeConnectionAck, Role: role, Board: snap})
	if err != nil {
		return domain.Storage(err)
	}
	wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return c.transport.Write(wctx, payload)
}

// readLoop feeds member frames to the room one at a time. Viewer frames are
// read so a close is noticed, then discarded.
func (h *Hub) readLoop(ctx context.Context, r *Room, c *Client) {
	for {
		data, err := c.transport.Read(ctx)
		if err != nil {
			c.log.WithError(err).Debug("read ended")
			return
		}
		if c.Closed() {
			return
		}
		if !c.Role.CanWrite() {
			c.log.Debug("ignoring frame from viewer")
			continue
		}
		in, err := domain.DecodeInbound(data)
		if err != nil {
			c.log.WithError(err).Warn("malformed frame")
			c.SendError("Malformed message")
			continue
		}
		if in.Type == "" {
			c.log.Warn("frame without type ignored")
			continue
		}
		actx, cancel := context.WithTimeout(ctx, h.actionTimeout)
		r.ExecuteAction(actx, c, in)
		cancel()
	}
}
