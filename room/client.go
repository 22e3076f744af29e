package room

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"board-room/domain"
)

// StatusCode is a websocket close code.
type StatusCode int

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusPolicyViolation StatusCode = 1008
	StatusInternalError   StatusCode = 1011
	StatusTryAgainLater   StatusCode = 1013
)

// Transport is one full-duplex connection. One goroutine reads while another
// writes; Close may be called from anywhere.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code StatusCode, reason string) error
}

// Client is an admitted connection bound to one user and one board.
type Client struct {
	ID      string
	BoardID string
	UserID  string
	Role    domain.Role
	User    domain.User

	transport    Transport
	send         chan []byte
	done         chan struct{}
	finished     chan struct{}
	closed       atomic.Bool
	closeOnce    sync.Once
	closeCode    StatusCode
	closeReason  string
	writeTimeout time.Duration
	log          *log.Entry
}

func newClient(id, boardID string, user domain.User, role domain.Role, t Transport, buffer int, writeTimeout time.Duration, entry *log.Entry) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:           id,
		BoardID:      boardID,
		UserID:       user.ID,
		Role:         role,
		User:         user,
		transport:    t,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		finished:     make(chan struct{}),
		writeTimeout: writeTimeout,
		log:          entry,
	}
}

// Sender is the identity stamped on broadcasts this client causes.
func (c *Client) Sender() *domain.Sender {
	return domain.SenderFromUser(c.User)
}

// Closed reports whether the client is closing or closed.
func (c *Client) Closed() bool { return c.closed.Load() }

// Enqueue hands an encoded frame to the writer. A full queue means the peer
// cannot keep up; the client is closed and false returned.
func (c *Client) Enqueue(frame []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send queue full, closing slow client")
		c.Close(StatusTryAgainLater, "Client too slow")
		return false
	}
}

// Send encodes v and enqueues it.
func (c *Client) Send(v any) bool {
	frame, err := domain.Encode(v)
	if err != nil {
		c.log.WithError(err).Error("failed to encode frame")
		return false
	}
	return c.Enqueue(frame)
}

// SendError notifies only this client of a failure.
func (c *Client) SendError(message string) bool {
	return c.Send(domain.NewErrorPayload(message))
}

// Close marks the client closed. Frames already queued are flushed before the
// transport is closed with code and reason.
func (c *Client) Close(code StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.closed.Store(true)
		close(c.done)
	})
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) writePump() {
	defer close(c.finished)
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.log.WithError(err).Debug("write failed")
				c.Close(StatusInternalError, "")
				c.shutdown()
				return
			}
		case <-c.done:
			c.flush()
			c.shutdown()
			return
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(frame []byte) error {
	ctx := context.Background()
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.transport.Write(ctx, frame)
}

func (c *Client) shutdown() {
	if err := c.transport.Close(c.closeCode, c.closeReason); err != nil {
		c.log.WithError(err).Debug("transport close")
	}
}
