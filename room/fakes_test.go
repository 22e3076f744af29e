package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"board-room/actions"
	"board-room/domain"
	"board-room/positioning"
	"board-room/storage"
)

var errTransportClosed = errors.New("transport closed")

type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	code   StatusCode
	reason string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case d := <-f.in:
		return d, nil
	case <-f.closed:
		return nil, errTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}
	select {
	case f.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Close(code StatusCode, reason string) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.code, f.reason = code, reason
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	f.in <- data
}

func (f *fakeTransport) sendRaw(data string) {
	f.in <- []byte(data)
}

// next returns the next frame written to the peer.
func (f *fakeTransport) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-f.out:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode frame %s: %v", data, err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("expected a frame")
	}
	return nil
}

func (f *fakeTransport) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.out:
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func (f *fakeTransport) waitClosed(t *testing.T) (StatusCode, string) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("transport was not closed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.reason
}

type fakeVerifier map[string]Credential

func (v fakeVerifier) Resolve(token string) (Credential, error) {
	switch token {
	case "expired":
		return Credential{}, domain.ErrTokenExpired
	case "garbage":
		return Credential{}, errors.New("signature is invalid")
	}
	cred, ok := v[token]
	if !ok {
		return Credential{}, domain.ErrInvalidToken
	}
	return cred, nil
}

type harness struct {
	hub   *Hub
	store *storage.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := storage.NewMemory()
	st.PutUser(domain.User{ID: "owner", Username: "olga", Email: "olga@example.com"})
	st.PutUser(domain.User{ID: "member", Username: "max", Email: "max@example.com"})
	st.PutUser(domain.User{ID: "viewer", Username: "vic", Email: "vic@example.com"})
	st.PutUser(domain.User{ID: "outsider", Username: "oscar"})
	st.PutBoard(domain.Board{
		ID: "b1", Title: "Roadmap", OwnerID: "owner",
		Members: []domain.User{{ID: "member"}},
		Viewers: []domain.User{{ID: "viewer"}},
	})
	st.PutBoard(domain.Board{ID: "b2", Title: "Side", OwnerID: "member"})

	verifier := fakeVerifier{}
	for _, id := range []string{"owner", "member", "viewer", "outsider"} {
		verifier["tok-"+id] = Credential{UserID: id, ExpiresAt: time.Now().Add(time.Hour)}
	}
	hub := NewHub(Options{
		Storage:          st,
		Verifier:         verifier,
		Registry:         actions.Default(actions.Deps{Store: st, Engine: positioning.New(st, nil)}),
		HandshakeTimeout: 200 * time.Millisecond,
		WriteTimeout:     time.Second,
	})
	return &harness{hub: hub, store: st}
}

type conn struct {
	*fakeTransport
	done chan error
}

// dial starts Serve for a new transport and sends the token frame.
func (h *harness) dial(t *testing.T, board, token string) *conn {
	t.Helper()
	ft := newFakeTransport()
	c := &conn{fakeTransport: ft, done: make(chan error, 1)}
	go func() { c.done <- h.hub.Serve(context.Background(), board, ft) }()
	if token != "" {
		ft.send(t, map[string]string{"token": token})
	}
	return c
}

// connect dials and consumes the acknowledgement.
func (h *harness) connect(t *testing.T, board, user string) *conn {
	t.Helper()
	c := h.dial(t, board, "tok-"+user)
	ack := c.next(t)
	if ack["type"] != domain.TypeConnectionAck {
		t.Fatalf("expected connection_ack, got %v", ack)
	}
	return c
}

func (c *conn) hangUp(t *testing.T) error {
	t.Helper()
	_ = c.Close(StatusNormalClosure, "")
	select {
	case err := <-c.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	return nil
}
