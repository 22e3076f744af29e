// Package actions holds the named handlers a room executes for its members.
package actions

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"board-room/domain"
)

// Request is one inbound action scoped to the room's board.
type Request struct {
	BoardID string
	UserID  string
	Data    json.RawMessage
}

// Notice addresses a single user wherever they are connected.
type Notice struct {
	UserID string
	Type   string
	Data   any
}

// Result is what a handler produced. Query results go back to the caller only.
type Result struct {
	Data    any
	Notices []Notice
	Query   bool
}

type Handler interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Registry maps action names to handlers. Handlers are registered explicitly.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to h, replacing any previous binding.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs the handler bound to name.
func (r *Registry) Execute(ctx context.Context, name string, req Request) (Result, error) {
	h, ok := r.Lookup(name)
	if !ok {
		return Result{}, domain.Validation("Unknown action: %s", name)
	}
	return h.Execute(ctx, req)
}
