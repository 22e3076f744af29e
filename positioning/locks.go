package positioning

import (
	"context"
	"sort"
	"sync"
)

// ScopeLocks serializes positioning work per ordering scope. Operations on
// disjoint scopes never contend.
type ScopeLocks struct {
	mu     sync.Mutex
	scopes map[string]*scopeLock
}

type scopeLock struct {
	ch   chan struct{}
	refs int
}

func NewScopeLocks() *ScopeLocks {
	return &ScopeLocks{scopes: make(map[string]*scopeLock)}
}

// Lock acquires every key in sorted order and returns a release func. It gives
// up with ctx.Err() when ctx ends first; keys already taken are released.
func (l *ScopeLocks) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	held := make([]*scopeLock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
		}
		l.mu.Lock()
		for i, k := range keys[:len(held)] {
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.scopes, k)
			}
		}
		l.mu.Unlock()
	}

	for _, k := range keys {
		sl := l.acquireRef(k)
		select {
		case sl.ch <- struct{}{}:
			held = append(held, sl)
		case <-ctx.Done():
			l.dropRef(k, sl)
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Len reports how many scopes currently have holders or waiters.
func (l *ScopeLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.scopes)
}

func (l *ScopeLocks) acquireRef(key string) *scopeLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl, ok := l.scopes[key]
	if !ok {
		sl = &scopeLock{ch: make(chan struct{}, 1)}
		l.scopes[key] = sl
	}
	sl.refs++
	return sl
}

func (l *ScopeLocks) dropRef(key string, sl *scopeLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.scopes, key)
	}
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
