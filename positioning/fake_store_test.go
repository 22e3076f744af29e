package positioning

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"board-room/domain"
)

type fakeStore struct {
	mu     sync.Mutex
	scopes map[Kind]map[string]struct{}
	items  map[Kind]map[string]*Item
	writes int
	yield  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		scopes: map[Kind]map[string]struct{}{Columns: {}, Cards: {}},
		items:  map[Kind]map[string]*Item{Columns: {}, Cards: {}},
	}
}

func (f *fakeStore) addScope(kind Kind, scope string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes[kind][scope] = struct{}{}
}

func (f *fakeStore) seed(kind Kind, scope string, ids ...string) {
	f.addScope(kind, scope)
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range ids {
		f.items[kind][id] = &Item{ID: id, Scope: scope, Index: i}
	}
}

// order returns ids in scope sorted by index, along with their indices.
func (f *fakeStore) order(kind Kind, scope string) ([]string, []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []Item
	for _, it := range f.items[kind] {
		if it.Scope == scope {
			list = append(list, *it)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Index < list[j].Index })
	ids := make([]string, len(list))
	idx := make([]int, len(list))
	for i, it := range list {
		ids[i] = it.ID
		idx[i] = it.Index
	}
	return ids, idx
}

func (f *fakeStore) pause() {
	if f.yield {
		runtime.Gosched()
	}
}

func (f *fakeStore) Item(_ context.Context, kind Kind, id string) (Item, error) {
	f.pause()
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[kind][id]
	if !ok {
		return Item{}, domain.ErrNotFound
	}
	return *it, nil
}

func (f *fakeStore) ScopeExists(_ context.Context, kind Kind, scope string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.scopes[kind][scope]
	return ok, nil
}

func (f *fakeStore) Count(_ context.Context, kind Kind, scope string) (int, error) {
	f.pause()
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.items[kind] {
		if it.Scope == scope && it.Index >= 0 {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) MinIndex(_ context.Context, kind Kind, scope string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	low := 0
	for _, it := range f.items[kind] {
		if it.Scope == scope && it.Index < low {
			low = it.Index
		}
	}
	return low, nil
}

func (f *fakeStore) Shift(_ context.Context, kind Kind, scope string, from, delta int) error {
	f.pause()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	for _, it := range f.items[kind] {
		if it.Scope == scope && it.Index >= from {
			it.Index += delta
		}
	}
	return nil
}

func (f *fakeStore) Place(_ context.Context, kind Kind, id, scope string, index int) error {
	f.pause()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	it, ok := f.items[kind][id]
	if !ok {
		it = &Item{ID: id}
		f.items[kind][id] = it
	}
	it.Scope = scope
	it.Index = index
	return nil
}

func (f *fakeStore) Remove(_ context.Context, kind Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	delete(f.items[kind], id)
	return nil
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}
