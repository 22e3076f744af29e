// Package positioning keeps the index of columns within a board and of cards
// within a column dense and zero based while items are inserted, moved and
// deleted concurrently.
package positioning

import (
	"context"
	"errors"

	"board-room/domain"
)

// Kind selects the ordered collection an operation works on.
type Kind int

const (
	Columns Kind = iota
	Cards
)

func (k Kind) String() string {
	if k == Columns {
		return "columns"
	}
	return "cards"
}

// ScopeKey names the lock guarding one scope: a board for columns, a column for cards.
func ScopeKey(kind Kind, scope string) string {
	return kind.String() + ":" + scope
}

// Item is the positional view of a column or card.
type Item struct {
	ID    string
	Scope string
	Index int
}

// Store is the persistence surface the engine needs. Count and Shift only
// consider items with a non-negative index, so a parked item is invisible to them.
type Store interface {
	Item(ctx context.Context, kind Kind, id string) (Item, error)
	ScopeExists(ctx context.Context, kind Kind, scope string) (bool, error)
	Count(ctx context.Context, kind Kind, scope string) (int, error)
	MinIndex(ctx context.Context, kind Kind, scope string) (int, error)
	// Shift adds delta to the index of every item in scope with index >= from.
	Shift(ctx context.Context, kind Kind, scope string, from, delta int) error
	Place(ctx context.Context, kind Kind, id, scope string, index int) error
	Remove(ctx context.Context, kind Kind, id string) error
}

// Transactor is implemented by stores able to run several calls atomically.
// Store calls made with the ctx passed to fn join the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Target addresses a move destination. An empty Before means end of scope.
// An empty Scope means the anchor's scope, or the item's own scope without an anchor.
type Target struct {
	Scope  string
	Before string
}

const maxScopeRetries = 8

var errScopeChurn = errors.New("item changed scope while waiting for lock")

// Engine applies insert, delete and move while holding the per-scope lock.
type Engine struct {
	store Store
	locks *ScopeLocks
}

func New(store Store, locks *ScopeLocks) *Engine {
	if locks == nil {
		locks = NewScopeLocks()
	}
	return &Engine{store: store, locks: locks}
}

// Insert appends a new item to scope; create receives the index to persist.
func (e *Engine) Insert(ctx context.Context, kind Kind, scope string, create func(ctx context.Context, index int) error) error {
	if err := e.requireScope(ctx, kind, scope); err != nil {
		return err
	}
	unlock, err := e.locks.Lock(ctx, ScopeKey(kind, scope))
	if err != nil {
		return err
	}
	defer unlock()

	return e.atomically(ctx, func(ctx context.Context) error {
		n, err := e.store.Count(ctx, kind, scope)
		if err != nil {
			return domain.Storage(err)
		}
		return create(ctx, n)
	})
}

// Delete removes the item and closes the gap it leaves.
func (e *Engine) Delete(ctx context.Context, kind Kind, id string) (Item, error) {
	for attempt := 0; attempt < maxScopeRetries; attempt++ {
		item, err := e.item(ctx, kind, id)
		if err != nil {
			return Item{}, err
		}
		unlock, err := e.locks.Lock(ctx, ScopeKey(kind, item.Scope))
		if err != nil {
			return Item{}, err
		}
		err = e.atomically(ctx, func(ctx context.Context) error {
			cur, err := e.item(ctx, kind, id)
			if err != nil {
				return err
			}
			if cur.Scope != item.Scope {
				return errScopeChurn
			}
			item = cur
			if err := e.store.Remove(ctx, kind, id); err != nil {
				return domain.Storage(err)
			}
			return domain.Storage(e.store.Shift(ctx, kind, cur.Scope, cur.Index+1, -1))
		})
		unlock()
		if errors.Is(err, errScopeChurn) {
			continue
		}
		return item, err
	}
	return Item{}, domain.Storage(errScopeChurn)
}

// Move relocates the item to target. It reports false when the item already
// sits at the requested position, in which case nothing is written.
func (e *Engine) Move(ctx context.Context, kind Kind, id string, target Target) (Item, bool, error) {
	for attempt := 0; attempt < maxScopeRetries; attempt++ {
		item, err := e.item(ctx, kind, id)
		if err != nil {
			return Item{}, false, err
		}
		dest, err := e.destination(ctx, kind, item, target)
		if err != nil {
			return Item{}, false, err
		}
		unlock, err := e.locks.Lock(ctx, ScopeKey(kind, item.Scope), ScopeKey(kind, dest))
		if err != nil {
			return Item{}, false, err
		}
		var (
			result Item
			moved  bool
		)
		err = e.atomically(ctx, func(ctx context.Context) error {
			result, moved, err = e.moveLocked(ctx, kind, id, item.Scope, dest, target)
			return err
		})
		unlock()
		if errors.Is(err, errScopeChurn) {
			continue
		}
		return result, moved, err
	}
	return Item{}, false, domain.Storage(errScopeChurn)
}

func (e *Engine) moveLocked(ctx context.Context, kind Kind, id, src, dest string, target Target) (Item, bool, error) {
	cur, err := e.item(ctx, kind, id)
	if err != nil {
		return Item{}, false, err
	}
	if cur.Scope != src {
		return Item{}, false, errScopeChurn
	}
	if err := e.requireScope(ctx, kind, dest); err != nil {
		return Item{}, false, err
	}

	if target.Before != "" {
		if target.Before == id {
			return cur, false, nil
		}
		anchor, err := e.anchor(ctx, kind, target.Before)
		if err != nil {
			return Item{}, false, err
		}
		if anchor.Scope != dest {
			if target.Scope == "" {
				return Item{}, false, errScopeChurn
			}
			return Item{}, false, domain.NotFound("Target %s does not exist in destination", singular(kind))
		}
		if dest == src && anchor.Index == cur.Index+1 {
			return cur, false, nil
		}
	} else if dest == src {
		n, err := e.store.Count(ctx, kind, src)
		if err != nil {
			return Item{}, false, domain.Storage(err)
		}
		if cur.Index == n-1 {
			return cur, false, nil
		}
	}

	// Park the item below every index in the source scope, then close its gap.
	low, err := e.store.MinIndex(ctx, kind, src)
	if err != nil {
		return Item{}, false, domain.Storage(err)
	}
	if err := e.store.Place(ctx, kind, id, src, low-1); err != nil {
		return Item{}, false, domain.Storage(err)
	}
	if err := e.store.Shift(ctx, kind, src, cur.Index+1, -1); err != nil {
		return Item{}, false, domain.Storage(err)
	}

	// Resolve the target after the vacate step so a same-scope anchor already
	// reflects the removal.
	var index int
	if target.Before != "" {
		anchor, err := e.anchor(ctx, kind, target.Before)
		if err != nil {
			return Item{}, false, err
		}
		index = anchor.Index
	} else {
		index, err = e.store.Count(ctx, kind, dest)
		if err != nil {
			return Item{}, false, domain.Storage(err)
		}
	}

	if err := e.store.Shift(ctx, kind, dest, index, 1); err != nil {
		return Item{}, false, domain.Storage(err)
	}
	if err := e.store.Place(ctx, kind, id, dest, index); err != nil {
		return Item{}, false, domain.Storage(err)
	}
	return Item{ID: id, Scope: dest, Index: index}, true, nil
}

func (e *Engine) destination(ctx context.Context, kind Kind, item Item, target Target) (string, error) {
	if target.Scope != "" {
		return target.Scope, nil
	}
	if target.Before == "" || target.Before == item.ID {
		return item.Scope, nil
	}
	anchor, err := e.anchor(ctx, kind, target.Before)
	if err != nil {
		return "", err
	}
	return anchor.Scope, nil
}

func (e *Engine) item(ctx context.Context, kind Kind, id string) (Item, error) {
	item, err := e.store.Item(ctx, kind, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Item{}, domain.NotFound("%s does not exist", capitalized(kind))
		}
		return Item{}, domain.Storage(err)
	}
	return item, nil
}

func (e *Engine) anchor(ctx context.Context, kind Kind, id string) (Item, error) {
	item, err := e.store.Item(ctx, kind, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Item{}, domain.NotFound("Target %s does not exist", singular(kind))
		}
		return Item{}, domain.Storage(err)
	}
	return item, nil
}

func (e *Engine) requireScope(ctx context.Context, kind Kind, scope string) error {
	ok, err := e.store.ScopeExists(ctx, kind, scope)
	if err != nil {
		return domain.Storage(err)
	}
	if !ok {
		if kind == Columns {
			return domain.NotFound("Board does not exist")
		}
		return domain.NotFound("Target column does not exist")
	}
	return nil
}

func (e *Engine) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := e.store.(Transactor); ok {
		return tx.InTx(ctx, fn)
	}
	return fn(ctx)
}

func singular(kind Kind) string {
	if kind == Columns {
		return "column"
	}
	return "card"
}

func capitalized(kind Kind) string {
	if kind == Columns {
		return "Column"
	}
	return "Card"
}
