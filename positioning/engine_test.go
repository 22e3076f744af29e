package positioning

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"board-room/domain"
)

func requireDense(t *testing.T, store *fakeStore, kind Kind, scope string) {
	t.Helper()
	_, idx := store.order(kind, scope)
	for i, v := range idx {
		require.Equalf(t, i, v, "scope %s not dense: %v", scope, idx)
	}
}

func TestMoveColumnBeforeLaterAnchor(t *testing.T) {
	store := newFakeStore()
	store.seed(Columns, "b1", "X", "Y", "Z")
	e := New(store, nil)

	item, moved, err := e.Move(context.Background(), Columns, "X", Target{Before: "Z"})
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, Item{ID: "X", Scope: "b1", Index: 1}, item)

	ids, idx := store.order(Columns, "b1")
	require.Equal(t, []string{"Y", "X", "Z"}, ids)
	require.Equal(t, []int{0, 1, 2}, idx)
}

func TestMoveColumnBeforeEarlierAnchor(t *testing.T) {
	store := newFakeStore()
	store.seed(Columns, "b1", "X", "Y", "Z")
	e := New(store, nil)

	_, moved, err := e.Move(context.Background(), Columns, "Z", Target{Before: "X"})
	require.NoError(t, err)
	require.True(t, moved)

	ids, _ := store.order(Columns, "b1")
	require.Equal(t, []string{"Z", "X", "Y"}, ids)
	requireDense(t, store, Columns, "b1")
}

func TestMoveToEndOfSameScope(t *testing.T) {
	store := newFakeStore()
	store.seed(Cards, "c1", "a", "b", "c")
	e := New(store, nil)

	item, moved, err := e.Move(context.Background(), Cards, "a", Target{})
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, 2, item.Index)

	ids, _ := store.order(Cards, "c1")
	require.Equal(t, []string{"b", "c", "a"}, ids)
	requireDense(t, store, Cards, "c1")
}

func TestMoveCardAcrossColumns(t *testing.T) {
	store := newFakeStore()
	store.seed(Cards, "c1", "a", "b", "c")
	store.seed(Cards, "c2", "d", "e")
	e := New(store, nil)

	item, moved, err := e.Move(context.Background(), Cards, "b", Target{Scope: "c2"})
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, Item{ID: "b", Scope: "c2", Index: 2}, item)

	src, _ := store.order(Cards, "c1")
	dst, _ := store.order(Cards, "c2")
	require.Equal(t, []string{"a", "c"}, src)
	require.Equal(t, []string{"d", "e", "b"}, dst)
	requireDense(t, store, Cards, "c1")
	requireDense(t, store, Cards, "c2")

	// anchor in another column implies that column
	_, moved, err = e.Move(context.Background(), Cards, "a", Target{Before: "d"})
	require.NoError(t, err)
	require.True(t, moved)
	dst, _ = store.order(Cards, "c2")
	require.Equal(t, []string{"a", "d", "e", "b"}, dst)
	requireDense(t, store, Cards, "c1")
}

func TestMoveNoOpWritesNothing(t *testing.T) {
	store := newFakeStore()
	store.seed(Columns, "b1", "X", "Y", "Z")
	e := New(store, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		id     string
		target Target
	}{
		{"self anchor", "Y", Target{Before: "Y"}},
		{"immediate successor", "X", Target{Before: "Y"}},
		{"already last", "Z", Target{}},
		{"already last explicit scope", "Z", Target{Scope: "b1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := store.writeCount()
			item, moved, err := e.Move(ctx, Columns, tc.id, tc.target)
			require.NoError(t, err)
			require.False(t, moved)
			require.Equal(t, tc.id, item.ID)
			require.Equal(t, before, store.writeCount())
			ids, _ := store.order(Columns, "b1")
			require.Equal(t, []string{"X", "Y", "Z"}, ids)
		})
	}
}

func TestMoveNotFound(t *testing.T) {
	store := newFakeStore()
	store.seed(Cards, "c1", "a", "b")
	store.seed(Cards, "c2", "d")
	e := New(store, nil)
	ctx := context.Background()

	_, _, err := e.Move(ctx, Cards, "missing", Target{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = e.Move(ctx, Cards, "a", Target{Scope: "nope"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = e.Move(ctx, Cards, "a", Target{Before: "ghost"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	// anchor lives outside the requested destination
	_, _, err = e.Move(ctx, Cards, "a", Target{Scope: "c1", Before: "d"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	ids, _ := store.order(Cards, "c1")
	require.Equal(t, []string{"a", "b"}, ids)
	require.Zero(t, store.writeCount())
}

func TestDeleteClosesGap(t *testing.T) {
	store := newFakeStore()
	store.seed(Cards, "c1", "c1-1", "c1-2", "c1-3")
	e := New(store, nil)

	item, err := e.Delete(context.Background(), Cards, "c1-2")
	require.NoError(t, err)
	require.Equal(t, 1, item.Index)

	ids, idx := store.order(Cards, "c1")
	require.Equal(t, []string{"c1-1", "c1-3"}, ids)
	require.Equal(t, []int{0, 1}, idx)

	_, err = e.Delete(context.Background(), Cards, "c1-2")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInsertUnknownScope(t *testing.T) {
	e := New(newFakeStore(), nil)
	err := e.Insert(context.Background(), Cards, "nope", func(context.Context, int) error {
		t.Fatal("create must not run")
		return nil
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentInsertsGetDistinctIndices(t *testing.T) {
	store := newFakeStore()
	store.yield = true
	store.addScope(Cards, "c1")
	e := New(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("card-%d", i)
			err := e.Insert(context.Background(), Cards, "c1", func(ctx context.Context, index int) error {
				return store.Place(ctx, Cards, id, "c1", index)
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, idx := store.order(Cards, "c1")
	require.Equal(t, []int{0, 1}, idx)
}

func TestConcurrentMixedOperationsStayDense(t *testing.T) {
	store := newFakeStore()
	store.yield = true
	columns := []string{"c1", "c2", "c3"}
	for i, c := range columns {
		ids := make([]string, 5)
		for j := range ids {
			ids[j] = fmt.Sprintf("%d-%d", i, j)
		}
		store.seed(Cards, c, ids...)
	}
	e := New(store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for n := 0; n < 40; n++ {
				id := fmt.Sprintf("%d-%d", rng.Intn(3), rng.Intn(5))
				switch rng.Intn(4) {
				case 0:
					_, _, _ = e.Move(ctx, Cards, id, Target{Scope: columns[rng.Intn(3)]})
				case 1:
					anchor := fmt.Sprintf("%d-%d", rng.Intn(3), rng.Intn(5))
					_, _, _ = e.Move(ctx, Cards, id, Target{Before: anchor})
				case 2:
					fresh := fmt.Sprintf("new-%d-%d", seed, n)
					col := columns[rng.Intn(3)]
					_ = e.Insert(ctx, Cards, col, func(ctx context.Context, index int) error {
						return store.Place(ctx, Cards, fresh, col, index)
					})
				case 3:
					_, _ = e.Delete(ctx, Cards, id)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	for _, c := range columns {
		requireDense(t, store, Cards, c)
	}
}
