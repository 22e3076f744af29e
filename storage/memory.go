package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"board-room/domain"
	"board-room/positioning"
)

// Memory is a process-local gateway. It backs tests and single-node demos.
type Memory struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	boards    map[string]domain.Board
	tags      map[string]domain.Tag
	columns   map[string]domain.Column
	cards     map[string]domain.Card
	assignees map[string]map[string]struct{}
	messages  map[string][]domain.Message
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]domain.User),
		boards:    make(map[string]domain.Board),
		tags:      make(map[string]domain.Tag),
		columns:   make(map[string]domain.Column),
		cards:     make(map[string]domain.Card),
		assignees: make(map[string]map[string]struct{}),
		messages:  make(map[string][]domain.Message),
		now:       time.Now,
	}
}

// PutUser stores or replaces a user profile.
func (m *Memory) PutUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutBoard stores or replaces a board with its membership lists.
func (m *Memory) PutBoard(b domain.Board) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[b.ID] = b
}

func (m *Memory) PutTag(t domain.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[t.ID] = t
}

// DeleteBoard drops a board and everything under it.
func (m *Memory) DeleteBoard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boards, id)
	delete(m.messages, id)
	for cid, c := range m.columns {
		if c.BoardID == id {
			m.removeColumnLocked(cid)
		}
	}
	for tid, t := range m.tags {
		if t.BoardID == id {
			delete(m.tags, tid)
		}
	}
}

func (m *Memory) Board(_ context.Context, id string) (domain.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boards[id]
	if !ok {
		return domain.Board{}, domain.NotFound("Board not found")
	}
	return b, nil
}

func (m *Memory) User(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.NotFound("User does not exist")
	}
	return u, nil
}

func (m *Memory) Tag(_ context.Context, id string) (domain.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tags[id]
	if !ok {
		return domain.Tag{}, domain.NotFound("Tag does not exist")
	}
	return t, nil
}

func (m *Memory) Column(_ context.Context, id string) (domain.Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.columns[id]
	if !ok {
		return domain.Column{}, domain.NotFound("Column does not exist")
	}
	return c, nil
}

func (m *Memory) Columns(_ context.Context, boardID string) ([]domain.Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.columnsLocked(boardID), nil
}

func (m *Memory) InsertColumn(_ context.Context, c domain.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[c.BoardID]; !ok {
		return domain.NotFound("Board not found")
	}
	m.columns[c.ID] = c
	return nil
}

func (m *Memory) RenameColumn(_ context.Context, id, title string, at time.Time) (domain.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.columns[id]
	if !ok {
		return domain.Column{}, domain.NotFound("Column does not exist")
	}
	c.Title = title
	c.UpdatedAt = at
	m.columns[id] = c
	return c, nil
}

func (m *Memory) Card(_ context.Context, id string) (domain.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[id]
	if !ok {
		return domain.Card{}, domain.NotFound("Card does not exist")
	}
	return m.withAssigneesLocked(c), nil
}

func (m *Memory) Cards(_ context.Context, columnID string) ([]domain.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cardsLocked(columnID), nil
}

func (m *Memory) InsertCard(_ context.Context, c domain.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.columns[c.ColumnID]; !ok {
		return domain.NotFound("Column does not exist")
	}
	c.Assignees = nil
	m.cards[c.ID] = c
	return nil
}

func (m *Memory) UpdateCard(_ context.Context, id string, ch domain.CardChanges, at time.Time) (domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return domain.Card{}, domain.NotFound("Card does not exist")
	}
	applyCardChanges(&c, ch)
	c.UpdatedAt = at
	m.cards[id] = c
	return m.withAssigneesLocked(c), nil
}

func (m *Memory) Assign(_ context.Context, cardID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[cardID]; !ok {
		return domain.NotFound("Card does not exist")
	}
	set, ok := m.assignees[cardID]
	if !ok {
		set = make(map[string]struct{})
		m.assignees[cardID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (m *Memory) Unassign(_ context.Context, cardID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.assignees[cardID]
	if _, ok := set[userID]; !ok {
		return false, nil
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(m.assignees, cardID)
	}
	return true, nil
}

func (m *Memory) Assignees(_ context.Context, cardID string) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]domain.User, 0, len(m.assignees[cardID]))
	for uid := range m.assignees[cardID] {
		if u, ok := m.users[uid]; ok {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// UnassignFromBoard removes userID from every card of the board and returns the affected card ids.
func (m *Memory) UnassignFromBoard(_ context.Context, boardID, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, col := range m.columnsLocked(boardID) {
		for _, card := range m.cardsLocked(col.ID) {
			set := m.assignees[card.ID]
			if _, ok := set[userID]; !ok {
				continue
			}
			delete(set, userID)
			if len(set) == 0 {
				delete(m.assignees, card.ID)
			}
			ids = append(ids, card.ID)
		}
	}
	return ids, nil
}

func (m *Memory) AddMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[msg.BoardID]; !ok {
		return domain.NotFound("Board not found")
	}
	msg.User = nil
	m.messages[msg.BoardID] = append(m.messages[msg.BoardID], msg)
	return nil
}

// Messages returns up to limit of the most recent messages, oldest first.
func (m *Memory) Messages(_ context.Context, boardID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[boardID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]domain.Message, 0, len(all))
	for _, msg := range all {
		if u, ok := m.users[msg.UserID]; ok {
			u := u
			msg.User = &u
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *Memory) Snapshot(_ context.Context, boardID string) (domain.BoardSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boards[boardID]
	if !ok {
		return domain.BoardSnapshot{}, domain.NotFound("Board not found")
	}
	snap := domain.BoardSnapshot{Board: b, Columns: []domain.ColumnSnapshot{}, Tags: []domain.Tag{}}
	for _, col := range m.columnsLocked(boardID) {
		snap.Columns = append(snap.Columns, domain.ColumnSnapshot{Column: col, Cards: m.cardsLocked(col.ID)})
	}
	for _, t := range m.tags {
		if t.BoardID == boardID {
			snap.Tags = append(snap.Tags, t)
		}
	}
	sort.Slice(snap.Tags, func(i, j int) bool { return snap.Tags[i].Name < snap.Tags[j].Name })
	return snap, nil
}

// Positioning surface.

func (m *Memory) Item(_ context.Context, kind positioning.Kind, id string) (positioning.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if kind == positioning.Columns {
		c, ok := m.columns[id]
		if !ok {
			return positioning.Item{}, domain.ErrNotFound
		}
		return positioning.Item{ID: c.ID, Scope: c.BoardID, Index: c.Index}, nil
	}
	c, ok := m.cards[id]
	if !ok {
		return positioning.Item{}, domain.ErrNotFound
	}
	return positioning.Item{ID: c.ID, Scope: c.ColumnID, Index: c.Index}, nil
}

func (m *Memory) ScopeExists(_ context.Context, kind positioning.Kind, scope string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if kind == positioning.Columns {
		_, ok := m.boards[scope]
		return ok, nil
	}
	_, ok := m.columns[scope]
	return ok, nil
}

func (m *Memory) Count(_ context.Context, kind positioning.Kind, scope string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	m.eachLocked(kind, scope, func(_ string, index int) {
		if index >= 0 {
			n++
		}
	})
	return n, nil
}

func (m *Memory) MinIndex(_ context.Context, kind positioning.Kind, scope string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	low := 0
	m.eachLocked(kind, scope, func(_ string, index int) {
		if index < low {
			low = index
		}
	})
	return low, nil
}

func (m *Memory) Shift(_ context.Context, kind positioning.Kind, scope string, from, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	m.eachLocked(kind, scope, func(id string, index int) {
		if index >= from {
			ids = append(ids, id)
		}
	})
	for _, id := range ids {
		if kind == positioning.Columns {
			c := m.columns[id]
			c.Index += delta
			m.columns[id] = c
		} else {
			c := m.cards[id]
			c.Index += delta
			m.cards[id] = c
		}
	}
	return nil
}

func (m *Memory) Place(_ context.Context, kind positioning.Kind, id, scope string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.now()
	if kind == positioning.Columns {
		c, ok := m.columns[id]
		if !ok {
			return domain.NotFound("Column does not exist")
		}
		c.BoardID, c.Index, c.UpdatedAt = scope, index, at
		m.columns[id] = c
		return nil
	}
	c, ok := m.cards[id]
	if !ok {
		return domain.NotFound("Card does not exist")
	}
	c.ColumnID, c.Index, c.UpdatedAt = scope, index, at
	m.cards[id] = c
	return nil
}

func (m *Memory) Remove(_ context.Context, kind positioning.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == positioning.Columns {
		m.removeColumnLocked(id)
		return nil
	}
	delete(m.cards, id)
	delete(m.assignees, id)
	return nil
}

func (m *Memory) removeColumnLocked(id string) {
	delete(m.columns, id)
	for cid, c := range m.cards {
		if c.ColumnID == id {
			delete(m.cards, cid)
			delete(m.assignees, cid)
		}
	}
}

func (m *Memory) eachLocked(kind positioning.Kind, scope string, fn func(id string, index int)) {
	if kind == positioning.Columns {
		for id, c := range m.columns {
			if c.BoardID == scope {
				fn(id, c.Index)
			}
		}
		return
	}
	for id, c := range m.cards {
		if c.ColumnID == scope {
			fn(id, c.Index)
		}
	}
}

func (m *Memory) columnsLocked(boardID string) []domain.Column {
	cols := []domain.Column{}
	for _, c := range m.columns {
		if c.BoardID == boardID {
			cols = append(cols, c)
		}
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Index < cols[j].Index })
	return cols
}

func (m *Memory) cardsLocked(columnID string) []domain.Card {
	cards := []domain.Card{}
	for _, c := range m.cards {
		if c.ColumnID == columnID {
			cards = append(cards, m.withAssigneesLocked(c))
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Index < cards[j].Index })
	return cards
}

func (m *Memory) withAssigneesLocked(c domain.Card) domain.Card {
	ids := make([]string, 0, len(m.assignees[c.ID]))
	for uid := range m.assignees[c.ID] {
		ids = append(ids, uid)
	}
	sort.Strings(ids)
	c.Assignees = ids
	return c
}

func applyCardChanges(c *domain.Card, ch domain.CardChanges) {
	if ch.Title != nil {
		c.Title = *ch.Title
	}
	if ch.Content != nil {
		c.Content = *ch.Content
	}
	if ch.ClearTag {
		c.TagID = nil
	} else if ch.TagID != nil {
		tag := *ch.TagID
		c.TagID = &tag
	}
	if ch.ClearStartDate {
		c.StartDate = nil
	} else if ch.StartDate != nil {
		at := *ch.StartDate
		c.StartDate = &at
	}
	if ch.ClearDueDate {
		c.DueDate = nil
	} else if ch.DueDate != nil {
		at := *ch.DueDate
		c.DueDate = &at
	}
}
