package room

import (
	"sync"

	"board-room/domain"
)

// Sessions indexes live clients by user across every room.
type Sessions struct {
	mu    sync.Mutex
	users map[string]map[*Client]struct{}
}

func NewSessions() *Sessions {
	return &Sessions{users: make(map[string]map[*Client]struct{})}
}

func (s *Sessions) Add(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.users[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		s.users[c.UserID] = set
	}
	set[c] = struct{}{}
}

// Remove drops c and deletes the user's entry once it is empty.
func (s *Sessions) Remove(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.users[c.UserID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.users, c.UserID)
	}
}

// Count returns how many live clients userID has.
func (s *Sessions) Count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users[userID])
}

// Users returns how many users have at least one live client.
func (s *Sessions) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Send delivers msg to every live client of userID accepted by keep (nil
// keeps all). Closed clients are pruned. It returns the number of clients reached.
func (s *Sessions) Send(userID string, msg any, keep func(*Client) bool) int {
	frame, err := domain.Encode(msg)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.users[userID]
	sent := 0
	for c := range set {
		if c.Closed() {
			delete(set, c)
			continue
		}
		if keep != nil && !keep(c) {
			continue
		}
		if c.Enqueue(frame) {
			sent++
		} else {
			delete(set, c)
		}
	}
	if set != nil && len(set) == 0 {
		delete(s.users, userID)
	}
	return sent
}
