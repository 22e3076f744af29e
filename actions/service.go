package actions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"board-room/domain"
	"board-room/positioning"
)

// Store is the slice of the persistence gateway the handlers mutate through.
type Store interface {
	Board(ctx context.Context, id string) (domain.Board, error)
	User(ctx context.Context, id string) (domain.User, error)
	Tag(ctx context.Context, id string) (domain.Tag, error)

	Column(ctx context.Context, id string) (domain.Column, error)
	Columns(ctx context.Context, boardID string) ([]domain.Column, error)
	InsertColumn(ctx context.Context, c domain.Column) error
	RenameColumn(ctx context.Context, id, title string, at time.Time) (domain.Column, error)

	Card(ctx context.Context, id string) (domain.Card, error)
	Cards(ctx context.Context, columnID string) ([]domain.Card, error)
	InsertCard(ctx context.Context, c domain.Card) error
	UpdateCard(ctx context.Context, id string, ch domain.CardChanges, at time.Time) (domain.Card, error)

	Assign(ctx context.Context, cardID, userID string) error
	Unassign(ctx context.Context, cardID, userID string) (bool, error)
	Assignees(ctx context.Context, cardID string) ([]domain.User, error)
}

// ChatStore persists board chat.
type ChatStore interface {
	AddMessage(ctx context.Context, msg domain.Message) error
	Messages(ctx context.Context, boardID string, limit int) ([]domain.Message, error)
}

// Deps wires the handlers to their collaborators. Chat defaults to Store when
// Store also implements ChatStore.
type Deps struct {
	Store  Store
	Engine *positioning.Engine
	Chat   ChatStore
	Now    func() time.Time
	NewID  func() string
}

type service struct {
	store  Store
	engine *positioning.Engine
	chat   ChatStore
	now    func() time.Time
	newID  func() string
}

// Default builds a registry with every board action registered.
func Default(d Deps) *Registry {
	s := &service{store: d.Store, engine: d.Engine, chat: d.Chat, now: d.Now, newID: d.NewID}
	if s.chat == nil {
		if cs, ok := d.Store.(ChatStore); ok {
			s.chat = cs
		}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	r := NewRegistry()
	r.Register("column.create", HandlerFunc(s.createColumn))
	r.Register("column.rename", HandlerFunc(s.renameColumn))
	r.Register("column.delete", HandlerFunc(s.deleteColumn))
	r.Register("column.move", HandlerFunc(s.moveColumn))
	r.Register("column.list", HandlerFunc(s.listColumns))
	r.Register("card.create", HandlerFunc(s.createCard))
	r.Register("card.update", HandlerFunc(s.updateCard))
	r.Register("card.move", HandlerFunc(s.moveCard))
	r.Register("card.delete", HandlerFunc(s.deleteCard))
	r.Register("card.list", HandlerFunc(s.listCards))
	r.Register("assignee.assign", HandlerFunc(s.assign))
	r.Register("assignee.unassign", HandlerFunc(s.unassign))
	r.Register("assignee.list", HandlerFunc(s.listAssignees))
	if s.chat != nil {
		r.Register("chat.send", HandlerFunc(s.sendChat))
		r.Register("chat.history", HandlerFunc(s.chatHistory))
	}
	r.Register("message", HandlerFunc(relayMessage))
	return r
}

// boardColumn loads a column and checks it belongs to the room's board.
func (s *service) boardColumn(ctx context.Context, boardID, id string) (domain.Column, error) {
	col, err := s.store.Column(ctx, id)
	if err != nil {
		return domain.Column{}, notFoundOr(err, "Column does not exist")
	}
	if col.BoardID != boardID {
		return domain.Column{}, domain.NotFound("Column does not exist")
	}
	return col, nil
}

// boardCard loads a card and checks its column belongs to the room's board.
func (s *service) boardCard(ctx context.Context, boardID, id string) (domain.Card, error) {
	card, err := s.store.Card(ctx, id)
	if err != nil {
		return domain.Card{}, notFoundOr(err, "Card does not exist")
	}
	if _, err := s.boardColumn(ctx, boardID, card.ColumnID); err != nil {
		return domain.Card{}, domain.NotFound("Card does not exist")
	}
	return card, nil
}

func (s *service) boardTag(ctx context.Context, boardID, id string) error {
	tag, err := s.store.Tag(ctx, id)
	if err != nil {
		return notFoundOr(err, "Tag does not exist")
	}
	if tag.BoardID != boardID {
		return domain.NotFound("Tag does not exist")
	}
	return nil
}

// notFoundOr rewrites a gateway NotFound with msg and classifies anything else as storage.
func notFoundOr(err error, msg string) error {
	if domain.KindOf(err) == domain.KindNotFound {
		return domain.NotFound("%s", msg)
	}
	return domain.Storage(err)
}
