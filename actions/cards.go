package actions

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"board-room/domain"
	"board-room/positioning"
)

type cardCreateData struct {
	Title     string     `json:"title"`
	ColumnID  string     `json:"columnId"`
	Content   string     `json:"content"`
	StartDate *time.Time `json:"startDate"`
	DueDate   *time.Time `json:"dueDate"`
	TagID     *string    `json:"tagId"`
}

type cardData struct {
	ID       string  `json:"id"`
	ColumnID string  `json:"columnId"`
	Before   string  `json:"before"`
	Title    *string `json:"title"`
	Content  *string `json:"content"`
}

func (s *service) createCard(ctx context.Context, req Request) (Result, error) {
	var in cardCreateData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.Title, "Card title"); err != nil {
		return Result{}, err
	}
	if err := required(in.ColumnID, "Column ID"); err != nil {
		return Result{}, err
	}
	if _, err := s.boardColumn(ctx, req.BoardID, in.ColumnID); err != nil {
		return Result{}, err
	}
	if in.TagID != nil && *in.TagID == "" {
		in.TagID = nil
	}
	if in.TagID != nil {
		if err := s.boardTag(ctx, req.BoardID, *in.TagID); err != nil {
			return Result{}, err
		}
	}

	now := s.now().UTC()
	card := domain.Card{
		ID:        s.newID(),
		ColumnID:  in.ColumnID,
		Title:     in.Title,
		Content:   in.Content,
		StartDate: in.StartDate,
		DueDate:   in.DueDate,
		TagID:     in.TagID,
		Assignees: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.engine.Insert(ctx, positioning.Cards, in.ColumnID, func(ctx context.Context, index int) error {
		card.Index = index
		return domain.Storage(s.store.InsertCard(ctx, card))
	})
	if err != nil {
		return Result{}, err
	}
	log.WithFields(log.Fields{"board": req.BoardID, "card": card.ID, "column": card.ColumnID, "index": card.Index}).Debug("card created")
	return Result{Data: card}, nil
}

func (s *service) updateCard(ctx context.Context, req Request) (Result, error) {
	var in cardData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.ID, "Card ID"); err != nil {
		return Result{}, err
	}
	if in.Title != nil {
		if err := required(*in.Title, "Card title"); err != nil {
			return Result{}, err
		}
	}
	if in.Content != nil {
		if err := required(*in.Content, "Card content"); err != nil {
			return Result{}, err
		}
	}

	keys := presentKeys(req.Data)
	ch := domain.CardChanges{Title: in.Title, Content: in.Content}
	tagSet, clearTag, tagID, err := nullableString(keys, "tagId")
	if err != nil {
		return Result{}, err
	}
	startSet, clearStart, start, err := nullableTime(keys, "startDate")
	if err != nil {
		return Result{}, err
	}
	dueSet, clearDue, due, err := nullableTime(keys, "dueDate")
	if err != nil {
		return Result{}, err
	}
	ch.ClearTag, ch.TagID = clearTag, tagID
	ch.ClearStartDate, ch.StartDate = clearStart, start
	ch.ClearDueDate, ch.DueDate = clearDue, due

	if _, err := s.boardCard(ctx, req.BoardID, in.ID); err != nil {
		return Result{}, err
	}
	if tagID != nil {
		if err := s.boardTag(ctx, req.BoardID, *tagID); err != nil {
			return Result{}, err
		}
	}

	if in.ColumnID != "" || in.Before != "" {
		if err := s.relocateCard(ctx, req.BoardID, in.ID, in.ColumnID, in.Before); err != nil {
			return Result{}, err
		}
	}

	changed := in.Title != nil || in.Content != nil || tagSet || startSet || dueSet
	if !changed {
		card, err := s.store.Card(ctx, in.ID)
		if err != nil {
			return Result{}, notFoundOr(err, "Card does not exist")
		}
		return Result{Data: card}, nil
	}
	card, err := s.store.UpdateCard(ctx, in.ID, ch, s.now().UTC())
	if err != nil {
		return Result{}, notFoundOr(err, "Card does not exist")
	}
	return Result{Data: card}, nil
}

func (s *service) moveCard(ctx context.Context, req Request) (Result, error) {
	var in cardData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.ID, "Card ID"); err != nil {
		return Result{}, err
	}
	if _, err := s.boardCard(ctx, req.BoardID, in.ID); err != nil {
		return Result{}, err
	}
	if err := s.relocateCard(ctx, req.BoardID, in.ID, in.ColumnID, in.Before); err != nil {
		return Result{}, err
	}
	card, err := s.store.Card(ctx, in.ID)
	if err != nil {
		return Result{}, notFoundOr(err, "Card does not exist")
	}
	return Result{Data: card}, nil
}

// relocateCard checks that the destination column and anchor card belong to
// the board before handing the move to the engine.
func (s *service) relocateCard(ctx context.Context, boardID, id, columnID, before string) error {
	if columnID != "" {
		if _, err := s.boardColumn(ctx, boardID, columnID); err != nil {
			return domain.NotFound("Target column does not exist")
		}
	}
	if before != "" {
		if _, err := s.boardCard(ctx, boardID, before); err != nil {
			return domain.NotFound("Target card does not exist")
		}
	}
	item, moved, err := s.engine.Move(ctx, positioning.Cards, id, positioning.Target{Scope: columnID, Before: before})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"board": boardID, "card": id, "column": item.Scope, "index": item.Index, "moved": moved}).Debug("card relocated")
	return nil
}

func (s *service) deleteCard(ctx context.Context, req Request) (Result, error) {
	var in cardData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.ID, "Card ID"); err != nil {
		return Result{}, err
	}
	card, err := s.boardCard(ctx, req.BoardID, in.ID)
	if err != nil {
		return Result{}, err
	}
	item, err := s.engine.Delete(ctx, positioning.Cards, in.ID)
	if err != nil {
		return Result{}, err
	}
	card.ColumnID, card.Index = item.Scope, item.Index
	log.WithFields(log.Fields{"board": req.BoardID, "card": card.ID}).Debug("card deleted")
	return Result{Data: card}, nil
}

func (s *service) listCards(ctx context.Context, req Request) (Result, error) {
	var in cardData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.ColumnID, "Column ID"); err != nil {
		return Result{}, err
	}
	if _, err := s.boardColumn(ctx, req.BoardID, in.ColumnID); err != nil {
		return Result{}, err
	}
	cards, err := s.store.Cards(ctx, in.ColumnID)
	if err != nil {
		return Result{}, domain.Storage(err)
	}
	return Result{Data: cards, Query: true}, nil
}
