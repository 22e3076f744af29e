package actions

import (
	"context"

	log "github.com/sirupsen/logrus"

	"board-room/domain"
	"board-room/positioning"
)

type columnData struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Before string  `json:"before"`
	NewPos *string `json:"newPos"`
}

func (s *service) createColumn(ctx context.Context, req Request) (Result, error) {
	var in columnData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.Title, "Column title"); err != nil {
		return Result{}, err
	}
	now := s.now().UTC()
	col := domain.Column{ID: s.newID(), BoardID: req.BoardID, Title: in.Title, CreatedAt: now, UpdatedAt: now}
	err := s.engine.Insert(ctx, positioning.Columns, req.BoardID, func(ctx context.Context, index int) error {
		col.Index = index
		return domain.Storage(s.store.InsertColumn(ctx, col))
	})
	if err != nil {
		return Result{}, err
	}
	log.WithFields(log.Fields{"board": req.BoardID, "column": col.ID, "index": col.Index}).Debug("column created")
	return Result{Data: col}, nil
}

func (s *service) renameColumn(ctx context.Context, req Request) (Result, error) {
	var in columnData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.ID, "Column ID"); err != nil {
		return Result{}, err
	}
	if err := required(in.Title, "Column title"); err != nil {
		return Result{}, err
	}
	if _, err := s.boardColumn(ctx, req.BoardID, in.ID); err != nil {
		return Result{}, err
	}
	col, err := s.store.RenameColumn(ctx, in.ID, in.Title, s.now().UTC())
	if err != nil {
		return Result{}, notFoundOr(err, "Column does not exist")
	}
	return Result{Data: col}, nil
}

func (s *service) deleteColumn(ctx context.Context, req Request) (Result, error) {
	var in columnData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.ID, "Column ID"); err != nil {
		return Result{}, err
	}
	col, err := s.boardColumn(ctx, req.BoardID, in.ID)
	if err != nil {
		return Result{}, err
	}
	item, err := s.engine.Delete(ctx, positioning.Columns, in.ID)
	if err != nil {
		return Result{}, err
	}
	col.Index = item.Index
	log.WithFields(log.Fields{"board": req.BoardID, "column": col.ID}).Debug("column deleted")
	return Result{Data: col}, nil
}

func (s *service) moveColumn(ctx context.Context, req Request) (Result, error) {
	var in columnData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.ID, "Column ID"); err != nil {
		return Result{}, err
	}
	if _, err := s.boardColumn(ctx, req.BoardID, in.ID); err != nil {
		return Result{}, err
	}
	before := in.Before
	if before == "" && in.NewPos != nil {
		before = *in.NewPos
	}
	if before != "" {
		if _, err := s.boardColumn(ctx, req.BoardID, before); err != nil {
			return Result{}, domain.NotFound("Target column does not exist")
		}
	}
	if _, _, err := s.engine.Move(ctx, positioning.Columns, in.ID, positioning.Target{Scope: req.BoardID, Before: before}); err != nil {
		return Result{}, err
	}
	col, err := s.store.Column(ctx, in.ID)
	if err != nil {
		return Result{}, notFoundOr(err, "Column does not exist")
	}
	return Result{Data: col}, nil
}

func (s *service) listColumns(ctx context.Context, req Request) (Result, error) {
	cols, err := s.store.Columns(ctx, req.BoardID)
	if err != nil {
		return Result{}, domain.Storage(err)
	}
	return Result{Data: cols, Query: true}, nil
}
