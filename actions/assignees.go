package actions

import (
	"context"

	"board-room/domain"
)

type assigneeData struct {
	CardID string `json:"cardId"`
	UserID string `json:"userId"`
}

type assignment struct {
	User   *domain.User `json:"user,omitempty"`
	UserID string       `json:"userId,omitempty"`
	CardID string       `json:"cardId"`
}

type assigneeList struct {
	CardID    string        `json:"cardId"`
	Assignees []domain.User `json:"assignees"`
}

func (s *service) assign(ctx context.Context, req Request) (Result, error) {
	var in assigneeData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.CardID, "Card ID"); err != nil {
		return Result{}, err
	}
	if err := required(in.UserID, "User ID"); err != nil {
		return Result{}, err
	}
	if _, err := s.boardCard(ctx, req.BoardID, in.CardID); err != nil {
		return Result{}, err
	}
	user, err := s.store.User(ctx, in.UserID)
	if err != nil {
		return Result{}, notFoundOr(err, "User does not exist")
	}
	board, err := s.store.Board(ctx, req.BoardID)
	if err != nil {
		return Result{}, notFoundOr(err, "Board not found")
	}
	if board.RoleOf(in.UserID) == domain.RoleNone {
		return Result{}, domain.Validation("User is not a member of this board")
	}
	if err := s.store.Assign(ctx, in.CardID, in.UserID); err != nil {
		return Result{}, notFoundOr(err, "Card does not exist")
	}
	out := assignment{User: &user, CardID: in.CardID}
	return Result{
		Data:    out,
		Notices: []Notice{{UserID: in.UserID, Type: "assignee.assign", Data: out}},
	}, nil
}

func (s *service) unassign(ctx context.Context, req Request) (Result, error) {
	var in assigneeData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.CardID, "Card ID"); err != nil {
		return Result{}, err
	}
	if err := required(in.UserID, "User ID"); err != nil {
		return Result{}, err
	}
	if _, err := s.boardCard(ctx, req.BoardID, in.CardID); err != nil {
		return Result{}, err
	}
	removed, err := s.store.Unassign(ctx, in.CardID, in.UserID)
	if err != nil {
		return Result{}, domain.Storage(err)
	}
	if !removed {
		return Result{}, domain.NotFound("User is not assigned to this card")
	}
	out := assignment{UserID: in.UserID, CardID: in.CardID}
	return Result{
		Data:    out,
		Notices: []Notice{{UserID: in.UserID, Type: "assignee.unassign", Data: out}},
	}, nil
}

func (s *service) listAssignees(ctx context.Context, req Request) (Result, error) {
	var in assigneeData
	if err := decode(req.Data, &in); err != nil {
		return Result{}, err
	}
	if err := required(in.CardID, "Card ID"); err != nil {
		return Result{}, err
	}
	if _, err := s.boardCard(ctx, req.BoardID, in.CardID); err != nil {
		return Result{}, err
	}
	users, err := s.store.Assignees(ctx, in.CardID)
	if err != nil {
		return Result{}, domain.Storage(err)
	}
	return Result{Data: assigneeList{CardID: in.CardID, Assignees: users}, Query: true}, nil
}
