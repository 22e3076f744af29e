package actions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bytedance/sonic"

	"board-room/domain"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

func (s *service) sendChat(ctx context.Context, req Request) (Result, error) {
	content, err := chatContent(req.Data)
	if err != nil {
		return Result{}, err
	}
	user, err := s.store.User(ctx, req.UserID)
	if err != nil {
		return Result{}, notFoundOr(err, "User does not exist")
	}
	msg := domain.Message{
		ID:        s.newID(),
		BoardID:   req.BoardID,
		UserID:    req.UserID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.chat.AddMessage(ctx, msg); err != nil {
		return Result{}, domain.Storage(err)
	}
	msg.User = &user
	return Result{Data: msg}, nil
}

func (s *service) chatHistory(ctx context.Context, req Request) (Result, error) {
	limit := defaultHistoryLimit
	if !isNull(req.Data) {
		var in struct {
			Limit int `json:"limit"`
		}
		if err := sonic.Unmarshal(req.Data, &in); err == nil && in.Limit > 0 {
			limit = in.Limit
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	msgs, err := s.chat.Messages(ctx, req.BoardID, limit)
	if err != nil {
		return Result{}, domain.Storage(err)
	}
	return Result{Data: msgs, Query: true}, nil
}

// chatContent accepts either a bare JSON string or {"content": "..."}.
func chatContent(data json.RawMessage) (string, error) {
	if isNull(data) {
		return "", domain.Validation("Message cannot be empty")
	}
	var content string
	if err := sonic.Unmarshal(data, &content); err != nil {
		var in struct {
			Content string `json:"content"`
		}
		if err := sonic.Unmarshal(data, &in); err != nil {
			return "", domain.Validation("Malformed action data")
		}
		content = in.Content
	}
	if strings.TrimSpace(content) == "" {
		return "", domain.Validation("Message cannot be empty")
	}
	return content, nil
}

// relayMessage echoes the payload to the room without storing it.
func relayMessage(_ context.Context, req Request) (Result, error) {
	if isNull(req.Data) {
		return Result{}, domain.Validation("Message cannot be empty")
	}
	return Result{Data: json.RawMessage(req.Data)}, nil
}
