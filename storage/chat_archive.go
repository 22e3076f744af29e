package storage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"board-room/domain"
)

type chatTable interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// UserSource resolves message authors.
type UserSource interface {
	User(ctx context.Context, id string) (domain.User, error)
}

// ChatArchive stores board chat in an Azure table partitioned by board.
// Row keys sort newest first.
type ChatArchive struct {
	table chatTable
	users UserSource
}

// NewChatArchive connects to the chat table from a storage connection string.
func NewChatArchive(connStr, tableName string, users UserSource) (*ChatArchive, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newChatArchive(svc.NewClient(tableName), users), nil
}

func newChatArchive(table chatTable, users UserSource) *ChatArchive {
	return &ChatArchive{table: table, users: users}
}

type messageEntity struct {
	aztables.Entity
	MessageID string `json:"MessageId"`
	UserID    string `json:"UserId"`
	Content   string `json:"Content"`
	CreatedAt string `json:"CreatedAt"`
}

// messageRowKey inverts the timestamp so a partition scan returns the newest messages first.
func messageRowKey(at time.Time, id string) string {
	return fmt.Sprintf("%019d_%s", math.MaxInt64-at.UnixNano(), id)
}

func (a *ChatArchive) AddMessage(ctx context.Context, msg domain.Message) error {
	ent := messageEntity{
		Entity: aztables.Entity{
			PartitionKey: msg.BoardID,
			RowKey:       messageRowKey(msg.CreatedAt, msg.ID),
		},
		MessageID: msg.ID,
		UserID:    msg.UserID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := a.table.AddEntity(ctx, payload, nil); err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	return nil
}

// Messages returns up to limit of the most recent messages, oldest first.
func (a *ChatArchive) Messages(ctx context.Context, boardID string, limit int) ([]domain.Message, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(boardID, "'", "''") + "'"
	opts := &aztables.ListEntitiesOptions{Filter: &filter}
	if limit > 0 {
		top := int32(limit)
		opts.Top = &top
	}

	pager := a.table.NewListEntitiesPager(opts)
	msgs := []domain.Message{}
	for pager.More() && (limit <= 0 || len(msgs) < limit) {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, raw := range resp.Entities {
			if limit > 0 && len(msgs) == limit {
				break
			}
			msg, err := decodeMessageEntity(raw)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	a.attachAuthors(ctx, msgs)
	return msgs, nil
}

func (a *ChatArchive) attachAuthors(ctx context.Context, msgs []domain.Message) {
	if a.users == nil {
		return
	}
	seen := make(map[string]*domain.User)
	for i := range msgs {
		u, ok := seen[msgs[i].UserID]
		if !ok {
			if user, err := a.users.User(ctx, msgs[i].UserID); err == nil {
				u = &user
			}
			seen[msgs[i].UserID] = u
		}
		msgs[i].User = u
	}
}

func decodeMessageEntity(data []byte) (domain.Message, error) {
	var ent messageEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Message{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, ent.CreatedAt)
	if err != nil {
		return domain.Message{}, fmt.Errorf("message %s: %w", ent.MessageID, err)
	}
	return domain.Message{
		ID:        ent.MessageID,
		BoardID:   ent.PartitionKey,
		UserID:    ent.UserID,
		Content:   ent.Content,
		CreatedAt: at,
	}, nil
}
