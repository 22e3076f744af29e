package domain

import "time"

// Role is the tier a user holds on a board.
type Role string

const (
	RoleNone   Role = ""
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// CanWrite reports whether the role may submit actions.
func (r Role) CanWrite() bool { return r == RoleOwner || r == RoleMember }

// User is the public profile of an account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Board is owned by the REST layer; rooms only read it.
type Board struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"ownerId"`
	Members   []User    `json:"members"`
	Viewers   []User    `json:"viewers"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RoleOf resolves the role of userID from the board's membership lists.
func (b Board) RoleOf(userID string) Role {
	if userID == "" {
		return RoleNone
	}
	if b.OwnerID == userID {
		return RoleOwner
	}
	for _, u := range b.Members {
		if u.ID == userID {
			return RoleMember
		}
	}
	for _, u := range b.Viewers {
		if u.ID == userID {
			return RoleViewer
		}
	}
	return RoleNone
}

type Column struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	Index     int       `json:"index"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Card struct {
	ID        string     `json:"id"`
	ColumnID  string     `json:"columnId"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	StartDate *time.Time `json:"startDate"`
	DueDate   *time.Time `json:"dueDate"`
	TagID     *string    `json:"tagId"`
	Index     int        `json:"index"`
	Assignees []string   `json:"assignees"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// CardChanges carries a partial card update. Nil fields are left untouched;
// ClearTag and ClearStartDate/ClearDueDate null the corresponding field.
type CardChanges struct {
	Title          *string
	Content        *string
	TagID          *string
	ClearTag       bool
	StartDate      *time.Time
	ClearStartDate bool
	DueDate        *time.Time
	ClearDueDate   bool
}

type Tag struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Name    string `json:"name"`
	Color   string `json:"color"`
}

// Message is a chat line posted to a board.
type Message struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	User      *User     `json:"user,omitempty"`
}

// ColumnSnapshot is a column together with its cards in index order.
type ColumnSnapshot struct {
	Column
	Cards []Card `json:"cards"`
}

// BoardSnapshot is the board state sent with the connection acknowledgement.
type BoardSnapshot struct {
	Board
	Columns []ColumnSnapshot `json:"columns"`
	Tags    []Tag            `json:"tags"`
}

// Activity records a committed board mutation for downstream consumers.
type Activity struct {
	BoardID string    `json:"boardId"`
	UserID  string    `json:"userId"`
	Action  string    `json:"action"`
	At      time.Time `json:"at"`
	Data    any       `json:"data,omitempty"`
}
