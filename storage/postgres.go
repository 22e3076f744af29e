package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"board-room/domain"
	"board-room/positioning"
)

type txKey struct{}

// Postgres is the primary persistence gateway. Positioning operations share
// one transaction through InTx.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres opens a pgx-backed pool and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// InTx runs fn with a transaction carried in ctx. Nested calls join the outer transaction.
func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(DBTX); ok {
		return fn(ctx)
	}
	return WithTx(ctx, p.db, nil, func(ctx context.Context, tx DBTX) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (p *Postgres) conn(ctx context.Context) DBTX {
	if tx, ok := ctx.Value(txKey{}).(DBTX); ok {
		return tx
	}
	return p.db
}

func dbErr(err error) error {
	return fmt.Errorf("db error: %w", err)
}

const userColumns = `u.id, u.username, u.email, u.created_at, u.updated_at`

func (p *Postgres) Board(ctx context.Context, id string) (domain.Board, error) {
	db := p.conn(ctx)
	query :=
		`SELECT id, title, owner_id, created_at, updated_at FROM boards
		 WHERE id = $1`

	var b domain.Board
	err := db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.Title, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Board{}, domain.NotFound("Board not found")
		}
		return domain.Board{}, dbErr(err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+userColumns+`, m.role FROM board_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.board_id = $1
		 ORDER BY u.username`, id)
	if err != nil {
		return domain.Board{}, dbErr(err)
	}
	defer rows.Close()

	b.Members, b.Viewers = []domain.User{}, []domain.User{}
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt, &u.UpdatedAt, &role); err != nil {
			return domain.Board{}, dbErr(err)
		}
		if domain.Role(role) == domain.RoleViewer {
			b.Viewers = append(b.Viewers, u)
		} else {
			b.Members = append(b.Members, u)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Board{}, dbErr(err)
	}
	return b, nil
}

func (p *Postgres) User(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := p.conn(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.NotFound("User does not exist")
		}
		return domain.User{}, dbErr(err)
	}
	return u, nil
}

func (p *Postgres) Tag(ctx context.Context, id string) (domain.Tag, error) {
	var t domain.Tag
	err := p.conn(ctx).QueryRowContext(ctx,
		`SELECT id, board_id, name, color FROM tags WHERE id = $1`, id).
		Scan(&t.ID, &t.BoardID, &t.Name, &t.Color)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Tag{}, domain.NotFound("Tag does not exist")
		}
		return domain.Tag{}, dbErr(err)
	}
	return t, nil
}

func (p *Postgres) tags(ctx context.Context, boardID string) ([]domain.Tag, error) {
	rows, err := p.conn(ctx).QueryContext(ctx,
		`SELECT id, board_id, name, color FROM tags WHERE board_id = $1 ORDER BY name`, boardID)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	tags := []domain.Tag{}
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.BoardID, &t.Name, &t.Color); err != nil {
			return nil, dbErr(err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return tags, nil
}

const columnFields = `id, board_id, title, idx, created_at, updated_at`

func scanColumn(row interface{ Scan(...any) error }) (domain.Column, error) {
	var c domain.Column
	err := row.Scan(&c.ID, &c.BoardID, &c.Title, &c.Index, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (p *Postgres) Column(ctx context.Context, id string) (domain.Column, error) {
	c, err := scanColumn(p.conn(ctx).QueryRowContext(ctx,
		`SELECT `+columnFields+` FROM columns WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Column{}, domain.NotFound("Column does not exist")
		}
		return domain.Column{}, dbErr(err)
	}
	return c, nil
}

func (p *Postgres) Columns(ctx context.Context, boardID string) ([]domain.Column, error) {
	rows, err := p.conn(ctx).QueryContext(ctx,
		`SELECT `+columnFields+` FROM columns WHERE board_id = $1 ORDER BY idx`, boardID)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	cols := []domain.Column{}
	for rows.Next() {
		c, err := scanColumn(rows)
		if err != nil {
			return nil, dbErr(err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return cols, nil
}

func (p *Postgres) InsertColumn(ctx context.Context, c domain.Column) error {
	query :=
		`INSERT INTO columns (id, board_id, title, idx, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := p.conn(ctx).ExecContext(ctx, query,
		c.ID, c.BoardID, c.Title, c.Index, c.CreatedAt, c.UpdatedAt); err != nil {
		return dbErr(err)
	}
	return nil
}

func (p *Postgres) RenameColumn(ctx context.Context, id, title string, at time.Time) (domain.Column, error) {
	c, err := scanColumn(p.conn(ctx).QueryRowContext(ctx,
		`UPDATE columns SET title = $2, updated_at = $3
		 WHERE id = $1
		 RETURNING `+columnFields, id, title, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Column{}, domain.NotFound("Column does not exist")
		}
		return domain.Column{}, dbErr(err)
	}
	return c, nil
}

const cardFields = `id, column_id, title, content, start_date, due_date, tag_id, idx, created_at, updated_at`

func scanCard(row interface{ Scan(...any) error }) (domain.Card, error) {
	var (
		c          domain.Card
		start, due sql.NullTime
		tag        sql.NullString
	)
	err := row.Scan(&c.ID, &c.ColumnID, &c.Title, &c.Content, &start, &due, &tag, &c.Index, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if start.Valid {
		at := start.Time
		c.StartDate = &at
	}
	if due.Valid {
		at := due.Time
		c.DueDate = &at
	}
	if tag.Valid {
		id := tag.String
		c.TagID = &id
	}
	c.Assignees = []string{}
	return c, nil
}

func (p *Postgres) Card(ctx context.Context, id string) (domain.Card, error) {
	c, err := scanCard(p.conn(ctx).QueryRowContext(ctx,
		`SELECT `+cardFields+` FROM cards WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Card{}, domain.NotFound("Card does not exist")
		}
		return domain.Card{}, dbErr(err)
	}
	ids, err := p.assigneeIDs(ctx, `a.card_id = $1`, id)
	if err != nil {
		return domain.Card{}, err
	}
	c.Assignees = append(c.Assignees, ids[c.ID]...)
	return c, nil
}

func (p *Postgres) Cards(ctx context.Context, columnID string) ([]domain.Card, error) {
	cards, err := p.queryCards(ctx,
		`SELECT `+cardFields+` FROM cards WHERE column_id = $1 ORDER BY idx`, columnID)
	if err != nil {
		return nil, err
	}
	ids, err := p.assigneeIDs(ctx,
		`a.card_id IN (SELECT id FROM cards WHERE column_id = $1)`, columnID)
	if err != nil {
		return nil, err
	}
	for i := range cards {
		cards[i].Assignees = append(cards[i].Assignees, ids[cards[i].ID]...)
	}
	return cards, nil
}

func (p *Postgres) queryCards(ctx context.Context, query string, args ...any) ([]domain.Card, error) {
	rows, err := p.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	cards := []domain.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, dbErr(err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return cards, nil
}

// assigneeIDs maps card id to sorted assignee user ids for the cards matched by where.
func (p *Postgres) assigneeIDs(ctx context.Context, where string, args ...any) (map[string][]string, error) {
	rows, err := p.conn(ctx).QueryContext(ctx,
		`SELECT a.card_id, a.user_id FROM card_assignees a
		 WHERE `+where+`
		 ORDER BY a.card_id, a.user_id`, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var cardID, userID string
		if err := rows.Scan(&cardID, &userID); err != nil {
			return nil, dbErr(err)
		}
		out[cardID] = append(out[cardID], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return out, nil
}

func (p *Postgres) InsertCard(ctx context.Context, c domain.Card) error {
	query :=
		`INSERT INTO cards (id, column_id, title, content, start_date, due_date, tag_id, idx, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := p.conn(ctx).ExecContext(ctx, query,
		c.ID, c.ColumnID, c.Title, c.Content, c.StartDate, c.DueDate, c.TagID, c.Index, c.CreatedAt, c.UpdatedAt); err != nil {
		return dbErr(err)
	}
	return nil
}

func (p *Postgres) UpdateCard(ctx context.Context, id string, ch domain.CardChanges, at time.Time) (domain.Card, error) {
	sets := []string{}
	args := []any{id}
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if ch.Title != nil {
		set("title", *ch.Title)
	}
	if ch.Content != nil {
		set("content", *ch.Content)
	}
	if ch.ClearTag {
		set("tag_id", nil)
	} else if ch.TagID != nil {
		set("tag_id", *ch.TagID)
	}
	if ch.ClearStartDate {
		set("start_date", nil)
	} else if ch.StartDate != nil {
		set("start_date", *ch.StartDate)
	}
	if ch.ClearDueDate {
		set("due_date", nil)
	} else if ch.DueDate != nil {
		set("due_date", *ch.DueDate)
	}
	set("updated_at", at)

	query := `UPDATE cards SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	res, err := p.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Card{}, dbErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Card{}, domain.NotFound("Card does not exist")
	}
	return p.Card(ctx, id)
}

func (p *Postgres) Assign(ctx context.Context, cardID, userID string) error {
	query :=
		`INSERT INTO card_assignees (card_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`

	if _, err := p.conn(ctx).ExecContext(ctx, query, cardID, userID); err != nil {
		return dbErr(err)
	}
	return nil
}

func (p *Postgres) Unassign(ctx context.Context, cardID, userID string) (bool, error) {
	res, err := p.conn(ctx).ExecContext(ctx,
		`DELETE FROM card_assignees WHERE card_id = $1 AND user_id = $2`, cardID, userID)
	if err != nil {
		return false, dbErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr(err)
	}
	return n > 0, nil
}

func (p *Postgres) Assignees(ctx context.Context, cardID string) ([]domain.User, error) {
	rows, err := p.conn(ctx).QueryContext(ctx,
		`SELECT `+userColumns+` FROM card_assignees a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.card_id = $1
		 ORDER BY u.username`, cardID)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, dbErr(err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return users, nil
}

func (p *Postgres) UnassignFromBoard(ctx context.Context, boardID, userID string) ([]string, error) {
	rows, err := p.conn(ctx).QueryContext(ctx,
		`DELETE FROM card_assignees a
		 USING cards c, columns col
		 WHERE a.card_id = c.id AND c.column_id = col.id
		   AND col.board_id = $1 AND a.user_id = $2
		 RETURNING a.card_id`, boardID, userID)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbErr(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *Postgres) AddMessage(ctx context.Context, msg domain.Message) error {
	query :=
		`INSERT INTO messages (id, board_id, user_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`

	if _, err := p.conn(ctx).ExecContext(ctx, query,
		msg.ID, msg.BoardID, msg.UserID, msg.Content, msg.CreatedAt); err != nil {
		return dbErr(err)
	}
	return nil
}

// Messages returns up to limit of the most recent messages, oldest first.
func (p *Postgres) Messages(ctx context.Context, boardID string, limit int) ([]domain.Message, error) {
	rows, err := p.conn(ctx).QueryContext(ctx,
		`SELECT * FROM (
		   SELECT m.id, m.board_id, m.user_id, m.content, m.created_at, `+userColumns+`
		   FROM messages m
		   JOIN users u ON u.id = m.user_id
		   WHERE m.board_id = $1
		   ORDER BY m.created_at DESC
		   LIMIT $2
		 ) recent ORDER BY created_at ASC`, boardID, limit)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var u domain.User
		if err := rows.Scan(&m.ID, &m.BoardID, &m.UserID, &m.Content, &m.CreatedAt,
			&u.ID, &u.Username, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, dbErr(err)
		}
		m.User = &u
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return msgs, nil
}

func (p *Postgres) Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	b, err := p.Board(ctx, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	cols, err := p.Columns(ctx, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	cards, err := p.queryCards(ctx,
		`SELECT c.id, c.column_id, c.title, c.content, c.start_date, c.due_date, c.tag_id, c.idx, c.created_at, c.updated_at
		 FROM cards c
		 JOIN columns col ON col.id = c.column_id
		 WHERE col.board_id = $1
		 ORDER BY col.idx, c.idx`, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	ids, err := p.assigneeIDs(ctx,
		`a.card_id IN (SELECT c.id FROM cards c JOIN columns col ON col.id = c.column_id WHERE col.board_id = $1)`, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	tags, err := p.tags(ctx, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}

	byColumn := make(map[string][]domain.Card, len(cols))
	for _, c := range cards {
		c.Assignees = append(c.Assignees, ids[c.ID]...)
		byColumn[c.ColumnID] = append(byColumn[c.ColumnID], c)
	}
	snap := domain.BoardSnapshot{Board: b, Columns: make([]domain.ColumnSnapshot, 0, len(cols)), Tags: tags}
	for _, col := range cols {
		cs := byColumn[col.ID]
		if cs == nil {
			cs = []domain.Card{}
		}
		snap.Columns = append(snap.Columns, domain.ColumnSnapshot{Column: col, Cards: cs})
	}
	return snap, nil
}

// Positioning surface.

type scopeTable struct {
	table, scope, missing string
}

func tableOf(kind positioning.Kind) scopeTable {
	if kind == positioning.Columns {
		return scopeTable{table: "columns", scope: "board_id", missing: "Column does not exist"}
	}
	return scopeTable{table: "cards", scope: "column_id", missing: "Card does not exist"}
}

func (p *Postgres) Item(ctx context.Context, kind positioning.Kind, id string) (positioning.Item, error) {
	t := tableOf(kind)
	var it positioning.Item
	err := p.conn(ctx).QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, %s, idx FROM %s WHERE id = $1`, t.scope, t.table), id).
		Scan(&it.ID, &it.Scope, &it.Index)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return positioning.Item{}, domain.ErrNotFound
		}
		return positioning.Item{}, dbErr(err)
	}
	return it, nil
}

func (p *Postgres) ScopeExists(ctx context.Context, kind positioning.Kind, scope string) (bool, error) {
	table := "boards"
	if kind == positioning.Cards {
		table = "columns"
	}
	var ok bool
	err := p.conn(ctx).QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table), scope).Scan(&ok)
	if err != nil {
		return false, dbErr(err)
	}
	return ok, nil
}

func (p *Postgres) Count(ctx context.Context, kind positioning.Kind, scope string) (int, error) {
	t := tableOf(kind)
	var n int
	err := p.conn(ctx).QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1 AND idx >= 0`, t.table, t.scope), scope).Scan(&n)
	if err != nil {
		return 0, dbErr(err)
	}
	return n, nil
}

func (p *Postgres) MinIndex(ctx context.Context, kind positioning.Kind, scope string) (int, error) {
	t := tableOf(kind)
	var low int
	err := p.conn(ctx).QueryRowContext(ctx,
		fmt.Sprintf(`SELECT LEAST(COALESCE(MIN(idx), 0), 0) FROM %s WHERE %s = $1`, t.table, t.scope), scope).Scan(&low)
	if err != nil {
		return 0, dbErr(err)
	}
	return low, nil
}

func (p *Postgres) Shift(ctx context.Context, kind positioning.Kind, scope string, from, delta int) error {
	t := tableOf(kind)
	_, err := p.conn(ctx).ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET idx = idx + $3 WHERE %s = $1 AND idx >= $2`, t.table, t.scope),
		scope, from, delta)
	if err != nil {
		return dbErr(err)
	}
	return nil
}

func (p *Postgres) Place(ctx context.Context, kind positioning.Kind, id, scope string, index int) error {
	t := tableOf(kind)
	res, err := p.conn(ctx).ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $2, idx = $3, updated_at = now() WHERE id = $1`, t.table, t.scope),
		id, scope, index)
	if err != nil {
		return dbErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFound("%s", t.missing)
	}
	return nil
}

func (p *Postgres) Remove(ctx context.Context, kind positioning.Kind, id string) error {
	t := tableOf(kind)
	if _, err := p.conn(ctx).ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.table), id); err != nil {
		return dbErr(err)
	}
	return nil
}
