package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
)

var ErrNotFound = errors.New("not found")

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CoachID   string    `json:"coach_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CrisisLevel    string    `json:"crisis_level"`
	CreatedAt      time.Time `json:"created_at"`
}

type Alert struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	CoachID        string    `json:"coach_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Level          string    `json:"level"`
	Source         string    `json:"source"`
	Indicators     []string  `json:"indicators"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Transition struct {
	AlertID   string    `json:"alert_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func notFound(err error) error {
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

func (r *Repository) CreateConversation(ctx context.Context, tx pgx.Tx, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return tx.QueryRow(ctx, `
		INSERT INTO conversations (id, user_id, coach_id, title)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, c.ID, c.UserID, c.CoachID, c.Title).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func scanConversation(row pgx.CollectableRow) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.CoachID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *Repository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, user_id, coach_id, title, created_at, updated_at
		FROM conversations WHERE id::text = $1
	`, id)
	if err != nil {
		return Conversation{}, err
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanConversation)
	return c, notFound(err)
}

func (r *Repository) ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, user_id, coach_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanConversation)
}

func (r *Repository) TouchConversation(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id::text = $1`, id)
	return err
}

func (r *Repository) InsertMessage(ctx context.Context, tx pgx.Tx, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return tx.QueryRow(ctx, `
		INSERT INTO chat_messages (id, conversation_id, role, content, crisis_level)
		VALUES ($1, $2::uuid, $3, $4, $5)
		RETURNING created_at
	`, m.ID, m.ConversationID, m.Role, m.Content, m.CrisisLevel).Scan(&m.CreatedAt)
}

func scanMessage(row pgx.CollectableRow) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CrisisLevel, &m.CreatedAt)
	return m, err
}

// RecentMessages returns up to limit of the latest messages, oldest first.
func (r *Repository) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, crisis_level, created_at FROM (
			SELECT id::text, conversation_id::text, role, content, crisis_level, created_at
			FROM chat_messages
			WHERE conversation_id::text = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMessage)
}

const alertColumns = `id::text, user_id, coach_id, conversation_id::text, message_id::text, level, source,
	indicators, state, created_at, updated_at`

func scanAlert(row pgx.CollectableRow) (Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.UserID, &a.CoachID, &a.ConversationID, &a.MessageID, &a.Level, &a.Source,
		&a.Indicators, &a.State, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// CreateAlert stores a new alert in the detected state together with its
// first audit row.
func (r *Repository) CreateAlert(ctx context.Context, tx pgx.Tx, a *Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Indicators == nil {
		a.Indicators = []string{}
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO crisis_alerts (id, user_id, coach_id, conversation_id, message_id, level, source, indicators, state)
		VALUES ($1, $2, $3, $4::uuid, $5::uuid, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, a.ID, a.UserID, a.CoachID, a.ConversationID, a.MessageID, a.Level, a.Source, a.Indicators, a.State,
	).Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return err
	}
	return r.InsertTransition(ctx, tx, Transition{AlertID: a.ID, ToState: a.State, Actor: "system"})
}

func (r *Repository) GetAlertForUpdate(ctx context.Context, tx pgx.Tx, id string) (Alert, error) {
	rows, err := tx.Query(ctx, `SELECT `+alertColumns+` FROM crisis_alerts WHERE id::text = $1 FOR UPDATE`, id)
	if err != nil {
		return Alert{}, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAlert)
	return a, notFound(err)
}

func (r *Repository) SetAlertState(ctx context.Context, tx pgx.Tx, id, state string) (Alert, error) {
	rows, err := tx.Query(ctx, `
		UPDATE crisis_alerts SET state = $2, updated_at = now()
		WHERE id::text = $1
		RETURNING `+alertColumns, id, state)
	if err != nil {
		return Alert{}, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAlert)
	return a, notFound(err)
}

func (r *Repository) InsertTransition(ctx context.Context, tx pgx.Tx, t Transition) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO crisis_alert_transitions (alert_id, from_state, to_state, actor, note)
		VALUES ($1::uuid, $2, $3, $4, $5)
	`, t.AlertID, t.FromState, t.ToState, t.Actor, t.Note)
	return err
}

type AlertFilter struct {
	// CoachID restricts to one coach; empty means every coach (admin only).
	CoachID string
	States  []string
	Limit   int
}

func (r *Repository) ListAlerts(ctx context.Context, f AlertFilter) ([]Alert, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM crisis_alerts
		WHERE ($1 = '' OR coach_id = $1)
			AND (COALESCE(cardinality($2::text[]), 0) = 0 OR state = ANY($2::text[]))
		ORDER BY created_at DESC
		LIMIT $3
	`, f.CoachID, f.States, f.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAlert)
}

func (r *Repository) ListTransitions(ctx context.Context, alertID string) ([]Transition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT alert_id::text, from_state, to_state, actor, note, created_at
		FROM crisis_alert_transitions
		WHERE alert_id::text = $1
		ORDER BY id
	`, alertID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transition, error) {
		var t Transition
		err := row.Scan(&t.AlertID, &t.FromState, &t.ToState, &t.Actor, &t.Note, &t.CreatedAt)
		return t, err
	})
}

func (r *Repository) GetAlert(ctx context.Context, id string) (Alert, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+alertColumns+` FROM crisis_alerts WHERE id::text = $1`, id)
	if err != nil {
		return Alert{}, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAlert)
	return a, notFound(err)
}
