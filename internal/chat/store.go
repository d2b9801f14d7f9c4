package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DefaultTitle is the title conversations are created with until the first
// completed chat derives a real one.
const DefaultTitle = "New Conversation"

// UserDedupeWindow is how recently an identical user message must have been
// stored for a new submission to be treated as a duplicate.
const UserDedupeWindow = 5 * time.Second

// ErrNotFound covers both absent conversations and conversations owned by
// someone else; the two are indistinguishable to callers.
var ErrNotFound = errors.New("conversation not found")

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationStore persists conversations and their messages. All
// operations are scoped by user id; rows owned by other users behave as
// absent.
type ConversationStore interface {
	Create(ctx context.Context, userID, title string) (*Conversation, error)
	Get(ctx context.Context, id uuid.UUID, userID string) (*Conversation, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*Conversation, int, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, userID, title string) (*Conversation, error)
	Delete(ctx context.Context, id uuid.UUID, userID string) error

	ListMessages(ctx context.Context, id uuid.UUID, userID string) ([]*Message, error)
	AddMessage(ctx context.Context, id uuid.UUID, userID, role, content, model string) (*Message, error)
	DeleteMessage(ctx context.Context, messageID uuid.UUID, userID string) error

	// SaveUserMessage inserts the message under a conversation row lock
	// unless an identical user message younger than UserDedupeWindow exists,
	// in which case that message is returned with reused=true.
	SaveUserMessage(ctx context.Context, id uuid.UUID, userID, content string) (msg *Message, reused bool, err error)

	// SaveAssistantMessage inserts the message under a conversation row lock
	// unless an identical (content, model) assistant message exists.
	SaveAssistantMessage(ctx context.Context, id uuid.UUID, userID, content, model string) (msg *Message, created bool, err error)

	// MaybeAutoTitle derives and sets the conversation title from the first
	// user message while the title is still DefaultTitle.
	MaybeAutoTitle(ctx context.Context, id uuid.UUID, userID, source string) error
}

// PGStore implements ConversationStore on Postgres.
type PGStore struct {
	db     *pgxpool.Pool
	schema string
}

func NewPGStore(db *pgxpool.Pool, schema string) *PGStore {
	if schema == "" {
		schema = "public"
	}
	return &PGStore{db: db, schema: schema}
}

func (s *PGStore) conversations() string { return s.schema + ".conversations" }
func (s *PGStore) messages() string      { return s.schema + ".messages" }

func (s *PGStore) Create(ctx context.Context, userID, title string) (*Conversation, error) {
	if title == "" {
		title = DefaultTitle
	}
	c := &Conversation{ID: uuid.New(), UserID: userID, Title: title}
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, title) VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, s.conversations()), c.ID, userID, title).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID, userID string) (*Conversation, error) {
	c := &Conversation{ID: id, UserID: userID}
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT title, created_at, updated_at FROM %s
		WHERE id = $1 AND user_id = $2
	`, s.conversations()), id, userID).Scan(&c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PGStore) List(ctx context.Context, userID string, limit, offset int) ([]*Conversation, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE user_id = $1`, s.conversations()), userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, title, created_at, updated_at FROM %s
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, s.conversations()), userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	convs := make([]*Conversation, 0, limit)
	for rows.Next() {
		c := &Conversation{UserID: userID}
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		convs = append(convs, c)
	}
	return convs, total, rows.Err()
}

func (s *PGStore) UpdateTitle(ctx context.Context, id uuid.UUID, userID, title string) (*Conversation, error) {
	c := &Conversation{ID: id, UserID: userID, Title: title}
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET title = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING created_at, updated_at
	`, s.conversations()), id, userID, title).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PGStore) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	// Messages go first; the FK cascade also covers them, but an explicit
	// delete keeps the behavior independent of the schema's FK options.
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var owned bool
	if err := tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND user_id = $2)`,
		s.conversations()), id, userID).Scan(&owned); err != nil {
		return err
	}
	if !owned {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE conversation_id = $1`, s.messages()), id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = $1`, s.conversations()), id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) ListMessages(ctx context.Context, id uuid.UUID, userID string) ([]*Message, error) {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, role, content, model, created_at FROM %s
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, s.messages()), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{ConversationID: id}
		var model *string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &model, &m.CreatedAt); err != nil {
			return nil, err
		}
		if model != nil {
			m.Model = *model
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PGStore) AddMessage(ctx context.Context, id uuid.UUID, userID, role, content, model string) (*Message, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := lockConversation(ctx, tx, s.conversations(), id, userID); err != nil {
		return nil, err
	}
	msg, err := insertMessage(ctx, tx, s, id, role, content, model)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *PGStore) DeleteMessage(ctx context.Context, messageID uuid.UUID, userID string) error {
	var conversationID uuid.UUID
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		DELETE FROM %s m
		USING %s c
		WHERE m.id = $1 AND m.conversation_id = c.id AND c.user_id = $2
		RETURNING m.conversation_id
	`, s.messages(), s.conversations()), messageID, userID).Scan(&conversationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET updated_at = now() WHERE id = $1`, s.conversations()), conversationID)
	return err
}

func (s *PGStore) SaveUserMessage(ctx context.Context, id uuid.UUID, userID, content string) (*Message, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if err := lockConversation(ctx, tx, s.conversations(), id, userID); err != nil {
		return nil, false, err
	}

	// Rapid duplicate submissions reuse the stored row.
	var (
		lastID      uuid.UUID
		lastContent string
		lastAt      time.Time
	)
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, content, created_at FROM %s
		WHERE conversation_id = $1 AND role = 'user'
		ORDER BY created_at DESC LIMIT 1
	`, s.messages()), id).Scan(&lastID, &lastContent, &lastAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	if err == nil && lastContent == content && time.Since(lastAt) < UserDedupeWindow {
		log.Ctx(ctx).Debug().
			Str("message_id", lastID.String()).
			Msg("duplicate user message within dedupe window, reusing")
		return &Message{ID: lastID, ConversationID: id, Role: "user", Content: content, CreatedAt: lastAt}, true, tx.Commit(ctx)
	}

	msg, err := insertMessage(ctx, tx, s, id, "user", content, "")
	if err != nil {
		return nil, false, err
	}
	return msg, false, tx.Commit(ctx)
}

func (s *PGStore) SaveAssistantMessage(ctx context.Context, id uuid.UUID, userID, content, model string) (*Message, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if err := lockConversation(ctx, tx, s.conversations(), id, userID); err != nil {
		return nil, false, err
	}

	// Replays of the same completion must not duplicate the row.
	var existingID uuid.UUID
	var existingAt time.Time
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, created_at FROM %s
		WHERE conversation_id = $1 AND role = 'assistant' AND content = $2
		  AND coalesce(model, '') = $3
		ORDER BY created_at DESC LIMIT 1
	`, s.messages()), id, content, model).Scan(&existingID, &existingAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	if err == nil {
		return &Message{ID: existingID, ConversationID: id, Role: "assistant", Content: content, Model: model, CreatedAt: existingAt}, false, tx.Commit(ctx)
	}

	msg, err := insertMessage(ctx, tx, s, id, "assistant", content, model)
	if err != nil {
		return nil, false, err
	}
	return msg, true, tx.Commit(ctx)
}

func (s *PGStore) MaybeAutoTitle(ctx context.Context, id uuid.UUID, userID, source string) error {
	title := GenerateTitle(source)
	if title == DefaultTitle {
		return nil
	}
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET title = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND title = $4
	`, s.conversations()), id, userID, title, DefaultTitle)
	return err
}

// lockConversation takes the row lock that serializes message writes for a
// conversation against concurrent streams.
func lockConversation(ctx context.Context, tx pgx.Tx, table string, id uuid.UUID, userID string) error {
	var got uuid.UUID
	err := tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT id FROM %s WHERE id = $1 AND user_id = $2 FOR UPDATE`, table), id, userID).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func insertMessage(ctx context.Context, tx pgx.Tx, s *PGStore, conversationID uuid.UUID, role, content, model string) (*Message, error) {
	msg := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Model:          model,
	}
	var modelArg *string
	if model != "" {
		modelArg = &model
	}
	if err := tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, role, content, model)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, s.messages()), msg.ID, conversationID, role, content, modelArg).Scan(&msg.CreatedAt); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET updated_at = now() WHERE id = $1`, s.conversations()), conversationID); err != nil {
		return nil, err
	}
	return msg, nil
}
