package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

//go:embed schema.sql
var schema string

const pgUniqueViolation = "23505"

var _ Store = (*Postgres)(nil)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect creates a pgx pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) CreateUser(ctx context.Context, user *model.User) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, push_token)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		user.Name, user.Email, user.PasswordHash, user.PushToken,
	).Scan(&user.ID, &user.CreatedAt)
	return mapError(err)
}

const userColumns = `id, name, email, password_hash, push_token, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.PushToken, &u.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (p *Postgres) SetPushToken(ctx context.Context, userID int64, token string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET push_token = $2 WHERE id = $1`, userID, token)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ClearPushToken(ctx context.Context, userID int64, token string) error {
	var err error
	if token == "" {
		_, err = p.pool.Exec(ctx, `UPDATE users SET push_token = NULL WHERE id = $1`, userID)
	} else {
		_, err = p.pool.Exec(ctx, `UPDATE users SET push_token = NULL WHERE id = $1 AND push_token = $2`, userID, token)
	}
	return mapError(err)
}

const conversationColumns = `c.id, c.type, c.creator_id, c.status, c.created_at, c.updated_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var c model.Conversation
	if err := row.Scan(&c.ID, &c.Type, &c.CreatorID, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

// FindPrivateConversation returns the private conversation whose member set is exactly {a, b}.
func (p *Postgres) FindPrivateConversation(ctx context.Context, a, b int64) (*model.Conversation, error) {
	return scanConversation(p.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_user ca ON ca.conversation_id = c.id AND ca.user_id = $1
		JOIN conversation_user cb ON cb.conversation_id = c.id AND cb.user_id = $2
		WHERE c.type = 'private'
		  AND (SELECT COUNT(*) FROM conversation_user cu WHERE cu.conversation_id = c.id) = 2
		ORDER BY c.id
		LIMIT 1`, a, b))
}

func (p *Postgres) CreatePrivateConversation(ctx context.Context, creatorID, otherID int64) (*model.Conversation, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := scanConversation(tx.QueryRow(ctx, `
		INSERT INTO conversations AS c (type, creator_id, status, pair_key)
		VALUES ('private', $1, 'active', $2)
		RETURNING `+conversationColumns,
		creatorID, model.PairKey(creatorID, otherID)))
	if err != nil {
		return nil, err
	}

	for _, uid := range []int64{creatorID, otherID} {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_user (conversation_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)`,
			conv.ID, uid, model.RoleMember, conv.CreatedAt); err != nil {
			return nil, mapError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError(err)
	}
	return conv, nil
}

func (p *Postgres) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	return scanConversation(p.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id))
}

func (p *Postgres) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversation_user WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID).Scan(&exists)
	return exists, mapError(err)
}

func (p *Postgres) ListMembers(ctx context.Context, conversationID int64) ([]model.Membership, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT conversation_id, user_id, role, joined_at
		FROM conversation_user WHERE conversation_id = $1
		ORDER BY joined_at, user_id`, conversationID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var members []model.Membership
	for rows.Next() {
		var m model.Membership
		if err := rows.Scan(&m.ConversationID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}
	return members, nil
}

func (p *Postgres) SetConversationStatus(ctx context.Context, conversationID int64, status model.ConversationStatus) error {
	tag, err := p.pool.Exec(ctx, `UPDATE conversations SET status = $2, updated_at = NOW() WHERE id = $1`, conversationID, status)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListConversationsForUser(ctx context.Context, userID int64) ([]model.ConversationListItem, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT c.id, c.updated_at, u.id, u.name,
		       lm.id, lm.sender_id, lm.content, lm.is_read, lm.created_at, lm.updated_at, su.name,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.conversation_id = c.id AND m.is_read = FALSE AND m.sender_id <> $1)
		FROM conversations c
		JOIN conversation_user me ON me.conversation_id = c.id AND me.user_id = $1
		JOIN conversation_user other ON other.conversation_id = c.id AND other.user_id <> $1
		JOIN users u ON u.id = other.user_id
		LEFT JOIN LATERAL (
			SELECT * FROM messages m WHERE m.conversation_id = c.id
			ORDER BY m.created_at DESC, m.id DESC LIMIT 1
		) lm ON TRUE
		LEFT JOIN users su ON su.id = lm.sender_id
		WHERE c.type = 'private' AND c.status = 'active'
		ORDER BY c.updated_at DESC, c.id DESC`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var items []model.ConversationListItem
	for rows.Next() {
		var (
			item       model.ConversationListItem
			msgID      *int64
			senderID   *int64
			content    *string
			isRead     *bool
			createdAt  *time.Time
			updatedAt  *time.Time
			senderName *string
			unread     int64
		)
		if err := rows.Scan(&item.ConversationID, &item.UpdatedAt, &item.OtherUser.ID, &item.OtherUser.Name,
			&msgID, &senderID, &content, &isRead, &createdAt, &updatedAt, &senderName, &unread); err != nil {
			return nil, err
		}
		if msgID != nil {
			item.LastMessage = &model.Message{
				ID:             *msgID,
				ConversationID: item.ConversationID,
				SenderID:       *senderID,
				Content:        *content,
				IsRead:         *isRead,
				CreatedAt:      *createdAt,
				UpdatedAt:      *updatedAt,
				Attachments:    []model.Attachment{},
			}
			if senderName != nil {
				item.LastMessage.SenderName = *senderName
			}
		}
		item.UnreadCount = int(unread)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (p *Postgres) CreateMessage(ctx context.Context, msg *model.Message) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, is_read)
		VALUES ($1, $2, $3, FALSE)
		RETURNING id, is_read, created_at, updated_at`,
		msg.ConversationID, msg.SenderID, msg.Content,
	).Scan(&msg.ID, &msg.IsRead, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return mapError(err)
	}

	for i := range msg.Attachments {
		a := &msg.Attachments[i]
		a.MessageID = msg.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO message_attachments (message_id, path, original_name, mime_type, size_bytes)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			a.MessageID, a.Path, a.OriginalName, a.MimeType, a.SizeBytes,
		).Scan(&a.ID, &a.CreatedAt)
		if err != nil {
			return mapError(err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, msg.ConversationID, msg.CreatedAt); err != nil {
		return mapError(err)
	}

	return mapError(tx.Commit(ctx))
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.content, m.is_read, m.created_at, m.updated_at, u.name
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt, &m.UpdatedAt, &m.SenderName); err != nil {
		return nil, mapError(err)
	}
	m.Attachments = []model.Attachment{}
	return &m, nil
}

func (p *Postgres) ListMessages(ctx context.Context, conversationID int64) ([]model.Message, error) {
	rows, err := p.pool.Query(ctx, messageSelect+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC, m.id ASC`, conversationID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var (
		messages []model.Message
		ids      []int64
	)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Message{}, nil
	}

	attachments, err := p.attachmentsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if a, ok := attachments[messages[i].ID]; ok {
			messages[i].Attachments = a
		}
	}
	return messages, nil
}

func (p *Postgres) attachmentsFor(ctx context.Context, messageIDs []int64) (map[int64][]model.Attachment, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, message_id, path, original_name, mime_type, size_bytes, created_at
		FROM message_attachments
		WHERE message_id = ANY($1)
		ORDER BY id`, messageIDs)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make(map[int64][]model.Attachment)
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Path, &a.OriginalName, &a.MimeType, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, err
		}
		out[a.MessageID] = append(out[a.MessageID], a)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestMessage(ctx context.Context, conversationID int64) (*model.Message, error) {
	m, err := scanMessage(p.pool.QueryRow(ctx, messageSelect+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1`, conversationID))
	if err != nil {
		return nil, err
	}
	attachments, err := p.attachmentsFor(ctx, []int64{m.ID})
	if err != nil {
		return nil, err
	}
	if a, ok := attachments[m.ID]; ok {
		m.Attachments = a
	}
	return m, nil
}

// MarkConversationRead flags every unread message not sent by readerID in one statement.
func (p *Postgres) MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE, updated_at = NOW()
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE`,
		conversationID, readerID)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) UnreadCounts(ctx context.Context, userID int64) ([]model.ConversationUnread, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT m.conversation_id, COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		JOIN conversation_user cu ON cu.conversation_id = m.conversation_id AND cu.user_id = $1
		WHERE c.type = 'private' AND c.status = 'active'
		  AND m.is_read = FALSE AND m.sender_id <> $1
		GROUP BY m.conversation_id
		ORDER BY m.conversation_id`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.ConversationUnread
	for rows.Next() {
		var (
			u     model.ConversationUnread
			count int64
		)
		if err := rows.Scan(&u.ConversationID, &count); err != nil {
			return nil, err
		}
		u.Count = int(count)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateBlock(ctx context.Context, blockerID, blockedID int64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_blocks (blocker_id, blocked_id) VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING`, blockerID, blockedID)
	return mapError(err)
}

func (p *Postgres) DeleteBlock(ctx context.Context, blockerID, blockedID int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM user_blocks WHERE blocker_id = $1 AND blocked_id = $2`, blockerID, blockedID)
	return mapError(err)
}

func (p *Postgres) BlockExists(ctx context.Context, a, b int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_blocks
			WHERE (blocker_id = $1 AND blocked_id = $2) OR (blocker_id = $2 AND blocked_id = $1)
		)`, a, b).Scan(&exists)
	return exists, mapError(err)
}

func (p *Postgres) CreateAccessToken(ctx context.Context, token *model.PersonalAccessToken) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO personal_access_tokens (user_id, name, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		token.UserID, token.Name, token.TokenHash, token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
	return mapError(err)
}

func (p *Postgres) GetAccessToken(ctx context.Context, id int64) (*model.PersonalAccessToken, error) {
	var t model.PersonalAccessToken
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, name, token_hash, last_used_at, expires_at, created_at
		FROM personal_access_tokens WHERE id = $1`, id,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.TokenHash, &t.LastUsedAt, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (p *Postgres) TouchAccessToken(ctx context.Context, id int64, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE personal_access_tokens SET last_used_at = $2 WHERE id = $1`, id, at)
	return mapError(err)
}

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}

func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	s = strings.Replace(s, "postgresql+pgx://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+pgx://", "postgres://", 1)
	return s
}
