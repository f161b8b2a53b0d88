package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

const conversationCols = `id, user_low, user_high, name_low, name_high, unread_low, unread_high,
	last_body, last_author, last_at, created_at, updated_at`

type ConversationRepository struct {
	pool *pgxpool.Pool
}

var _ storage.ConversationStore = (*ConversationRepository)(nil)

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// FindOrCreate опирается на UNIQUE(user_low, user_high): параллельные вызовы гонятся
// за вставку, проигравший читает строку победителя.
func (r *ConversationRepository) FindOrCreate(ctx context.Context, a, b model.Participant) (string, bool, error) {
	defer logger.DeferLogDuration("conversation.FindOrCreate", time.Now())()
	if a.ID > b.ID {
		a, b = b, a
	}
	id := uuid.New().String()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_low, user_high, name_low, name_high)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT ON CONSTRAINT conversations_pair_unique DO NOTHING`,
		id, a.ID, b.ID, a.Name, b.Name,
	)
	if err != nil {
		return "", false, fmt.Errorf("conversationRepo.FindOrCreate: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return id, true, nil
	}
	var existing string
	err = r.pool.QueryRow(ctx,
		`SELECT id FROM conversations WHERE user_low = $1 AND user_high = $2`, a.ID, b.ID,
	).Scan(&existing)
	if err != nil {
		return "", false, fmt.Errorf("conversationRepo.FindOrCreate: %w", err)
	}
	return existing, false, nil
}

func (r *ConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.Get", time.Now())()
	c, err := scanConversation(r.pool.QueryRow(ctx, `SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.Get: %w", err)
	}
	return c, nil
}

// ListFor возвращает диалоги пользователя, последние активные первыми.
func (r *ConversationRepository) ListFor(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.ListFor", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+conversationCols+` FROM conversations
		 WHERE user_low = $1 OR user_high = $1
		 ORDER BY updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.ListFor: %w", err)
	}
	defer rows.Close()
	out := make([]model.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("conversationRepo.ListFor: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// AppendDirect блокирует строку диалога, поэтому created_at строго растёт
// внутри диалога, а счётчик непрочитанных меняется вместе с сообщением.
func (r *ConversationRepository) AppendDirect(ctx context.Context, dm *model.DirectMessage, recipientID, requestID string) (bool, error) {
	defer logger.DeferLogDuration("conversation.AppendDirect", time.Now())()
	if dm.ID == "" {
		dm.ID = uuid.New().String()
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("conversationRepo.AppendDirect: %w", err)
	}
	defer tx.Rollback(ctx)

	var lastAt *time.Time
	err = tx.QueryRow(ctx, `SELECT last_at FROM conversations WHERE id = $1 FOR UPDATE`, dm.ConversationID).Scan(&lastAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, storage.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("conversationRepo.AppendDirect: %w", err)
	}
	if requestID != "" {
		stored, err := scanDirect(tx.QueryRow(ctx,
			`SELECT id, conversation_id, author_id, author_name, body, attachments, created_at
			 FROM direct_messages WHERE conversation_id = $1 AND request_id = $2`,
			dm.ConversationID, requestID))
		if err == nil {
			*dm = *stored
			return false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("conversationRepo.AppendDirect replay: %w", err)
		}
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	if lastAt != nil && !now.After(*lastAt) {
		now = lastAt.UTC().Add(time.Microsecond)
	}
	dm.CreatedAt = now
	attachments, err := json.Marshal(nonNilAttachments(dm.Attachments))
	if err != nil {
		return false, fmt.Errorf("conversationRepo.AppendDirect: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO direct_messages (id, conversation_id, author_id, author_name, body, attachments, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7::text, ''), $8)`,
		dm.ID, dm.ConversationID, dm.AuthorID, dm.AuthorName, dm.Body, attachments, requestID, now,
	); err != nil {
		return false, fmt.Errorf("conversationRepo.AppendDirect insert: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET
		   last_body = $2, last_author = $3, last_at = $4, updated_at = $4,
		   unread_low = unread_low + CASE WHEN user_low = $5 THEN 1 ELSE 0 END,
		   unread_high = unread_high + CASE WHEN user_high = $5 THEN 1 ELSE 0 END
		 WHERE id = $1`,
		dm.ConversationID, preview(dm), dm.AuthorID, now, recipientID,
	); err != nil {
		return false, fmt.Errorf("conversationRepo.AppendDirect update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("conversationRepo.AppendDirect commit: %w", err)
	}
	return true, nil
}

// Messages возвращает limit последних сообщений по возрастанию.
func (r *ConversationRepository) Messages(ctx context.Context, conversationID string, limit int) ([]model.DirectMessage, error) {
	defer logger.DeferLogDuration("conversation.Messages", time.Now())()
	if limit <= 0 {
		return []model.DirectMessage{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, author_id, author_name, body, attachments, created_at FROM (
		   SELECT * FROM direct_messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2
		 ) m ORDER BY created_at`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.Messages: %w", err)
	}
	defer rows.Close()
	out := make([]model.DirectMessage, 0, limit)
	for rows.Next() {
		dm, err := scanDirect(rows)
		if err != nil {
			return nil, fmt.Errorf("conversationRepo.Messages: %w", err)
		}
		out = append(out, *dm)
	}
	return out, rows.Err()
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, conversationID, userID string) error {
	defer logger.DeferLogDuration("conversation.ResetUnread", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET
		   unread_low = CASE WHEN user_low = $2 THEN 0 ELSE unread_low END,
		   unread_high = CASE WHEN user_high = $2 THEN 0 ELSE unread_high END
		 WHERE id = $1 AND $2 IN (user_low, user_high)`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("conversationRepo.ResetUnread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		c                    model.Conversation
		low, high            string
		nameLow, nameHigh    string
		unreadLow, unreadHi  int64
		lastBody, lastAuthor *string
		lastAt               *time.Time
	)
	if err := row.Scan(&c.ID, &low, &high, &nameLow, &nameHigh, &unreadLow, &unreadHi,
		&lastBody, &lastAuthor, &lastAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ParticipantIDs = [2]string{low, high}
	c.Names = map[string]string{low: nameLow, high: nameHigh}
	c.Unread = map[string]int64{low: unreadLow, high: unreadHi}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if lastAt != nil {
		c.LastMessage = &model.LastMessage{CreatedAt: lastAt.UTC()}
		if lastBody != nil {
			c.LastMessage.Body = *lastBody
		}
		if lastAuthor != nil {
			c.LastMessage.AuthorID = *lastAuthor
		}
	}
	return &c, nil
}

func scanDirect(row pgx.Row) (*model.DirectMessage, error) {
	var (
		dm  model.DirectMessage
		raw []byte
	)
	if err := row.Scan(&dm.ID, &dm.ConversationID, &dm.AuthorID, &dm.AuthorName, &dm.Body, &raw, &dm.CreatedAt); err != nil {
		return nil, err
	}
	dm.CreatedAt = dm.CreatedAt.UTC()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &dm.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if len(dm.Attachments) == 0 {
		dm.Attachments = nil
	}
	return &dm, nil
}

func nonNilAttachments(a []model.Attachment) []model.Attachment {
	if a == nil {
		return []model.Attachment{}
	}
	return a
}

// preview: текст снимка последнего сообщения в списке диалогов.
func preview(dm *model.DirectMessage) string {
	body := strings.TrimSpace(dm.Body)
	if body == "" && len(dm.Attachments) > 0 {
		return "Attachment: " + dm.Attachments[0].Name
	}
	if r := []rune(body); len(r) > 140 {
		return string(r[:137]) + "..."
	}
	return body
}
