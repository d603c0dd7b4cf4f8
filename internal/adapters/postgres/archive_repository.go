package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
)

// ArchiveRepository is the durable archive tier. Message bodies are stored
// verbatim; what goes in comes back byte for byte.
type ArchiveRepository struct {
	db DB
}

func NewArchiveRepository(db DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

func (r *ArchiveRepository) Archive(ctx context.Context, msg *models.Message) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if msg == nil || msg.UserID == "" {
		return domain.NewInputError(domain.ErrInvalidInput, "archive message")
	}

	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO engram_messages (id, user_id, conversation_id, role, content, importance, metadata, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			importance = EXCLUDED.importance,
			metadata = EXCLUDED.metadata`

	_, err = r.db.Exec(ctx, query,
		msg.ID,
		msg.UserID,
		msg.ConversationID,
		string(msg.Role),
		msg.Content,
		msg.Metadata.Importance,
		metadata,
		msg.Timestamp,
	)
	if err != nil {
		return domain.NewAdapterError(err, "archive insert")
	}
	return nil
}

func (r *ArchiveRepository) Search(ctx context.Context, userID, query string, maxResults int) ([]*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if maxResults <= 0 {
		maxResults = 5
	}

	sql := `
		SELECT id, user_id, conversation_id, role, content, metadata, ts
		FROM engram_messages
		WHERE user_id = $1 AND content ILIKE '%' || $2 || '%'
		ORDER BY importance DESC, ts DESC
		LIMIT $3`

	rows, err := r.db.Query(ctx, sql, userID, query, maxResults)
	if err != nil {
		return nil, domain.NewAdapterError(err, "archive search")
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *ArchiveRepository) Get(ctx context.Context, userID, messageID string) (*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	sql := `
		SELECT id, user_id, conversation_id, role, content, metadata, ts
		FROM engram_messages
		WHERE user_id = $1 AND id = $2`

	msg, err := scanMessage(r.db.QueryRow(ctx, sql, userID, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewInputError(domain.ErrMessageNotFound, messageID)
	}
	if err != nil {
		return nil, domain.NewAdapterError(err, "archive get")
	}
	return msg, nil
}

func (r *ArchiveRepository) Delete(ctx context.Context, userID, messageID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.db.Exec(ctx,
		`DELETE FROM engram_messages WHERE user_id = $1 AND id = $2`, userID, messageID)
	if err != nil {
		return domain.NewAdapterError(err, "archive delete")
	}
	return nil
}

func (r *ArchiveRepository) CountByConversation(ctx context.Context, userID, conversationID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM engram_messages WHERE user_id = $1 AND conversation_id = $2`,
		userID, conversationID).Scan(&count)
	if err != nil {
		return 0, domain.NewAdapterError(err, "archive count")
	}
	return count, nil
}

func (r *ArchiveRepository) EraseUser(ctx context.Context, userID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.db.Exec(ctx, `DELETE FROM engram_messages WHERE user_id = $1`, userID)
	if err != nil {
		return domain.NewAdapterError(err, "archive erase")
	}
	return nil
}

func scanMessages(rows pgx.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, domain.NewAdapterError(err, "archive scan")
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewAdapterError(err, "archive rows")
	}
	return out, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var role string
	var metadata []byte

	err := row.Scan(&msg.ID, &msg.UserID, &msg.ConversationID, &role, &msg.Content, &metadata, &msg.Timestamp)
	if err != nil {
		return nil, err
	}
	msg.Role = models.MessageRole(role)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &msg, nil
}
