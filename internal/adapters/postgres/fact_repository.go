package postgres

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
)

const (
	defaultMinAccess = 2
	defaultTTLDays   = 7

	// semanticDistance is the maximum cosine distance for a pgvector hit;
	// distance = 1 - similarity, so 0.5 mirrors the in-memory threshold.
	semanticDistance = 0.5
)

// embedder is the slice of the capability the repository needs for
// semantic search. Failure degrades to lexical matching.
type embedder interface {
	Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error)
}

// FactRepository is the durable fact tier. Upsert identity is
// (user_id, lower(key), lower(value)), enforced by a unique index, so the
// background pipeline can re-run without duplicating facts.
type FactRepository struct {
	db       DB
	embedder embedder
}

func NewFactRepository(db DB, e embedder) *FactRepository {
	return &FactRepository{db: db, embedder: e}
}

func (r *FactRepository) StoreFacts(ctx context.Context, userID, conversationID string, facts []*models.Fact) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if userID == "" {
		return domain.NewInputError(domain.ErrEmptyUserID, "store facts")
	}

	query := `
		INSERT INTO engram_facts (
			id, user_id, conversation_id, source_message_id, key, value,
			entity_type, importance, embedding, created_at, last_accessed, access_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, lower(key), lower(value)) DO UPDATE SET
			access_count = engram_facts.access_count + 1,
			last_accessed = EXCLUDED.last_accessed,
			importance = GREATEST(engram_facts.importance, EXCLUDED.importance),
			embedding = COALESCE(engram_facts.embedding, EXCLUDED.embedding)`

	for _, f := range facts {
		var embedding *pgvector.Vector
		if f.HasEmbedding() {
			v := pgvector.NewVector(f.Embedding)
			embedding = &v
		}

		_, err := r.db.Exec(ctx, query,
			f.ID,
			userID,
			conversationID,
			f.SourceMessageID,
			f.Key,
			f.Value,
			string(f.Type),
			f.Importance,
			embedding,
			f.CreatedAt,
			f.LastAccessed,
			f.AccessCount,
		)
		if err != nil {
			return domain.NewAdapterError(err, "fact upsert")
		}
	}
	return nil
}

func (r *FactRepository) Search(ctx context.Context, userID, query string, maxResults int) ([]*models.Fact, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if maxResults <= 0 {
		maxResults = 10
	}

	var queryEmbedding *pgvector.Vector
	var degraded error
	if r.embedder != nil {
		result, err := r.embedder.Embed(ctx, query)
		if err != nil {
			log.Printf("[FactRepository] embedding unavailable, lexical only: %v", err)
			degraded = domain.NewCapabilityError(domain.ErrEmbeddingsFailed, "fact search")
		} else if result != nil {
			v := pgvector.NewVector(result.Embedding)
			queryEmbedding = &v
		}
	}

	var rows pgx.Rows
	var err error
	if queryEmbedding != nil {
		sql := `
			SELECT id, user_id, conversation_id, source_message_id, key, value,
			       entity_type, importance, created_at, last_accessed, access_count
			FROM engram_facts
			WHERE user_id = $1
			  AND (key ILIKE '%' || $2 || '%' OR value ILIKE '%' || $2 || '%'
			       OR (embedding IS NOT NULL AND embedding <=> $3 < $4))
			ORDER BY importance DESC, last_accessed DESC
			LIMIT $5`
		rows, err = r.db.Query(ctx, sql, userID, query, queryEmbedding, semanticDistance, maxResults)
	} else {
		sql := `
			SELECT id, user_id, conversation_id, source_message_id, key, value,
			       entity_type, importance, created_at, last_accessed, access_count
			FROM engram_facts
			WHERE user_id = $1
			  AND (key ILIKE '%' || $2 || '%' OR value ILIKE '%' || $2 || '%')
			ORDER BY importance DESC, last_accessed DESC
			LIMIT $3`
		rows, err = r.db.Query(ctx, sql, userID, query, maxResults)
	}
	if err != nil {
		return nil, domain.NewAdapterError(err, "fact search")
	}
	defer rows.Close()

	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}

	for _, f := range facts {
		if err := r.RecordAccess(ctx, userID, f.ID); err != nil {
			log.Printf("warning: recording access for fact %s: %v", f.ID, err)
		} else {
			f.AccessCount++
		}
	}
	return facts, degraded
}

func (r *FactRepository) RecordAccess(ctx context.Context, userID, factID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE engram_facts
		SET access_count = access_count + 1, last_accessed = now()
		WHERE user_id = $1 AND id = $2`, userID, factID)
	if err != nil {
		return domain.NewAdapterError(err, "fact access")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewInputError(domain.ErrFactNotFound, factID)
	}
	return nil
}

func (r *FactRepository) Prune(ctx context.Context, userID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		DELETE FROM engram_facts
		WHERE user_id = $1
		  AND access_count < $2
		  AND last_accessed < now() - make_interval(days => $3)`,
		userID, defaultMinAccess, defaultTTLDays)
	if err != nil {
		return 0, domain.NewAdapterError(err, "fact prune")
	}
	return int(tag.RowsAffected()), nil
}

func (r *FactRepository) DeleteFact(ctx context.Context, userID, factID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.db.Exec(ctx,
		`DELETE FROM engram_facts WHERE user_id = $1 AND id = $2`, userID, factID)
	if err != nil {
		return domain.NewAdapterError(err, "fact delete")
	}
	return nil
}

func (r *FactRepository) List(ctx context.Context, userID string) ([]*models.Fact, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, conversation_id, source_message_id, key, value,
		       entity_type, importance, created_at, last_accessed, access_count
		FROM engram_facts
		WHERE user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		return nil, domain.NewAdapterError(err, "fact list")
	}
	defer rows.Close()

	return scanFacts(rows)
}

func (r *FactRepository) EraseUser(ctx context.Context, userID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.db.Exec(ctx, `DELETE FROM engram_facts WHERE user_id = $1`, userID)
	if err != nil {
		return domain.NewAdapterError(err, "fact erase")
	}
	return nil
}

func scanFacts(rows pgx.Rows) ([]*models.Fact, error) {
	var out []*models.Fact
	for rows.Next() {
		var f models.Fact
		var entityType string
		err := rows.Scan(&f.ID, &f.UserID, &f.ConversationID, &f.SourceMessageID,
			&f.Key, &f.Value, &entityType, &f.Importance,
			&f.CreatedAt, &f.LastAccessed, &f.AccessCount)
		if err != nil {
			return nil, domain.NewAdapterError(err, "fact scan")
		}
		f.Type = models.EntityType(entityType)
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewAdapterError(err, "fact rows")
	}
	return out, nil
}
