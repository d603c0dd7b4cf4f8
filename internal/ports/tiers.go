package ports

import (
	"context"

	"github.com/longregen/engram/internal/domain/models"
)

// ShortTermStore is the T3 tier: a bounded per-(user, conversation) recency
// window of full messages. Implementations must keep partitions at or below
// their capacity, evicting the lowest-importance item (oldest on ties).
type ShortTermStore interface {
	Add(ctx context.Context, userID, conversationID string, msg *models.Message) error
	GetRecent(ctx context.Context, userID, conversationID string, count int) ([]*models.Message, error)
	Remove(ctx context.Context, userID, conversationID, messageID string) error
	Clear(ctx context.Context, userID, conversationID string) error
	EraseUser(ctx context.Context, userID string) error
}

// FactStore is the T2 tier: per-user extracted facts with salience and
// access tracking. Search may be lexical or embedding-based; results are
// ordered by importance desc, last accessed desc, and each returned fact
// has its access recorded. When semantic scoring is unavailable, Search
// returns its lexical results together with a capability-kind error.
type FactStore interface {
	StoreFacts(ctx context.Context, userID, conversationID string, facts []*models.Fact) error
	Search(ctx context.Context, userID, query string, maxResults int) ([]*models.Fact, error)
	RecordAccess(ctx context.Context, userID, factID string) error
	Prune(ctx context.Context, userID string) (int, error)
	DeleteFact(ctx context.Context, userID, factID string) error
	List(ctx context.Context, userID string) ([]*models.Fact, error)
	EraseUser(ctx context.Context, userID string) error
}

// ArchiveStore is the T1 tier: the durable per-user archive of every
// message. Archive is authoritative; bodies must round-trip byte-exact.
type ArchiveStore interface {
	Archive(ctx context.Context, msg *models.Message) error
	Search(ctx context.Context, userID, query string, maxResults int) ([]*models.Message, error)
	Get(ctx context.Context, userID, messageID string) (*models.Message, error)
	Delete(ctx context.Context, userID, messageID string) error
	CountByConversation(ctx context.Context, userID, conversationID string) (int, error)
	EraseUser(ctx context.Context, userID string) error
}

// PatternStore is the TP tier: learned behavioral patterns with
// reinforcement. Match returns the best pattern meeting its confidence
// threshold, or nil when nothing fires; matching must not hold user locks
// across embedding calls. When semantic scoring is unavailable, Match
// still evaluates lexical triggers and returns any hit together with a
// capability-kind error.
type PatternStore interface {
	Upsert(ctx context.Context, pattern *models.Pattern) error
	Match(ctx context.Context, userID, query string) (*models.Pattern, error)
	Get(ctx context.Context, userID, patternID string) (*models.Pattern, error)
	List(ctx context.Context, userID string) ([]*models.Pattern, error)
	Consolidate(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, userID, patternID string) error
	EraseUser(ctx context.Context, userID string) error
}
