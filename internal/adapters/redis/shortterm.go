// Package redis provides the shared-deployment short-term tier: bounded
// per-conversation windows in Redis lists with msgpack-encoded messages
// and TTL-based reclamation handled by the server.
package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
)

const (
	DefaultCapacity = 10
	DefaultTTL      = 24 * time.Hour

	keyPrefix = "engram:st"
)

// ShortTermStore keeps each conversation window in one list under
// engram:st:{user}:{conv}, plus a per-user set of conversation IDs so
// erase can find every key without SCAN.
type ShortTermStore struct {
	client   *redis.Client
	capacity int
	ttl      time.Duration
}

type Option func(*ShortTermStore)

func WithCapacity(n int) Option {
	return func(s *ShortTermStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *ShortTermStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewShortTermStore(client *redis.Client, opts ...Option) *ShortTermStore {
	s := &ShortTermStore{
		client:   client,
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func convKey(userID, conversationID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, userID, conversationID)
}

func userKey(userID string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, userID)
}

func (s *ShortTermStore) Add(ctx context.Context, userID, conversationID string, msg *models.Message) error {
	if userID == "" || conversationID == "" {
		return domain.NewInputError(domain.ErrInvalidInput, "short-term add")
	}

	encoded, err := msgpack.Marshal(msg)
	if err != nil {
		return domain.NewAdapterError(err, "encode message")
	}

	key := convKey(userID, conversationID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, encoded)
	pipe.SAdd(ctx, userKey(userID), conversationID)
	pipe.Expire(ctx, key, s.ttl)
	pipe.Expire(ctx, userKey(userID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewAdapterError(err, "short-term add")
	}

	size, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return domain.NewAdapterError(err, "short-term length")
	}
	if int(size) > s.capacity {
		if err := s.evictLowestImportance(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// evictLowestImportance removes the single lowest-importance entry, oldest
// timestamp on ties. Removal is by raw value, so concurrent writers at
// worst leave the window one over capacity until the next add.
func (s *ShortTermStore) evictLowestImportance(ctx context.Context, key string) error {
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return domain.NewAdapterError(err, "short-term range")
	}

	victimIdx := -1
	var victim *models.Message
	for i, item := range raw {
		var msg models.Message
		if err := msgpack.Unmarshal([]byte(item), &msg); err != nil {
			return domain.NewAdapterError(err, "decode message")
		}
		if victim == nil ||
			msg.Metadata.Importance < victim.Metadata.Importance ||
			(msg.Metadata.Importance == victim.Metadata.Importance && msg.Timestamp.Before(victim.Timestamp)) {
			victim = &msg
			victimIdx = i
		}
	}
	if victimIdx < 0 {
		return nil
	}

	if err := s.client.LRem(ctx, key, 1, raw[victimIdx]).Err(); err != nil {
		return domain.NewAdapterError(err, "short-term evict")
	}
	return nil
}

func (s *ShortTermStore) GetRecent(ctx context.Context, userID, conversationID string, count int) ([]*models.Message, error) {
	if count <= 0 {
		count = s.capacity
	}

	key := convKey(userID, conversationID)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, domain.NewAdapterError(err, "short-term range")
	}
	if len(raw) == 0 {
		return nil, nil
	}

	messages := make([]*models.Message, 0, len(raw))
	for _, item := range raw {
		var msg models.Message
		if err := msgpack.Unmarshal([]byte(item), &msg); err != nil {
			return nil, domain.NewAdapterError(err, "decode message")
		}
		messages = append(messages, &msg)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	if len(messages) > count {
		messages = messages[len(messages)-count:]
	}

	// Access refreshes the window TTL, mirroring the in-memory tier.
	s.client.Expire(ctx, key, s.ttl)
	return messages, nil
}

func (s *ShortTermStore) Remove(ctx context.Context, userID, conversationID, messageID string) error {
	key := convKey(userID, conversationID)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return domain.NewAdapterError(err, "short-term range")
	}

	for _, item := range raw {
		var msg models.Message
		if err := msgpack.Unmarshal([]byte(item), &msg); err != nil {
			return domain.NewAdapterError(err, "decode message")
		}
		if msg.ID == messageID {
			if err := s.client.LRem(ctx, key, 1, item).Err(); err != nil {
				return domain.NewAdapterError(err, "short-term remove")
			}
			return nil
		}
	}
	return nil
}

func (s *ShortTermStore) Clear(ctx context.Context, userID, conversationID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, convKey(userID, conversationID))
	pipe.SRem(ctx, userKey(userID), conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewAdapterError(err, "short-term clear")
	}
	return nil
}

func (s *ShortTermStore) EraseUser(ctx context.Context, userID string) error {
	conversations, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return domain.NewAdapterError(err, "short-term members")
	}

	keys := make([]string, 0, len(conversations)+1)
	for _, conv := range conversations {
		keys = append(keys, convKey(userID, conv))
	}
	keys = append(keys, userKey(userID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return domain.NewAdapterError(err, "short-term erase")
	}
	return nil
}
