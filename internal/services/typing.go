package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultTypingTTL = 5 * time.Second

// TypingStore keeps who is typing where until an expiry. Expired entries count as absent.
type TypingStore interface {
	// Touch sets the entry's expiry and reports whether no live entry existed before.
	Touch(ctx context.Context, conversationID, userID int64, now, expiresAt time.Time) (bool, error)
	// Remove deletes the entry and reports whether a live one existed.
	Remove(ctx context.Context, conversationID, userID int64, now time.Time) (bool, error)
	List(ctx context.Context, conversationID int64, now time.Time) (map[int64]time.Time, error)
}

type typingKey struct {
	conversationID int64
	userID         int64
}

type TypingTracker struct {
	store  TypingStore
	events Publisher
	log    *zap.Logger
	ttl    time.Duration
	now    func() time.Time

	mu            sync.Mutex
	lastBroadcast map[typingKey]time.Time
}

func NewTypingTracker(store TypingStore, events Publisher, log *zap.Logger, ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TypingTracker{
		store:         store,
		events:        events,
		log:           log,
		ttl:           ttl,
		now:           time.Now,
		lastBroadcast: make(map[typingKey]time.Time),
	}
}

func (t *TypingTracker) TTL() time.Duration {
	return t.ttl
}

// Start refreshes the caller's entry. An active=true event goes out only for a
// new entry or when the previous broadcast is older than half the TTL.
func (t *TypingTracker) Start(ctx context.Context, conversationID int64, user models.Sender, originSession string) error {
	now := t.now()
	created, err := t.store.Touch(ctx, conversationID, user.ID, now, now.Add(t.ttl))
	if err != nil {
		return fmt.Errorf("touch typing: %w", err)
	}

	key := typingKey{conversationID: conversationID, userID: user.ID}
	t.mu.Lock()
	last, seen := t.lastBroadcast[key]
	emit := created || !seen || now.Sub(last) >= t.ttl/2
	if emit {
		t.lastBroadcast[key] = now
	}
	t.sweepLocked(now)
	t.mu.Unlock()

	if emit {
		t.publish(ctx, conversationID, user, true, originSession)
	}
	return nil
}

func (t *TypingTracker) Stop(ctx context.Context, conversationID int64, user models.Sender, originSession string) error {
	existed, err := t.store.Remove(ctx, conversationID, user.ID, t.now())
	if err != nil {
		return fmt.Errorf("remove typing: %w", err)
	}

	t.mu.Lock()
	delete(t.lastBroadcast, typingKey{conversationID: conversationID, userID: user.ID})
	t.mu.Unlock()

	if existed {
		t.publish(ctx, conversationID, user, false, originSession)
	}
	return nil
}

func (t *TypingTracker) Active(ctx context.Context, conversationID int64) (map[int64]time.Time, error) {
	return t.store.List(ctx, conversationID, t.now())
}

func (t *TypingTracker) publish(ctx context.Context, conversationID int64, user models.Sender, active bool, originSession string) {
	publishEvent(ctx, t.events, t.log, models.EventTyping, conversationID, originSession, models.TypingNotice{
		ConversationID: conversationID,
		UserID:         user.ID,
		UserName:       user.Name,
		Active:         active,
	})
}

// sweepLocked forgets broadcast times of entries that have certainly expired.
func (t *TypingTracker) sweepLocked(now time.Time) {
	if len(t.lastBroadcast) < 1024 {
		return
	}
	for key, at := range t.lastBroadcast {
		if now.Sub(at) > t.ttl {
			delete(t.lastBroadcast, key)
		}
	}
}

type MemoryTypingStore struct {
	mu      sync.Mutex
	entries map[int64]map[int64]time.Time
}

func NewMemoryTypingStore() *MemoryTypingStore {
	return &MemoryTypingStore{entries: make(map[int64]map[int64]time.Time)}
}

func (s *MemoryTypingStore) Touch(_ context.Context, conversationID, userID int64, now, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.entries[conversationID]
	if users == nil {
		users = make(map[int64]time.Time)
		s.entries[conversationID] = users
	}
	previous, ok := users[userID]
	users[userID] = expiresAt
	return !ok || !previous.After(now), nil
}

func (s *MemoryTypingStore) Remove(_ context.Context, conversationID, userID int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.entries[conversationID]
	expiresAt, ok := users[userID]
	if !ok {
		return false, nil
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(s.entries, conversationID)
	}
	return expiresAt.After(now), nil
}

func (s *MemoryTypingStore) List(_ context.Context, conversationID int64, now time.Time) (map[int64]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[int64]time.Time)
	users := s.entries[conversationID]
	for userID, expiresAt := range users {
		if !expiresAt.After(now) {
			delete(users, userID)
			continue
		}
		active[userID] = expiresAt
	}
	if len(users) == 0 {
		delete(s.entries, conversationID)
	}
	return active, nil
}

// RedisTypingStore keeps one sorted set per conversation, scored by expiry in unix ms.
type RedisTypingStore struct {
	client redis.UniversalClient
}

func NewRedisTypingStore(client redis.UniversalClient) *RedisTypingStore {
	return &RedisTypingStore{client: client}
}

func typingSetKey(conversationID int64) string {
	return "chat:typing:" + strconv.FormatInt(conversationID, 10)
}

func unixMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (s *RedisTypingStore) Touch(ctx context.Context, conversationID, userID int64, now, expiresAt time.Time) (bool, error) {
	key := typingSetKey(conversationID)
	member := strconv.FormatInt(userID, 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", unixMillis(now))
	previous := pipe.ZScore(ctx, key, member)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt.UnixMilli()), Member: member})
	pipe.PExpire(ctx, key, expiresAt.Sub(now))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return errors.Is(previous.Err(), redis.Nil), nil
}

func (s *RedisTypingStore) Remove(ctx context.Context, conversationID, userID int64, now time.Time) (bool, error) {
	key := typingSetKey(conversationID)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", unixMillis(now))
	removed := pipe.ZRem(ctx, key, strconv.FormatInt(userID, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (s *RedisTypingStore) List(ctx context.Context, conversationID int64, now time.Time) (map[int64]time.Time, error) {
	entries, err := s.client.ZRangeByScoreWithScores(ctx, typingSetKey(conversationID), &redis.ZRangeBy{
		Min: "(" + unixMillis(now),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	active := make(map[int64]time.Time, len(entries))
	for _, entry := range entries {
		member, ok := entry.Member.(string)
		if !ok {
			continue
		}
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		active[userID] = time.UnixMilli(int64(entry.Score))
	}
	return active, nil
}
