package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/realbeatz/backend/internal/friends"
	"github.com/realbeatz/backend/internal/logging"
	"github.com/realbeatz/backend/internal/models"
)

const (
	keyPrefix        = "realbeatz:friends:"
	generationPrefix = "realbeatz:friends-gen:"
)

// Client is the subset of *redis.Client used by RedisFriendCache.
type Client interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// cachedFriend omits credentials so password hashes never reach redis.
type cachedFriend struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Profile   models.Profile `json:"profile"`
	CreatedAt time.Time      `json:"createdAt"`
}

type cachedList struct {
	Generation uint64         `json:"gen"`
	Friends    []cachedFriend `json:"friends"`
}

// RedisFriendCache stores friend lists as JSON under realbeatz:friends:<user id>,
// tagged with the counter kept under realbeatz:friends-gen:<user id>. An entry
// whose tag differs from the counter is a miss. Redis failures are logged and
// treated as cache misses.
type RedisFriendCache struct {
	client Client
	ttl    time.Duration
}

// NewRedisFriendCache returns a cache whose entries expire after ttl.
func NewRedisFriendCache(client Client, ttl time.Duration) *RedisFriendCache {
	return &RedisFriendCache{client: client, ttl: ttl}
}

func key(userID string) string { return keyPrefix + userID }
func generationKey(userID string) string { return generationPrefix + userID }

func (c *RedisFriendCache) Get(ctx context.Context, userID string) ([]models.User, uint64, bool) {
	logger := logging.FromContext(ctx)

	values, err := c.client.MGet(ctx, generationKey(userID), key(userID)).Result()
	if err != nil || len(values) != 2 {
		logger.Warn("friend cache read failed", "user_id", userID, "error", err)
		return nil, 0, false
	}

	var generation uint64
	if raw, ok := values[0].(string); ok {
		if generation, err = strconv.ParseUint(raw, 10, 64); err != nil {
			logger.Warn("friend cache generation corrupt", "user_id", userID, "error", err)
			return nil, 0, false
		}
	}

	raw, ok := values[1].(string)
	if !ok {
		return nil, generation, false
	}
	var entry cachedList
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		logger.Warn("friend cache entry corrupt", "user_id", userID, "error", err)
		return nil, generation, false
	}
	if entry.Generation != generation {
		return nil, generation, false
	}

	users := make([]models.User, 0, len(entry.Friends))
	for _, e := range entry.Friends {
		users = append(users, models.User{ID: e.ID, Username: e.Username, Profile: e.Profile, CreatedAt: e.CreatedAt})
	}
	return users, generation, true
}

func (c *RedisFriendCache) Set(ctx context.Context, userID string, generation uint64, friends []models.User) {
	entry := cachedList{Generation: generation, Friends: make([]cachedFriend, 0, len(friends))}
	for _, u := range friends {
		entry.Friends = append(entry.Friends, cachedFriend{ID: u.ID, Username: u.Username, Profile: u.Profile, CreatedAt: u.CreatedAt})
	}
	data, err := json.Marshal(entry)
	if err != nil {
		logging.FromContext(ctx).Warn("friend cache encode failed", "user_id", userID, "error", err)
		return
	}
	if err := c.client.Set(ctx, key(userID), data, c.ttl).Err(); err != nil {
		logging.FromContext(ctx).Warn("friend cache write failed", "user_id", userID, "error", err)
	}
}

// Invalidate advances each user's generation, then drops the stored lists.
func (c *RedisFriendCache) Invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	logger := logging.FromContext(ctx)

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		if err := c.client.Incr(ctx, generationKey(id)).Err(); err != nil {
			logger.Warn("friend cache generation bump failed", "user_id", id, "error", err)
		}
		keys[i] = key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("friend cache invalidate failed", "user_ids", userIDs, "error", err)
	}
}

var _ friends.FriendListCache = (*RedisFriendCache)(nil)
