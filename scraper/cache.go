package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/aluiziolira/meli-harvester/models"
)

// QuestionCache stores question activity by item id. Implementations treat
// backend failures as misses.
type QuestionCache interface {
	Get(ctx context.Context, itemID string) (models.QuestionFields, bool)
	Set(ctx context.Context, itemID string, fields models.QuestionFields)
}

// LRUQuestionCache keeps recent lookups in process memory.
type LRUQuestionCache struct {
	cache *lru.Cache[string, models.QuestionFields]
}

// NewLRUQuestionCache returns a cache bounded to size entries.
func NewLRUQuestionCache(size int) (*LRUQuestionCache, error) {
	cache, err := lru.New[string, models.QuestionFields](size)
	if err != nil {
		return nil, fmt.Errorf("create question cache: %w", err)
	}
	return &LRUQuestionCache{cache: cache}, nil
}

func (c *LRUQuestionCache) Get(_ context.Context, itemID string) (models.QuestionFields, bool) {
	return c.cache.Get(itemID)
}

func (c *LRUQuestionCache) Set(_ context.Context, itemID string, fields models.QuestionFields) {
	c.cache.Add(itemID, fields)
}

// Len reports the number of cached items.
func (c *LRUQuestionCache) Len() int {
	return c.cache.Len()
}

// RedisQuestionCache shares lookups across runs with a TTL.
type RedisQuestionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisQuestionCache connects to addr and verifies the server answers.
func NewRedisQuestionCache(ctx context.Context, addr string, ttl time.Duration) (*RedisQuestionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
		MaxRetries:  1,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisQuestionCache{client: client, ttl: ttl}, nil
}

func questionKey(itemID string) string {
	return "questions:" + itemID
}

func (c *RedisQuestionCache) Get(ctx context.Context, itemID string) (models.QuestionFields, bool) {
	data, err := c.client.Get(ctx, questionKey(itemID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("question cache read failed", slog.String("item", itemID), slog.Any("error", err))
		}
		return models.QuestionFields{}, false
	}
	var fields models.QuestionFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.QuestionFields{}, false
	}
	return fields, true
}

func (c *RedisQuestionCache) Set(ctx context.Context, itemID string, fields models.QuestionFields) {
	data, err := json.Marshal(fields)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, questionKey(itemID), data, c.ttl).Err(); err != nil {
		slog.Debug("question cache write failed", slog.String("item", itemID), slog.Any("error", err))
	}
}

// Close releases the connection pool.
func (c *RedisQuestionCache) Close() error {
	return c.client.Close()
}

// TieredQuestionCache checks caches in order and back-fills faster tiers on
// a hit in a slower one.
type TieredQuestionCache []QuestionCache

func (t TieredQuestionCache) Get(ctx context.Context, itemID string) (models.QuestionFields, bool) {
	for i, cache := range t {
		fields, ok := cache.Get(ctx, itemID)
		if !ok {
			continue
		}
		for _, faster := range t[:i] {
			faster.Set(ctx, itemID, fields)
		}
		return fields, true
	}
	return models.QuestionFields{}, false
}

func (t TieredQuestionCache) Set(ctx context.Context, itemID string, fields models.QuestionFields) {
	for _, cache := range t {
		cache.Set(ctx, itemID, fields)
	}
}
