package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "task:"

// RedisStore keeps terminal views in Redis with a TTL so results that are
// never polled expire on their own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (View, bool, error) {
	raw, err := s.client.Get(ctx, redisKey(id)).Bytes()
	return decodeRedis(raw, err)
}

// SetTerminal implements Store. SET NX keeps the first terminal write.
func (s *RedisStore) SetTerminal(ctx context.Context, view View) error {
	if err := checkTerminal(view); err != nil {
		return err
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode task view: %w", err)
	}
	stored, err := s.client.SetNX(ctx, redisKey(view.ID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis set task %s: %w", view.ID, err)
	}
	if !stored {
		return ErrAlreadyTerminal
	}
	return nil
}

// TakeIfTerminal implements Store. GETDEL makes read-and-remove atomic;
// SetTerminal guarantees every stored view is terminal.
func (s *RedisStore) TakeIfTerminal(ctx context.Context, id string) (View, bool, error) {
	raw, err := s.client.GetDel(ctx, redisKey(id)).Bytes()
	view, ok, err := decodeRedis(raw, err)
	if err != nil || !ok {
		return View{}, false, err
	}
	if !view.Status.Terminal() {
		return View{}, false, nil
	}
	return view, true, nil
}

func decodeRedis(raw []byte, err error) (View, bool, error) {
	if errors.Is(err, redis.Nil) {
		return View{}, false, nil
	}
	if err != nil {
		return View{}, false, fmt.Errorf("redis read task: %w", err)
	}
	var view View
	if err := json.Unmarshal(raw, &view); err != nil {
		return View{}, false, fmt.Errorf("decode task view: %w", err)
	}
	return view, true, nil
}
