package dialogstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonny/refundbot/internal/domain/model"
	"github.com/jonny/refundbot/internal/domain/port/outbound"
)

const (
	DefaultKeyPrefix = "refundbot:dialog:"
	maxUpdateRetries = 5
)

var errUpdateContention = errors.New("dialog update contention")

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps interaction contexts as JSON values with a sliding expiry.
// Update uses optimistic WATCH/MULTI so concurrent replicas never lose writes.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates RedisStore. Empty prefix and non-positive ttl fall back
// to the defaults.
func NewRedisStore(client *redis.Client, ttl time.Duration, prefix string) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}
}

var _ outbound.DialogStore = (*RedisStore)(nil)

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Put(ctx context.Context, ic model.InteractionContext) error {
	if ic.InteractionID == "" {
		return fmt.Errorf("put interaction: empty interaction id")
	}
	raw, err := json.Marshal(ic)
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}
	if err := s.client.Set(ctx, s.key(ic.InteractionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("put interaction %s: %w", ic.InteractionID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, interactionID string) (model.InteractionContext, error) {
	ic, err := s.read(ctx, s.client, interactionID)
	if err != nil {
		return model.InteractionContext{}, err
	}
	if ic == nil {
		return model.InteractionContext{}, model.ErrInteractionNotFound
	}
	return *ic, nil
}

func (s *RedisStore) Remove(ctx context.Context, interactionID string) error {
	if err := s.client.Del(ctx, s.key(interactionID)).Err(); err != nil {
		return fmt.Errorf("remove interaction %s: %w", interactionID, err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, interactionID string, fn outbound.UpdateFunc) (*model.InteractionContext, error) {
	if interactionID == "" {
		return nil, fmt.Errorf("update interaction: empty interaction id")
	}
	key := s.key(interactionID)

	var result *model.InteractionContext
	txf := func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx, interactionID)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}

		var raw []byte
		if next != nil {
			next.InteractionID = interactionID
			if raw, err = json.Marshal(next); err != nil {
				return fmt.Errorf("encode interaction: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			if result == nil {
				return nil, nil
			}
			out := *result
			return &out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("update interaction %s: %w", interactionID, errUpdateContention)
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) read(ctx context.Context, c getter, id string) (*model.InteractionContext, error) {
	raw, err := c.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get interaction %s: %w", id, err)
	}
	var ic model.InteractionContext
	if err := json.Unmarshal(raw, &ic); err != nil {
		return nil, fmt.Errorf("decode interaction %s: %w", id, err)
	}
	return &ic, nil
}
