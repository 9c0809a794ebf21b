package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"level-rush/internal/store"
)

const (
	keyPrefix     = "levelrush:"
	channelPrefix = "levelrush:ch:"

	// Update is GET/merge/SET under WATCH; contention retries are bounded
	// because only the owning writer touches any given field.
	updateRetries = 5
)

// Store is the Redis backend: one JSON document per key, change fan-out via
// pub/sub. Pub/sub is fire-and-forget, so delivery is at-least-effort; the
// coordinator's resubscribe loop plus full-snapshot events absorb gaps.
type Store struct {
	client *redis.Client
}

func New(addr string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Put(ctx context.Context, key string, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+key, raw, 0)
	pipe.Publish(ctx, channelPrefix+key, raw)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Update(ctx context.Context, key string, fields map[string]any) error {
	rk := keyPrefix + key
	for attempt := 0; attempt < updateRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, rk).Bytes()
			if errors.Is(err, redis.Nil) {
				// Missing document: the update is a no-op by contract.
				return nil
			}
			if err != nil {
				return err
			}
			var doc map[string]any
			if err := json.Unmarshal(raw, &doc); err != nil {
				return err
			}
			store.ApplyFields(doc, fields)
			merged, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, rk, merged, 0)
				pipe.Publish(ctx, channelPrefix+key, merged)
				return nil
			})
			return err
		}, rk)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("update %s: too much contention", key)
}

func (s *Store) Get(ctx context.Context, key string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, keyPrefix+key).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		// "null" marks deletion; subscribers map it to a nil document.
		return s.client.Publish(ctx, channelPrefix+key, "null").Err()
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string]map[string]any, error) {
	out := map[string]map[string]any{}
	iter := s.client.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rk := iter.Val()
		raw, err := s.client.Get(ctx, rk).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		out[rk[len(keyPrefix):]] = doc
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, key string) (<-chan store.Event, error) {
	pubsub := s.client.Subscribe(ctx, channelPrefix+key)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan store.Event, 1)
	emit := func(doc map[string]any) {
		ev := store.Event{Key: key, Doc: doc}
		for {
			select {
			case out <- ev:
				return
			default:
				select {
				case <-out:
				default:
				}
			}
		}
	}

	// Initial snapshot so the subscriber starts from current state.
	doc, err := s.Get(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		_ = pubsub.Close()
		return nil, err
	}
	emit(doc)

	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var doc map[string]any
				if err := json.Unmarshal([]byte(msg.Payload), &doc); err != nil {
					log.Warn().Err(err).Str("key", key).Msg("undecodable change payload dropped")
					continue
				}
				emit(doc)
			}
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
