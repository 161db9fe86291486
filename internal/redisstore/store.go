// Package redisstore keeps browser sessions in Redis so several portal
// instances can share them.
//
// Each session is one JSON value under prefix+id with the session TTL.
// Updates run inside WATCH/MULTI and are retried when another writer got
// there first.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/JonMunkholm/mp3portal/internal/config"
	"github.com/JonMunkholm/mp3portal/internal/core"
)

// maxUpdateRetries bounds optimistic retries of one Update.
const maxUpdateRetries = 10

// ErrUpdateConflict is returned when an Update lost every retry.
var ErrUpdateConflict = errors.New("session update conflict")

// Connect opens a client and checks the server answers.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	slog.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return rdb, nil
}

// Store implements core.SessionStore on Redis.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ core.SessionStore = (*Store)(nil)

// New creates a store. A non-positive ttl means core.DefaultSessionTTL.
func New(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = core.DefaultSessionTTL
	}
	return &Store{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) Create(ctx context.Context) (*core.Session, error) {
	sess := core.NewSession(s.now())

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decode(data)
}

func (s *Store) Update(ctx context.Context, id string, fn func(*core.Session) error) (*core.Session, error) {
	key := s.key(id)

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		var updated *core.Session

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return core.ErrSessionNotFound
			}
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}

			sess, err := decode(data)
			if err != nil {
				return err
			}
			if err := fn(sess); err != nil {
				return err
			}
			sess.ID = id
			sess.UpdatedAt = s.now()

			out, err := json.Marshal(sess)
			if err != nil {
				return fmt.Errorf("encode session: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			updated = sess
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, fmt.Errorf("session %s: %w", id, ErrUpdateConflict)
}

// Rotate writes the session under a new id and drops the old key in one
// transaction.
func (s *Store) Rotate(ctx context.Context, id string) (*core.Session, error) {
	oldKey := s.key(id)

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		var moved *core.Session

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, oldKey).Bytes()
			if err == redis.Nil {
				return core.ErrSessionNotFound
			}
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}

			sess, err := decode(data)
			if err != nil {
				return err
			}
			sess.ID = uuid.NewString()
			sess.UpdatedAt = s.now()

			out, err := json.Marshal(sess)
			if err != nil {
				return fmt.Errorf("encode session: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.key(sess.ID), out, s.ttl)
				pipe.Del(ctx, oldKey)
				return nil
			})
			if err != nil {
				return err
			}
			moved = sess
			return nil
		}, oldKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return moved, nil
	}

	return nil, fmt.Errorf("rotate session %s: %w", id, ErrUpdateConflict)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decode(data []byte) (*core.Session, error) {
	var sess core.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}
