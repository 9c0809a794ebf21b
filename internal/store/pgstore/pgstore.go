package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"level-rush/internal/store"
)

const notifyChannel = "levelrush_documents"

// Store is the Postgres backend: one jsonb document per key, change fan-out
// via LISTEN/NOTIFY. Notifications carry only the key (payload size is
// limited); subscribers re-read the document, which also collapses bursts
// into the newest snapshot.
type Store struct {
	pool *pgxpool.Pool
}

func New(dsn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Bootstrap creates the documents table if missing.
func (s *Store) Bootstrap(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			key        text PRIMARY KEY,
			doc        jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`)
	return err
}

func (s *Store) Put(ctx context.Context, key string, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (key, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		key, raw)
	if err != nil {
		return err
	}
	return s.notify(ctx, key)
}

func (s *Store) Update(ctx context.Context, key string, fields map[string]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM documents WHERE key = $1 FOR UPDATE`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		// Missing document: the update is a no-op by contract.
		return tx.Commit(ctx)
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
	if _, err := tx.Exec(ctx, `UPDATE documents SET doc = $2, updated_at = now() WHERE key = $1`, key, merged); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, key string) (map[string]any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM documents WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return s.notify(ctx, key)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string]map[string]any, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, doc FROM documents WHERE key LIKE $1 || '%' ORDER BY key`,
		escapeLike(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]map[string]any{}
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		out[key] = doc
	}
	return out, rows.Err()
}

func (s *Store) Subscribe(ctx context.Context, key string) (<-chan store.Event, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		conn.Release()
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

	doc, err := s.Get(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		conn.Release()
		return nil, err
	}
	emit(doc)

	go func() {
		defer close(out)
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("key", key).Msg("notification wait failed; subscription closing")
				}
				return
			}
			if notification.Payload != key {
				continue
			}
			doc, err := s.Get(ctx, key)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				log.Warn().Err(err).Str("key", key).Msg("post-notify read failed")
				continue
			}
			emit(doc)
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) notify(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key)
	return err
}

func escapeLike(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}
