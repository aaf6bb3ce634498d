package kv

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestaozabele/painelvendas/internal/db"
)

const createStateTable = `
CREATE TABLE IF NOT EXISTS client_state (
    namespace  text        NOT NULL,
    key        text        NOT NULL,
    value      bytea       NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (namespace, key)
)`

// Postgres persiste o estado local numa tabela compartilhada, separada por namespace.
type Postgres struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewPostgres garante a tabela e devolve o store.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, namespace string) (*Postgres, error) {
	if _, err := pool.Exec(ctx, createStateTable); err != nil {
		return nil, err
	}
	return &Postgres{pool: pool, namespace: namespace}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM client_state WHERE namespace = $1 AND key = $2`, p.namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO client_state (namespace, key, value, updated_at)
        VALUES ($1, $2, $3, now())
        ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
    `, p.namespace, key, value)
	return err
}

// Remove apaga todas as chaves na mesma transação.
func (p *Postgres) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		for _, key := range keys {
			if _, err := tx.Exec(ctx, `DELETE FROM client_state WHERE namespace = $1 AND key = $2`, p.namespace, key); err != nil {
				return err
			}
		}
		return nil
	})
}
