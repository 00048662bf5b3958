// Package postgres persists lifetime usage counters in Postgres.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-livetranslate/pkg/core/usage"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	selectLifetimeSQL = `SELECT input_text_tokens, input_audio_tokens, output_text_tokens, output_audio_tokens, cost_usd
FROM usage_lifetime WHERE owner = $1`

	// GREATEST keeps concurrent writers from lowering a counter.
	upsertLifetimeSQL = `INSERT INTO usage_lifetime (
        owner,
        input_text_tokens,
        input_audio_tokens,
        output_text_tokens,
        output_audio_tokens,
        cost_usd,
        updated_at
) VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (owner) DO UPDATE SET
        input_text_tokens   = GREATEST(usage_lifetime.input_text_tokens, EXCLUDED.input_text_tokens),
        input_audio_tokens  = GREATEST(usage_lifetime.input_audio_tokens, EXCLUDED.input_audio_tokens),
        output_text_tokens  = GREATEST(usage_lifetime.output_text_tokens, EXCLUDED.output_text_tokens),
        output_audio_tokens = GREATEST(usage_lifetime.output_audio_tokens, EXCLUDED.output_audio_tokens),
        cost_usd            = GREATEST(usage_lifetime.cost_usd, EXCLUDED.cost_usd),
        updated_at          = now()`
)

// executor is the subset of *pgxpool.Pool the store needs.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements usage.Store.
type Store struct {
	db executor
}

var _ usage.Store = (*Store)(nil)

// NewStore wraps a pool (or any pgx executor).
func NewStore(db executor) *Store {
	return &Store{db: db}
}

// Open connects to dsn, runs migrations, and returns the store with its pool.
// The caller closes the pool.
func Open(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return NewStore(pool), pool, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) LoadLifetime(ctx context.Context, owner string) (usage.Counters, error) {
	var c usage.Counters
	err := s.db.QueryRow(ctx, selectLifetimeSQL, owner).Scan(
		&c.InputTextTokens,
		&c.InputAudioTokens,
		&c.OutputTextTokens,
		&c.OutputAudioTokens,
		&c.CostUSD,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return usage.Counters{}, nil
	}
	if err != nil {
		return usage.Counters{}, fmt.Errorf("postgres: load lifetime: %w", err)
	}
	return c, nil
}

func (s *Store) SaveLifetime(ctx context.Context, owner string, lifetime usage.Counters) error {
	if lifetime.CostUSD < 0 {
		lifetime.CostUSD = 0
	}
	_, err := s.db.Exec(ctx, upsertLifetimeSQL,
		owner,
		lifetime.InputTextTokens,
		lifetime.InputAudioTokens,
		lifetime.OutputTextTokens,
		lifetime.OutputAudioTokens,
		lifetime.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("postgres: save lifetime: %w", err)
	}
	return nil
}
