package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresName = "canvas"

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS canvas_snapshots (
  name       text PRIMARY KEY,
  image      bytea NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

// PostgresStore keeps the blob as one row of canvas_snapshots.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

// OpenPostgres connects to dsn and makes sure the table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	s := NewPostgresStore(pool, defaultPostgresName)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(pool *pgxpool.Pool, name string) *PostgresStore {
	return &PostgresStore{pool: pool, name: name}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createSnapshotsTable); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var b []byte
	err := s.pool.QueryRow(ctx, "SELECT image FROM canvas_snapshots WHERE name = $1", s.name).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) Save(ctx context.Context, data []byte) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO canvas_snapshots (name, image, updated_at) VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET image = EXCLUDED.image, updated_at = EXCLUDED.updated_at`,
		s.name, data)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
