package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"supplier_ingest/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the products table when it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC(12,2) NOT NULL CHECK (price >= 0),
			original_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			category TEXT NOT NULL DEFAULT '',
			images TEXT[] NOT NULL CHECK (cardinality(images) > 0),
			status TEXT NOT NULL,
			condition TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT '',
			source_url TEXT NOT NULL DEFAULT '',
			source_key TEXT NOT NULL DEFAULT '',
			views INTEGER NOT NULL DEFAULT 0,
			likes TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_products_source_key ON products(source_key)`)
	return err
}

// =============================================================================
// Products
// =============================================================================

func (s *PostgresStore) InsertProduct(ctx context.Context, p *models.Product) (uuid.UUID, error) {
	query := `
		INSERT INTO products (
			id, title, description, price, original_price, category, images,
			status, condition, brand, source_url, source_key, views, likes,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		RETURNING id`

	likes := p.Likes
	if likes == nil {
		likes = []string{}
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		p.ID, p.Title, p.Description, p.Price, p.OriginalPrice, p.Category, p.Images,
		p.Status, p.Condition, p.Brand, p.SourceURL, p.SourceKey, p.Views, likes,
		p.CreatedAt, p.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *PostgresStore) ProductExistsBySourceKey(ctx context.Context, sourceKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM products WHERE source_key = $1)`, sourceKey,
	).Scan(&exists)
	return exists, err
}
