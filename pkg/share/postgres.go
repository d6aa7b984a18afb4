package share

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/models"
)

// Postgres stores snippets in the same code_snippets table the hosted
// backend uses.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to connURL and creates the table if needed.
func NewPostgres(ctx context.Context, connURL string) (*Postgres, error) {
	if connURL == "" {
		return nil, apperr.Configuration("share.postgres_url is required for the postgres share driver")
	}
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("connect share postgres: %w", err)
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS code_snippets (
			id UUID PRIMARY KEY,
			code TEXT NOT NULL,
			language TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create code_snippets table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Create(ctx context.Context, code, language string) (models.Snippet, error) {
	sn := models.Snippet{ID: uuid.NewString(), Code: code, Language: language}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO code_snippets (id, code, language) VALUES ($1, $2, $3) RETURNING created_at`,
		sn.ID, code, language,
	).Scan(&sn.CreatedAt)
	if err != nil {
		return models.Snippet{}, fmt.Errorf("insert snippet: %w", err)
	}
	return sn, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (models.Snippet, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Snippet{}, ErrNotFound
	}
	sn := models.Snippet{ID: id}
	err := p.pool.QueryRow(ctx,
		`SELECT code, language, created_at FROM code_snippets WHERE id = $1`, id,
	).Scan(&sn.Code, &sn.Language, &sn.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Snippet{}, ErrNotFound
	}
	if err != nil {
		return models.Snippet{}, fmt.Errorf("query snippet: %w", err)
	}
	return sn, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
