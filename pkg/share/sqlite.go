package share

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kidcode-ai/kidcode/pkg/models"
)

const createSnippetsTable = `
CREATE TABLE IF NOT EXISTS code_snippets (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL,
	language TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

// SQLite stores snippets in a local database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open share db: %w", err)
	}
	if _, err := db.Exec(createSnippetsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate share db: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Create(ctx context.Context, code, language string) (models.Snippet, error) {
	sn := models.Snippet{
		ID:        uuid.NewString(),
		Code:      code,
		Language:  language,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO code_snippets (id, code, language, created_at) VALUES (?, ?, ?, ?)`,
		sn.ID, sn.Code, sn.Language, sn.CreatedAt,
	)
	if err != nil {
		return models.Snippet{}, fmt.Errorf("insert snippet: %w", err)
	}
	return sn, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (models.Snippet, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Snippet{}, ErrNotFound
	}
	sn := models.Snippet{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT code, language, created_at FROM code_snippets WHERE id = ?`, id,
	).Scan(&sn.Code, &sn.Language, &sn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snippet{}, ErrNotFound
	}
	if err != nil {
		return models.Snippet{}, fmt.Errorf("query snippet: %w", err)
	}
	return sn, nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
