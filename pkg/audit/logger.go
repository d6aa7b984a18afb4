// Package audit keeps a SQLite log of every coordinator outcome.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/kidcode-ai/kidcode/pkg/models"
)

const queueSize = 256

// Logger writes and queries generation records in a dedicated SQLite
// database.
type Logger struct {
	db    *sql.DB
	cfg   models.AuditConfig
	log   logrus.FieldLogger
	queue chan models.GenerationRecord
	done  chan struct{}
	wg    sync.WaitGroup

	// mu orders Record against Close so nothing is queued after the writer
	// has drained.
	mu     sync.RWMutex
	closed bool
}

// New opens the audit SQLite database, creates the schema and starts the
// writer and retention goroutines.
func New(cfg models.AuditConfig, log logrus.FieldLogger) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Logger{
		db:    db,
		cfg:   cfg,
		log:   log,
		queue: make(chan models.GenerationRecord, queueSize),
		done:  make(chan struct{}),
	}

	l.wg.Add(2)
	go l.writeLoop()
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS generation_log (
		request_id   TEXT PRIMARY KEY,
		workspace    TEXT NOT NULL,
		slot         TEXT NOT NULL,
		provider     TEXT,
		status       TEXT NOT NULL,
		cached       INTEGER NOT NULL DEFAULT 0,
		prompt_chars INTEGER,
		tokens       INTEGER,
		latency_ms   INTEGER,
		error        TEXT,
		created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_generation_workspace ON generation_log(workspace)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_generation_created ON generation_log(created_at)`)
	return err
}

// Record queues rec for writing. It never blocks; when the queue is full or
// the logger is closed the record is dropped and a warning logged.
func (l *Logger) Record(rec models.GenerationRecord) {
	if l == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.log.WithField("request_id", rec.RequestID).Warn("audit logger closed, dropping record")
		return
	}
	select {
	case l.queue <- rec:
	default:
		l.log.WithField("request_id", rec.RequestID).Warn("audit queue full, dropping record")
	}
}

// Log inserts a record synchronously.
func (l *Logger) Log(ctx context.Context, rec models.GenerationRecord) error {
	if l == nil || l.db == nil {
		return nil
	}
	errText := truncate(rec.Error, l.cfg.MaxErrorSize)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO generation_log
		(request_id, workspace, slot, provider, status, cached,
		 prompt_chars, tokens, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Workspace, string(rec.Slot), rec.Provider, rec.Status, rec.Cached,
		rec.PromptChars, rec.Tokens, rec.LatencyMs, errText, rec.CreatedAt,
	)
	return err
}

// Query returns records matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.GenerationRecord, error) {
	q := `SELECT request_id, workspace, slot, provider, status, cached,
		prompt_chars, tokens, latency_ms, error, created_at
		FROM generation_log WHERE 1=1`
	var args []any

	if opts.Workspace != "" {
		q += " AND workspace = ?"
		args = append(args, opts.Workspace)
	}
	if opts.Slot != "" {
		q += " AND slot = ?"
		args = append(args, string(opts.Slot))
	}
	if opts.Status != "" {
		q += " AND status = ?"
		args = append(args, opts.Status)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var recs []models.GenerationRecord
	for rows.Next() {
		var r models.GenerationRecord
		var slot string
		var provider, errText sql.NullString
		if err := rows.Scan(
			&r.RequestID, &r.Workspace, &slot, &provider, &r.Status, &r.Cached,
			&r.PromptChars, &r.Tokens, &r.LatencyMs, &errText, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.Slot = models.Slot(slot)
		r.Provider = provider.String
		r.Error = errText.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Stats returns counts grouped by slot, status and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT slot, status, date(created_at) as day, count(*) as cnt
		 FROM generation_log GROUP BY slot, status, day ORDER BY day DESC, slot, status`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var slot string
		var day sql.NullString
		if err := rows.Scan(&slot, &s.Status, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Slot = models.Slot(slot)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM generation_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes queued records, stops the background goroutines and closes
// the database.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()

	l.wg.Wait()
	return l.db.Close()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	write := func(rec models.GenerationRecord) {
		if err := l.Log(context.Background(), rec); err != nil {
			l.log.WithError(err).Warn("audit log error")
		}
	}
	for {
		select {
		case rec := <-l.queue:
			write(rec)
		case <-l.done:
			for {
				select {
				case rec := <-l.queue:
					write(rec)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if n, err := l.Cleanup(context.Background()); err != nil {
				l.log.WithError(err).Warn("audit retention failed")
			} else if n > 0 {
				l.log.WithField("deleted", n).Debug("audit retention pass")
			}
		}
	}
}
