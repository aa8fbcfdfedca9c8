package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/nadezhda-zhivchikova/erika-advent/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the database at the given path, applies
// recommended PRAGMAs, runs migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite is a single-writer engine; keep the pool to one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// UpsertPlan inserts or replaces a chat's plan. The whole record is
// overwritten: re-running date selection is last-write-wins, no merge.
func (r *SQLiteRepo) UpsertPlan(ctx context.Context, p *domain.Plan) error {
	if p == nil {
		return errors.New("nil plan")
	}

	created := p.CreatedAt.UTC().Unix()
	if p.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscribers (
			chat_id, created_at, start_date, end_date, next_date, last_gift_date
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			start_date     = excluded.start_date,
			end_date       = excluded.end_date,
			next_date      = excluded.next_date,
			last_gift_date = excluded.last_gift_date`,
		p.ChatID, created,
		dateToText(p.StartDate), dateToText(p.EndDate), dateToText(p.NextDate),
		toNullDate(p.LastGiftDate),
	)
	return err
}

// GetPlan returns a chat's plan or ErrNotFound.
func (r *SQLiteRepo) GetPlan(ctx context.Context, chatID int64) (*domain.Plan, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT chat_id, created_at, start_date, end_date, next_date, last_gift_date
		FROM subscribers
		WHERE chat_id = ?`,
		chatID,
	)

	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LoadAll returns every stored plan. Used once at startup to re-derive
// timers; the result is not cached anywhere.
func (r *SQLiteRepo) LoadAll(ctx context.Context) ([]domain.Plan, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT chat_id, created_at, start_date, end_date, next_date, last_gift_date
		FROM subscribers
		ORDER BY chat_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Count returns the number of subscribers.
func (r *SQLiteRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*domain.Plan, error) {
	var (
		chatID    int64
		createdAt int64
		startS    string
		endS      string
		nextS     string
		lastNS    sql.NullString
	)
	if err := row.Scan(&chatID, &createdAt, &startS, &endS, &nextS, &lastNS); err != nil {
		return nil, err
	}

	start, err := textToDate(startS)
	if err != nil {
		return nil, fmt.Errorf("start_date: %w", err)
	}
	end, err := textToDate(endS)
	if err != nil {
		return nil, fmt.Errorf("end_date: %w", err)
	}
	next, err := textToDate(nextS)
	if err != nil {
		return nil, fmt.Errorf("next_date: %w", err)
	}
	last, err := fromNullDate(lastNS)
	if err != nil {
		return nil, fmt.Errorf("last_gift_date: %w", err)
	}

	return &domain.Plan{
		ChatID:       chatID,
		StartDate:    start,
		EndDate:      end,
		NextDate:     next,
		LastGiftDate: last,
		CreatedAt:    time.Unix(createdAt, 0).UTC(),
	}, nil
}
