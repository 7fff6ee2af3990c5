package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/capylingo/internal/domain"
	"github.com/ashureev/capylingo/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a writer holds the lock.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		lives INTEGER NOT NULL,
		last_restore_at INTEGER NOT NULL,
		is_premium INTEGER NOT NULL DEFAULT 0,
		premium_until INTEGER,
		streak INTEGER NOT NULL DEFAULT 0,
		daily_streak INTEGER NOT NULL DEFAULT 0,
		xp INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 1,
		last_activity_date INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS completed_exercises (
		user_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		completed_at INTEGER NOT NULL,
		UNIQUE(user_id, hash)
	);

	CREATE TABLE IF NOT EXISTS review_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		word TEXT NOT NULL,
		exercise_json TEXT,
		due_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_review_items_due ON review_items(user_id, due_at, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// LoadAccount retrieves an account by user ID.
func (s *SQLiteStore) LoadAccount(ctx context.Context, userID string) (*domain.Account, error) {
	query := `
		SELECT user_id, lives, last_restore_at, is_premium, premium_until,
		       streak, daily_streak, xp, level, last_activity_date, created_at, updated_at
		FROM accounts WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var a domain.Account
	var premiumUntil, lastActivity sql.NullInt64
	var lastRestore, createdAt, updatedAt int64

	err := row.Scan(
		&a.UserID, &a.Lives, &lastRestore, &a.IsPremium, &premiumUntil,
		&a.Streak, &a.DailyStreak, &a.XP, &a.Level, &lastActivity, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("scan account row", err)
	}

	a.LastRestoreAt = fromMillis(lastRestore)
	a.PremiumUntil = fromNullMillis(premiumUntil)
	a.LastActivityDate = fromNullMillis(lastActivity)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)

	return &a, nil
}

// SaveAccount creates or replaces an account record.
func (s *SQLiteStore) SaveAccount(ctx context.Context, a *domain.Account) error {
	query := `
	INSERT INTO accounts (user_id, lives, last_restore_at, is_premium, premium_until,
		streak, daily_streak, xp, level, last_activity_date, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		lives = excluded.lives,
		last_restore_at = excluded.last_restore_at,
		is_premium = excluded.is_premium,
		premium_until = excluded.premium_until,
		streak = excluded.streak,
		daily_streak = excluded.daily_streak,
		xp = excluded.xp,
		level = excluded.level,
		last_activity_date = excluded.last_activity_date,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, s.retry, "save account", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			a.UserID, a.Lives, a.LastRestoreAt.UnixMilli(), a.IsPremium, toNullMillis(a.PremiumUntil),
			a.Streak, a.DailyStreak, a.XP, a.Level, toNullMillis(a.LastActivityDate),
			a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return storageErr("save account", err)
	}
	return nil
}

// HasCompleted reports whether the pair is recorded.
func (s *SQLiteStore) HasCompleted(ctx context.Context, userID, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM completed_exercises WHERE user_id = ? AND hash = ?`, userID, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("query completed exercise", err)
	}
	return true, nil
}

// MarkCompleted records the pair, ignoring duplicates.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, userID, hash string, at time.Time) error {
	err := shared.RetryOnConflict(ctx, s.retry, "mark completed", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO completed_exercises (user_id, hash, completed_at) VALUES (?, ?, ?)`,
			userID, hash, at.UnixMilli())
		return err
	})
	if err != nil {
		return storageErr("mark completed", err)
	}
	return nil
}

// CompletedHashes lists the user's completed hashes in completion order.
func (s *SQLiteStore) CompletedHashes(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash FROM completed_exercises WHERE user_id = ? ORDER BY completed_at, hash`, userID)
	if err != nil {
		return nil, storageErr("query completed hashes", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close completed hashes rows", "error", closeErr)
		}
	}()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, storageErr("scan completed hash", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate completed hashes", err)
	}
	return hashes, nil
}

// EnqueueReview stores a review item.
func (s *SQLiteStore) EnqueueReview(ctx context.Context, item *domain.ReviewItem) error {
	var exerciseJSON any
	if item.Exercise != nil {
		b, err := json.Marshal(item.Exercise)
		if err != nil {
			return fmt.Errorf("marshal review exercise: %w", err)
		}
		exerciseJSON = string(b)
	}

	err := shared.RetryOnConflict(ctx, s.retry, "enqueue review", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO review_items (user_id, word, exercise_json, due_at, created_at) VALUES (?, ?, ?, ?, ?)`,
			item.UserID, item.Word, exerciseJSON, item.DueAt.UnixMilli(), item.CreatedAt.UnixMilli())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		item.ID = id
		return nil
	})
	if err != nil {
		return storageErr("enqueue review", err)
	}
	return nil
}

// PopDueReview deletes and returns the first due item in (due_at, id) order.
// The select and delete run as one statement, so a due item is handed out once.
func (s *SQLiteStore) PopDueReview(ctx context.Context, userID string, now time.Time) (*domain.ReviewItem, error) {
	query := `
		DELETE FROM review_items
		WHERE id = (
			SELECT id FROM review_items
			WHERE user_id = ? AND due_at <= ?
			ORDER BY due_at, id
			LIMIT 1
		)
		RETURNING id, user_id, word, exercise_json, due_at, created_at`

	var item *domain.ReviewItem
	err := shared.RetryOnConflict(ctx, s.retry, "pop due review", func(ctx context.Context) error {
		var it domain.ReviewItem
		var exerciseJSON sql.NullString
		var dueAt, createdAt int64

		err := s.db.QueryRowContext(ctx, query, userID, now.UnixMilli()).Scan(
			&it.ID, &it.UserID, &it.Word, &exerciseJSON, &dueAt, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		it.DueAt = fromMillis(dueAt)
		it.CreatedAt = fromMillis(createdAt)
		if exerciseJSON.Valid && exerciseJSON.String != "" {
			var ex domain.PendingExercise
			if err := json.Unmarshal([]byte(exerciseJSON.String), &ex); err != nil {
				slog.Warn("dropping unreadable review payload", "user_id", userID, "review_id", it.ID, "error", err)
			} else {
				it.Exercise = &ex
			}
		}
		item = &it
		return nil
	})
	if err != nil {
		return nil, storageErr("pop due review", err)
	}
	return item, nil
}

// PendingReviews counts queued reviews for the user.
func (s *SQLiteStore) PendingReviews(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_items WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, storageErr("count reviews", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func toNullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

var _ Repository = (*SQLiteStore)(nil)
