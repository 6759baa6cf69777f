package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps one row per session in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases alive for the store's lifetime.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			name TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, name string) (Transcript, error) {
	if name == "" {
		return NewTranscript(""), nil
	}
	if err := ValidateName(name); err != nil {
		return Transcript{}, err
	}

	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM sessions WHERE name = ?", name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return NewTranscript(name), nil
	}
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to read session %s: %w", name, err)
	}
	return decodeTranscript(name, s.where(name), []byte(body))
}

func (s *SQLiteStore) where(name string) string {
	return fmt.Sprintf("%s#%s", s.path, name)
}

func (s *SQLiteStore) Persist(ctx context.Context, name string, t Transcript) error {
	if name == "" {
		return nil
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	data, err := encodeTranscript(name, t)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		name, string(data), updatedAtUnix(t))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistFailed, s.where(name), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistFailed, s.where(name), err)
	}
	return nil
}

func updatedAtUnix(t Transcript) int64 {
	if t.UpdatedAt.IsZero() {
		return time.Now().Unix()
	}
	return t.UpdatedAt.Unix()
}

func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, body, updated_at FROM sessions ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			name, body string
			updatedAt  int64
		)
		if err := rows.Scan(&name, &body, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		t, err := decodeTranscript(name, s.where(name), []byte(body))
		if err != nil {
			infos = append(infos, Info{
				Name:      name,
				UpdatedAt: time.Unix(updatedAt, 0).UTC(),
				SizeBytes: int64(len(body)),
				Corrupt:   true,
				Err:       err,
			})
			continue
		}
		info := infoFor(t, int64(len(body)))
		if info.UpdatedAt.IsZero() {
			info.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
