package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS logd_state (
	domain TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (domain, key)
)`

type SqliteStorage struct {
	db     *sql.DB
	domain string
}

func NewSqliteStorage(ctx context.Context, path string, domain string) (*SqliteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SqliteStorage{
		db:     db,
		domain: domain,
	}, nil
}

func (self *SqliteStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := self.db.QueryRowContext(
		ctx,
		`SELECT value FROM logd_state WHERE domain = ? AND key = ?`,
		self.domain,
		key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return value, true, nil
}

func (self *SqliteStorage) Set(ctx context.Context, key string, value string) error {
	_, err := self.db.ExecContext(
		ctx,
		`INSERT INTO logd_state (domain, key, value) VALUES (?, ?, ?)
		ON CONFLICT (domain, key) DO UPDATE SET value = excluded.value`,
		self.domain,
		key,
		value,
	)
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

func (self *SqliteStorage) Close() error {
	return self.db.Close()
}
