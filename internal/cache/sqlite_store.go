package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS entries (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at INTEGER NOT NULL
)`

// SQLiteStore 在没有原生 TTL 的 SQLite 上实现过期：值与 expires_at 由同一条
// upsert 写入，读取时把已过期的行当作不存在并顺手删除。
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// NewSQLiteStore 打开（必要时创建）数据库文件并初始化表结构。
func NewSQLiteStore(ctx context.Context, path string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// 单连接避免 database is locked
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS entries_expires_idx ON entries (expires_at)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite index: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		ttl: ttlSeconds(ttl),
		now: time.Now,
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Envelope, error) {
	var (
		raw       string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT value, expires_at FROM entries WHERE key = ?", key).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Envelope{}, ErrNotFound
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("sqlite get: %w", err)
	}

	now := s.now().UnixMilli()
	if expiresAt <= now {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ? AND expires_at <= ?", key, now); err != nil {
			return Envelope{}, fmt.Errorf("sqlite purge: %w", err)
		}
		return Envelope{}, ErrNotFound
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		return Envelope{}, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return env, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, env Envelope) error {
	raw, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(s.ttl).UnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, raw, expiresAt)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return fmt.Errorf("sqlite clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
