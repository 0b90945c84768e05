package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteFileName 是 sqlite 驱动在 StoragePath 下使用的数据库文件名。
const SQLiteFileName = "swcache.db"

var sqliteSchema = []string{
	"CREATE TABLE IF NOT EXISTS generations (name TEXT PRIMARY KEY, created_at INTEGER NOT NULL)",
	"CREATE TABLE IF NOT EXISTS entries (generation TEXT NOT NULL, key TEXT NOT NULL, record BLOB NOT NULL, PRIMARY KEY (generation, key))",
}

type sqliteStore struct {
	db    *sql.DB
	codec *Codec
}

type sqliteGeneration struct {
	store *sqliteStore
	name  string
}

// NewSQLiteStore 在 dir/swcache.db 上创建单文件存储。
func NewSQLiteStore(dir string, codec *Codec) (Store, error) {
	if dir == "" {
		return nil, errors.New("storage path required")
	}
	if codec == nil {
		return nil, errors.New("codec required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, SQLiteFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite 单写者，串行化连接避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &sqliteStore{db: db, codec: codec}, nil
}

func (s *sqliteStore) Open(ctx context.Context, name string) (Generation, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)",
		name, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("create generation %s: %w", name, err)
	}
	return &sqliteGeneration{store: s, name: name}, nil
}

func (s *sqliteStore) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", name); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM generations ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStore) Close() error {
	s.codec.Close()
	return s.db.Close()
}

func (g *sqliteGeneration) Name() string {
	return g.name
}

func (g *sqliteGeneration) Match(ctx context.Context, key string) (*Response, error) {
	var raw []byte
	err := g.store.db.QueryRowContext(ctx,
		"SELECT record FROM entries WHERE generation = ? AND key = ?", g.name, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_, resp, err := g.store.codec.Decode(raw)
	return resp, err
}

func (g *sqliteGeneration) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	payload, err := g.store.codec.Encode(key, resp)
	if err != nil {
		return err
	}
	res, err := g.store.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (generation, key, record)
		 SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM generations WHERE name = ?)`,
		g.name, key, payload, g.name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("generation %s: %w", g.name, ErrNotFound)
	}
	return nil
}

func (g *sqliteGeneration) Keys(ctx context.Context) ([]string, error) {
	rows, err := g.store.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE generation = ? ORDER BY key", g.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
