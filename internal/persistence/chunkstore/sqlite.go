package chunkstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"voxelflow.ai/internal/chunk"
)

// SQLite keeps every chunk as a row keyed by address.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			face INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			data BLOB NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (face, x, y, z)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Save(ctx context.Context, a chunk.Address, b []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks(face, x, y, z, data, saved_at) VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(face, x, y, z) DO UPDATE SET data=excluded.data, saved_at=excluded.saved_at;`,
		int(a.Face), a.X, a.Y, a.Z, b, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLite) Load(ctx context.Context, a chunk.Address) ([]byte, bool, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM chunks WHERE face=? AND x=? AND y=? AND z=?;`,
		int(a.Face), a.X, a.Y, a.Z).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *SQLite) List(ctx context.Context) ([]chunk.Address, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT face, x, y, z FROM chunks ORDER BY face, y, z, x;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []chunk.Address
	for rows.Next() {
		var face int
		var a chunk.Address
		if err := rows.Scan(&face, &a.X, &a.Y, &a.Z); err != nil {
			return nil, err
		}
		a.Face = uint8(face)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
