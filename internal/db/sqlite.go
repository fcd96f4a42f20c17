package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

func init() {
	// modernc регистрирует драйвер под именем "sqlite", sqlx должен знать его плейсхолдеры.
	sqlx.BindDriver(sqliteDriver, sqlx.QUESTION)
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// NewSQLite открывает файл SQLite (или ":memory:") через modernc.org/sqlite.
func NewSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: не удалось создать каталог данных: %w", err)
		}
	}

	var conn *sqlx.DB
	err := connectWithRetry(ctx, sqliteDriver, func() error {
		c, err := sqlx.ConnectContext(ctx, sqliteDriver, path)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: не удалось открыть %s: %w", path, err)
	}

	// Одно соединение: SQLite допускает одного писателя, а ":memory:" живёт в рамках соединения.
	conn.SetMaxOpenConns(1)

	for _, p := range sqlitePragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	return conn, nil
}
