package db

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/ecolog-backend/internal/logger"
)

const (
	connectAttempts = 5
	connectDelay    = 500 * time.Millisecond
	connectMaxDelay = 5 * time.Second
)

// NewPostgres создаёт подключение к PostgreSQL с заданным DSN.
// Пока база поднимается (docker compose), подключение повторяется с backoff.
func NewPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	var conn *sqlx.DB
	err := connectWithRetry(ctx, "postgres", func() error {
		c, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: не удалось подключиться: %w", err)
	}

	// Два документа и один писатель: большой пул не нужен.
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return conn, nil
}

func connectWithRetry(ctx context.Context, driver string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(connectDelay),
		retry.MaxDelay(connectMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Log.WithFields(logrus.Fields{
				"driver":  driver,
				"attempt": n + 1,
				"error":   err.Error(),
			}).Warn("db: повторное подключение")
		}),
	)
}
