package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Ключи документов.
const (
	DocumentReports      = "reports"
	DocumentGeocodeCache = "geocodeCache"
)

// ErrDocumentNotFound возвращается, когда документа с таким ключом нет.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore — хранилище целых JSON-документов по ключу.
type DocumentStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Document — строка таблицы documents.
type Document struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

// DocumentRepository хранит документы в таблице documents (SQLite или PostgreSQL).
type DocumentRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewDocumentRepository создаёт экземпляр репозитория.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: time.Now}
}

// Get возвращает содержимое документа.
func (r *DocumentRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var doc Document
	query := r.db.Rebind(`SELECT key, value, updated_at FROM documents WHERE key = ?`)
	if err := r.db.GetContext(ctx, &doc, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("document repository: get %s: %w", key, err)
	}

	return []byte(doc.Value), nil
}

// Put записывает документ целиком.
func (r *DocumentRepository) Put(ctx context.Context, key string, value []byte) error {
	query := r.db.Rebind(`
		INSERT INTO documents (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)

	if _, err := r.db.ExecContext(ctx, query, key, string(value), r.now().UnixMilli()); err != nil {
		return fmt.Errorf("document repository: put %s: %w", key, err)
	}

	return nil
}

// Delete удаляет документ. Отсутствие документа ошибкой не считается.
func (r *DocumentRepository) Delete(ctx context.Context, key string) error {
	query := r.db.Rebind(`DELETE FROM documents WHERE key = ?`)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("document repository: delete %s: %w", key, err)
	}
	return nil
}

// Ping проверяет соединение с базой.
func (r *DocumentRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
