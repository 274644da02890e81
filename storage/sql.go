package storage

import (
	"context"
	"database/sql"
	"errors"
)

// SQLStorage keeps items in the local_storage table (see database.EnsureSchema).
type SQLStorage struct {
	db *sql.DB
}

func NewSQLStorage(db *sql.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

func (s *SQLStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT v FROM local_storage WHERE k = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLStorage) SetItem(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_storage (k, v, updated_at) VALUES (?, ?, NOW())
		ON DUPLICATE KEY UPDATE v = VALUES(v), updated_at = NOW()
	`, key, value)
	return err
}

func (s *SQLStorage) RemoveItem(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM local_storage WHERE k = ?", key)
	return err
}

var _ Storage = (*SQLStorage)(nil)
