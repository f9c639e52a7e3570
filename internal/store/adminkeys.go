package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const insertAdminKeySQL = `
INSERT INTO admin_keys (id, name, prefix, secret_hash)
VALUES ($1, $2, $3, $4)
ON CONFLICT (prefix) DO NOTHING`

// InsertAdminKey stores a hashed admin key. Returns false when the prefix is
// already taken.
func (s *Store) InsertAdminKey(ctx context.Context, name, prefix, secretHash string) (bool, error) {
	tag, err := s.db.Exec(ctx, insertAdminKeySQL, uuid.New(), name, prefix, secretHash)
	if err != nil {
		return false, fmt.Errorf("insert admin key: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const getAdminKeyByPrefixSQL = `
SELECT id, name, prefix, secret_hash, disabled, created_at, last_used_at
FROM admin_keys
WHERE prefix = $1`

func (s *Store) GetAdminKeyByPrefix(ctx context.Context, prefix string) (AdminKey, error) {
	var k AdminKey
	err := s.db.QueryRow(ctx, getAdminKeyByPrefixSQL, prefix).
		Scan(&k.ID, &k.Name, &k.Prefix, &k.SecretHash, &k.Disabled, &k.CreatedAt, &k.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AdminKey{}, ErrNotFound
	}
	if err != nil {
		return AdminKey{}, fmt.Errorf("get admin key: %w", err)
	}
	return k, nil
}

const touchAdminKeySQL = `
UPDATE admin_keys SET last_used_at = $2 WHERE id = $1`

func (s *Store) TouchAdminKey(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	if _, err := s.db.Exec(ctx, touchAdminKeySQL, id, usedAt); err != nil {
		return fmt.Errorf("touch admin key: %w", err)
	}
	return nil
}
