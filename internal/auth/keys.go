package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stratumops/quotawarden/internal/clock"
	"github.com/stratumops/quotawarden/internal/store"
)

var (
	ErrInvalidKey  = errors.New("invalid admin key")
	ErrKeyDisabled = errors.New("admin key disabled")
)

// KeyStore is the subset of the store needed to verify admin keys.
type KeyStore interface {
	GetAdminKeyByPrefix(ctx context.Context, prefix string) (store.AdminKey, error)
	TouchAdminKey(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}

// KeyService verifies bearer tokens of the form sk-<prefix>.<secret> against
// hashed admin keys.
type KeyService struct {
	store  KeyStore
	clk    clock.Clock
	logger *slog.Logger
}

func NewKeyService(st KeyStore, clk clock.Clock, logger *slog.Logger) *KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &KeyService{store: st, clk: clk, logger: logger.With(slog.String("component", "auth"))}
}

// Verify resolves a presented token to its admin key record. The prefix is
// looked up first so a miss never runs argon2.
func (s *KeyService) Verify(ctx context.Context, token string) (store.AdminKey, error) {
	if s == nil || s.store == nil {
		return store.AdminKey{}, ErrInvalidKey
	}

	prefix, secret, ok := splitKey(token)
	if !ok {
		return store.AdminKey{}, ErrInvalidKey
	}

	key, err := s.store.GetAdminKeyByPrefix(ctx, prefix)
	if errors.Is(err, store.ErrNotFound) {
		return store.AdminKey{}, ErrInvalidKey
	}
	if err != nil {
		return store.AdminKey{}, err
	}
	if key.Disabled {
		return store.AdminKey{}, ErrKeyDisabled
	}

	match, err := VerifySecret(secret, key.SecretHash)
	if err != nil {
		return store.AdminKey{}, err
	}
	if !match {
		return store.AdminKey{}, ErrInvalidKey
	}

	if err := s.store.TouchAdminKey(ctx, key.ID, s.clk.Now().UTC()); err != nil {
		s.logger.Warn("failed to record admin key use", slog.String("prefix", prefix), slog.Any("error", err))
	}
	return key, nil
}

func splitKey(token string) (prefix, secret string, ok bool) {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, keyPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(token, keyPrefix)
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
