package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stratumops/quotawarden/internal/auth"
	"github.com/stratumops/quotawarden/internal/config"
	"github.com/stratumops/quotawarden/internal/store"
)

type bootstrapStore interface {
	UpsertTeam(ctx context.Context, teamID, name string) (store.Team, error)
	UpsertUser(ctx context.Context, userID string, teamID, email, displayName *string) (store.User, error)
	InsertAdminKey(ctx context.Context, name, prefix, secretHash string) (bool, error)
}

// seedBootstrap applies declarative teams, users and admin keys from the
// configuration. It is idempotent: existing rows are updated, taken key
// prefixes are left alone.
func seedBootstrap(ctx context.Context, cfg config.BootstrapConfig, st bootstrapStore, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "bootstrap"))

	for _, team := range cfg.Teams {
		id := strings.TrimSpace(team.ID)
		if id == "" {
			continue
		}
		name := strings.TrimSpace(team.Name)
		if name == "" {
			name = id
		}
		if _, err := st.UpsertTeam(ctx, id, name); err != nil {
			return fmt.Errorf("bootstrap team %s: %w", id, err)
		}
	}

	for _, user := range cfg.Users {
		id := strings.TrimSpace(user.ID)
		if id == "" {
			continue
		}
		var teamID, email, name *string
		if v := strings.TrimSpace(user.Team); v != "" {
			teamID = &v
		}
		if v := strings.TrimSpace(user.Email); v != "" {
			email = &v
		}
		if v := strings.TrimSpace(user.Name); v != "" {
			name = &v
		}
		if _, err := st.UpsertUser(ctx, id, teamID, email, name); err != nil {
			return fmt.Errorf("bootstrap user %s: %w", id, err)
		}
	}

	for _, key := range cfg.AdminKeys {
		prefix := strings.TrimSpace(key.Prefix)
		secret := strings.TrimSpace(key.Secret)
		if prefix == "" || secret == "" {
			continue
		}
		hash, err := auth.HashSecret(secret)
		if err != nil {
			return fmt.Errorf("hash bootstrap key %s: %w", prefix, err)
		}
		inserted, err := st.InsertAdminKey(ctx, strings.TrimSpace(key.Name), prefix, hash)
		if err != nil {
			return fmt.Errorf("bootstrap admin key %s: %w", prefix, err)
		}
		if !inserted {
			logger.Debug("admin key prefix already present", slog.String("prefix", prefix))
		}
	}

	return nil
}
