package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stratumops/quotawarden/internal/auth"
	"github.com/stratumops/quotawarden/internal/config"
	"github.com/stratumops/quotawarden/internal/store"
)

type fakeBootstrapStore struct {
	teams  map[string]string
	users  map[string]*string
	keys   map[string]string
	misses int
}

func newFakeBootstrapStore() *fakeBootstrapStore {
	return &fakeBootstrapStore{
		teams: map[string]string{},
		users: map[string]*string{},
		keys:  map[string]string{},
	}
}

func (f *fakeBootstrapStore) UpsertTeam(_ context.Context, teamID, name string) (store.Team, error) {
	f.teams[teamID] = name
	return store.Team{TeamID: teamID, Name: name}, nil
}

func (f *fakeBootstrapStore) UpsertUser(_ context.Context, userID string, teamID, _, _ *string) (store.User, error) {
	f.users[userID] = teamID
	return store.User{UserID: userID, TeamID: teamID}, nil
}

func (f *fakeBootstrapStore) InsertAdminKey(_ context.Context, _, prefix, secretHash string) (bool, error) {
	if _, exists := f.keys[prefix]; exists {
		f.misses++
		return false, nil
	}
	f.keys[prefix] = secretHash
	return true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeedBootstrapCreatesEntities(t *testing.T) {
	st := newFakeBootstrapStore()
	cfg := config.BootstrapConfig{
		Teams: []config.BootstrapTeam{{ID: "platform", Name: "Platform"}, {ID: "  ", Name: "ignored"}},
		Users: []config.BootstrapUser{
			{ID: "alice", Team: "platform", Email: "alice@example.com"},
			{ID: "bob"},
		},
		AdminKeys: []config.BootstrapAdminKey{{Name: "ops", Prefix: "bootpref01", Secret: "swordfish"}},
	}

	if err := seedBootstrap(context.Background(), cfg, st, discardLogger()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if st.teams["platform"] != "Platform" {
		t.Fatalf("team not created: %+v", st.teams)
	}
	if len(st.teams) != 1 {
		t.Fatalf("blank team id must be skipped, got %d teams", len(st.teams))
	}
	if team := st.users["alice"]; team == nil || *team != "platform" {
		t.Fatalf("alice team = %v", team)
	}
	if team := st.users["bob"]; team != nil {
		t.Fatalf("bob should have no team, got %v", team)
	}

	hash, ok := st.keys["bootpref01"]
	if !ok {
		t.Fatalf("admin key not inserted")
	}
	match, err := auth.VerifySecret("swordfish", hash)
	if err != nil || !match {
		t.Fatalf("stored hash does not verify: match=%v err=%v", match, err)
	}
}

func TestSeedBootstrapIsIdempotentForKeys(t *testing.T) {
	st := newFakeBootstrapStore()
	cfg := config.BootstrapConfig{
		AdminKeys: []config.BootstrapAdminKey{{Name: "ops", Prefix: "bootpref01", Secret: "swordfish"}},
	}

	for i := 0; i < 2; i++ {
		if err := seedBootstrap(context.Background(), cfg, st, discardLogger()); err != nil {
			t.Fatalf("seed run %d: %v", i, err)
		}
	}
	if len(st.keys) != 1 || st.misses != 1 {
		t.Fatalf("expected one key and one skipped insert, got %d keys %d misses", len(st.keys), st.misses)
	}
}
