package profiles

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spotmirror/internal/apperr"
	"spotmirror/internal/models"
	"spotmirror/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `{
    "exchange": {"key": "ACTIVE", "secret": "x"},
    "api_server": {
        "username": "admin",
        "password": "h",
        "key": "ADMINKEY",
        "profiles": [
            {"id": "p-admin", "name": "Admin sub", "api_key": "ACTIVE", "secret_key": "s", "copy_enabled": true, "allocation_pct": 10}
        ],
        "users": [
            {"username": "alice", "password": "h", "profiles": [
                {"id": "p1", "name": "Alice main", "api_key": "K-ALICE", "secret_key": "s", "trading_mode": "spot", "copy_enabled": true, "allocation_pct": 50},
                {"id": "p2", "api_key": "K-ALICE-FUT", "secret_key": "s", "trading_mode": "futures", "copy_enabled": true, "allocation_pct": 20},
                {"id": "p3", "api_key": "K-ALICE-OFF", "secret_key": "s", "copy_enabled": false, "allocation_pct": 20}
            ]},
            {"username": "bob", "password": "h", "profiles": [
                {"id": "b1", "api_key": "K-BOB", "secret_key": "s", "copy_enabled": true, "allocation_pct": 0},
                {"id": "b2", "api_key": "K-BOB-2", "secret_key": "", "copy_enabled": true, "allocation_pct": 30}
            ]}
        ]
    }
}`

func newStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := storage.OpenConfig(path, logger)
	require.NoError(t, err)

	return New(cfg, logger), path
}

func TestUpsert_IdempotentByID(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	p := models.CredentialProfile{ID: "new", Name: "Alt", APIKey: "K-NEW", SecretKey: "s", AllocationPct: 25, CopyEnabled: true}

	_, err := store.Upsert(ctx, p, "bob")
	require.NoError(t, err)
	p.AllocationPct = 40
	_, err = store.Upsert(ctx, p, "bob")
	require.NoError(t, err)

	list, err := store.List("bob")
	require.NoError(t, err)

	var found []models.CredentialProfile
	for _, got := range list {
		if got.ID == "new" {
			found = append(found, got)
		}
	}
	require.Len(t, found, 1)
	assert.Equal(t, 40.0, found[0].AllocationPct)
}

func TestUpsert_ConflictLeavesFileUnchanged(t *testing.T) {
	tests := []struct {
		name    string
		tenant  string
		profile models.CredentialProfile
	}{
		{
			name:    "other tenant's key",
			tenant:  "bob",
			profile: models.CredentialProfile{ID: "x", APIKey: "K-ALICE", SecretKey: "s"},
		},
		{
			name:    "admin direct key",
			tenant:  "alice",
			profile: models.CredentialProfile{ID: "x", APIKey: "ADMINKEY", SecretKey: "s"},
		},
		{
			name:    "admin profile key",
			tenant:  "alice",
			profile: models.CredentialProfile{ID: "x", APIKey: "ACTIVE", SecretKey: "s"},
		},
		{
			name:    "own key under a different id",
			tenant:  "alice",
			profile: models.CredentialProfile{ID: "p9", APIKey: "K-ALICE", SecretKey: "s"},
		},
		{
			name:    "same id owned by someone else",
			tenant:  "bob",
			profile: models.CredentialProfile{ID: "p1", APIKey: "K-ALICE", SecretKey: "s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, path := newStore(t)
			before, err := os.ReadFile(path)
			require.NoError(t, err)

			_, err = store.Upsert(context.Background(), tt.profile, tt.tenant)
			require.ErrorIs(t, err, apperr.ErrConflict)

			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestUpsert_UpdateOwnProfileKeepsKey(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.Upsert(context.Background(), models.CredentialProfile{
		ID: "p1", Name: "Renamed", APIKey: "K-ALICE", SecretKey: "s2", AllocationPct: 10,
	}, "alice")
	require.NoError(t, err)

	list, err := store.List("alice")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", list[0].Name)
	assert.Equal(t, "s2", list[0].SecretKey)
}

func TestUpsert_AdminMayReuseDirectKey(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.Upsert(context.Background(), models.CredentialProfile{
		ID: "direct", APIKey: "ADMINKEY", SecretKey: "s",
	}, "admin")
	assert.NoError(t, err)
}

func TestUpsert_RoundTripDefaults(t *testing.T) {
	store, path := newStore(t)

	saved, err := store.Upsert(context.Background(), models.CredentialProfile{
		APIKey: "K-RT", SecretKey: "S-RT",
	}, "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	list, err := store.List("bob")
	require.NoError(t, err)

	var got models.CredentialProfile
	for _, p := range list {
		if p.ID == saved.ID {
			got = p
		}
	}
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, "K-RT", got.APIKey)
	assert.Equal(t, "S-RT", got.SecretKey)
	assert.Equal(t, models.DefaultProfileName, got.Name)
	assert.Equal(t, models.TradingModeSpot, got.TradingMode)
	assert.False(t, got.CopyEnabled)
	assert.Zero(t, got.AllocationPct)
	assert.Equal(t, "bob", got.Owner)

	// the reloaded file agrees with the running copy
	reloaded, err := storage.OpenConfig(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	acc, ok := reloaded.Snapshot().Account("bob")
	require.True(t, ok)
	assert.Len(t, acc.Profiles, 3)
}

func TestUpsert_Validation(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		profile models.CredentialProfile
	}{
		{"missing key", models.CredentialProfile{SecretKey: "s"}},
		{"missing secret", models.CredentialProfile{APIKey: "k"}},
		{"allocation above 100", models.CredentialProfile{APIKey: "k", SecretKey: "s", AllocationPct: 101}},
		{"negative allocation", models.CredentialProfile{APIKey: "k", SecretKey: "s", AllocationPct: -1}},
		{"unknown mode", models.CredentialProfile{APIKey: "k", SecretKey: "s", TradingMode: "margin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Upsert(ctx, tt.profile, "bob")
			assert.ErrorIs(t, err, apperr.ErrInvalid)
		})
	}
}

func TestUpsert_UnknownTenant(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.Upsert(context.Background(), models.CredentialProfile{APIKey: "k", SecretKey: "s"}, "carol")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDelete(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "p3", "alice"))
	assert.ErrorIs(t, store.Delete(ctx, "p3", "alice"), apperr.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "b1", "alice"), apperr.ErrNotFound)

	list, err := store.List("alice")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRegister(t *testing.T) {
	store, path := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "carol", "hash"))
	assert.ErrorIs(t, store.Register(ctx, "carol", "hash"), apperr.ErrConflict)
	assert.ErrorIs(t, store.Register(ctx, "admin", "hash"), apperr.ErrConflict)
	assert.ErrorIs(t, store.Register(ctx, " ", "hash"), apperr.ErrInvalid)

	acc, ok := store.Account("carol")
	require.True(t, ok)
	assert.Equal(t, models.RoleStandard, acc.Role)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw struct {
		APIServer struct {
			Users []struct {
				Username string `json:"username"`
				Password string `json:"password"`
			} `json:"users"`
		} `json:"api_server"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw.APIServer.Users, 3)
	assert.Equal(t, "hash", raw.APIServer.Users[2].Password)
}

func TestFollowers(t *testing.T) {
	store, _ := newStore(t)

	followers, err := store.Followers(context.Background())
	require.NoError(t, err)

	// p-admin holds the active key, p3 is disabled, b1 has no allocation, b2 has no secret.
	assert.ElementsMatch(t, []string{"p1", "p2"}, profileIDs(followers))
}

func TestFollowers_ActiveKeySwitchedOnDisk(t *testing.T) {
	store, path := newStore(t)

	// the engine switches to alice's key without going through this process
	switched := strings.Replace(fixture, `"exchange": {"key": "ACTIVE"`, `"exchange": {"key": "K-ALICE"`, 1)
	require.NotEqual(t, fixture, switched)
	require.NoError(t, os.WriteFile(path, []byte(switched), 0o600))

	followers, err := store.Followers(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"p-admin", "p2"}, profileIDs(followers))
}

func TestFollowers_UnreadableConfig(t *testing.T) {
	store, path := newStore(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	followers, err := store.Followers(context.Background())
	require.Error(t, err)
	assert.Empty(t, followers)
}

func profileIDs(profiles []models.CredentialProfile) []string {
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	return ids
}
