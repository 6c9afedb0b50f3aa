package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"spotmirror/internal/apperr"
	"spotmirror/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
    "max_open_trades": 3,
    "stake_currency": "USDT",
    "exchange": {"name": "binance", "key": "ACTIVE", "secret": "s", "pair_whitelist": ["BTC/USDT"]},
    "api_server": {
        "enabled": true,
        "username": "root",
        "password": "pw",
        "key": "ADMINKEY",
        "ws_token": "stream",
        "profiles": [{"id": "a1", "name": "Main", "api_key": "K1", "secret_key": "S1"}],
        "users": [{"username": "bob", "password": "h", "profiles": []}]
    }
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestOpenConfig_Missing(t *testing.T) {
	_, err := OpenConfig(filepath.Join(t.TempDir(), "nope.json"), testLogger())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestOpenConfig_Malformed(t *testing.T) {
	_, err := OpenConfig(writeConfig(t, "{not json"), testLogger())
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperr.ErrNotFound))
}

func TestUpdate_PreservesUnknownSettings(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store, err := OpenConfig(path, testLogger())
	require.NoError(t, err)

	err = store.Update(context.Background(), func(doc *Document) error {
		doc.Exchange.Key = "NEW"
		return nil
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.EqualValues(t, 3, raw["max_open_trades"])
	exchange := raw["exchange"].(map[string]any)
	assert.Equal(t, "NEW", exchange["key"])
	assert.Equal(t, []any{"BTC/USDT"}, exchange["pair_whitelist"])
	apiServer := raw["api_server"].(map[string]any)
	assert.Equal(t, true, apiServer["enabled"])
	assert.Equal(t, "stream", apiServer["ws_token"])

	assert.Equal(t, "NEW", store.Snapshot().ActiveKey())
}

func TestUpdate_ErrorLeavesFileUntouched(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store, err := OpenConfig(path, testLogger())
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = store.Update(context.Background(), func(doc *Document) error {
		doc.Exchange.Key = "CHANGED"
		return apperr.ErrConflict
	})
	require.ErrorIs(t, err, apperr.ErrConflict)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "ACTIVE", store.Snapshot().ActiveKey())
}

func TestReadDisk_SeesExternalChanges(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store, err := OpenConfig(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"exchange": {"key": "OTHER"}}`), 0o600))

	doc, err := store.ReadDisk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OTHER", doc.ActiveKey())
	assert.Equal(t, "ACTIVE", store.Snapshot().ActiveKey())
}

func TestDocument_Accounts(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(sampleConfig), &doc))

	accounts := doc.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, "root", accounts[0].Username)
	assert.Equal(t, models.RoleAdmin, accounts[0].Role)
	assert.Equal(t, "root", accounts[0].Profiles[0].Owner)
	assert.Equal(t, "bob", accounts[1].Username)
	assert.Equal(t, models.RoleStandard, accounts[1].Role)

	_, ok := doc.Account("carol")
	assert.False(t, ok)
}

func TestSecretList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want SecretList
	}{
		{"single", `"a"`, SecretList{"a"}},
		{"list", `["a", "b"]`, SecretList{"a", "b"}},
		{"empty", `""`, nil},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s SecretList
			require.NoError(t, json.Unmarshal([]byte(tt.in), &s))
			assert.Equal(t, tt.want, s)
		})
	}

	var s SecretList
	assert.Error(t, json.Unmarshal([]byte(`42`), &s))
}

func TestDocument_CloneIsDeep(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(sampleConfig), &doc))

	c := doc.Clone()
	c.APIServer.Profiles[0].APIKey = "MUTATED"
	c.APIServer.Users[0].Username = "mallory"

	assert.Equal(t, "K1", doc.APIServer.Profiles[0].APIKey)
	assert.Equal(t, "bob", doc.APIServer.Users[0].Username)
}
