package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherchat/internal/domain"
	"cipherchat/internal/store"
)

func TestProfile_SaveLoadClear(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ps := store.NewProfileFileStore(home, "pass")

	_, ok, err := ps.LoadProfile()
	require.NoError(t, err)
	assert.False(t, ok)

	want := domain.Profile{
		RelayURL: "http://127.0.0.1:8080",
		UserID:   "u1",
		Email:    "alice@example.com",
		Username: "alice",
		Token:    "tok",
		SavedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, ps.SaveProfile(want))

	got, ok, err := ps.LoadProfile()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, ps.ClearProfile())
	require.NoError(t, ps.ClearProfile())
	_, ok, err = ps.LoadProfile()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProfile_WrongPassphrase_Fails(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, store.NewProfileFileStore(home, "correct").SaveProfile(domain.Profile{UserID: "u1", Token: "t"}))

	_, _, err := store.NewProfileFileStore(home, "wrong").LoadProfile()
	assert.Error(t, err)
}

func TestProfile_TamperedFile_Fails(t *testing.T) {
	home := t.TempDir()
	ps := store.NewProfileFileStore(home, "pass")
	require.NoError(t, ps.SaveProfile(domain.Profile{UserID: "u1", Token: "t"}))

	path := filepath.Join(home, "profile.json.enc")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(b), `"purpose":"cipherchat/profile"`, `"purpose":"other"`, 1)
	require.NotEqual(t, string(b), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	_, _, err = ps.LoadProfile()
	assert.Error(t, err)
}

func TestProfile_ExcessiveKDFCostRejected(t *testing.T) {
	home := t.TempDir()
	ps := store.NewProfileFileStore(home, "pass")
	require.NoError(t, ps.SaveProfile(domain.Profile{UserID: "u1", Token: "t"}))

	path := filepath.Join(home, "profile.json.enc")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(b), `"n":32768`, `"n":1073741824`, 1)
	require.NotEqual(t, string(b), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	start := time.Now()
	_, _, err = ps.LoadProfile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
	assert.Less(t, time.Since(start), 5*time.Second)
}
