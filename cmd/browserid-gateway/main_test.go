// ABOUTME: Tests for CLI helpers: config path resolution, flag parsing and user lookup
// ABOUTME: Uses MockStore so no database file is needed

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/browserid-gateway/internal/config"
	"github.com/2389/browserid-gateway/internal/store"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("BROWSERID_CONFIG", "/etc/browserid.yaml")
	assert.Equal(t, "/etc/browserid.yaml", getConfigPath())

	t.Setenv("BROWSERID_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "browserid", "gateway.yaml"), getConfigPath())
}

func TestFlagValue(t *testing.T) {
	args := []string{"--audience", "https://a.example", "--audience=https://b.example", "-a", "x", "--limit"}

	v, skip, ok, err := flagValue(args, 0, "--audience", "-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://a.example", v)
	assert.Equal(t, 1, skip)

	v, skip, ok, err = flagValue(args, 2, "--audience", "-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://b.example", v)
	assert.Equal(t, 0, skip)

	_, _, ok, err = flagValue(args, 1, "--audience")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, ok, err = flagValue(args, 5, "--limit")
	assert.True(t, ok)
	assert.Error(t, err, "missing value")
}

func TestFindUser(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	alice := s.AddUser(&store.User{Username: "alice", Email: "alice@example.com", IsActive: true})
	s.AddUser(&store.User{Username: "shared1", Email: "shared@example.com"})
	s.AddUser(&store.User{Username: "shared2", Email: "shared@example.com"})

	for _, ref := range []string{alice.ID, "alice", "alice@example.com"} {
		u, err := findUser(ctx, s, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, alice.ID, u.ID)
	}

	_, err := findUser(ctx, s, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrUserNotFound)

	_, err = findUser(ctx, s, "shared@example.com")
	assert.Error(t, err)
}

func TestCmdUsersSetActive(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	alice := s.AddUser(&store.User{Username: "alice", Email: "alice@example.com", IsActive: true})

	require.NoError(t, cmdUsersSetActive(ctx, s, "alice", false))
	u, err := s.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, u.IsActive)

	require.NoError(t, cmdUsersSetActive(ctx, s, alice.ID, true))
	u, err = s.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, u.IsActive)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "conf", "gateway.yaml")
	dbPath := filepath.Join(dir, "data", "browserid.db")
	t.Setenv("BROWSERID_CONFIG", cfgPath)

	answers := strings.Join([]string{
		"",                    // config path: default from BROWSERID_CONFIG
		"127.0.0.1:9000",      // listen address
		dbPath,                // database
		"https://example.com", // audience
		"mock",                // verifier
		"dev@example.com",     // mock email
		"no",                  // create accounts
		"debug",               // log level
		"json",                // log format
	}, "\n") + "\n"

	require.NoError(t, runInit(strings.NewReader(answers)))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, []string{"https://example.com"}, cfg.BrowserID.Audiences)
	assert.Equal(t, config.VerifierMock, cfg.BrowserID.Verifier)
	assert.Equal(t, "dev@example.com", cfg.BrowserID.Mock.Email)
	assert.False(t, cfg.BrowserID.CreateUser)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("original"), 0644))
	t.Setenv("BROWSERID_CONFIG", cfgPath)

	require.NoError(t, runInit(strings.NewReader("\nno\n")))

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}
