// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/cmdbot/bot"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.DatabaseDialect)
	assert.Equal(t, "file:cmdbot.db?_foreign_keys=on", cfg.DatabaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.SubscribeDelay)
	assert.Equal(t, 2*time.Second, cfg.TypingDelay)
	assert.Equal(t, 2*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, time.Hour, cfg.ImageCacheTTL)
	assert.Equal(t, 10*time.Second, cfg.MaxVideoDuration)
	assert.True(t, cfg.RequireAdmin)
	assert.True(t, cfg.SkipBacklog)
	assert.False(t, cfg.HAEnabled)
	assert.Equal(t, "default", cfg.HALockName)
	assert.Equal(t, bot.DefaultConfig(), cfg.Bot())
}

func TestLoadOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CMDBOT_TYPING_DELAY", "0s")
	t.Setenv("CMDBOT_REQUIRE_ADMIN", "false")
	t.Setenv("CMDBOT_MENU_IMAGE", "/srv/menu.jpg")
	t.Setenv("CMDBOT_DATABASE_DIALECT", "PostgreSQL")
	t.Setenv("CMDBOT_HA_ENABLED", "true")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.TypingDelay)
	assert.False(t, cfg.RequireAdmin)
	assert.Equal(t, "/srv/menu.jpg", cfg.Bot().MenuImage)
	assert.Equal(t, "postgres", cfg.DatabaseDialect)
}

func TestLoadEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(path, []byte("CMDBOT_HTTP_ADDR=:8080\nCMDBOT_LOG_LEVEL=debug\n"), 0o600))
	// Variables loaded from files leak into the process environment.
	t.Setenv("CMDBOT_HTTP_ADDR", "")
	os.Unsetenv("CMDBOT_HTTP_ADDR")
	t.Setenv("CMDBOT_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "warn", cfg.LogLevel, "existing variables must not be overridden")
}

func TestLoadErrors(t *testing.T) {
	chdirTemp(t)
	_, err := Load("missing.env")
	assert.Error(t, err)

	t.Setenv("CMDBOT_TYPING_DELAY", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "failed to parse environment")
}

func TestValidate(t *testing.T) {
	cfg := &Config{DatabaseDialect: "mysql"}
	assert.ErrorIs(t, cfg.Validate(), ErrUnsupportedDialect)

	cfg = &Config{DatabaseDialect: "sqlite", HAEnabled: true}
	assert.ErrorIs(t, cfg.Validate(), ErrHARequiresPostgres)
}
