// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymkeeper/gymkeeper/internal/config"
	"github.com/gymkeeper/gymkeeper/pkg/errutil"
)

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "non-numeric returns error", input: "abc", wantErr: true},
		{name: "float parses as integer (Sscanf stops at dot)", input: "1.5", wantVersion: 1},
		{name: "negative parses", input: "-1", wantVersion: -1},
		{name: "empty string returns error", input: "", wantErr: true},
		{name: "whitespace only returns error", input: "   ", wantErr: true},
		{name: "leading whitespace is handled", input: "  42", wantVersion: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				assert.Equal(t, 0, version)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

type fakeMigrator struct {
	calls   []string
	version uint
	dirty   bool
	pending []uint
	upErr   error
	closed  bool
}

func (m *fakeMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.upErr
}

func (m *fakeMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return nil
}

func (m *fakeMigrator) Version() (uint, bool, error) {
	m.calls = append(m.calls, "version")
	return m.version, m.dirty, nil
}

func (m *fakeMigrator) Force(version int) error {
	m.calls = append(m.calls, "force")
	m.version = uint(version) //nolint:gosec // test input is non-negative
	return nil
}

func (m *fakeMigrator) PendingMigrations() ([]uint, error) {
	return m.pending, nil
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return nil
}

func runMigrate(t *testing.T, migrator *fakeMigrator, args ...string) (string, string, error) {
	t.Helper()
	isolate(t)
	var gotURL string
	cmd := newMigrateCmd(&MigrateDeps{
		ConfigLoader: func(opts config.Options) (*config.Config, error) {
			opts.Environ = func() []string { return nil }
			return config.Load(opts)
		},
		MigratorFactory: func(url string) (Migrator, error) {
			gotURL = url
			return migrator, nil
		},
	})
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), gotURL, err
}

func TestMigrate_Up(t *testing.T) {
	migrator := &fakeMigrator{pending: []uint{1, 2, 3}}

	output, url, err := runMigrate(t, migrator, "up", "--database-url", "sqlite3:///tmp/gk.db")

	require.NoError(t, err)
	assert.Equal(t, "sqlite3:///tmp/gk.db", url)
	assert.Equal(t, []string{"up"}, migrator.calls)
	assert.True(t, migrator.closed)
	assert.Contains(t, output, "Applied 3 migration(s)")
}

func TestMigrate_UpNothingPending(t *testing.T) {
	migrator := &fakeMigrator{}

	output, _, err := runMigrate(t, migrator, "up")

	require.NoError(t, err)
	assert.Empty(t, migrator.calls)
	assert.Contains(t, output, "No pending migrations")
}

func TestMigrate_UpError(t *testing.T) {
	migrator := &fakeMigrator{pending: []uint{1}, upErr: errors.New("boom")}

	_, _, err := runMigrate(t, migrator, "up")

	require.Error(t, err)
	assert.True(t, migrator.closed)
}

func TestMigrate_DefaultsToSQLiteInDataDir(t *testing.T) {
	migrator := &fakeMigrator{}

	_, url, err := runMigrate(t, migrator, "version")

	require.NoError(t, err)
	assert.Equal(t, "gymkeeper.db", filepath.Base(url))
}

func TestMigrate_Version(t *testing.T) {
	migrator := &fakeMigrator{version: 2, dirty: true, pending: []uint{3}}

	output, _, err := runMigrate(t, migrator, "version")

	require.NoError(t, err)
	assert.Contains(t, output, "Version: 2 (dirty)")
	assert.Contains(t, output, "Pending: 1")
}

func TestMigrate_Down(t *testing.T) {
	migrator := &fakeMigrator{}

	_, _, err := runMigrate(t, migrator, "down")

	require.NoError(t, err)
	assert.Equal(t, []string{"down"}, migrator.calls)
}

func TestMigrate_Force(t *testing.T) {
	migrator := &fakeMigrator{}

	output, _, err := runMigrate(t, migrator, "force", "2")

	require.NoError(t, err)
	assert.Equal(t, []string{"force"}, migrator.calls)
	assert.Equal(t, uint(2), migrator.version)
	assert.Contains(t, output, "Forced version 2")
}

func TestMigrate_ForceRejectsGarbage(t *testing.T) {
	migrator := &fakeMigrator{}

	_, _, err := runMigrate(t, migrator, "force", "abc")

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
	assert.Empty(t, migrator.calls)
}

func TestMigrate_InvalidDatabaseURL(t *testing.T) {
	migrator := &fakeMigrator{}

	_, _, err := runMigrate(t, migrator, "up", "--database-url", "mysql://nope")

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}
