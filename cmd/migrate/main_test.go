package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&options{})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestList_Embedded(t *testing.T) {
	out, err := run(t, "list")

	require.NoError(t, err)
	assert.Equal(t, "000001_create_transfers\n000002_create_poll_attempts\n", out)
}

func TestCreateThenList(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "--path", dir, "create", "add seller index", "Index transfers by seller")
	require.NoError(t, err)
	_, err = run(t, "--path", dir, "create", "drop legacy column")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "000001_add_seller_index.up.sql"))
	assert.FileExists(t, filepath.Join(dir, "000002_drop_legacy_column.down.sql"))

	out, err := run(t, "--path", dir, "list")
	require.NoError(t, err)
	assert.Equal(t, "000001_add_seller_index\n000002_drop_legacy_column\n", out)
}

func TestArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"create without a name", []string{"create"}},
		{"step without a count", []string{"step"}},
		{"force with extra arguments", []string{"force", "1", "2"}},
		{"list with arguments", []string{"list", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestUp_RejectsNonPostgresDriver(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[database]\ndriver = \"sqlite\"\n"), 0o644))

	_, err := run(t, "--config", cfg, "up")

	assert.ErrorContains(t, err, `configured driver is "sqlite"`)
}
