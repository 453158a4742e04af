package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/calder/inkwell/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	root := GetRootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("should print version", func(t *testing.T) {
		out, err := execute(t, "--version")
		require.NoError(t, err)
		assert.Contains(t, out, version)
	})

	t.Run("should register subcommands", func(t *testing.T) {
		names := map[string]bool{}
		for _, cmd := range GetRootCmd().Commands() {
			names[cmd.Name()] = true
		}
		assert.True(t, names["serve"])
		assert.True(t, names["configure"])
		assert.True(t, names["status"])
	})
}

func TestConfigure(t *testing.T) {
	t.Run("should persist flag values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "inkwell.json")
		cfgFile = path
		defer func() { cfgFile = "" }()

		out, err := execute(t, "configure", "--api-key", "sk-test", "--model", "claude-3-5-haiku-20241022")
		require.NoError(t, err)
		assert.Contains(t, out, path)

		cfg, err := config.NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-test", cfg.Provider.APIKey)
		assert.Equal(t, "claude-3-5-haiku-20241022", cfg.Provider.Model)
	})

	t.Run("should reject values that break validation", func(t *testing.T) {
		cfgFile = filepath.Join(t.TempDir(), "inkwell.json")
		defer func() { cfgFile = "" }()

		_, err := execute(t, "configure", "--port", "99999")
		assert.Error(t, err)
	})
}

func TestStatus(t *testing.T) {
	t.Run("should report stopped when nothing listens", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "inkwell.json")
		cfg := config.DefaultConfig()
		cfg.Server.Port = 39200
		require.NoError(t, config.NewLoader(path).Save(cfg))

		cfgFile = path
		defer func() { cfgFile = "" }()

		out, err := execute(t, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})
}
