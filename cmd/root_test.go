// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/forceps/internal/config"
)

// withConfigFile points the package-level --config state at path for the
// duration of one test.
func withConfigFile(t *testing.T, path string) {
	t.Helper()
	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
}

// writeConfig drops a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

// loadTestConfig runs the same load path PersistentPreRunE uses.
func loadTestConfig(t *testing.T) (*config.Config, error) {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	if err := initializeConfig(v); err != nil {
		return nil, err
	}
	return config.NewConfigFromViper(v)
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--version"})

	err := cmd.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Contains(t, out.String(), Version)
}

func TestRootCommand_NoArgsPrintsHelp(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{})

	err := cmd.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Forceps drives real browsers")
	assert.Contains(t, out.String(), "serve")
}

func TestInitializeConfig_FileOverridesDefaults(t *testing.T) {
	withConfigFile(t, writeConfig(t, "server:\n  port: 9911\n"))

	cfg, err := loadTestConfig(t)

	require.NoError(t, err)
	assert.Equal(t, 9911, cfg.Server.Port)
	// Keys the file does not mention keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestInitializeConfig_EnvBeatsFile(t *testing.T) {
	withConfigFile(t, writeConfig(t, "server:\n  port: 9911\n"))
	t.Setenv("FORCEPS_SERVER_PORT", "7733")

	cfg, err := loadTestConfig(t)

	require.NoError(t, err)
	assert.Equal(t, 7733, cfg.Server.Port)
}

func TestInitializeConfig_JournalURLFromEnv(t *testing.T) {
	withConfigFile(t, writeConfig(t, "journal:\n  enabled: false\n"))
	t.Setenv("FORCEPS_JOURNAL_URL", "postgres://forceps:secret@db:5432/forceps")

	cfg, err := loadTestConfig(t)

	require.NoError(t, err)
	assert.Equal(t, "postgres://forceps:secret@db:5432/forceps", cfg.Journal.URL)
}

func TestInitializeConfig_MalformedFile(t *testing.T) {
	withConfigFile(t, writeConfig(t, "server: [not: valid\n"))

	_, err := loadTestConfig(t)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestInitializeConfig_MissingExplicitFile(t *testing.T) {
	withConfigFile(t, filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := loadTestConfig(t)

	// An explicitly requested file that does not exist is a hard error;
	// only the search-path lookup tolerates absence.
	require.Error(t, err)
}

func TestConfigFromContext(t *testing.T) {
	_, err := configFromContext(context.Background())
	require.Error(t, err)

	want := config.New()
	ctx := context.WithValue(context.Background(), configKey, want)
	got, err := configFromContext(ctx)
	require.NoError(t, err)
	assert.Same(t, want, got)
}
