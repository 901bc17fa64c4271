// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/internal/observability"
)

var cfgFile string

// contextKey scopes the values this package stores on a command context.
type contextKey string

// configKey carries the validated *config.Config from PersistentPreRunE to
// the subcommands.
const configKey contextKey = "config"

// NewRootCommand builds the root command and attaches its subcommands. A
// fresh tree is constructed per invocation so no cobra state leaks between
// runs.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forceps",
		Short: "Forceps drives real browsers through a session-scoped HTTP API.",
		// Version is dynamically set at build time. See cmd/version.go.
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v); err != nil {
				// Initialize a fallback logger if config loading fails early.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "forceps"})
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "forceps"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)

			// Store the validated config in the command's context for subcommands.
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.forceps/config.yaml, then ./config.yaml)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(newServeCommand())
	return cmd
}

// configFromContext recovers the config stored by PersistentPreRunE.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration missing from command context")
	}
	return cfg, nil
}

// Execute runs the root command with OS signals wired into the command
// context, so an interrupt drains the service instead of killing it. It
// reports whether the process should exit non-zero; the caller owns the exit.
func Execute(ctx context.Context) error {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		observability.Sync()
		return err
	}
	observability.Sync()
	return nil
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig(v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".forceps"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FORCEPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}
