// Package app provides the commands of the examsync CLI.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/examsight/examsync/internal/app"
	"github.com/examsight/examsync/internal/config"
	"github.com/examsight/examsync/internal/versions"
)

const (
	// closeTimeout bounds the flush of telemetry and the status server shutdown
	closeTimeout = 5 * time.Second

	flagConfig      = "config"
	flagAPIURL      = "api-url"
	flagWebURL      = "web-url"
	flagAuthBackend = "auth-backend"
	flagTokenFile   = "token-file"
	flagEnvFile     = "env-file"
)

// cli carries the state shared by all commands of one root command
type cli struct {
	v *viper.Viper

	// sessionOpts are appended to every session (used by tests)
	sessionOpts []app.SessionOption
}

// NewRootCmd creates the root command of the CLI
func NewRootCmd() *cobra.Command {
	return newRootCmd(&cli{v: viper.New()})
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "examsync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Upload, analyze and merge exams from the command line",
		Long: `examsync keeps a local view of your exams in sync with the exam analysis
service: it uploads exams, requests analyses, follows their progress and
merges finished analyses.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return c.loadEnv()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagConfig, "", "Path to configuration file (YAML format)")
	flags.String(flagAPIURL, "", "Base URL of the API, including /api/v1")
	flags.String(flagWebURL, "", "Base URL of the web application")
	flags.String(flagAuthBackend, "", "Where the access token is stored (keyring or file)")
	flags.String(flagTokenFile, "", "Token file of the file backend")
	flags.String(flagEnvFile, ".env", "Environment file loaded before reading EXAMSYNC_* variables")

	c.v.SetEnvPrefix(config.EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	c.v.AutomaticEnv()
	bindFlags(c.v, flags, flagConfig, flagAPIURL, flagWebURL, flagAuthBackend, flagTokenFile, flagEnvFile)

	rootCmd.AddCommand(c.loginCmd())
	rootCmd.AddCommand(c.logoutCmd())
	rootCmd.AddCommand(c.examsCmd())
	rootCmd.AddCommand(c.analysisCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// bindFlags binds the named flags to viper keys of the same name
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}
}

// loadEnv loads the env file without overriding variables already set
func (c *cli) loadEnv() error {
	path := c.v.GetString(flagEnvFile)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	slog.Debug("Loaded env file", "path", path)
	return nil
}

// loadConfig reads the configuration file and applies flag and env overrides
func (c *cli) loadConfig() (*config.Config, error) {
	var opts []config.Option
	path := c.v.GetString(flagConfig)
	if path == "" {
		if p, ok := config.DefaultConfigPath(); ok {
			path = p
		}
	}
	if path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if s := c.v.GetString(flagAPIURL); s != "" {
		cfg.API.BaseURL = s
	}
	if s := c.v.GetString(flagWebURL); s != "" {
		cfg.Web.BaseURL = s
	}
	if s := c.v.GetString(flagAuthBackend); s != "" {
		cfg.Auth.Backend = s
	}
	if s := c.v.GetString(flagTokenFile); s != "" {
		cfg.Auth.File = s
	}

	slog.Debug("Configuration loaded", "path", path, "api", cfg.GetAPIBaseURL())
	return cfg, nil
}

// newSession builds a session for one command
func (c *cli) newSession(ctx context.Context, cfg *config.Config, opts ...app.SessionOption) (*app.Session, error) {
	all := append([]app.SessionOption{app.WithConfig(cfg)}, opts...)
	all = append(all, c.sessionOpts...)
	return app.NewSession(ctx, all...)
}

// closeSession releases the session and logs failures
func closeSession(s *app.Session) {
	if err := s.Close(closeTimeout); err != nil {
		slog.Warn("Failed to close session", "error", err)
	}
}

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "examsync %s\n  commit:   %s\n  built:    %s\n  go:       %s\n  platform: %s\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
