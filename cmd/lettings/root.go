package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/panyam/lettings"
	"github.com/panyam/lettings/client"
	"github.com/panyam/lettings/config"
)

// app is the state shared by the commands of one invocation
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	storage client.Storage
	closer  io.Closer
	nav     *client.RecordingNavigator
	auth    *client.Authenticator
	api     *lettings.API
}

func (a *app) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

type rootFlags struct {
	configPath string
	apiURL     string
	store      string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "lettings",
		Short:         "Search properties and manage tenancy applications",
		Long:          `lettings talks to the lettings marketplace API. It keeps you signed in by refreshing expired access tokens and asks you to log in again when that is no longer possible.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, args, flags)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.Close()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&flags.apiURL, "api", "", "API base URL (overrides config)")
	pf.StringVar(&flags.store, "store", "", "Session store: memory, fs, redis, sqlite, datastore or scs")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newPropertiesCmd(a),
		newApplicationsCmd(a),
		newUploadCmd(a),
		newServeMockCmd(a),
	)
	return rootCmd
}

// setup loads the configuration and builds the authenticated clients
func (a *app) setup(cmd *cobra.Command, args []string, flags rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.apiURL != "" {
		cfg.API.BaseURL = flags.apiURL
	}
	if flags.store != "" {
		cfg.Store.Kind = flags.store
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	a.logger, err = newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}

	a.storage, a.closer, err = OpenStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	a.nav = client.NewRecordingNavigator(commandLine(cmd, args), func(string) {
		fmt.Fprintln(stderr, "Your session has expired. Run `lettings login` to sign in again.")
	})

	endpoint := client.NewTokenEndpoint(cfg.API.BaseURL)
	endpoint.ClientID = cfg.API.ClientID
	endpoint.HTTPClient.Timeout = cfg.API.Timeout

	a.auth = client.NewAuthenticator(cfg.API.BaseURL, a.storage,
		client.WithTokenEndpoint(endpoint),
		client.WithNavigator(a.nav),
		client.WithNotifier(&client.LogNotifier{Logger: a.logger}),
		client.WithLogger(a.logger),
		client.WithLoginPath(cfg.Auth.LoginPath),
		client.WithRefreshTimeout(cfg.Auth.RefreshTimeout),
		client.WithRefreshAhead(cfg.Auth.RefreshAhead),
	)

	var opts []client.ClientOption
	if cfg.API.UserAgent != "" {
		opts = append(opts, client.WithUserAgent(cfg.API.UserAgent))
	}
	a.api = lettings.NewAPI(client.NewPair(cfg.API.BaseURL, a.auth, opts...))
	return nil
}

// newLogger writes to stderr so command output stays on stdout, and
// standardizes the error key to "err".
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// commandLine is the location remembered when the session ends, so the user
// can be told what to re-run after logging in.
func commandLine(cmd *cobra.Command, args []string) string {
	parts := append([]string{cmd.CommandPath()}, args...)
	return strings.Join(parts, " ")
}

// requireLogin fails early when no session is stored
func (a *app) requireLogin(ctx context.Context) error {
	if !a.auth.IsLoggedIn(ctx) {
		return fmt.Errorf("not logged in, run `lettings login` first")
	}
	return nil
}
