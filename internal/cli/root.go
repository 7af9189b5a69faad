package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ReOpsIL/forge-sub000/internal/api"
	"github.com/ReOpsIL/forge-sub000/internal/config"
	"github.com/ReOpsIL/forge-sub000/internal/dashboard"
	"github.com/ReOpsIL/forge-sub000/internal/format"
	"github.com/ReOpsIL/forge-sub000/internal/logging"
	"github.com/ReOpsIL/forge-sub000/internal/poll"
	"github.com/ReOpsIL/forge-sub000/internal/snapshot"
	"github.com/ReOpsIL/forge-sub000/internal/tui"
)

type App struct {
	Server     string
	ConfigPath string
	PrettyJSON bool
	Format     string
	Offline    bool
	Verbose    bool

	cfg  *config.Config
	log  *zap.Logger
	snap *snapshot.Store
	sess *dashboard.Session
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:           "forge",
		Short:         "Forge block/task dashboard (TUI + CLI)",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: strings.TrimSpace(`
  # Start the interactive dashboard
  forge

  # Scriptable commands
  forge blocks list
  forge tasks list <block-id>

  # Run a task and wait until the server reports it done
  forge tasks exec <block-id> <task-id> --wait
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			// No subcommand => interactive TUI.
			if cmd.HasSubCommands() && len(args) == 0 {
				return runTUI(cmd, app)
			}
			return cmd.Help()
		},
	}

	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		app.close()
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.Server, "server", envOr("FORGE_SERVER", ""), "Server base URL (default from config, else "+config.DefaultServer+")")
	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", envOr("FORGE_CONFIG", ""), "Path to config.yaml (default ~/.forge/config.yaml)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON output")
	cmd.PersistentFlags().StringVar(&app.Format, "format", envOr("FORGE_FORMAT", "json"), "Output format (json|yaml)")
	cmd.PersistentFlags().BoolVar(&app.Offline, "offline", false, "Serve the last snapshot; no server calls")
	cmd.PersistentFlags().BoolVarP(&app.Verbose, "verbose", "v", false, "Debug logging")

	cmd.AddCommand(newBlocksCmd(app))
	cmd.AddCommand(newTasksCmd(app))
	cmd.AddCommand(newAutoCompleteCmd(app))
	cmd.AddCommand(newJiraCmd(app))
	cmd.AddCommand(newGitCmd(app))
	cmd.AddCommand(newConfigCmd(app))
	cmd.AddCommand(newDocsCmd(app))

	return cmd
}

func runTUI(cmd *cobra.Command, app *App) error {
	sess, err := app.session(cmd.Context(), true)
	if err != nil {
		return writeErr(cmd, err)
	}
	defer app.close()
	if err := sess.Seed(cmd.Context()); err != nil {
		app.log.Warn("loading snapshot", zap.Error(err))
	}
	return tui.Run(sess, tui.Options{
		Server:          app.cfg.Server,
		RefreshInterval: app.cfg.PollInterval,
		OpTimeout:       app.cfg.RequestTimeout,
	})
}

// loadConfig resolves flag > env > file > defaults.
func (app *App) loadConfig() (*config.Config, error) {
	if app.cfg != nil {
		return app.cfg, nil
	}
	path := app.ConfigPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if s := strings.TrimSpace(app.Server); s != "" {
		cfg.Server = strings.TrimRight(s, "/")
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	app.cfg = cfg
	return cfg, nil
}

// session opens the dashboard session. CLI commands log to stderr at warn
// level; the TUI logs to the configured file.
func (app *App) session(ctx context.Context, forTUI bool) (*dashboard.Session, error) {
	if app.sess != nil {
		return app.sess, nil
	}
	cfg, err := app.loadConfig()
	if err != nil {
		return nil, err
	}

	opts := logging.Options{Level: "warn", Verbose: app.Verbose}
	if forTUI {
		opts = logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Verbose: app.Verbose}
	}
	log, err := logging.New(opts)
	if err != nil {
		return nil, err
	}
	app.log = log

	snap, err := snapshot.Open(ctx, cfg.StateDir)
	if err != nil {
		if app.Offline {
			return nil, fmt.Errorf("offline mode needs a snapshot: %w", err)
		}
		log.Warn("snapshot unavailable", zap.String("dir", cfg.StateDir), zap.Error(err))
		snap = nil
	}
	app.snap = snap

	sessOpts := dashboard.Options{
		Poll:    poll.Config{Interval: cfg.PollInterval, Timeout: cfg.PollTimeout},
		Logger:  log,
		Offline: app.Offline,
	}
	if snap != nil {
		sessOpts.Snapshot = snap
	}
	if !app.Offline {
		sessOpts.Client = api.New(cfg.Server, api.WithTimeout(cfg.RequestTimeout), api.WithLogger(log.Named("api")))
	}
	app.sess = dashboard.New(sessOpts)
	return app.sess, nil
}

// loaded opens the session and fetches the collection.
func (app *App) loaded(cmd *cobra.Command) (*dashboard.Session, error) {
	sess, err := app.session(cmd.Context(), false)
	if err != nil {
		return nil, err
	}
	if err := sess.Refresh(cmd.Context()); err != nil {
		return nil, err
	}
	return sess, nil
}

// client returns a raw API client for commands that bypass the session.
func (app *App) client() (*api.Client, error) {
	if app.Offline {
		return nil, dashboard.ErrOffline
	}
	cfg, err := app.loadConfig()
	if err != nil {
		return nil, err
	}
	log := app.log
	if log == nil {
		l, err := logging.New(logging.Options{Level: "warn", Verbose: app.Verbose})
		if err != nil {
			return nil, err
		}
		app.log = l
		log = l
	}
	return api.New(cfg.Server, api.WithTimeout(cfg.RequestTimeout), api.WithLogger(log.Named("api"))), nil
}

func (app *App) close() {
	if app.sess != nil {
		app.sess.Close()
		app.sess = nil
	}
	if app.snap != nil {
		_ = app.snap.Close()
		app.snap = nil
	}
	if app.log != nil {
		_ = app.log.Sync()
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return reportedError{err: err}
}
