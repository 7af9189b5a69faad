package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ReOpsIL/forge-sub000/internal/api"
	"github.com/ReOpsIL/forge-sub000/internal/config"
)

func newAutoCompleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autocomplete [text]",
		Short: "Ask the server to continue a block description (reads stdin when no text is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 1 {
				text = args[0]
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return writeErr(cmd, err)
				}
				text = string(b)
			}
			if strings.TrimSpace(text) == "" {
				return writeErr(cmd, errors.New("nothing to complete"))
			}
			c, err := app.client()
			if err != nil {
				return writeErr(cmd, err)
			}
			s, err := c.AutoComplete(cmd.Context(), text)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"suggestion": s}})
		},
	}
	return cmd
}

func newJiraCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jira",
		Short: "Jira integration (through the server)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "projects",
		Short: "List Jira projects visible to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.client()
			if err != nil {
				return writeErr(cmd, err)
			}
			ps, err := c.JiraProjects(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": ps})
		},
	})
	cmd.AddCommand(newJiraSyncCmd(app))
	return cmd
}

func newJiraSyncCmd(app *App) *cobra.Command {
	var (
		mode, status, assignee string
		noBlocks, noTasks      bool
		skip                   []string
	)

	cmd := &cobra.Command{
		Use:   "sync <project-key>",
		Short: "Sync blocks and tasks with a Jira project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.JiraSyncRequest{
				JiraProject:    strings.TrimSpace(args[0]),
				SyncMode:       api.JiraSyncMode(strings.ToLower(mode)),
				StatusFilter:   status,
				AssigneeFilter: assignee,
			}
			if cmd.Flags().Changed("no-blocks") {
				req.CreateBlocksFromProjects = boolPtr(!noBlocks)
			}
			if cmd.Flags().Changed("no-tasks") {
				req.CreateTasksFromIssues = boolPtr(!noTasks)
			}
			for _, k := range skip {
				switch strings.ToLower(strings.TrimSpace(k)) {
				case "epics":
					req.IncludeEpics = boolPtr(false)
				case "stories":
					req.IncludeStories = boolPtr(false)
				case "tasks":
					req.IncludeTasks = boolPtr(false)
				case "bugs":
					req.IncludeBugs = boolPtr(false)
				default:
					return writeErr(cmd, fmt.Errorf("invalid --skip %q (want epics|stories|tasks|bugs)", k))
				}
			}
			if err := req.Validate(); err != nil {
				return writeErr(cmd, err)
			}

			sess, err := app.session(cmd.Context(), false)
			if err != nil {
				return writeErr(cmd, err)
			}
			resp, err := sess.SyncJira(cmd.Context(), req)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": resp})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(api.JiraImport), "Sync direction (import|export|bidirectional)")
	cmd.Flags().StringVar(&status, "status", "", "Issue status filter (all|open|closed)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Assignee filter (all|me|unassigned)")
	cmd.Flags().BoolVar(&noBlocks, "no-blocks", false, "Do not create blocks from projects")
	cmd.Flags().BoolVar(&noTasks, "no-tasks", false, "Do not create tasks from issues")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "Issue types to leave out (epics,stories,tasks,bugs)")
	return cmd
}

func boolPtr(b bool) *bool { return &b }

func newGitCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "git",
		Short: "Server-side git information",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "branches",
		Short: "List branches of the server's repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.client()
			if err != nil {
				return writeErr(cmd, err)
			}
			bs, err := c.Branches(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": bs})
		},
	})
	return cmd
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the client configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{
				"server":         cfg.Server,
				"pollInterval":   cfg.PollInterval.String(),
				"pollTimeout":    cfg.PollTimeout.String(),
				"requestTimeout": cfg.RequestTimeout.String(),
				"stateDir":       cfg.StateDir,
				"logFile":        cfg.LogFile,
				"logLevel":       cfg.LogLevel,
			}})
		},
	})
	cmd.AddCommand(newConfigInitCmd(app))
	return cmd
}

func newConfigInitCmd(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the current server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.ConfigPath
			if path == "" {
				p, err := config.Path()
				if err != nil {
					return writeErr(cmd, err)
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return writeErr(cmd, fmt.Errorf("%s already exists (use --force to overwrite)", path))
			}
			cfg := &config.Config{Server: config.DefaultServer}
			if s := strings.TrimSpace(app.Server); s != "" {
				cfg.Server = strings.TrimRight(s, "/")
			}
			if err := cfg.Validate(); err != nil {
				return writeErr(cmd, err)
			}
			if err := config.Save(path, cfg); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"path": path, "server": cfg.Server}})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
