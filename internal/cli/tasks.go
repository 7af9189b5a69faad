package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ReOpsIL/forge-sub000/internal/dashboard"
	"github.com/ReOpsIL/forge-sub000/internal/model"
	"github.com/ReOpsIL/forge-sub000/internal/poll"
	"github.com/ReOpsIL/forge-sub000/internal/taskmd"
)

func newTasksCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Task commands",
	}
	cmd.AddCommand(newTasksListCmd(app))
	cmd.AddCommand(newTasksShowCmd(app))
	cmd.AddCommand(newTasksAddCmd(app))
	cmd.AddCommand(newTasksEditCmd(app))
	cmd.AddCommand(newTasksDeleteCmd(app))
	cmd.AddCommand(newTasksExecCmd(app))
	cmd.AddCommand(newTasksPromptCmd(app))
	cmd.AddCommand(newTasksExportCmd(app))
	cmd.AddCommand(newTasksImportCmd(app))
	return cmd
}

type taskRow struct {
	TaskID string       `json:"task_id"`
	Name   string       `json:"name"`
	Status model.Status `json:"status"`
	Effort string       `json:"estimated_effort,omitempty"`
	Deps   []string     `json:"dependencies,omitempty"`
}

func newTasksListCmd(app *App) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list <block-id>",
		Short: "List a block's tasks in display order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			ts, err := sess.Tasks(args[0])
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], ""))
			}
			want := model.Status(strings.ToLower(strings.TrimSpace(status)))
			out := make([]taskRow, 0, len(ts))
			for _, t := range ts {
				if want != "" && t.State() != want {
					continue
				}
				out = append(out, taskRow{
					TaskID: t.TaskID,
					Name:   t.DisplayName(),
					Status: t.State(),
					Effort: t.EstimatedEffort,
					Deps:   t.Dependencies,
				})
			}
			return writeOut(cmd, app, map[string]any{"data": out})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only tasks in this state (pending|running|completed|failed)")
	return cmd
}

func newTasksShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <block-id> <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			t, err := sess.Task(args[0], args[1])
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], args[1]))
			}
			return writeOut(cmd, app, map[string]any{"data": t})
		},
	}
	return cmd
}

// taskFlags are shared by add and edit.
type taskFlags struct {
	id          string
	name        string
	description string
	criteria    []string
	deps        []string
	files       []string
	signatures  []string
	tests       []string
	effort      string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Task name")
	cmd.Flags().StringVar(&f.description, "description", "", "Task description")
	cmd.Flags().StringArrayVar(&f.criteria, "criteria", nil, "Acceptance criterion (repeatable)")
	cmd.Flags().StringSliceVar(&f.deps, "deps", nil, "Task ids this task depends on (comma-separated or repeated)")
	cmd.Flags().StringArrayVar(&f.files, "files", nil, "File affected (repeatable)")
	cmd.Flags().StringArrayVar(&f.signatures, "signature", nil, "Function signature (repeatable)")
	cmd.Flags().StringArrayVar(&f.tests, "test", nil, "Testing requirement (repeatable)")
	cmd.Flags().StringVar(&f.effort, "effort", "", "Estimated effort")
}

// apply copies the flags the user set onto t.
func (f *taskFlags) apply(cmd *cobra.Command, t *model.Task) {
	changed := cmd.Flags().Changed
	if changed("name") {
		t.TaskName = strings.TrimSpace(f.name)
	}
	if changed("description") {
		t.Description = strings.TrimSpace(f.description)
	}
	if changed("criteria") {
		t.AcceptanceCriteria = f.criteria
	}
	if changed("deps") {
		t.Dependencies = f.deps
	}
	if changed("files") {
		t.FilesAffected = f.files
	}
	if changed("signature") {
		t.FunctionSignatures = f.signatures
	}
	if changed("test") {
		t.TestingRequirements = f.tests
	}
	if changed("effort") {
		t.EstimatedEffort = strings.TrimSpace(f.effort)
	}
}

func newTasksAddCmd(app *App) *cobra.Command {
	var f taskFlags

	cmd := &cobra.Command{
		Use:   "add <block-id>",
		Short: "Add a task to a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(f.name) == "" && strings.TrimSpace(f.description) == "" {
				return writeErr(cmd, errors.New("missing --name or --description"))
			}
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			t := model.Task{TaskID: strings.TrimSpace(f.id)}
			f.apply(cmd, &t)
			id, err := sess.AddTask(cmd.Context(), args[0], t)
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], ""))
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"block_id": args[0], "task_id": id}})
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&f.id, "id", "", "Task id (generated when empty)")
	return cmd
}

func newTasksEditCmd(app *App) *cobra.Command {
	var f taskFlags

	cmd := &cobra.Command{
		Use:   "edit <block-id> <task-id>",
		Short: "Change fields of a task (only the flags given are applied)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			t, err := sess.Task(args[0], args[1])
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], args[1]))
			}
			f.apply(cmd, &t)
			if err := sess.UpdateTask(cmd.Context(), args[0], t); err != nil {
				return writeErr(cmd, lookupErr(err, args[0], args[1]))
			}
			return writeOut(cmd, app, map[string]any{"data": t})
		},
	}

	f.register(cmd)
	return cmd
}

func newTasksDeleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <block-id> <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := sess.DeleteTask(cmd.Context(), args[0], args[1]); err != nil {
				return writeErr(cmd, lookupErr(err, args[0], args[1]))
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"deleted": args[1]}})
		},
	}
	return cmd
}

type execResult struct {
	TaskID string       `json:"task_id"`
	Result string       `json:"result"`
	Status model.Status `json:"status,omitempty"`
	Polls  int          `json:"polls,omitempty"`
	Error  string       `json:"error,omitempty"`
}

func newTasksExecCmd(app *App) *cobra.Command {
	var (
		wait           bool
		resolveDeps    bool
		forceCompleted bool
	)

	cmd := &cobra.Command{
		Use:   "exec <block-id> <task-id>...",
		Short: "Ask the server to execute tasks",
		Long: strings.TrimSpace(`
Starts execution of one or more tasks. With --wait the command watches each
task until the server marks it completed or failed (or the poll timeout from
the config expires) and exits non-zero unless every task completed.
`),
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blockID, taskIDs := args[0], args[1:]
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}

			// Subscribe before starting so a fast completion is not missed.
			done := make(map[string]chan poll.Result, len(taskIDs))
			for _, id := range taskIDs {
				done[id] = make(chan poll.Result, 1)
			}
			sess.OnChange(func(ev dashboard.Event) {
				if ev.Kind != dashboard.EventTaskStopped || ev.BlockID != blockID {
					return
				}
				if ch, ok := done[ev.TaskID]; ok {
					select {
					case ch <- ev.Result:
					default:
					}
				}
			})

			opts := dashboard.ExecOptions{ResolveDependencies: resolveDeps, ForceCompleted: forceCompleted}
			results := make([]execResult, len(taskIDs))
			for i, id := range taskIDs {
				results[i] = execResult{TaskID: id, Result: "started"}
				if err := sess.Execute(cmd.Context(), blockID, id, opts); err != nil {
					return writeErr(cmd, lookupErr(err, blockID, id))
				}
			}
			if !wait {
				return writeOut(cmd, app, map[string]any{"data": results})
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			for i, id := range taskIDs {
				g.Go(func() error {
					select {
					case res := <-done[id]:
						results[i].Result = res.Reason.String()
						results[i].Status = res.Status
						results[i].Polls = res.Polls
						if res.Err != nil {
							results[i].Error = res.Err.Error()
						}
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				})
			}
			if err := g.Wait(); err != nil {
				return writeErr(cmd, err)
			}

			if err := writeOut(cmd, app, map[string]any{"data": results}); err != nil {
				return err
			}
			var failed []string
			for _, r := range results {
				if r.Result != poll.StopCompleted.String() {
					failed = append(failed, r.TaskID+" ("+r.Result+")")
				}
			}
			if len(failed) > 0 {
				return writeErr(cmd, fmt.Errorf("not completed: %s", strings.Join(failed, ", ")))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Watch until every task completes or fails")
	cmd.Flags().BoolVar(&resolveDeps, "resolve-deps", false, "Let the server run dependencies first")
	cmd.Flags().BoolVar(&forceCompleted, "force-completed", false, "Re-run tasks already marked completed")
	return cmd
}

func newTasksPromptCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt <block-id> <task-id>",
		Short: "Print the implementation prompt for a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			t, err := sess.Task(args[0], args[1])
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], args[1]))
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), taskmd.Prompt(t))
			return err
		},
	}
	return cmd
}

func newTasksExportCmd(app *App) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export <block-id>",
		Short: "Write a block's tasks as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			md, err := sess.ExportMarkdown(args[0])
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], ""))
			}
			if out == "" || out == "-" {
				_, err := cmd.OutOrStdout().Write(md)
				return err
			}
			if err := os.WriteFile(out, md, 0o644); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"path": out, "bytes": len(md)}})
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newTasksImportCmd(app *App) *cobra.Command {
	var serverSide bool

	cmd := &cobra.Command{
		Use:   "import <block-id> <markdown-file>",
		Short: "Add or replace tasks from a markdown document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[1])
			if err != nil {
				return writeErr(cmd, err)
			}
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			res, err := sess.ImportMarkdown(cmd.Context(), args[0], src, serverSide)
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], ""))
			}
			return writeOut(cmd, app, map[string]any{"data": res})
		},
	}

	cmd.Flags().BoolVar(&serverSide, "server-side", false, "Let the server's LLM extract tasks from free-form markdown")
	return cmd
}
