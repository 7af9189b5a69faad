package cli

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ReOpsIL/forge-sub000/internal/dashboard"
	"github.com/ReOpsIL/forge-sub000/internal/model"
)

func newBlocksCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "blocks",
		Aliases: []string{"block"},
		Short:   "Block commands",
	}
	cmd.AddCommand(newBlocksListCmd(app))
	cmd.AddCommand(newBlocksShowCmd(app))
	cmd.AddCommand(newBlocksCreateCmd(app))
	cmd.AddCommand(newBlocksUpdateCmd(app))
	cmd.AddCommand(newBlocksDeleteCmd(app))
	cmd.AddCommand(newBlocksActionCmd(app, "enhance", "Rewrite the block description with the server's LLM", (*dashboard.Session).Enhance))
	cmd.AddCommand(newBlocksActionCmd(app, "generate-tasks", "Generate tasks from the block description", (*dashboard.Session).GenerateTasks))
	cmd.AddCommand(newBlocksDepsCmd(app))
	cmd.AddCommand(newBlocksFromSpecCmd(app))
	return cmd
}

type blockSummary struct {
	BlockID     string `json:"block_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tasks       int    `json:"tasks"`
	Completed   int    `json:"completed"`
}

func summarize(b model.Block) blockSummary {
	s := blockSummary{BlockID: b.BlockID, Name: b.Name, Description: b.Description, Tasks: b.TodoList.Len()}
	for _, t := range b.TodoList.Tasks() {
		if t.State() == model.StatusCompleted {
			s.Completed++
		}
	}
	return s
}

func newBlocksListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blocks in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			blocks := sess.Blocks()
			out := make([]blockSummary, len(blocks))
			for i, b := range blocks {
				out[i] = summarize(b)
			}
			return writeOut(cmd, app, map[string]any{"data": out})
		},
	}
	return cmd
}

func newBlocksShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <block-id>",
		Short: "Show a block with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			b, err := sess.Block(args[0])
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], ""))
			}
			ts, _ := sess.Tasks(args[0])
			return writeOut(cmd, app, map[string]any{
				"data": b,
				"meta": map[string]any{"task_order": taskIDsOf(ts)},
			})
		},
	}
	return cmd
}

func newBlocksCreateCmd(app *App) *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a block (the server assigns the id)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			b, err := sess.CreateBlock(cmd.Context(), model.Block{
				Name:        strings.TrimSpace(name),
				Description: strings.TrimSpace(description),
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": summarize(b)})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Block name (unique)")
	cmd.Flags().StringVar(&description, "description", "", "Block description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newBlocksUpdateCmd(app *App) *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "update <block-id>",
		Short: "Update a block's name or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			b, err := sess.Block(args[0])
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], ""))
			}
			if cmd.Flags().Changed("name") {
				b.Name = strings.TrimSpace(name)
			}
			if cmd.Flags().Changed("description") {
				b.Description = strings.TrimSpace(description)
			}
			if err := sess.UpdateBlock(cmd.Context(), b); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": summarize(b)})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	return cmd
}

func newBlocksDeleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <block-id>",
		Short: "Delete a block and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := sess.DeleteBlock(cmd.Context(), args[0]); err != nil {
				return writeErr(cmd, lookupErr(err, args[0], ""))
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"deleted": args[0]}})
		},
	}
	return cmd
}

func newBlocksActionCmd(app *App, use, short string, fn func(*dashboard.Session, context.Context, string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <block-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.loaded(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := fn(sess, cmd.Context(), args[0]); err != nil {
				return writeErr(cmd, lookupErr(err, args[0], ""))
			}
			b, err := sess.Block(args[0])
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], ""))
			}
			return writeOut(cmd, app, map[string]any{"data": b})
		},
	}
	return cmd
}

func newBlocksDepsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps <block-id>",
		Short: "Show task dependencies of a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.session(cmd.Context(), false)
			if err != nil {
				return writeErr(cmd, err)
			}
			deps, err := sess.Dependencies(cmd.Context(), args[0])
			if err != nil {
				return writeErr(cmd, lookupErr(err, args[0], ""))
			}
			return writeOut(cmd, app, map[string]any{"data": deps})
		},
	}
	return cmd
}

func newBlocksFromSpecCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "from-spec <markdown-file>",
		Short: "Ask the server to derive blocks from a specification document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			c, err := app.client()
			if err != nil {
				return writeErr(cmd, err)
			}
			resp, err := c.ProcessSpec(cmd.Context(), string(src))
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": resp})
		},
	}
	return cmd
}

func taskIDsOf(ts []model.Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.TaskID
	}
	return out
}
