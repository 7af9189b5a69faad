package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/ReOpsIL/forge-sub000/internal/docs"
)

func newDocsCmd(app *App) *cobra.Command {
	var (
		render bool
		style  string
	)

	cmd := &cobra.Command{
		Use:   "docs [topic]",
		Short: "Show help topics (no topic lists them)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return writeOut(cmd, app, map[string]any{"data": docs.Topics()})
			}
			topic, err := docs.Lookup(args[0])
			if err != nil {
				return writeErr(cmd, fmt.Errorf("%w (have: %s)", err, strings.Join(docs.Names(), ", ")))
			}
			md := topic.Body
			if render {
				out, err := glamour.Render(md, style)
				if err != nil {
					return writeErr(cmd, err)
				}
				md = out
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), md)
			return err
		},
	}

	cmd.Flags().BoolVar(&render, "render", false, "Render for the terminal")
	cmd.Flags().StringVar(&style, "style", "dark", "Render style (dark|light|notty)")
	return cmd
}
