package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ReOpsIL/forge-sub000/internal/cli"
)

// splitTaskRef reports whether s looks like "<block-id>/<task-id>".
func splitTaskRef(s string) (string, string, bool) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		return "", "", false
	}
	blockID, taskID, ok := strings.Cut(s, "/")
	if !ok || blockID == "" || taskID == "" || strings.Contains(taskID, "/") {
		return "", "", false
	}
	return blockID, taskID, true
}

// rewriteTaskRefArgs lets `forge <block-id>/<task-id>` work like
// `forge tasks show <block-id> <task-id>`. Cobra treats the first positional
// token as a subcommand, so argv is rewritten before parsing.
func rewriteTaskRefArgs(argv []string) []string {
	if len(argv) < 2 {
		return argv
	}

	valueFlags := map[string]bool{
		"--server": true,
		"--config": true,
		"--format": true,
	}

	rewrite := func(i int) []string {
		blockID, taskID, ok := splitTaskRef(argv[i])
		if !ok {
			return argv
		}
		out := make([]string, 0, len(argv)+3)
		out = append(out, argv[:i]...)
		out = append(out, "tasks", "show", blockID, taskID)
		out = append(out, argv[i+1:]...)
		return out
	}

	for i := 1; i < len(argv); i++ {
		a := strings.TrimSpace(argv[i])
		if a == "" {
			continue
		}
		if a == "--" {
			if i+1 < len(argv) {
				if out := rewrite(i + 1); len(out) != len(argv) {
					return out
				}
			}
			return argv
		}
		if strings.HasPrefix(a, "-") {
			if !strings.Contains(a, "=") && valueFlags[a] {
				i++
			}
			continue
		}
		return rewrite(i)
	}
	return argv
}

func main() {
	os.Args = rewriteTaskRefArgs(os.Args)

	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		if !cli.Reported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
