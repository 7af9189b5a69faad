package taskmd

import (
	"fmt"
	"strings"

	"github.com/ReOpsIL/forge-sub000/internal/model"
)

// Section titles, in the order they are written.
const (
	sectionAcceptance = "Acceptance Criteria"
	sectionDeps       = "Dependencies"
	sectionFiles      = "Files Affected"
	sectionSignatures = "Function Signatures"
	sectionTesting    = "Testing Requirements"
)

// Export renders a block and its tasks (already in display order) as markdown.
// Import reads the same layout back.
func Export(b model.Block, tasks []model.Task) []byte {
	title := oneLine(b.Name)
	if title == "" {
		title = b.BlockID
	}
	parts := []string{"# " + title}
	if d := strings.TrimSpace(b.Description); d != "" {
		parts = append(parts, d)
	}

	for _, t := range tasks {
		parts = append(parts, "## "+oneLine(t.DisplayName()))

		var meta []string
		if t.TaskID != "" {
			meta = append(meta, "- ID: `"+t.TaskID+"`")
		}
		if s := strings.TrimSpace(t.Status); s != "" {
			meta = append(meta, "- Status: "+oneLine(s))
		}
		if e := strings.TrimSpace(t.EstimatedEffort); e != "" {
			meta = append(meta, "- Effort: "+oneLine(e))
		}
		if c := strings.TrimSpace(t.CommitID); c != "" {
			meta = append(meta, "- Commit: `"+c+"`")
		}
		if len(meta) > 0 {
			parts = append(parts, strings.Join(meta, "\n"))
		}

		if d := strings.TrimSpace(t.Description); d != "" {
			parts = append(parts, d)
		}

		sections := []struct {
			title string
			items []string
			code  bool
		}{
			{sectionAcceptance, t.AcceptanceCriteria, false},
			{sectionDeps, t.Dependencies, false},
			{sectionFiles, t.FilesAffected, false},
			{sectionSignatures, t.FunctionSignatures, true},
			{sectionTesting, t.TestingRequirements, false},
		}
		for _, s := range sections {
			if len(s.items) == 0 {
				continue
			}
			lines := make([]string, 0, len(s.items))
			for _, it := range s.items {
				it = oneLine(it)
				if s.code {
					it = "`" + it + "`"
				}
				lines = append(lines, "- "+it)
			}
			parts = append(parts, "### "+s.title, strings.Join(lines, "\n"))
		}
	}
	return []byte(strings.Join(parts, "\n\n") + "\n")
}

// Prompt renders the execution prompt for a task: objective, requirements and
// deliverables, in the layout the server feeds to the coding agent.
func Prompt(t model.Task) string {
	var p strings.Builder

	fmt.Fprintf(&p, "# %s Task\n\n", t.TaskName)
	p.WriteString("## Objective\n")
	fmt.Fprintf(&p, "%s\n\n", t.Description)
	p.WriteString("## Task Details\n\n")

	if len(t.AcceptanceCriteria) > 0 {
		p.WriteString("### Primary Requirements\n")
		for i, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&p, "%d. %s\n", i+1, c)
		}
		p.WriteString("\n")
	}
	if len(t.FunctionSignatures) > 0 {
		p.WriteString("### Function Signatures\n```\n")
		for _, s := range t.FunctionSignatures {
			fmt.Fprintf(&p, "%s\n", s)
		}
		p.WriteString("```\n\n")
	}
	if len(t.AcceptanceCriteria) > 0 {
		p.WriteString("### Acceptance Criteria\n")
		for _, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&p, "- %s\n", c)
		}
		p.WriteString("\n")
	}
	if len(t.FilesAffected) > 0 {
		p.WriteString("### Files to Modify\n")
		for _, f := range t.FilesAffected {
			fmt.Fprintf(&p, "- %s\n", f)
		}
		p.WriteString("\n")
	}
	if len(t.Dependencies) > 0 {
		p.WriteString("### Dependencies\n")
		for _, d := range t.Dependencies {
			fmt.Fprintf(&p, "- %s\n", d)
		}
		p.WriteString("\n")
	}
	if len(t.TestingRequirements) > 0 {
		p.WriteString("### Testing Requirements\n")
		for i, r := range t.TestingRequirements {
			fmt.Fprintf(&p, "%d. %s\n", i+1, r)
		}
		p.WriteString("\n")
	}
	if t.Log != "" {
		p.WriteString("### Implementation Notes\n")
		fmt.Fprintf(&p, "%s\n\n", t.Log)
	}

	p.WriteString("## Deliverables\n")
	p.WriteString("- Complete implementation of the task according to the requirements\n")
	if len(t.TestingRequirements) > 0 {
		p.WriteString("- Unit tests covering all acceptance criteria\n")
	}
	if len(t.FilesAffected) > 0 {
		p.WriteString("- Updated files with the necessary changes\n")
	}
	return p.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
