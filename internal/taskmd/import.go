package taskmd

import (
	"errors"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ReOpsIL/forge-sub000/internal/model"
)

// ErrNoTasks is returned when a document has no "## " task headings.
var ErrNoTasks = errors.New("markdown contains no tasks (expected '## <task name>' headings)")

// Document is the parsed form of an exported block.
type Document struct {
	Title       string
	Description string
	Tasks       []model.Task
}

var metaLine = regexp.MustCompile(`^(ID|Status|Effort|Commit):\s*(.*)$`)

// Import parses markdown in the layout written by Export. Tasks without an ID
// line get an empty TaskID; the server assigns one on creation.
func Import(src []byte) (Document, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var out Document
	var docDesc []string

	var cur *model.Task
	var desc []string
	section := ""
	afterHeading := false

	flush := func() {
		if cur == nil {
			return
		}
		cur.Description = strings.Join(desc, "\n\n")
		out.Tasks = append(out.Tasks, *cur)
		cur = nil
		desc = nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		justStarted := afterHeading
		afterHeading = false

		switch node := n.(type) {
		case *ast.Heading:
			title := linesText(node, src)
			switch {
			case node.Level == 1 && cur == nil && out.Title == "":
				out.Title = title
				continue
			case node.Level == 2:
				flush()
				cur = &model.Task{TaskName: title}
				section = ""
				afterHeading = true
				continue
			case node.Level == 3 && cur != nil && isSection(title):
				section = title
				continue
			}
			part := strings.Repeat("#", node.Level) + " " + title
			if cur == nil {
				docDesc = append(docDesc, part)
			} else {
				section = ""
				desc = append(desc, part)
			}

		case *ast.List:
			items := listItems(node, src)
			switch {
			case cur != nil && justStarted && isMeta(items):
				applyMeta(cur, items)
			case cur != nil && section != "":
				appendSection(cur, section, items)
			case cur != nil:
				desc = append(desc, renderList(node, items))
			default:
				docDesc = append(docDesc, renderList(node, items))
			}

		default:
			part := blockText(n, src)
			if part == "" {
				continue
			}
			if cur == nil {
				docDesc = append(docDesc, part)
			} else {
				desc = append(desc, part)
			}
		}
	}
	flush()

	out.Description = strings.Join(docDesc, "\n\n")
	if len(out.Tasks) == 0 {
		return out, ErrNoTasks
	}
	return out, nil
}

func isSection(title string) bool {
	switch title {
	case sectionAcceptance, sectionDeps, sectionFiles, sectionSignatures, sectionTesting:
		return true
	}
	return false
}

func isMeta(items []string) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !metaLine.MatchString(it) {
			return false
		}
	}
	return true
}

func applyMeta(t *model.Task, items []string) {
	for _, it := range items {
		m := metaLine.FindStringSubmatch(it)
		v := strings.TrimSpace(m[2])
		switch m[1] {
		case "ID":
			t.TaskID = unquote(v)
		case "Status":
			t.Status = v
		case "Effort":
			t.EstimatedEffort = v
		case "Commit":
			t.CommitID = unquote(v)
		}
	}
}

func appendSection(t *model.Task, section string, items []string) {
	switch section {
	case sectionAcceptance:
		t.AcceptanceCriteria = append(t.AcceptanceCriteria, items...)
	case sectionDeps:
		t.Dependencies = append(t.Dependencies, items...)
	case sectionFiles:
		t.FilesAffected = append(t.FilesAffected, items...)
	case sectionSignatures:
		for _, it := range items {
			t.FunctionSignatures = append(t.FunctionSignatures, unquote(it))
		}
	case sectionTesting:
		t.TestingRequirements = append(t.TestingRequirements, items...)
	}
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`") {
		return s[1 : len(s)-1]
	}
	return s
}

func listItems(l *ast.List, src []byte) []string {
	var out []string
	for li := l.FirstChild(); li != nil; li = li.NextSibling() {
		var parts []string
		for c := li.FirstChild(); c != nil; c = c.NextSibling() {
			if s := linesText(c, src); s != "" {
				parts = append(parts, s)
			}
		}
		out = append(out, strings.Join(parts, " "))
	}
	return out
}

func renderList(l *ast.List, items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		if l.IsOrdered() {
			lines[i] = itoa(int(l.Start)+i) + ". " + it
		} else {
			lines[i] = "- " + it
		}
	}
	return strings.Join(lines, "\n")
}

func blockText(n ast.Node, src []byte) string {
	body := linesText(n, src)
	if fc, ok := n.(*ast.FencedCodeBlock); ok {
		return "```" + string(fc.Language(src)) + "\n" + body + "\n```"
	}
	return body
}

func linesText(n ast.Node, src []byte) string {
	lines := n.Lines()
	if lines == nil {
		return ""
	}
	out := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out = append(out, strings.TrimRight(string(seg.Value(src)), "\r\n"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b [20]byte
	pos := len(b)
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}
