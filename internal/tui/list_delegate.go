package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"

	"github.com/ReOpsIL/forge-sub000/internal/dashboard"
	"github.com/ReOpsIL/forge-sub000/internal/model"
)

type blockItem struct {
	block model.Block
}

func (i blockItem) FilterValue() string { return i.block.Name }
func (i blockItem) Title() string {
	name := i.block.Name
	if name == "" {
		name = i.block.BlockID
	}
	return fmt.Sprintf("%s (%d)", name, i.block.TodoList.Len())
}

type taskItem struct {
	blockID string
	task    model.Task
	ui      dashboard.TaskUIState
	// frame is the spinner frame shown while the task is running.
	frame string
}

func (i taskItem) FilterValue() string { return i.task.DisplayName() }
func (i taskItem) Title() string {
	glyph := statusGlyph(i.task.State())
	if i.ui.Running {
		glyph = i.frame
	}
	return glyph + " " + i.task.DisplayName()
}

func statusGlyph(s model.Status) string {
	switch s {
	case model.StatusCompleted:
		return lipgloss.NewStyle().Foreground(colorCompleted).Render("✔")
	case model.StatusFailed:
		return lipgloss.NewStyle().Foreground(colorFailed).Render("✘")
	case model.StatusRunning:
		return lipgloss.NewStyle().Foreground(colorRunning).Render("◐")
	default:
		return styleMuted().Render("○")
	}
}

// rowDelegate renders one-line rows cut to the list width.
type rowDelegate struct {
	normal   lipgloss.Style
	selected lipgloss.Style
}

func newRowDelegate() rowDelegate {
	return rowDelegate{
		normal: lipgloss.NewStyle(),
		selected: lipgloss.NewStyle().
			Foreground(colorSelectedFg).
			Background(colorSelectedBg).
			Bold(true),
	}
}

func (d rowDelegate) Height() int                             { return 1 }
func (d rowDelegate) Spacing() int                            { return 0 }
func (d rowDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d rowDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	contentW := m.Width()
	if contentW < 4 {
		return
	}

	style := d.normal
	if index == m.Index() {
		style = d.selected
	}

	txt := ""
	if t, ok := item.(interface{ Title() string }); ok {
		txt = t.Title()
	} else {
		txt = fmt.Sprint(item)
	}

	line := txt
	lineW := xansi.StringWidth(line)
	if lineW < contentW {
		line += strings.Repeat(" ", contentW-lineW)
	} else if lineW > contentW {
		line = xansi.Truncate(line, contentW-1, "…")
	}

	fmt.Fprint(w, style.Render(line))
}

func newList(title string) list.Model {
	l := list.New(nil, newRowDelegate(), 0, 0)
	l.Title = title
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetShowPagination(false)
	l.SetFilteringEnabled(false)
	// Letter keys belong to the dashboard's own bindings.
	l.KeyMap.Quit.SetEnabled(false)
	l.KeyMap.PrevPage.SetKeys("left", "pgup")
	l.KeyMap.NextPage.SetKeys("right", "pgdown")
	l.KeyMap.GoToStart.SetKeys("home")
	l.KeyMap.GoToEnd.SetKeys("end")
	l.KeyMap.ShowFullHelp.SetEnabled(false)
	l.KeyMap.CloseFullHelp.SetEnabled(false)
	cursorUp := append([]string{}, l.KeyMap.CursorUp.Keys()...)
	l.KeyMap.CursorUp.SetKeys(append(cursorUp, "ctrl+p")...)
	cursorDown := append([]string{}, l.KeyMap.CursorDown.Keys()...)
	l.KeyMap.CursorDown.SetKeys(append(cursorDown, "ctrl+n")...)
	return l
}

// selectByKey moves the cursor to the row whose key is id, if present.
func selectByKey(l *list.Model, id string) {
	for i, it := range l.Items() {
		switch it := it.(type) {
		case blockItem:
			if it.block.BlockID == id {
				l.Select(i)
				return
			}
		case taskItem:
			if it.task.TaskID == id {
				l.Select(i)
				return
			}
		}
	}
}
