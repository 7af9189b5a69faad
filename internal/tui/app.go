package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ReOpsIL/forge-sub000/internal/dashboard"
	"github.com/ReOpsIL/forge-sub000/internal/model"
	"github.com/ReOpsIL/forge-sub000/internal/taskmd"
)

type pane int

const (
	paneBlocks pane = iota
	paneTasks
)

type modalKind int

const (
	modalNone modalKind = iota
	modalAddTask
	modalRenameTask
	modalConfirmDelete
)

type reloadTickMsg struct{}

type sessionChangedMsg struct {
	ev dashboard.Event
}

// opDoneMsg reports the end of a background session call.
type opDoneMsg struct {
	what string
	err  error
}

type Options struct {
	// Server is shown in the header.
	Server string
	// RefreshInterval is the background refresh cadence.
	RefreshInterval time.Duration
	// OpTimeout bounds each server call started from the UI.
	OpTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 5 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 30 * time.Second
	}
	return o
}

type appModel struct {
	sess    *dashboard.Session
	opts    Options
	changes <-chan dashboard.Event

	width  int
	height int

	pane    pane
	blocks  list.Model
	tasks   list.Model
	detail  viewport.Model
	spinner spinner.Model
	input   textinput.Model
	help    help.Model
	keys    keyMap

	selectedBlockID string

	modal modalKind
	// The row a modal acts on, fixed when it opens.
	modalBlockID string
	modalTaskID  string
	showHelp     bool
	refreshing   bool

	status    string
	statusErr bool
}

func newAppModel(sess *dashboard.Session, changes <-chan dashboard.Event, opts Options) appModel {
	m := appModel{
		sess:    sess,
		opts:    opts.withDefaults(),
		changes: changes,
		blocks:  newList("Blocks"),
		tasks:   newList("Tasks"),
		detail:  viewport.New(0, 0),
		spinner: spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		input:   textinput.New(),
		help:    help.New(),
		keys:    defaultKeyMap(),
	}
	m.input.CharLimit = 200
	m.syncLists()
	return m
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(
		m.refreshCmd(false),
		tickReload(m.opts.RefreshInterval),
		waitForChange(m.changes),
		m.spinner.Tick,
	)
}

func tickReload(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return reloadTickMsg{} })
}

func waitForChange(ch <-chan dashboard.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return sessionChangedMsg{ev: ev}
	}
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case reloadTickMsg:
		cmds := []tea.Cmd{tickReload(m.opts.RefreshInterval)}
		if !m.refreshing {
			m.refreshing = true
			cmds = append(cmds, m.refreshCmd(false))
		}
		return m, tea.Batch(cmds...)

	case sessionChangedMsg:
		m.syncLists()
		if msg.ev.Kind == dashboard.EventTaskStopped {
			r := msg.ev.Result
			m.setStatus(fmt.Sprintf("task %s: %s", msg.ev.TaskID, r.Reason), r.Err != nil)
		}
		return m, waitForChange(m.changes)

	case opDoneMsg:
		if msg.what == "refresh" {
			m.refreshing = false
		}
		if msg.err != nil {
			m.setStatus(msg.what+": "+msg.err.Error(), true)
		} else if msg.what != "refresh" {
			m.setStatus(msg.what+": ok", false)
		}
		m.syncLists()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.anyRunning() {
			m.syncTasks()
		}
		return m, cmd

	case tea.KeyMsg:
		if m.modal != modalNone {
			return m.updateModal(msg)
		}
		return m.updateKey(msg)
	}
	return m, nil
}

func (m appModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.resize()
		return m, nil
	case key.Matches(msg, m.keys.SwitchPane):
		if m.pane == paneBlocks {
			m.pane = paneTasks
		} else {
			m.pane = paneBlocks
		}
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		m.setStatus("refreshing…", false)
		return m, m.refreshCmd(false)
	case key.Matches(msg, m.keys.RefreshAll):
		m.setStatus("refreshing (server order)…", false)
		return m, m.refreshCmd(true)
	case key.Matches(msg, m.keys.Enhance):
		return m, m.blockCmd("enhance", m.sess.Enhance)
	case key.Matches(msg, m.keys.Generate):
		return m, m.blockCmd("generate tasks", m.sess.GenerateTasks)
	}

	if m.pane == paneBlocks {
		switch {
		case key.Matches(msg, m.keys.Open):
			m.pane = paneTasks
			return m, nil
		case key.Matches(msg, m.keys.Add):
			return m.openModal(modalAddTask, "", "")
		}
		var cmd tea.Cmd
		m.blocks, cmd = m.blocks.Update(msg)
		if it, ok := m.blocks.SelectedItem().(blockItem); ok && it.block.BlockID != m.selectedBlockID {
			m.selectedBlockID = it.block.BlockID
			m.tasks.Select(0)
			m.syncTasks()
		}
		return m, cmd
	}

	t, hasTask := m.selectedTask()
	switch {
	case key.Matches(msg, m.keys.Back):
		m.pane = paneBlocks
		return m, nil
	case key.Matches(msg, m.keys.Open):
		if hasTask {
			m.sess.ToggleExpanded(m.selectedBlockID, t.TaskID)
			m.syncTasks()
		}
		return m, nil
	case key.Matches(msg, m.keys.Execute), key.Matches(msg, m.keys.ExecuteDeps):
		if !hasTask {
			return m, nil
		}
		opts := dashboard.ExecOptions{ResolveDependencies: key.Matches(msg, m.keys.ExecuteDeps)}
		return m, m.executeCmd(m.selectedBlockID, t.TaskID, opts)
	case key.Matches(msg, m.keys.Stop):
		if hasTask {
			if m.sess.Stop(m.selectedBlockID, t.TaskID) {
				m.setStatus("stopped watching "+t.TaskID, false)
			}
			m.syncTasks()
		}
		return m, nil
	case key.Matches(msg, m.keys.Add):
		return m.openModal(modalAddTask, "", "")
	case key.Matches(msg, m.keys.Edit):
		if hasTask {
			return m.openModal(modalRenameTask, t.TaskID, t.TaskName)
		}
		return m, nil
	case key.Matches(msg, m.keys.Delete):
		if hasTask {
			return m.openModal(modalConfirmDelete, t.TaskID, "")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.tasks, cmd = m.tasks.Update(msg)
	m.updateDetail()
	return m, cmd
}

func (m appModel) openModal(kind modalKind, taskID, value string) (tea.Model, tea.Cmd) {
	if m.selectedBlockID == "" {
		return m, nil
	}
	m.modal = kind
	m.modalBlockID = m.selectedBlockID
	m.modalTaskID = taskID
	m.input.SetValue(value)
	m.input.CursorEnd()
	switch kind {
	case modalAddTask:
		m.input.Placeholder = "new task name"
	case modalRenameTask:
		m.input.Placeholder = "task name"
	case modalConfirmDelete:
		return m, nil
	}
	cmd := m.input.Focus()
	return m, cmd
}

func (m appModel) closeModal() appModel {
	m.modal = modalNone
	m.modalBlockID = ""
	m.modalTaskID = ""
	m.input.Blur()
	m.input.SetValue("")
	return m
}

func (m appModel) updateModal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	blockID, taskID := m.modalBlockID, m.modalTaskID

	if m.modal == modalConfirmDelete {
		kind := msg.String()
		m = m.closeModal()
		if kind == "y" || kind == "Y" {
			return m, m.opCmd("delete task", func(ctx context.Context) error {
				return m.sess.DeleteTask(ctx, blockID, taskID)
			})
		}
		return m, nil
	}

	switch msg.Type {
	case tea.KeyEsc:
		return m.closeModal(), nil
	case tea.KeyEnter:
		value := strings.TrimSpace(m.input.Value())
		kind := m.modal
		m = m.closeModal()
		if value == "" {
			return m, nil
		}
		switch kind {
		case modalAddTask:
			return m, m.opCmd("add task to "+blockID, func(ctx context.Context) error {
				_, err := m.sess.AddTask(ctx, blockID, model.Task{TaskName: value, Description: value})
				return err
			})
		case modalRenameTask:
			return m, m.opCmd("rename task", func(ctx context.Context) error {
				t, err := m.sess.Task(blockID, taskID)
				if err != nil {
					return err
				}
				t.TaskName = value
				return m.sess.UpdateTask(ctx, blockID, t)
			})
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *appModel) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m appModel) opCmd(what string, fn func(ctx context.Context) error) tea.Cmd {
	timeout := m.opts.OpTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return opDoneMsg{what: what, err: fn(ctx)}
	}
}

func (m appModel) refreshCmd(all bool) tea.Cmd {
	sess := m.sess
	return m.opCmd("refresh", func(ctx context.Context) error {
		if all {
			return sess.RefreshAll(ctx)
		}
		return sess.Refresh(ctx)
	})
}

func (m appModel) executeCmd(blockID, taskID string, opts dashboard.ExecOptions) tea.Cmd {
	sess := m.sess
	return m.opCmd("execute "+taskID, func(ctx context.Context) error {
		return sess.Execute(ctx, blockID, taskID, opts)
	})
}

func (m appModel) blockCmd(what string, fn func(context.Context, string) error) tea.Cmd {
	blockID := m.selectedBlockID
	if blockID == "" {
		return nil
	}
	return m.opCmd(what, func(ctx context.Context) error { return fn(ctx, blockID) })
}

func (m appModel) selectedTask() (model.Task, bool) {
	it, ok := m.tasks.SelectedItem().(taskItem)
	if !ok {
		return model.Task{}, false
	}
	return it.task, true
}

func (m appModel) anyRunning() bool {
	for _, it := range m.tasks.Items() {
		if ti, ok := it.(taskItem); ok && ti.ui.Running {
			return true
		}
	}
	return false
}

// syncLists reloads both lists from the session, keeping the cursor on the
// same block and task when they still exist.
func (m *appModel) syncLists() {
	blocks := m.sess.Blocks()
	items := make([]list.Item, len(blocks))
	for i, b := range blocks {
		items[i] = blockItem{block: b}
	}
	m.blocks.SetItems(items)
	if m.selectedBlockID != "" {
		selectByKey(&m.blocks, m.selectedBlockID)
	}
	if it, ok := m.blocks.SelectedItem().(blockItem); ok {
		m.selectedBlockID = it.block.BlockID
	} else {
		m.selectedBlockID = ""
	}
	m.syncTasks()
}

func (m *appModel) syncTasks() {
	prev := ""
	if t, ok := m.selectedTask(); ok {
		prev = t.TaskID
	}
	var items []list.Item
	if m.selectedBlockID != "" {
		ts, _ := m.sess.Tasks(m.selectedBlockID)
		frame := m.spinner.View()
		items = make([]list.Item, len(ts))
		for i, t := range ts {
			items[i] = taskItem{
				blockID: m.selectedBlockID,
				task:    t,
				ui:      m.sess.UI(m.selectedBlockID, t.TaskID),
				frame:   frame,
			}
		}
	}
	m.tasks.SetItems(items)
	if prev != "" {
		selectByKey(&m.tasks, prev)
	}
	m.updateDetail()
}

func (m *appModel) updateDetail() {
	it, ok := m.tasks.SelectedItem().(taskItem)
	if !ok {
		m.detail.SetContent(styleMuted().Render("No task selected."))
		return
	}
	t := it.task

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** `%s` · %s", t.DisplayName(), t.TaskID, t.State())
	if it.ui.Running {
		b.WriteString(" · watching")
	} else if it.ui.LastStop != "" {
		b.WriteString(" · last run: " + it.ui.LastStop)
	}
	b.WriteString("\n\n")
	if it.ui.Expanded {
		b.WriteString(taskmd.Prompt(t))
	} else if d := strings.TrimSpace(t.Description); d != "" {
		b.WriteString(d)
	}
	m.detail.SetContent(renderMarkdown(b.String(), m.detail.Width))
	m.detail.GotoTop()
}

func (m *appModel) layout() (leftW, rightW, bodyH, listH, detailH int) {
	leftW = m.width / 3
	if leftW < 20 {
		leftW = 20
	}
	rightW = m.width - leftW
	footer := 1
	if m.showHelp {
		footer = 5
	}
	bodyH = m.height - 1 - footer
	if bodyH < 6 {
		bodyH = 6
	}
	inner := bodyH - 2
	listH = inner / 2
	detailH = inner - listH - 1
	if detailH < 1 {
		detailH = 1
	}
	return
}

func (m *appModel) resize() {
	leftW, rightW, bodyH, listH, detailH := m.layout()
	m.blocks.SetSize(max(leftW-2, 4), max(bodyH-2, 1))
	m.tasks.SetSize(max(rightW-2, 4), max(listH, 1))
	m.detail.Width = max(rightW-2, 10)
	m.detail.Height = detailH
	m.help.Width = m.width
	m.updateDetail()
}

func (m appModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "loading…"
	}
	leftW, rightW, bodyH, _, _ := m.layout()

	header := styleHeader().Render("forge")
	meta := []string{m.opts.Server}
	if m.sess.Offline() {
		meta = append(meta, "offline")
	}
	if at := m.sess.FetchedAt(); !at.IsZero() {
		meta = append(meta, "updated "+at.Format("15:04:05"))
	}
	if n := m.sess.Running(); n > 0 {
		meta = append(meta, fmt.Sprintf("%d running", n))
	}
	header += " " + styleMuted().Render(strings.Join(meta, " · "))

	left := stylePane(m.pane == paneBlocks).
		Width(leftW - 2).
		Height(bodyH - 2).
		Render(m.blocks.View())
	sep := styleMuted().Render(strings.Repeat("─", max(rightW-2, 1)))
	right := stylePane(m.pane == paneTasks).
		Width(rightW - 2).
		Height(bodyH - 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, m.tasks.View(), sep, m.detail.View()))

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.footer())
}

func (m appModel) footer() string {
	switch m.modal {
	case modalAddTask:
		return "add task: " + m.input.View()
	case modalRenameTask:
		return "rename: " + m.input.View()
	case modalConfirmDelete:
		return styleError().Render("delete task " + m.modalTaskID + "? (y/N)")
	}
	if m.showHelp {
		return m.help.FullHelpView(m.keys.FullHelp())
	}
	if m.status != "" {
		if m.statusErr {
			return styleError().Render(m.status)
		}
		return m.status
	}
	return m.help.ShortHelpView(m.keys.ShortHelp())
}
