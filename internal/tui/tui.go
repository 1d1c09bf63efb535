// Package tui is the interactive task list. It renders whatever the
// stores hold and turns key presses into store operations; the stores
// decide what the list looks like afterwards.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang/glog"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/ui"
)

// Tasks is the part of the task store the view drives.
type Tasks interface {
	Tasks() []model.Task
	Loading() bool
	ErrorMessage() string
	Identity() *model.Identity
	Reload(ctx context.Context) error
	Add(ctx context.Context, title string) (model.Task, error)
	Update(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error)
	ToggleCompleted(ctx context.Context, id string) (model.Task, bool, error)
	Remove(ctx context.Context, id string) error
	OnChange(fn func()) (unsubscribe func())
}

// Profile is the part of the profile store the view drives.
type Profile interface {
	Profile() *model.Profile
	ErrorMessage() string
	UpdateUsername(ctx context.Context, username string) (model.Profile, error)
	OnChange(fn func()) (unsubscribe func())
}

type Options struct {
	// SignOut ends the session; nil hides the key.
	SignOut func() error
	Timeout time.Duration
}

type mode int

const (
	browsing mode = iota
	adding
	editing
	renaming
)

// listItem adapts model.Task to bubbles/list.Item
type listItem struct {
	task model.Task
}

func (i listItem) Title() string       { return i.task.Title }
func (i listItem) Description() string { return "" }
func (i listItem) FilterValue() string { return i.task.Title }

// itemDelegate renders one task per line
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, _ := item.(listItem)
	t := ui.Current()
	box := ui.MutedStyle.Render(t.BoxUnchecked)
	text := it.task.Title
	if it.task.Completed {
		box = ui.SuccessStyle.Render(t.BoxChecked)
		text = ui.DoneStyle.Render(text)
	}
	prefix := "  "
	if index == m.Index() {
		prefix = ui.SelectedStyle.Render("> ")
	}
	fmt.Fprintln(w, prefix+box+" "+text)
}

// changedMsg means a store changed; opMsg reports a finished operation.
type changedMsg struct{}

type opMsg struct {
	verb string
	err  error
	// undo is set by a successful delete
	undo *model.Task
}

type Model struct {
	tasks   Tasks
	profile Profile
	opt     Options
	changes chan struct{}

	list list.Model
	ti   textinput.Model
	mode mode

	editID   string
	inputErr string
	status   string
	undo     *model.Task

	width, height int
}

var (
	addKey     = key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add"))
	editKey    = key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit"))
	toggleKey  = key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle"))
	deleteKey  = key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete"))
	undoKey    = key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "undo"))
	refreshKey = key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh"))
	renameKey  = key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "username"))
	logoutKey  = key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "sign out"))
)

func New(tasks Tasks, profile Profile, opt Options) Model {
	if opt.Timeout <= 0 {
		opt.Timeout = 15 * time.Second
	}
	l := list.New(nil, itemDelegate{}, 0, 0)
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = ui.TitleStyle
	l.Styles.HelpStyle = ui.HelpStyle
	l.Styles.PaginationStyle = ui.HelpStyle
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("task", "tasks")
	bindings := func() []key.Binding {
		b := []key.Binding{addKey, editKey, toggleKey, deleteKey, undoKey, refreshKey, renameKey}
		if opt.SignOut != nil {
			b = append(b, logoutKey)
		}
		return b
	}
	l.AdditionalShortHelpKeys = bindings
	l.AdditionalFullHelpKeys = bindings

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 200

	m := Model{
		tasks:   tasks,
		profile: profile,
		opt:     opt,
		changes: make(chan struct{}, 1),
		list:    l,
		ti:      ti,
		width:   80,
		height:  24,
	}
	m.sync()
	return m
}

// Run shows the list full screen until the user quits.
func Run(tasks Tasks, profile Profile, opt Options) error {
	m := New(tasks, profile, opt)
	stopTasks := tasks.OnChange(m.notify)
	defer stopTasks()
	stopProfile := profile.OnChange(m.notify)
	defer stopProfile()

	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// notify never blocks; pending notices collapse into one redraw.
func (m Model) notify() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func (m Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return changedMsg{}
	}
}

func (m Model) Init() tea.Cmd { return m.waitForChange() }

// run performs op off the event loop.
func (m Model) run(verb string, op func(ctx context.Context) (*model.Task, error)) tea.Cmd {
	timeout := m.opt.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		undo, err := op(ctx)
		if err != nil {
			glog.Infof("[tui]%s error = %s", verb, err)
		}
		return opMsg{verb: verb, err: err, undo: undo}
	}
}

func (m *Model) selected() (model.Task, bool) {
	it, ok := m.list.SelectedItem().(listItem)
	return it.task, ok
}

// sync copies store state into the list, keeping the cursor on the same
// task when it still exists.
func (m *Model) sync() {
	var keep string
	if cur, ok := m.selected(); ok {
		keep = cur.ID
	}
	tasks := m.tasks.Tasks()
	items := make([]list.Item, len(tasks))
	cursor := -1
	for i, t := range tasks {
		items[i] = listItem{task: t}
		if t.ID == keep {
			cursor = i
		}
	}
	m.list.SetItems(items)
	if cursor >= 0 {
		m.list.Select(cursor)
	}

	title := ui.Header("Tasks", tasks)
	if p := m.profile.Profile(); p != nil {
		title += "   " + ui.AccentStyle.Render("@"+p.DisplayName())
	}
	m.list.Title = title
}

func (m *Model) startInput(md mode, value, placeholder string) {
	m.mode = md
	m.inputErr = ""
	m.ti.SetValue(value)
	m.ti.CursorEnd()
	m.ti.Placeholder = placeholder
	m.ti.Focus()
}

func (m *Model) stopInput() {
	m.mode = browsing
	m.inputErr = ""
	m.ti.SetValue("")
	m.ti.Blur()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case changedMsg:
		m.sync()
		return m, m.waitForChange()
	case opMsg:
		if msg.err != nil {
			m.status = ui.ErrorStyle.Render(msg.err.Error())
		} else {
			m.status = ui.SuccessStyle.Render(ui.Current().SymDone + " " + msg.verb)
			if msg.undo != nil {
				m.undo = msg.undo
			}
		}
		m.sync()
		return m, nil
	}

	if m.mode != browsing {
		return m.updateInput(msg)
	}
	k, ok := msg.(tea.KeyMsg)
	if !ok || m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch {
	case k.String() == "q" || k.String() == "esc" && m.list.FilterState() == list.Unfiltered:
		return m, tea.Quit
	case key.Matches(k, toggleKey):
		if t, ok := m.selected(); ok {
			return m, m.run("toggled", func(ctx context.Context) (*model.Task, error) {
				_, _, err := m.tasks.ToggleCompleted(ctx, t.ID)
				return nil, err
			})
		}
		return m, nil
	case key.Matches(k, deleteKey):
		if t, ok := m.selected(); ok {
			return m, m.run("deleted", func(ctx context.Context) (*model.Task, error) {
				if err := m.tasks.Remove(ctx, t.ID); err != nil {
					return nil, err
				}
				return &t, nil
			})
		}
		return m, nil
	case key.Matches(k, undoKey):
		if m.undo == nil {
			return m, nil
		}
		title := m.undo.Title
		m.undo = nil
		// a deleted task comes back as a new one
		return m, m.run("restored", func(ctx context.Context) (*model.Task, error) {
			_, err := m.tasks.Add(ctx, title)
			return nil, err
		})
	case key.Matches(k, addKey):
		m.startInput(adding, "", "New task title...")
		return m, nil
	case key.Matches(k, editKey):
		if t, ok := m.selected(); ok {
			m.editID = t.ID
			m.startInput(editing, t.Title, "Edit task title...")
		}
		return m, nil
	case key.Matches(k, renameKey):
		m.startInput(renaming, m.profile.Profile().DisplayName(), "Username...")
		return m, nil
	case key.Matches(k, refreshKey):
		return m, m.run("refreshed", func(ctx context.Context) (*model.Task, error) {
			return nil, m.tasks.Reload(ctx)
		})
	case key.Matches(k, logoutKey) && m.opt.SignOut != nil:
		return m, m.run("signed out", func(context.Context) (*model.Task, error) {
			return nil, m.opt.SignOut()
		})
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.Type {
		case tea.KeyEsc:
			m.stopInput()
			return m, nil
		case tea.KeyEnter:
			value := strings.TrimSpace(m.ti.Value())
			if value == "" {
				m.inputErr = "cannot be empty"
				return m, nil
			}
			md, id := m.mode, m.editID
			m.stopInput()
			switch md {
			case adding:
				return m, m.run("added", func(ctx context.Context) (*model.Task, error) {
					_, err := m.tasks.Add(ctx, value)
					return nil, err
				})
			case editing:
				return m, m.run("updated", func(ctx context.Context) (*model.Task, error) {
					_, err := m.tasks.Update(ctx, id, model.SetTitle(value))
					return nil, err
				})
			case renaming:
				return m, m.run("username updated", func(ctx context.Context) (*model.Task, error) {
					_, err := m.profile.UpdateUsername(ctx, value)
					return nil, err
				})
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	listHeight := m.height - 5
	if m.mode != browsing {
		listHeight -= 3
	}
	if listHeight < 3 {
		listHeight = 3
	}
	m.list.SetSize(m.width-4, listHeight)

	parts := []string{m.list.View()}
	if m.mode != browsing {
		title := map[mode]string{adding: "Add task", editing: "Edit task", renaming: "Username"}[m.mode]
		if m.inputErr != "" {
			title += ": " + ui.ErrorStyle.Render(m.inputErr)
		}
		parts = append(parts, ui.PanelString(title+"\n"+m.ti.View()))
	}
	parts = append(parts, m.statusLine())
	return ui.PanelString(strings.Join(parts, "\n"))
}

func (m Model) statusLine() string {
	switch {
	case m.tasks.Identity() == nil:
		return ui.PendingStyle.Render("not signed in, run `todo auth login`")
	case m.tasks.ErrorMessage() != "":
		return ui.ErrorStyle.Render(m.tasks.ErrorMessage())
	case m.profile.ErrorMessage() != "":
		return ui.ErrorStyle.Render(m.profile.ErrorMessage())
	case m.tasks.Loading():
		return ui.MutedStyle.Render("syncing...")
	}
	return m.status
}
