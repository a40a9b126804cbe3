package main

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"taskboard/board"
	"taskboard/domain"
)

const redrawInterval = 250 * time.Millisecond

type inputMode int

const (
	modeNormal inputMode = iota
	modeFilter
	modeDraft
	modeDetail
	modeEditDescription
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(redrawInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// model renders a board.Store snapshot and forwards input to the controller.
type model struct {
	store *board.Store
	ctrl  *board.Controller
	view  board.View

	mode        inputMode
	input       []rune
	draftStatus domain.Status
	column      int
	row         int
	status      string
	width       int
	height      int
}

func newModel(store *board.Store, ctrl *board.Controller) *model {
	m := &model{store: store, ctrl: ctrl, width: 120, height: 40}
	m.view = store.Snapshot()
	return m
}

func (m *model) Init() tea.Cmd {
	return tick()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.refreshView()
		return m, tick()
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		cmd := m.handleKey(msg)
		m.refreshView()
		return m, cmd
	}
	return m, nil
}

func (m *model) refreshView() {
	m.view = m.store.Snapshot()
	m.clampCursor()
}

// boardKey translates a terminal key into the controller's key model. Alt
// and ctrl both count as the meta modifier.
func boardKey(msg tea.KeyMsg) board.Key {
	switch msg.Type {
	case tea.KeyEsc:
		return board.Key{Name: "esc"}
	case tea.KeyEnter:
		return board.Key{Name: "enter"}
	case tea.KeyCtrlF:
		return board.Key{Name: "f", Meta: true}
	case tea.KeyCtrlB:
		return board.Key{Name: "b", Meta: true}
	case tea.KeyCtrlL:
		return board.Key{Name: "l", Meta: true}
	case tea.KeyCtrlU:
		return board.Key{Name: "u", Meta: true}
	case tea.KeyCtrlD:
		return board.Key{Name: "d", Meta: true}
	case tea.KeyRunes:
		return board.Key{Name: string(msg.Runes), Meta: msg.Alt}
	}
	return board.Key{Name: msg.String()}
}

func (m *model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch m.mode {
	case modeFilter:
		m.filterKey(msg)
		return nil
	case modeDraft:
		m.draftKey(msg)
		return nil
	case modeEditDescription:
		m.descriptionKey(msg)
		return nil
	case modeDetail:
		if msg.Type == tea.KeyEsc || msg.String() == "q" {
			m.ctrl.CloseDetail()
			m.mode = modeNormal
			return nil
		}
		if msg.String() == "e" {
			t, ok := m.ctrl.Detail()
			if !ok {
				m.mode = modeNormal
				return nil
			}
			if !m.view.Controls.AllowingUpdatingDetails {
				m.status = "Editing details is disabled"
				return nil
			}
			m.input = []rune(t.Description)
			m.mode = modeEditDescription
		}
		return nil
	}

	intent := m.ctrl.HandleKey(boardKey(msg))
	switch intent.Kind {
	case board.IntentCloseOverlays:
		m.status = ""
		return nil
	case board.IntentOpenFilter:
		m.input = []rune(m.store.Filter())
		m.mode = modeFilter
		return nil
	case board.IntentAddTask:
		m.openDraft(intent.Status)
		return nil
	case board.IntentBoardView, board.IntentListView:
		return nil
	}

	switch msg.String() {
	case "q":
		return tea.Quit
	case "left", "h":
		m.column--
	case "right", "l":
		m.column++
	case "up", "k":
		m.row--
	case "down", "j":
		m.row++
	case "v":
		m.ctrl.ToggleView()
	case "/":
		m.ctrl.ToolbarFilter()
		if m.ctrl.FilterState() == board.FilterOpenEditing {
			m.input = nil
			m.mode = modeFilter
		}
	case "a":
		if m.view.Controls.AllowAddingItems {
			m.openDraft(m.currentStatus())
		}
	case "enter":
		if t, ok := m.selected(); ok && m.ctrl.OpenDetail(t.Key()) {
			m.mode = modeDetail
		}
	case "<", "shift+left":
		m.moveSelected(-1)
	case ">", "shift+right":
		m.moveSelected(1)
	case "1", "2", "3":
		m.changeSelected(domain.Statuses()[msg.String()[0]-'1'])
	}
	m.clampCursor()
	return nil
}

func (m *model) openDraft(status domain.Status) {
	m.store.ShowDraft(status)
	m.draftStatus = status
	m.input = nil
	m.status = ""
	m.mode = modeDraft
}

func (m *model) filterKey(msg tea.KeyMsg) {
	switch msg.Type {
	case tea.KeyEnter, tea.KeyEsc:
		m.ctrl.FilterKey(boardKey(msg))
		m.mode = modeNormal
		return
	}
	if editInput(&m.input, msg) {
		m.ctrl.FilterInput(string(m.input))
	}
}

func (m *model) draftKey(msg tea.KeyMsg) {
	switch msg.Type {
	case tea.KeyEsc:
		m.store.HideDrafts()
		m.mode = modeNormal
		return
	case tea.KeyEnter:
		_, err := m.ctrl.SubmitDraft(m.draftStatus, string(m.input))
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			m.status = verr.Message
			return
		case err != nil:
			m.status = err.Error()
		default:
			m.status = ""
		}
		m.mode = modeNormal
		return
	}
	editInput(&m.input, msg)
}

func (m *model) descriptionKey(msg tea.KeyMsg) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeDetail
		return
	case tea.KeyEnter:
		if err := m.ctrl.SaveDescription(string(m.input)); err != nil {
			m.status = err.Error()
			m.mode = modeDetail
			return
		}
		m.status = "Description saved"
		m.mode = modeNormal
		return
	}
	editInput(&m.input, msg)
}

// editInput applies typing and backspace to buf and reports whether it changed.
func editInput(buf *[]rune, msg tea.KeyMsg) bool {
	switch msg.Type {
	case tea.KeyBackspace:
		if len(*buf) == 0 {
			return false
		}
		*buf = (*buf)[:len(*buf)-1]
		return true
	case tea.KeySpace:
		*buf = append(*buf, ' ')
		return true
	case tea.KeyRunes:
		*buf = append(*buf, msg.Runes...)
		return true
	}
	return false
}

func (m *model) moveSelected(delta int) {
	statuses := domain.Statuses()
	t, ok := m.selected()
	if !ok {
		return
	}
	idx := indexOf(statuses, t.Status) + delta
	if idx < 0 || idx >= len(statuses) {
		return
	}
	if m.changeSelected(statuses[idx]) {
		m.column = idx
	}
}

func (m *model) changeSelected(to domain.Status) bool {
	t, ok := m.selected()
	if !ok {
		return false
	}
	moved, err := m.ctrl.DropTask(t.Key(), to)
	if errors.Is(err, board.ErrFeatureDisabled) {
		m.status = "Changing status is disabled"
		return false
	}
	return moved
}

func (m *model) currentStatus() domain.Status {
	if m.ctrl.View() == board.ViewList {
		if t, ok := m.selected(); ok {
			return t.Status
		}
		return domain.StatusTodo
	}
	return domain.Statuses()[m.column]
}

// rows returns the tasks the cursor walks in the current view.
func (m *model) rows() []domain.Task {
	if m.ctrl.View() == board.ViewList {
		var out []domain.Task
		for _, s := range domain.Statuses() {
			out = append(out, m.view.ByStatus[s]...)
		}
		return out
	}
	return m.view.ByStatus[domain.Statuses()[m.column]]
}

func (m *model) selected() (domain.Task, bool) {
	rows := m.rows()
	if m.row < 0 || m.row >= len(rows) {
		return domain.Task{}, false
	}
	return rows[m.row], true
}

func (m *model) clampCursor() {
	n := len(domain.Statuses())
	if m.column < 0 {
		m.column = 0
	}
	if m.column >= n {
		m.column = n - 1
	}
	rows := len(m.rows())
	if m.row >= rows {
		m.row = rows - 1
	}
	if m.row < 0 {
		m.row = 0
	}
}

func indexOf(statuses []domain.Status, s domain.Status) int {
	for i, v := range statuses {
		if v == s {
			return i
		}
	}
	return 0
}
