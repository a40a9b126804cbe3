package board

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// ViewMode selects how the board is laid out.
type ViewMode int

const (
	ViewBoard ViewMode = iota
	ViewList
)

func (m ViewMode) String() string {
	if m == ViewList {
		return "list"
	}
	return "board"
}

// FilterState is the state of the filter dialog.
type FilterState int

const (
	FilterClosed FilterState = iota
	FilterOpenEditing
)

// Key is a keyboard event. Name is "esc", "enter" or a single character.
type Key struct {
	Name string
	Meta bool
}

// IntentKind tells the renderer what a key press did.
type IntentKind int

const (
	IntentNone IntentKind = iota
	IntentCloseOverlays
	IntentOpenFilter
	IntentBoardView
	IntentListView
	IntentAddTask
)

// Intent is the outcome of HandleKey.
type Intent struct {
	Kind   IntentKind
	Status domain.Status
}

var shortcutColumns = map[string]domain.Status{
	"u": domain.StatusTodo,
	"i": domain.StatusInProgress,
	"d": domain.StatusDone,
}

type dragState struct {
	taskID string
	status domain.Status
}

// Controller turns user input into store operations.
type Controller struct {
	store    *Store
	controls domain.Controls
	log      *log.Logger

	mu     sync.Mutex
	view   ViewMode
	filter FilterState
	drag   *dragState
	hover  domain.Status
	detail string
}

// NewController returns a controller in board view with the filter closed.
func NewController(store *Store, logger *log.Logger) *Controller {
	if logger == nil {
		logger = store.log
	}
	return &Controller{store: store, controls: store.Controls(), log: logger}
}

// DragStart captures the dragged task and its current status.
func (c *Controller) DragStart(taskID string) bool {
	if !c.controls.AllowUpdatingStatus {
		return false
	}
	status, ok := c.store.StatusOf(taskID)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drag = &dragState{taskID: taskID, status: status}
	return true
}

// DragOver records the hovered column. It never changes board state.
func (c *Controller) DragOver(status domain.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drag == nil || !status.Valid() {
		c.hover = ""
		return false
	}
	c.hover = status
	return status != c.drag.status
}

// Hover returns the column under the dragged card, if any.
func (c *Controller) Hover() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hover
}

// Drop moves the dragged task into status.
func (c *Controller) Drop(status domain.Status) (bool, error) {
	c.mu.Lock()
	d := c.drag
	c.drag = nil
	c.hover = ""
	c.mu.Unlock()
	if d == nil {
		return false, nil
	}
	moved, err := c.store.MoveTask(d.taskID, d.status, status)
	if err != nil {
		c.log.WithError(err).WithField("task", d.taskID).Debug("drop rejected")
	}
	return moved, err
}

// CancelDrag abandons the current drag.
func (c *Controller) CancelDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drag = nil
	c.hover = ""
}

// DropTask moves taskID into status, resolving its current column first.
func (c *Controller) DropTask(taskID string, status domain.Status) (bool, error) {
	from, ok := c.store.StatusOf(taskID)
	if !ok {
		return false, nil
	}
	return c.store.MoveTask(taskID, from, status)
}

// ChangeStatus is the explicit status selection of a card.
func (c *Controller) ChangeStatus(taskID string, status domain.Status) (bool, error) {
	return c.DropTask(taskID, status)
}

// HandleKey applies a keyboard shortcut.
func (c *Controller) HandleKey(k Key) Intent {
	name := strings.ToLower(k.Name)
	if name == "esc" || name == "escape" {
		c.mu.Lock()
		editing := c.filter == FilterOpenEditing
		c.mu.Unlock()
		if editing {
			c.FilterKey(Key{Name: "esc"})
		}
		c.store.HideDrafts()
		return Intent{Kind: IntentCloseOverlays}
	}
	if !k.Meta {
		return Intent{}
	}
	switch name {
	case "f":
		c.OpenFilter()
		return Intent{Kind: IntentOpenFilter}
	case "b":
		c.SetView(ViewBoard)
		return Intent{Kind: IntentBoardView}
	case "l":
		c.SetView(ViewList)
		return Intent{Kind: IntentListView}
	}
	if status, ok := shortcutColumns[name]; ok {
		if !c.controls.AllowAddingItems {
			return Intent{}
		}
		c.store.ShowDraft(status)
		return Intent{Kind: IntentAddTask, Status: status}
	}
	return Intent{}
}

func (c *Controller) View() ViewMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Controller) SetView(m ViewMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = m
}

// ToggleView switches between board and list.
func (c *Controller) ToggleView() ViewMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == ViewBoard {
		c.view = ViewList
	} else {
		c.view = ViewBoard
	}
	return c.view
}

func (c *Controller) FilterState() FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// OpenFilter moves the dialog to editing.
func (c *Controller) OpenFilter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = FilterOpenEditing
}

// FilterInput applies the dialog text on every keystroke.
func (c *Controller) FilterInput(text string) {
	if c.FilterState() != FilterOpenEditing {
		return
	}
	c.store.ApplyTextFilter(text)
}

// FilterKey handles Enter (commit) and Escape (clear). Both close the dialog.
func (c *Controller) FilterKey(k Key) {
	c.mu.Lock()
	if c.filter != FilterOpenEditing {
		c.mu.Unlock()
		return
	}
	switch strings.ToLower(k.Name) {
	case "enter":
		c.filter = FilterClosed
		c.mu.Unlock()
		c.store.ApplyTextFilter(c.store.Filter())
	case "esc", "escape":
		c.filter = FilterClosed
		c.mu.Unlock()
		c.store.ApplyTextFilter("")
	default:
		c.mu.Unlock()
	}
}

// CloseFilter closes the dialog and keeps the filter.
func (c *Controller) CloseFilter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = FilterClosed
}

// ToolbarFilter clears an active filter, otherwise opens the dialog.
func (c *Controller) ToolbarFilter() {
	if c.store.Filter() != "" {
		c.store.ApplyTextFilter("")
		return
	}
	c.OpenFilter()
}

// OpenDetail shows the detail view of a task.
func (c *Controller) OpenDetail(taskID string) bool {
	if _, ok := c.store.Task(taskID); !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detail = taskID
	return true
}

// Detail returns the task shown in the detail view.
func (c *Controller) Detail() (domain.Task, bool) {
	c.mu.Lock()
	id := c.detail
	c.mu.Unlock()
	if id == "" {
		return domain.Task{}, false
	}
	return c.store.Task(id)
}

func (c *Controller) CloseDetail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detail = ""
}

// SaveDescription edits the task in the detail view and closes it on
// success.
func (c *Controller) SaveDescription(text string) error {
	c.mu.Lock()
	id := c.detail
	c.mu.Unlock()
	if id == "" {
		return ErrTaskNotFound
	}
	if err := c.store.EditDescription(id, text); err != nil {
		return err
	}
	c.CloseDetail()
	return nil
}

// SubmitDraft adds a task from a column's inline form.
func (c *Controller) SubmitDraft(status domain.Status, title string) (domain.Task, error) {
	return c.store.AddTask(domain.Draft{Title: title, Status: status})
}
