package domain

import "strings"

// Status is the board column a task belongs to.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

var statusOrder = []Status{StatusTodo, StatusInProgress, StatusDone}

// Statuses returns every status in column order.
func Statuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Label is the column heading shown for s. The backend stores the
// canonical value, string(s).
func (s Status) Label() string {
	switch s {
	case StatusInProgress:
		return "In Progress"
	case StatusDone:
		return "Done"
	default:
		return "Todo"
	}
}

// ParseStatus maps canonical values and backend labels ("In Progress",
// "to-do", "DONE", ...) to a Status. The bool is false for unknown input.
func ParseStatus(raw string) (Status, bool) {
	norm := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))
	switch norm {
	case "todo":
		return StatusTodo, true
	case "inprogress":
		return StatusInProgress, true
	case "done":
		return StatusDone, true
	}
	return StatusTodo, false
}

// Priority is display-only.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// ParsePriority returns PriorityNone for anything it does not recognise.
func ParsePriority(raw string) Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	case "low":
		return PriorityLow
	}
	return PriorityNone
}

// Attachment is a file attached to a backend record.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Task represents a single card on the board.
type Task struct {
	ID            string       `json:"id,omitempty"`
	LocalID       string       `json:"localId,omitempty"`
	Title         string       `json:"title"`
	Status        Status       `json:"status"`
	Priority      Priority     `json:"priority,omitempty"`
	Rank          int          `json:"rank"`
	Description   string       `json:"description,omitempty"`
	Assignee      Assignee     `json:"assignee"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	LearnMoreLink string       `json:"learnMoreLink,omitempty"`
	ClientIDRef   []string     `json:"clientIdRef,omitempty"`
}

// Key identifies the task within one board session. Tasks not yet
// persisted are keyed by their client-side id.
func (t Task) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return "local:" + t.LocalID
}

// HasKey reports whether k identifies t. A task created in this session
// answers to its client-side key after the backend id is adopted.
func (t Task) HasKey(k string) bool {
	if t.ID != "" && k == t.ID {
		return true
	}
	return t.LocalID != "" && k == "local:"+t.LocalID
}

// ImageURL returns the first image attachment, if any.
func (t Task) ImageURL() string {
	for _, a := range t.Attachments {
		if strings.HasPrefix(a.Type, "image") {
			return a.URL
		}
	}
	return ""
}

// Clone returns a copy that shares no slices with t.
func (t Task) Clone() Task {
	if t.Attachments != nil {
		t.Attachments = append([]Attachment(nil), t.Attachments...)
	}
	if t.ClientIDRef != nil {
		t.ClientIDRef = append([]string(nil), t.ClientIDRef...)
	}
	return t
}
