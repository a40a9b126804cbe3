package domain

import "strings"

// Draft is the input of the inline add-task form.
type Draft struct {
	Title  string `json:"title"`
	Status Status `json:"status"`
}

// ValidationError is a field-level message shown next to the form input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidateDraft rejects drafts that would produce an untitled task.
func ValidateDraft(d Draft) error {
	if strings.TrimSpace(d.Title) == "" {
		return &ValidationError{Field: "title", Message: "Task title is required"}
	}
	if d.Status != "" && !d.Status.Valid() {
		return &ValidationError{Field: "status", Message: "Unknown status " + string(d.Status)}
	}
	return nil
}
