package domain

// Backend column names. The mapping to Task attributes is fixed.
const (
	FieldName          = "Name"
	FieldStatus        = "Status"
	FieldPriority      = "Priority"
	FieldDescription   = "Description"
	FieldAttachments   = "Attachments"
	FieldLearnMoreLink = "Learn More Link"
	FieldClientIDRef   = "Assignee - Reference Record"

	// FieldAssigneeID links a record to its assignee. It is a lookup
	// column in Airtable and a plain column in Google Sheets.
	FieldAssigneeID = "Assignee ID"
)

var taskFields = map[string]struct{}{
	FieldName:          {},
	FieldStatus:        {},
	FieldPriority:      {},
	FieldDescription:   {},
	FieldAttachments:   {},
	FieldLearnMoreLink: {},
	FieldClientIDRef:   {},
}

// IsTaskField reports whether name is part of the fixed field table.
func IsTaskField(name string) bool {
	_, ok := taskFields[name]
	return ok
}

// Fields holds backend column values keyed by column name.
type Fields map[string]any

// RawRecord is a backend row before normalization.
type RawRecord struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
