package domain

import (
	"fmt"
	"strings"
)

// Normalize maps a backend record onto a Task. It never fails: missing or
// mistyped fields leave the zero value in place.
func Normalize(rec RawRecord, assignee Assignee, rank int) Task {
	f := rec.Fields
	status, _ := ParseStatus(stringField(f, FieldStatus))
	return Task{
		ID:            rec.ID,
		Title:         strings.TrimSpace(stringField(f, FieldName)),
		Status:        status,
		Priority:      ParsePriority(stringField(f, FieldPriority)),
		Rank:          rank,
		Description:   stringField(f, FieldDescription),
		Assignee:      assignee,
		Attachments:   attachmentsField(f[FieldAttachments]),
		LearnMoreLink: stringField(f, FieldLearnMoreLink),
		ClientIDRef:   stringsField(f[FieldClientIDRef]),
	}
}

// NormalizeAll normalizes records in fetch order and drops untitled tasks.
// Rank is the record's position in recs, so dropped records leave gaps.
func NormalizeAll(recs []RawRecord, assignee Assignee) []Task {
	tasks := make([]Task, 0, len(recs))
	for i, rec := range recs {
		t := Normalize(rec, assignee, i)
		if t.Title == "" {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}

func stringField(f Fields, name string) string {
	switch v := f[name].(type) {
	case string:
		return v
	case []any:
		// single-select lookups come back as one-element lists
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case float64:
		return fmt.Sprint(v)
	}
	return ""
}

func stringsField(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return append([]string(nil), val...)
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func attachmentsField(v any) []Attachment {
	var items []any
	switch val := v.(type) {
	case []any:
		items = val
	case []Attachment:
		return append([]Attachment(nil), val...)
	case string:
		items = []any{val}
	default:
		return nil
	}
	var out []Attachment
	for _, item := range items {
		switch a := item.(type) {
		case string:
			if a != "" {
				out = append(out, Attachment{URL: a, Type: guessType(a)})
			}
		case map[string]any:
			att := Attachment{
				ID:       asString(a["id"]),
				URL:      asString(a["url"]),
				Filename: asString(a["filename"]),
				Type:     asString(a["type"]),
			}
			if att.URL == "" {
				continue
			}
			if att.Type == "" {
				att.Type = guessType(att.URL)
			}
			out = append(out, att)
		}
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

var imageExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

func guessType(url string) string {
	lower := strings.ToLower(url)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	if i := strings.LastIndex(lower, "."); i >= 0 {
		return imageExt[lower[i:]]
	}
	return ""
}
