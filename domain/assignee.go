package domain

import "strings"

// Assignee is the client or company the tasks belong to.
type Assignee struct {
	ID         string `json:"id"`
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
	Name       string `json:"name,omitempty"`
}

// DisplayName prefers the company name and falls back to the client's full name.
func (a Assignee) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return strings.TrimSpace(a.GivenName + " " + a.FamilyName)
}

// BoardTitle is the heading shown above the board.
func (a Assignee) BoardTitle() string {
	name := a.DisplayName()
	if name == "" {
		return "Tasks"
	}
	return name + "'s tasks"
}
