package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskboard/board"
	"taskboard/domain"
)

const emptyBoardMessage = "You have no tasks assigned!"

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	columnStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	activeColumn  = columnStyle.BorderForeground(lipgloss.Color("#7D56F4"))
	headerStyle   = lipgloss.NewStyle().Bold(true)
	cardStyle     = lipgloss.NewStyle()
	selectedCard  = lipgloss.NewStyle().Reverse(true)
	priorityStyle = map[domain.Priority]lipgloss.Style{
		domain.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		domain.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		domain.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func columnTitle(s domain.Status) string {
	return s.Label()
}

func (m *model) View() string {
	if !m.view.Loaded {
		return "Loading tasks..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.view.Title))
	b.WriteString("\n")
	if m.view.Filter != "" || m.mode == modeFilter {
		b.WriteString(m.filterLine())
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case m.mode == modeDetail || m.mode == modeEditDescription:
		b.WriteString(m.detailView())
	case m.view.Empty && !m.anyDraft():
		b.WriteString(emptyBoardMessage)
		b.WriteString("\n")
	case m.ctrl.View() == board.ViewList:
		b.WriteString(m.listView())
	default:
		b.WriteString(m.boardView())
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(hintStyle.Render(m.hints()))
	return b.String()
}

func (m *model) anyDraft() bool {
	for _, v := range m.view.Drafts {
		if v {
			return true
		}
	}
	return false
}

func (m *model) filterLine() string {
	if m.mode == modeFilter {
		return "Filter: " + string(m.input) + "_"
	}
	return hintStyle.Render("Filter: " + m.view.Filter)
}

func (m *model) boardView() string {
	statuses := domain.Statuses()
	width := m.width/len(statuses) - 4
	if width < 16 {
		width = 16
	}
	cols := make([]string, 0, len(statuses))
	for i, s := range statuses {
		lines := []string{headerStyle.Render(fmt.Sprintf("%s (%d)", columnTitle(s), len(m.view.ByStatus[s])))}
		for j, t := range m.view.ByStatus[s] {
			lines = append(lines, m.card(t, i == m.column && j == m.row, width))
		}
		if m.view.Drafts[s] {
			lines = append(lines, m.draftLine(s))
		}
		style := columnStyle
		if i == m.column {
			style = activeColumn
		}
		cols = append(cols, style.Width(width).Render(strings.Join(lines, "\n")))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func (m *model) listView() string {
	var lines []string
	row := 0
	for _, s := range domain.Statuses() {
		for _, t := range m.view.ByStatus[s] {
			line := fmt.Sprintf("%-12s %s", columnTitle(s), m.card(t, row == m.row, m.width-14))
			lines = append(lines, line)
			row++
		}
		if m.view.Drafts[s] {
			lines = append(lines, fmt.Sprintf("%-12s %s", columnTitle(s), m.draftLine(s)))
		}
	}
	return strings.Join(lines, "\n")
}

func (m *model) card(t domain.Task, selected bool, width int) string {
	title := t.Title
	if r := []rune(title); width > 3 && len(r) > width {
		title = string(r[:width-3]) + "..."
	}
	if p, ok := priorityStyle[t.Priority]; ok {
		title = p.Render("●") + " " + title
	}
	if selected {
		return selectedCard.Render(title)
	}
	return cardStyle.Render(title)
}

func (m *model) draftLine(s domain.Status) string {
	if m.mode == modeDraft && m.draftStatus == s {
		return "+ " + string(m.input) + "_"
	}
	return hintStyle.Render("+ new task")
}

func (m *model) detailView() string {
	t, ok := m.ctrl.Detail()
	if !ok {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(t.Title))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Status: %s\n", t.Status.Label())
	if t.Priority != domain.PriorityNone {
		fmt.Fprintf(&b, "Priority: %s\n", t.Priority)
	}
	if img := t.ImageURL(); img != "" {
		fmt.Fprintf(&b, "Image: %s\n", img)
	}
	if t.LearnMoreLink != "" {
		fmt.Fprintf(&b, "Learn more: %s\n", t.LearnMoreLink)
	}
	b.WriteString("\n")
	if m.mode == modeEditDescription {
		b.WriteString(string(m.input))
		b.WriteString("_\n")
	} else {
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	return b.String()
}

func (m *model) hints() string {
	switch m.mode {
	case modeFilter:
		return "enter apply • esc clear"
	case modeDraft:
		return "enter add • esc cancel"
	case modeDetail:
		return "e edit • esc close"
	case modeEditDescription:
		return "enter save • esc cancel"
	}
	return "←/→ column • ↑/↓ task • </> move • enter open • a add • / filter • v view • q quit"
}
