package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"aichat-backend/internal/model"
	"aichat-backend/internal/render"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true).
			Padding(0, 1)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true).
			Padding(0, 1)

	contentStyle = lipgloss.NewStyle().
			Padding(0, 2)

	toolCardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1).
			MarginLeft(2)

	modelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true).
			Padding(0, 1)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

func renderMessage(m model.Message) string {
	var b strings.Builder
	if m.Role == model.RoleUser {
		b.WriteString(userStyle.Render("You"))
	} else {
		b.WriteString(assistantStyle.Render("Assistant"))
	}
	b.WriteString(" " + metaStyle.Render(m.ID) + "\n")

	if m.IsMultiModel {
		for _, r := range render.VisibleResponses(m) {
			label := r.Model
			if r.Selected {
				label += " (kept)"
			}
			b.WriteString(modelStyle.Render(label) + "\n")
			b.WriteString(renderParts(r.Parts))
		}
	} else {
		b.WriteString(renderParts(m.Parts))
	}

	if m.Metadata != nil {
		b.WriteString(metaStyle.Render(fmt.Sprintf("judge picked %s: %s", m.Metadata.SelectedModel, m.Metadata.Reasoning)) + "\n")
	}
	return b.String()
}

func renderParts(parts []model.Part) string {
	var b strings.Builder
	for _, block := range render.Project(parts) {
		switch block.Kind {
		case render.BlockText:
			b.WriteString(contentStyle.Render(block.Text))
		case render.BlockImage:
			b.WriteString(contentStyle.Render("[image] " + block.Image))
		case render.BlockTool:
			b.WriteString(toolCardStyle.Render(toolCard(block.Part)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func toolCard(p model.Part) string {
	lines := []string{"tool " + p.ToolName}
	if len(p.Args) > 0 {
		if args, err := json.Marshal(p.Args); err == nil {
			lines = append(lines, "args   "+string(args))
		}
	}
	if p.Result != nil {
		lines = append(lines, "result "+fmt.Sprint(p.Result))
	} else {
		lines = append(lines, metaStyle.Render("running..."))
	}
	return strings.Join(lines, "\n")
}

func renderSessions(sessions []model.SessionSummary, activeID string) string {
	var b strings.Builder
	for _, s := range sessions {
		line := fmt.Sprintf("%s  %s  %s", s.ID, s.Title, metaStyle.Render(fmt.Sprintf("%d messages, %s", s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))))
		if s.ID == activeID {
			line = activeStyle.Render("* ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
