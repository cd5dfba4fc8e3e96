package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randalmurphal/verity/internal/engine"
	"github.com/randalmurphal/verity/internal/status"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	reworkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// output writes v as JSON when --json is set and calls human otherwise.
func (o *rootOptions) output(w io.Writer, v any, human func(io.Writer)) error {
	if o.jsonOut {
		return printJSON(w, v)
	}
	human(w)
	return nil
}

func taskStatusIcon(s status.TaskStatus) string {
	switch s {
	case status.TaskPending:
		return "○"
	case status.TaskActive:
		return "◐"
	case status.TaskCompleted:
		return "●"
	case status.TaskClosed:
		return "⊘"
	case status.TaskBlocked:
		return "✗"
	case status.TaskRework:
		return "↺"
	default:
		return "?"
	}
}

func taskStatusStyle(s status.TaskStatus) lipgloss.Style {
	switch s {
	case status.TaskActive:
		return activeStyle
	case status.TaskCompleted, status.TaskClosed:
		return doneStyle
	case status.TaskBlocked:
		return blockedStyle
	case status.TaskRework:
		return reworkStyle
	default:
		return subtleStyle
	}
}

func phaseStatusStyle(s status.PhaseStatus) lipgloss.Style {
	switch s {
	case status.PhaseActive:
		return activeStyle
	case status.PhaseClosed:
		return doneStyle
	default:
		return subtleStyle
	}
}

// renderTree draws a project, its phases and their tasks.
func renderTree(tree *engine.Tree) string {
	var b strings.Builder
	p := tree.Project
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s (%s)", p.Name, p.EquipmentCode)))
	b.WriteString(subtleStyle.Render(fmt.Sprintf("  #%d %s", p.ID, p.Status)))
	b.WriteString("\n")

	for i, ph := range tree.Phases {
		last := i == len(tree.Phases)-1
		branch, indent := "├─", "│  "
		if last {
			branch, indent = "└─", "   "
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n", branch,
			phaseStatusStyle(ph.Status).Render(fmt.Sprintf("%s %s", ph.Code, ph.Name)),
			subtleStyle.Render(string(ph.Status))))
		for j, t := range ph.Tasks {
			tb := "├─"
			if j == len(ph.Tasks)-1 {
				tb = "└─"
			}
			line := fmt.Sprintf("%s %s #%d", taskStatusIcon(t.Status), t.Code, t.ID)
			if t.Name != "" {
				line += " " + t.Name
			}
			b.WriteString(fmt.Sprintf("%s%s %s %s\n", indent, tb,
				taskStatusStyle(t.Status).Render(line),
				subtleStyle.Render(fmt.Sprintf("%d/%d submitted", t.SubmittedCount, t.RequiredCount))))
		}
	}
	return b.String()
}
