package command

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dandantas/scout/internal/client"
	"github.com/dandantas/scout/internal/model"
	"github.com/dustin/go-humanize"
)

var (
	styleRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
	styleComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("157"))
	styleFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	styleQueued   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleCard     = lipgloss.NewStyle().Foreground(lipgloss.Color("216")).Italic(true)
	styleBold     = lipgloss.NewStyle().Bold(true)
	styleDim      = lipgloss.NewStyle().Faint(true)
)

func stepMarker(status model.StepStatus) string {
	switch status {
	case model.StepRunning:
		return styleRunning.Render("…")
	case model.StepComplete:
		return styleComplete.Render("✓")
	case model.StepFailed:
		return styleFailed.Render("✗")
	default:
		return styleQueued.Render("·")
	}
}

func statusStyle(status model.JobStatus) lipgloss.Style {
	switch status {
	case model.JobCompleted:
		return styleComplete
	case model.JobFailed:
		return styleFailed
	default:
		return styleRunning
	}
}

// progressPrinter writes one line per observed change of a runner state
type progressPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	jobID  string
	steps  map[int]model.StepStatus
	cards  int
	closed bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, steps: make(map[int]model.StepStatus)}
}

func (p *progressPrinter) Update(s client.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	if s.JobID != "" && s.JobID != p.jobID {
		p.jobID = s.JobID
		fmt.Fprintf(p.out, "%s %s\n", styleBold.Render("job"), s.JobID)
	}
	for i, st := range s.Steps {
		if p.steps[i] == st.Status || st.Status == model.StepQueued {
			continue
		}
		p.steps[i] = st.Status
		line := fmt.Sprintf("  %s %s", stepMarker(st.Status), st.Label)
		if st.Status == model.StepFailed && st.Error != "" {
			line += styleFailed.Render(" (" + st.Error + ")")
		}
		fmt.Fprintf(p.out, "%s %s\n", line, styleDim.Render(fmt.Sprintf("%d%%", s.Progress)))
	}
	for ; p.cards < len(s.Cards); p.cards++ {
		card := s.Cards[p.cards]
		fmt.Fprintf(p.out, "  %s\n", styleCard.Render("["+card.Category+"] "+card.Text))
	}
}

// Finish prints the terminal summary once
func (p *progressPrinter) Finish(s client.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	elapsed := s.Elapsed.Round(100 * time.Millisecond)
	switch s.Phase {
	case client.PhaseComplete:
		fmt.Fprintf(p.out, "%s in %s\n", styleComplete.Render("completed"), elapsed)
	case client.PhaseFailed:
		msg := "failed"
		if s.Error != "" {
			msg += ": " + s.Error
		}
		fmt.Fprintf(p.out, "%s after %s\n", styleFailed.Render(msg), elapsed)
	default:
		fmt.Fprintf(p.out, "%s\n", styleDim.Render("detached, the job keeps running on the server"))
		return
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(p.out, "  %s %s\n", styleFailed.Render("!"), w)
	}
	if s.RedirectURL != "" {
		fmt.Fprintf(p.out, "  results: %s\n", s.RedirectURL)
	}
}

// formatJobs renders job summaries as aligned rows
func formatJobs(jobs []model.JobSummary, now time.Time) string {
	if len(jobs) == 0 {
		return styleDim.Render("no jobs") + "\n"
	}
	var b strings.Builder
	for _, j := range jobs {
		when := j.UpdatedAt
		if t, err := time.Parse(time.RFC3339, j.UpdatedAt); err == nil {
			when = humanize.RelTime(t, now, "ago", "from now")
		}
		status := statusStyle(j.Status).Render(fmt.Sprintf("%-9s", j.Status))
		fmt.Fprintf(&b, "%s  %s  %-11s %-12s %3d%%  %s",
			j.ID, status, j.Type, j.LocationID, j.Progress, styleDim.Render(when))
		if j.Warnings > 0 {
			fmt.Fprintf(&b, "  %s", styleFailed.Render(humanize.Comma(int64(j.Warnings))+" warnings"))
		}
		if j.Error != "" {
			fmt.Fprintf(&b, "  %s", styleFailed.Render(j.Error))
		}
		b.WriteString("\n")
	}
	return b.String()
}
