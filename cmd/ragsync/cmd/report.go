package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ragsync/internal/domain"
	"ragsync/internal/logging"
	"ragsync/internal/reconcile"
)

type reportStyles struct {
	header  lipgloss.Style
	added   lipgloss.Style
	updated lipgloss.Style
	skipped lipgloss.Style
	failed  lipgloss.Style
}

func stylesFor(w io.Writer) reportStyles {
	if !logging.IsTerminal(w) {
		plain := lipgloss.NewStyle()
		return reportStyles{plain, plain, plain, plain, plain}
	}
	return reportStyles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("154")),
		added:   lipgloss.NewStyle().Foreground(lipgloss.Color("154")),
		updated: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		skipped: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// renderReport prints what a run did, one line per source.
func renderReport(w io.Writer, r *reconcile.RunReport) {
	s := stylesFor(w)
	var b strings.Builder

	if d := r.Deleted; d != nil {
		b.WriteString(s.header.Render("Delete") + "\n")
		writeDelete(&b, s, *d)
	}
	if c := r.Cleanup; c != nil {
		fmt.Fprintf(&b, "%s (%d records scanned)\n", s.header.Render("Cleanup"), c.Scanned)
		if len(c.Scheduled) == 0 {
			b.WriteString(s.skipped.Render("  no outdated sources") + "\n")
		}
		for _, d := range c.Deleted {
			writeDelete(&b, s, d)
		}
	}
	if sr := r.Sync; sr != nil && sr.Plan != nil {
		b.WriteString(s.header.Render("Sync") + "\n")
		chunks := map[string]reconcile.IngestOutcome{}
		for _, o := range sr.Ingested {
			chunks[o.Source.ID] = o
		}
		for _, d := range sr.Plan.Decisions {
			line := fmt.Sprintf("  %-9s %s", d.Decision, d.Source.ID)
			switch {
			case d.Err != nil:
				b.WriteString(s.failed.Render(fmt.Sprintf("  %-9s %s: %v", "failed", d.Source.ID, d.Err)) + "\n")
				continue
			case d.Decision == domain.DecisionSkip:
				b.WriteString(s.skipped.Render(line) + "\n")
				continue
			}
			o := chunks[d.Source.ID]
			if o.Err != nil {
				b.WriteString(s.failed.Render(fmt.Sprintf("%s: %v", line, o.Err)) + "\n")
				continue
			}
			style := s.added
			if d.Decision == domain.DecisionUpdate {
				style = s.updated
			}
			b.WriteString(style.Render(fmt.Sprintf("%s (%d chunks)", line, o.Chunks)) + "\n")
		}
		fmt.Fprintf(&b, "  %d new, %d updated, %d unchanged, %d chunks written\n",
			sr.Plan.Count(domain.DecisionAdd), sr.Plan.Count(domain.DecisionUpdate),
			sr.Plan.Count(domain.DecisionSkip), sr.Chunks())
	}
	_, _ = io.WriteString(w, b.String())
}

func writeDelete(b *strings.Builder, s reportStyles, d reconcile.DeleteOutcome) {
	switch {
	case d.Err != nil:
		b.WriteString(s.failed.Render(fmt.Sprintf("  %s: %v", d.Source, d.Err)) + "\n")
	case d.Deleted == 0:
		b.WriteString(s.skipped.Render(fmt.Sprintf("  %s: no vectors found for the specified source", d.Source)) + "\n")
	default:
		b.WriteString(s.added.Render(fmt.Sprintf("  deleted %d vectors from source: %s", d.Deleted, d.Source)) + "\n")
	}
}
