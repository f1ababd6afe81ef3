package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"writecheck/pkg/domain"
	"writecheck/pkg/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7A89"))

	statusStyles = map[domain.WritingStatus]lipgloss.Style{
		domain.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7A89")),
		domain.StatusProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F")),
		domain.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7")),
		domain.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C")),
	}
)

func renderStatus(s domain.WritingStatus) string {
	label := fmt.Sprintf("%-10s", s)
	if style, ok := statusStyles[s]; ok {
		return style.Render(label)
	}
	return label
}

// isTerminal reports whether out is an interactive terminal.
func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printList(out io.Writer, writings []domain.Writing, meta domain.ListMeta) error {
	if len(writings) == 0 {
		_, err := fmt.Fprintln(out, "No writings yet")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tERRORS\tTITLE\tCREATED")
	for _, w := range writings {
		created := "-"
		if !w.CreatedAt.IsZero() {
			created = w.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", w.ID, renderStatus(w.Status), w.ErrorCount, w.DisplayTitle(), created)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if meta.TotalPages > 0 {
		_, err := fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("Page %d of %d, %d writings", meta.CurrentPage, meta.TotalPages, meta.TotalCount)))
		return err
	}
	return nil
}

func printDetail(out io.Writer, w domain.Writing) {
	fmt.Fprintf(out, "%s  #%d  %s\n", titleStyle.Render(w.DisplayTitle()), w.ID, renderStatus(w.Status))
	if w.Status.Settled() {
		fmt.Fprintf(out, "%d error(s)\n", w.ErrorCount)
	}
	if w.Comment != nil && *w.Comment != "" {
		fmt.Fprintln(out, mutedStyle.Render(*w.Comment))
	}
	fmt.Fprintln(out)
}

func printUpdate(out io.Writer, kind store.ChangeKind, w domain.Writing) {
	verb := "updated"
	if kind == store.ChangeCreate {
		verb = "new"
	}
	fmt.Fprintf(out, "%-7s #%d %s %s\n", verb, w.ID, renderStatus(w.Status), w.DisplayTitle())
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
