package output

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/tkjaer/sping/internal/shared"
)

const (
	nameWidth    = 12
	lossWidth    = 7
	avgRTTWidth  = 9
	columnGap    = "  "
	noDataAvgRTT = "no data"
)

var headerStyle = lipgloss.NewStyle().Bold(true)

// TextOutput prints the two line summary table and, when verbose, a line per
// probe as it completes.
type TextOutput struct {
	mu      sync.Mutex
	w       io.Writer
	count   int
	verbose bool
	styled  bool
}

// NewTextOutput writes to stdout. The header is styled only on a terminal.
func NewTextOutput(count int, verbose bool) *TextOutput {
	return &TextOutput{
		w:       os.Stdout,
		count:   count,
		verbose: verbose,
		styled:  term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (t *TextOutput) ProbeResult(r shared.ProbeResult) {
	if !t.verbose {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Succeeded {
		fmt.Fprintf(t.w, "Reply from %s: seq=%d time=%.4fms\n", r.Peer, r.Seq, shared.Milliseconds(r.RTT))
		return
	}
	if r.Err != nil {
		fmt.Fprintf(t.w, "Request seq=%d failed: %v\n", r.Seq, r.Err)
		return
	}
	fmt.Fprintf(t.w, "Request seq=%d failed: %s\n", r.Seq, r.Failure)
}

func (t *TextOutput) Summary(s shared.Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()

	header, row := FormatReport(s, t.count)
	if t.styled {
		header = headerStyle.Render(header)
	}
	fmt.Fprintln(t.w, header)
	fmt.Fprintln(t.w, row)
}

func (t *TextOutput) Close() error {
	return nil
}

// FormatReport renders the header and the result row of the summary table.
// The ratio column is wide enough for "count/count".
func FormatReport(s shared.Summary, count int) (header, row string) {
	ratioWidth := 2*digits(count) + 1

	header = strings.Join([]string{
		padRight("Name", nameWidth),
		padLeft("Ratio", ratioWidth),
		"PktLoss",
		padLeft("AvgRTT", avgRTTWidth),
	}, columnGap)

	avg := noDataAvgRTT
	if v, err := s.AverageRTT(); err == nil {
		avg = fmt.Sprintf("%.4f", v)
	}
	row = strings.Join([]string{
		padRight(s.Target, nameWidth),
		padLeft(fmt.Sprintf("%d/%d", s.Succeeded, s.Attempted), ratioWidth),
		padLeft(fmt.Sprintf("%.2f", s.LossFraction), lossWidth),
		padLeft(avg, avgRTTWidth),
	}, columnGap)
	return header, row
}

func digits(n int) int {
	if n < 1 {
		return 1
	}
	return int(math.Floor(math.Log10(float64(n)))) + 1
}

func padRight(s string, width int) string {
	return fmt.Sprintf("%-*s", width, s)
}

func padLeft(s string, width int) string {
	return fmt.Sprintf("%*s", width, s)
}
