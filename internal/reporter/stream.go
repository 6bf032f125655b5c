package reporter

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// StreamReporter writes a human-readable line per event as it arrives.
// Output is colorized when Out is a tty; plain text otherwise.
type StreamReporter struct {
	Out    io.Writer
	Colors bool
}

// NewStreamReporter returns a StreamReporter writing to out, enabling
// ANSI colors only when out is a terminal.
func NewStreamReporter(out io.Writer) *StreamReporter {
	colors := false
	if f, ok := out.(*os.File); ok {
		colors = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &StreamReporter{Out: out, Colors: colors}
}

// Write renders one event as a line of output.
func (r *StreamReporter) Write(e Event) {
	switch e.Kind {
	case EventSuiteStart:
		fmt.Fprintf(r.Out, "%s %s\n", r.paint(text.FgHiBlue, "==>"), e.Suite)
	case EventCaseStart:
		fmt.Fprintf(r.Out, "  %s %s\n", r.paint(text.FgHiBlack, "..."), e.Case)
	case EventCasePass:
		fmt.Fprintf(r.Out, "  %s %s (%s)\n", r.paint(text.FgGreen, "PASS"), e.Case, e.Duration)
	case EventCaseFail:
		fmt.Fprintf(r.Out, "  %s %s (%s) %s\n", r.paint(text.FgRed, "FAIL"), e.Case, e.Duration, e.Message)
		for _, a := range e.Assertions {
			if a.Passed {
				continue
			}
			fmt.Fprintf(r.Out, "      %s %s %s %v, got %v\n", r.paint(text.FgHiBlack, "-"), a.Path, a.Operator, a.Expected, a.Actual)
		}
	case EventCaseSkip:
		fmt.Fprintf(r.Out, "  %s %s\n", r.paint(text.FgYellow, "SKIP"), e.Case)
	case EventSuiteEnd:
		fmt.Fprintf(r.Out, "%s %s (%s)\n", r.paint(text.FgHiBlue, "<=="), e.Suite, e.Duration)
	}
}

// Summary writes the final totals line for report.
func (r *StreamReporter) Summary(report Report) {
	status := text.FgGreen
	if report.TotalFailed > 0 {
		status = text.FgRed
	}
	fmt.Fprintf(r.Out, "\n%s %d passed, %d failed, %d skipped (%d total)\n",
		r.paint(status, "Result:"), report.TotalPassed, report.TotalFailed, report.TotalSkipped, report.TotalCases)
}

func (r *StreamReporter) paint(c text.Color, s string) string {
	if !r.Colors {
		return s
	}
	return c.Sprint(s)
}
