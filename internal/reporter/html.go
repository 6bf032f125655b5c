package reporter

import (
	"fmt"
	"html"
	"os"
	"strings"
)

// RenderHTML produces a self-contained HTML report for report: all
// styling inline, no external assets, so the file can be opened or
// archived standalone.
func RenderHTML(report Report) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">\n")
	b.WriteString("<title>e2eforge test report</title>\n<style>\n")
	b.WriteString(htmlStyle)
	b.WriteString("</style>\n</head><body>\n")

	fmt.Fprintf(&b, "<h1>Test Report</h1>\n<p class=\"summary %s\">%d passed, %d failed, %d skipped (%d total)</p>\n",
		summaryClass(report), report.TotalPassed, report.TotalFailed, report.TotalSkipped, report.TotalCases)

	for _, suite := range report.Suites {
		status := "suite-ok"
		if suite.Failed > 0 {
			status = "suite-fail"
		}
		if !suite.Ended {
			status += " suite-incomplete"
		}

		fmt.Fprintf(&b, "<section class=\"%s\">\n<h2>%s", status, html.EscapeString(suite.Name))
		if !suite.Ended {
			b.WriteString(" <span class=\"badge\">incomplete</span>")
		}
		b.WriteString("</h2>\n<table>\n<thead><tr><th>Case</th><th>Status</th><th>Duration</th><th>Message</th></tr></thead>\n<tbody>\n")

		for _, c := range suite.Cases {
			fmt.Fprintf(&b, "<tr class=\"%s\"><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
				caseClass(c.Status), html.EscapeString(c.Name), c.Status, c.Duration, html.EscapeString(c.Message))
			if c.Status == EventCaseFail && len(c.Assertions) > 0 {
				b.WriteString("<tr class=\"case-detail\"><td colspan=\"4\"><ul class=\"assertions\">\n")
				for _, a := range c.Assertions {
					mark := "ok"
					if !a.Passed {
						mark = "fail"
					}
					fmt.Fprintf(&b, "<li class=\"assert-%s\">%s %s %v (got %v)</li>\n",
						mark, html.EscapeString(a.Path), html.EscapeString(a.Operator), a.Expected, a.Actual)
				}
				b.WriteString("</ul></td></tr>\n")
			}
		}

		b.WriteString("</tbody>\n</table>\n</section>\n")
	}

	b.WriteString("</body></html>\n")
	return b.String()
}

// WriteHTMLFile renders report and writes it to path.
func WriteHTMLFile(report Report, path string) error {
	return os.WriteFile(path, []byte(RenderHTML(report)), 0o644)
}

func summaryClass(report Report) string {
	if report.TotalFailed > 0 {
		return "fail"
	}
	return "pass"
}

func caseClass(status EventKind) string {
	switch status {
	case EventCasePass:
		return "case-pass"
	case EventCaseFail:
		return "case-fail"
	default:
		return "case-skip"
	}
}

const htmlStyle = `
body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; margin: 2rem; color: #1a1a1a; }
h1 { margin-bottom: 0.25rem; }
.summary { font-size: 1.1rem; }
.summary.pass { color: #1a7f37; }
.summary.fail { color: #cf222e; }
section { margin-bottom: 1.5rem; border: 1px solid #d0d7de; border-radius: 6px; padding: 0.75rem 1rem; }
.suite-fail { border-color: #cf222e; }
.badge { font-size: 0.75rem; color: #9a6700; background: #fff8c5; padding: 0.1rem 0.4rem; border-radius: 4px; }
table { width: 100%; border-collapse: collapse; margin-top: 0.5rem; }
th, td { text-align: left; padding: 0.3rem 0.5rem; border-bottom: 1px solid #eaeef2; font-size: 0.9rem; }
.case-pass td:nth-child(2) { color: #1a7f37; }
.case-fail td:nth-child(2) { color: #cf222e; }
.case-skip td:nth-child(2) { color: #9a6700; }
.case-detail td { border-bottom: 1px solid #eaeef2; background: #f6f8fa; }
.assertions { margin: 0; padding-left: 1.25rem; font-size: 0.85rem; }
.assert-fail { color: #cf222e; }
.assert-ok { color: #57606a; }
`
