// Package report summarises probe results and renders them for humans or as
// JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JakeTRogers/pyCheck/probe"
	"github.com/JakeTRogers/pyCheck/python"
	"github.com/JakeTRogers/pyCheck/smoke"
	"github.com/charmbracelet/lipgloss"
	units "github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const nameWidth = 15

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Report is everything gathered during one run.
type Report struct {
	Interpreter string          `json:"interpreter"`
	Results     []probe.Result  `json:"results"`
	Python      *python.Info    `json:"python,omitempty"`
	PythonError string          `json:"python_error,omitempty"`
	Checks      []smoke.Outcome `json:"checks,omitempty"`
	Elapsed     time.Duration   `json:"-"`
}

// Options control human readable rendering.
type Options struct {
	Color bool
}

// Summary holds the aggregate counts of a run.
type Summary struct {
	Total      int     `json:"total"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	Rate       float64 `json:"success_rate"`
}

// Partition splits results into successful and failed ones, keeping their
// relative order.
func Partition(results []probe.Result) (ok, failed []probe.Result) {
	for _, r := range results {
		if r.Success {
			ok = append(ok, r)
		} else {
			failed = append(failed, r)
		}
	}
	return ok, failed
}

// Summarize counts results.
func Summarize(results []probe.Result) Summary {
	ok, failed := Partition(results)
	return Summary{
		Total:      len(results),
		Successful: len(ok),
		Failed:     len(failed),
		Rate:       Rate(len(ok), len(results)),
	}
}

// Rate returns successful/total as a percentage, or 0 when total is 0.
func Rate(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}

// FormatRate renders a percentage with one decimal place.
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate)
}

// WriteJSON writes r, its summary and the elapsed time as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	out := struct {
		Report
		Summary   Summary `json:"summary"`
		ElapsedMS int64   `json:"elapsed_ms"`
	}{
		Report:    r,
		Summary:   Summarize(r.Results),
		ElapsedMS: r.Elapsed.Milliseconds(),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type printer struct {
	w     io.Writer
	color bool
}

// Print writes the human readable report to w.
func Print(w io.Writer, r Report, opts Options) {
	p := printer{w: w, color: opts.Color}
	ok, failed := Partition(r.Results)
	summary := Summarize(r.Results)

	p.line(p.heading(fmt.Sprintf("🔍 Testing Python packages with %s...", r.Interpreter)))
	p.line(strings.Repeat("=", 60))

	p.line("")
	p.line(p.heading("✅ SUCCESSFUL IMPORTS:"))
	p.line(strings.Repeat("-", 40))
	rows := make([]table.Row, 0, len(ok))
	for _, res := range ok {
		rows = append(rows, table.Row{res.Name, "Version: " + res.Detail})
	}
	p.table(rows, text.FgHiGreen)

	if len(failed) > 0 {
		p.line("")
		p.line(p.heading("❌ FAILED IMPORTS:"))
		p.line(strings.Repeat("-", 40))
		rows = make([]table.Row, 0, len(failed))
		for _, res := range failed {
			rows = append(rows, table.Row{res.Name, res.Detail})
		}
		p.table(rows, text.FgHiRed)
	}

	p.line("")
	p.line(strings.Repeat("=", 60))
	p.line(p.heading("📊 SUMMARY:"))
	p.line(fmt.Sprintf("  Total packages tested: %d", summary.Total))
	p.line(fmt.Sprintf("  ✅ Successful: %d", summary.Successful))
	p.line(fmt.Sprintf("  ❌ Failed: %d", summary.Failed))
	p.line(fmt.Sprintf("  📈 Success rate: %s", FormatRate(summary.Rate)))
	p.line(fmt.Sprintf("  ⏱  Elapsed: %s", units.HumanDuration(r.Elapsed)))

	p.line("")
	p.line(p.heading("🐍 PYTHON INFO:"))
	if r.Python != nil {
		p.line(fmt.Sprintf("  Python version: %s", r.Python.Version))
		p.line(fmt.Sprintf("  Python executable: %s", r.Python.Executable))
		p.line(fmt.Sprintf("  Python path entries: %d", r.Python.PathEntries))
	} else {
		reason := r.PythonError
		if reason == "" {
			reason = "not available"
		}
		p.line(fmt.Sprintf("  %s %s", p.fail("❌"), "Interpreter info unavailable: "+reason))
	}

	if r.Checks != nil {
		p.line("")
		p.line(p.heading("🧪 QUICK FUNCTIONALITY TESTS:"))
		for _, c := range r.Checks {
			if c.Passed {
				p.line(fmt.Sprintf("  %s %s", p.pass("✅"), c.Message))
			} else {
				p.line(fmt.Sprintf("  %s %s", p.fail("❌"), c.Message))
			}
		}
	}
}

func (p printer) line(s string) {
	fmt.Fprintln(p.w, s)
}

func (p printer) heading(s string) string {
	if p.color {
		return headingStyle.Render(s)
	}
	return s
}

func (p printer) pass(s string) string {
	if p.color {
		return passStyle.Render(s)
	}
	return s
}

func (p printer) fail(s string) string {
	if p.color {
		return failStyle.Render(s)
	}
	return s
}

// table renders two-column rows with the name column padded to nameWidth.
func (p printer) table(rows []table.Row, detailColor text.Color) {
	if len(rows) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(p.w)
	if p.color {
		configureColoredTable(t, detailColor)
	} else {
		configurePlainTable(t)
	}
	t.AppendRows(rows)
	t.Render()
}

func configurePlainTable(t table.Writer) {
	t.SetStyle(table.StyleDefault)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = true
	t.Style().Options.SeparateHeader = false
	t.Style().Options.SeparateRows = false
	t.Style().Box.PaddingLeft = "  "
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: nameWidth},
	})
}

func configureColoredTable(t table.Writer, detailColor text.Color) {
	t.SetStyle(table.StyleRounded)
	t.Style().Options.DoNotColorBordersAndSeparators = true
	t.Style().Options.SeparateRows = false
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: nameWidth, Colors: text.Colors{text.FgHiBlue, text.Bold}},
		{Number: 2, Colors: text.Colors{detailColor}},
	})
}
