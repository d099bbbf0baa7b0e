package reporting

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testorch/logging"
	"github.com/ethereum-optimism/infra/op-testorch/results"
	"github.com/ethereum-optimism/infra/op-testorch/types"
)

const reportingAnomaly = "WARNING: Tests were run, but no report generated: a test probably failed to build"

// Summary groups, in print order
var classOrder = []types.Classification{
	types.ClassificationPassed,
	types.ClassificationFlakey,
	types.ClassificationFailed,
}

// SummaryConfig controls how the end-of-build summary is rendered
type SummaryConfig struct {
	Writer         io.Writer
	Color          bool
	DumpFailed     bool // dump runlogs of failed iterations
	DumpPassed     bool // dump runlogs of passed iterations too
	Table          bool
	IgnoreFailures bool
}

// Finalization is what the orchestrator knows once the build graph has drained
type Finalization struct {
	TestsScheduled bool
	Report         results.Snapshot
	Published      bool
	Failures       []string // failed build graph nodes
	Skipped        int      // nodes never run because a dependency failed or the build was interrupted
}

// SummaryPrinter renders the final human-readable report. Print runs at most once.
type SummaryPrinter struct {
	cfg     SummaryConfig
	printed atomic.Bool
}

// NewSummaryPrinter creates a SummaryPrinter writing to cfg.Writer, or stdout
func NewSummaryPrinter(cfg SummaryConfig) *SummaryPrinter {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	return &SummaryPrinter{cfg: cfg}
}

// Print writes the summary. It returns false without writing when it already ran.
func (p *SummaryPrinter) Print(fin Finalization) (bool, error) {
	if !p.printed.CompareAndSwap(false, true) {
		return false, nil
	}

	w := bufio.NewWriter(p.cfg.Writer)
	switch {
	case fin.Published && len(fin.Report) > 0:
		if p.cfg.Table {
			p.writeTable(w, fin.Report)
		} else {
			p.writeLines(w, fin.Report)
		}
		p.writeTally(w, fin.Report.Tally())
	case !fin.Published && fin.TestsScheduled:
		fmt.Fprintln(w, p.paint(text.FgYellow, reportingAnomaly))
	}

	failed := fin.Skipped > 0
	for _, node := range fin.Failures {
		failed = true
		if node == ReportNodeName {
			continue
		}
		fmt.Fprintln(w, p.paint(text.FgRed, "TARGET FAILED: "+node))
	}
	if failed {
		fmt.Fprintln(w, p.paint(text.FgRed, "BUILD FAILED"))
	} else {
		fmt.Fprintln(w, p.paint(text.FgGreen, "BUILD OK"))
	}
	return true, w.Flush()
}

// Printed reports whether Print already ran
func (p *SummaryPrinter) Printed() bool {
	return p.printed.Load()
}

func (p *SummaryPrinter) writeLines(w io.Writer, report results.Snapshot) {
	for _, class := range classOrder {
		for _, name := range report.Names() {
			agg := report[name]
			if c, ok := agg.Classification(); !ok || c != class {
				continue
			}
			dump := p.dumps(class)
			line := p.paint(classColor(class), SummaryLine(agg))
			if !dump && class == types.ClassificationFlakey {
				line += fmt.Sprintf("\t{ failed: %s }", formatIterations(agg.FailedIterations()))
			}
			fmt.Fprintln(w, line)
			if dump {
				p.writeLogs(w, agg)
			}
		}
	}
}

func (p *SummaryPrinter) writeTable(w io.Writer, report results.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Test Results")
	t.AppendHeader(table.Row{"Status", "Test", "Passed", "Failed", "Runtime", "Std Deviation", "Failed Iterations"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Runtime", Align: text.AlignRight},
		{Name: "Std Deviation", Align: text.AlignRight},
	})

	var dumped []results.AggregateResult
	for _, class := range classOrder {
		for _, name := range report.Names() {
			agg := report[name]
			if c, ok := agg.Classification(); !ok || c != class {
				continue
			}
			stats := agg.Stats()
			stddev := ""
			if stats.HasStdDev {
				stddev = fmt.Sprintf("%0.5f", stats.StdDev.Seconds())
			}
			t.AppendRow(table.Row{
				p.paint(classColor(class), string(class)),
				name,
				len(agg.Passed),
				len(agg.Failed),
				formatRuntime(stats.Mean),
				stddev,
				formatIterations(agg.FailedIterations()),
			})
			if p.dumps(class) {
				dumped = append(dumped, agg)
			}
		}
	}

	tally := report.Tally()
	if p.cfg.Color {
		switch {
		case tally.Failed > 0:
			t.SetStyle(table.StyleColoredBlackOnRedWhite)
		case tally.Flakey > 0:
			t.SetStyle(table.StyleColoredBlackOnYellowWhite)
		default:
			t.SetStyle(table.StyleColoredBlackOnGreenWhite)
		}
	} else {
		t.SetStyle(table.StyleLight)
	}
	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d tests", len(report)),
		tally.Passed,
		tally.Failed + tally.Flakey,
		"",
		"",
		fmt.Sprintf("%d flakey", tally.Flakey),
	})
	t.Render()

	for _, agg := range dumped {
		p.writeLogs(w, agg)
	}
}

func (p *SummaryPrinter) writeLogs(w io.Writer, agg results.AggregateResult) {
	for _, outcome := range agg.Iterations() {
		class := types.ClassificationPassed
		if !outcome.Passed() {
			class = types.ClassificationFailed
		}
		fmt.Fprintf(w, "---------------- %s: %s ---------------\n", p.paint(classColor(class), string(class)), outcome.LogPath)
		if !p.dumps(class) {
			continue
		}
		lines, err := logging.ReadRunLogLines(outcome.LogPath)
		if err != nil {
			fmt.Fprintf(w, "\t<unable to read log: %v>\n", err)
		}
		for _, line := range lines {
			if !p.cfg.Color {
				line = stripansi.Strip(line)
			}
			fmt.Fprintf(w, "\t%s\n", line)
		}
		fmt.Fprintln(w)
	}
}

func (p *SummaryPrinter) writeTally(w io.Writer, tally results.Tally) {
	if tally.AllPassed() {
		fmt.Fprintln(w, p.paint(text.FgGreen, "ALL TESTS PASSED"))
		return
	}
	color := text.FgRed
	if tally.Failed == 0 {
		color = text.FgYellow
	}
	msg := p.paint(color, TallyLine(tally))
	if p.cfg.IgnoreFailures {
		msg += "\n" + p.paint(text.FgYellow, "IGNORING TEST FAILURES AT USERS REQUEST")
	}
	fmt.Fprintln(w, msg)
}

// dumps reports whether iterations or tests of the class get their logs printed
func (p *SummaryPrinter) dumps(class types.Classification) bool {
	if class == types.ClassificationPassed {
		return p.cfg.DumpPassed
	}
	return p.cfg.DumpFailed
}

// paint wraps s in an explicit escape sequence so output does not depend on
// go-pretty's global color detection
func (p *SummaryPrinter) paint(c text.Color, s string) string {
	if !p.cfg.Color {
		return s
	}
	return c.EscapeSeq() + s + text.Reset.EscapeSeq()
}

func classColor(class types.Classification) text.Color {
	switch class {
	case types.ClassificationPassed:
		return text.FgGreen
	case types.ClassificationFlakey:
		return text.FgYellow
	default:
		return text.FgRed
	}
}

// SummaryLine renders the uncolored per-test summary line
func SummaryLine(agg results.AggregateResult) string {
	class, _ := agg.Classification()
	stats := agg.Stats()

	runtime := "runtime: "
	stddev := ""
	if stats.Count > 1 {
		runtime = "avg runtime: "
	}
	if stats.HasStdDev {
		stddev = fmt.Sprintf("[std deviation: %0.5f]", stats.StdDev.Seconds())
	}
	return fmt.Sprintf("[%s (%04dP, %04dF)][%s%s]%s %s",
		class, len(agg.Passed), len(agg.Failed), runtime, formatRuntime(stats.Mean), stddev, agg.Name)
}

// TallyLine renders the aggregate failure line
func TallyLine(t results.Tally) string {
	if t.AllPassed() {
		return "ALL TESTS PASSED"
	}
	return fmt.Sprintf("TESTS FAILED: %d FAILED, %d FLAKEY", t.Failed, t.Flakey)
}

func formatRuntime(d time.Duration) string {
	return d.Round(time.Microsecond).String()
}

func formatIterations(iterations []int) string {
	parts := make([]string, len(iterations))
	for i, it := range iterations {
		parts[i] = strconv.Itoa(it)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
