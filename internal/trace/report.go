package trace

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// Report is a per-thread summary of a recorded run. Run lengths are in
// ticks; a thread that delays again within the tick it woke in has a run
// of length 0.
type Report struct {
	Ticks    uint64      `yaml:"ticks"`
	Switches int         `yaml:"switches"`
	Dropped  uint64      `yaml:"dropped"`
	Threads  []ThreadRow `yaml:"threads"`
}

type ThreadRow struct {
	Name      string  `yaml:"name"`
	Priority  int     `yaml:"priority"`
	Runs      int     `yaml:"runs"`
	Share     float64 `yaml:"share"`
	MeanRun   float64 `yaml:"mean_run"`
	StdDevRun float64 `yaml:"stddev_run"`
	P95Run    float64 `yaml:"p95_run"`
	MaxRun    float64 `yaml:"max_run"`
	StackUsed int     `yaml:"stack_used,omitempty"`
	StackSize int     `yaml:"stack_size,omitempty"`
}

// Analyze turns a switch log into a Report. end is the tick count at which
// recording stopped; it closes the last run. Rows are ordered by priority,
// highest first.
func Analyze(events []Event, end uint64, name func(prio int) string) Report {
	runs := make(map[int][]float64)
	running, since := NoThread, uint64(0)
	switches := 0

	for _, e := range events {
		if e.From == e.To && e.From == running {
			continue
		}
		if running != NoThread {
			runs[running] = append(runs[running], float64(e.Tick-since))
		}
		running, since = e.To, e.Tick
		switches++
	}
	if running != NoThread && end >= since {
		runs[running] = append(runs[running], float64(end-since))
	}

	rep := Report{Ticks: end, Switches: switches}
	for prio, xs := range runs {
		row := ThreadRow{Name: name(prio), Priority: prio, Runs: len(xs)}
		total := floats.Sum(xs)
		if end > 0 {
			row.Share = total / float64(end)
		}
		row.MeanRun = stat.Mean(xs, nil)
		if len(xs) > 1 {
			row.StdDevRun = stat.StdDev(xs, nil)
		}
		sorted := append([]float64(nil), xs...)
		slices.Sort(sorted)
		row.P95Run = stat.Quantile(0.95, stat.Empirical, sorted, nil)
		row.MaxRun = floats.Max(xs)
		rep.Threads = append(rep.Threads, row)
	}
	slices.SortFunc(rep.Threads, func(a, b ThreadRow) int { return b.Priority - a.Priority })
	return rep
}

// WriteText writes rep as an aligned table.
func WriteText(w io.Writer, rep Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ticks: %d\tswitches: %d\tdropped: %d\n\n", rep.Ticks, rep.Switches, rep.Dropped)
	fmt.Fprintln(tw, "PRIO\tNAME\tRUNS\tSHARE\tMEAN\tSTDDEV\tP95\tMAX\tSTACK")
	for _, r := range rep.Threads {
		stack := "-"
		if r.StackSize > 0 {
			stack = fmt.Sprintf("%d/%d", r.StackUsed, r.StackSize)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.1f%%\t%s\t%s\t%s\t%s\t%s\n",
			r.Priority, r.Name, r.Runs, r.Share*100,
			ticks(r.MeanRun), ticks(r.StdDevRun), ticks(r.P95Run), ticks(r.MaxRun), stack)
	}
	return tw.Flush()
}

func ticks(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

// WriteYAML writes rep as a YAML document.
func WriteYAML(w io.Writer, rep Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}
