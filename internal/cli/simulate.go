package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/me/gotp/internal/scenario"
	"github.com/me/gotp/pkg/model"
)

func newSimulateCmd() *cobra.Command {
	var cpus int

	cmd := &cobra.Command{
		Use:   "simulate <script.js>",
		Short: "Run a scenario script locally and print the trace",
		Long: "Run a JavaScript scheduling scenario against a simulated core on a mock\n" +
			"clock. No daemon is contacted; the script installs schedules, spawns\n" +
			"workloads and advances virtual time, and the recorded trace is printed\n" +
			"as a timeline.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}

			trace, err := scenario.NewEngine(cpus, logger).Run(string(src))
			if err != nil {
				return err
			}

			fmt.Printf("Scenario ran %s of virtual time: %d window activations, %d switches, %d overruns\n",
				trace.Duration, len(trace.Windows), len(trace.Switches), len(trace.Overruns))
			for _, line := range timeline(trace) {
				fmt.Printf("  %8s  %s\n", line.at, line.text)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&cpus, "cpus", 1, "Number of simulated CPUs")
	return cmd
}

type traceLine struct {
	at   model.Duration
	text string
}

// timeline merges the trace sections into one chronological listing.
// Within a single instant events keep their causal order: overruns are
// detected at the tick, then the next window activates, then the
// dispatch switches.
func timeline(trace *scenario.Trace) []traceLine {
	lines := make([]traceLine, 0,
		len(trace.Overruns)+len(trace.Windows)+len(trace.Switches)+len(trace.Logs))

	for _, o := range trace.Overruns {
		lines = append(lines, traceLine{o.At,
			fmt.Sprintf("cpu %d  overrun in window %d by %s", o.CPU, o.Window, o.ThreadID)})
	}
	for _, w := range trace.Windows {
		lines = append(lines, traceLine{w.At,
			fmt.Sprintf("cpu %d  window %d -> partition %s", w.CPU, w.Window, partitionName(w.Partition))})
	}
	for _, s := range trace.Switches {
		prev, next := s.Prev, s.Next
		if prev == "" {
			prev = "idle"
		}
		if next == "" {
			next = "idle"
		}
		lines = append(lines, traceLine{s.At,
			fmt.Sprintf("cpu %d  switch %s -> %s", s.CPU, prev, next)})
	}
	for _, l := range trace.Logs {
		lines = append(lines, traceLine{l.At, "log: " + l.Message})
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].at < lines[j].at })
	return lines
}
