package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/gotp/pkg/model"
)

func newThreadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List synthetic threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/threads/")
			if err != nil {
				return fmt.Errorf("list threads: %w", err)
			}

			var threads []model.Thread
			if err := json.Unmarshal(resp.Data, &threads); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if len(threads) == 0 {
				fmt.Println("No threads attached.")
				return nil
			}

			fmt.Printf("%-12s  %-12s  %-4s  %-6s  %-4s  %-9s  %-8s  %-10s  %s\n",
				"ID", "NAME", "CPU", "POLICY", "PRIO", "PARTITION", "STATE", "DISPATCHES", "OVERRUNS")
			for _, t := range threads {
				fmt.Printf("%-12s  %-12s  %-4d  %-6s  %-4d  %-9s  %-8s  %-10d  %d\n",
					t.ID, t.Name, t.CPU, t.Policy, t.Priority,
					partitionName(t.Partition), t.State, t.Dispatches, t.Overruns)
			}
			return nil
		},
	}
}

func newSpawnCmd() *cobra.Command {
	var (
		name        string
		cpu         int
		policy      string
		priority    int
		partition   int
		warnOverrun bool
		runFor      string
		sleepFor    string
	)

	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Spawn a synthetic thread with a duty cycle",
		Long: "Create a thread on the daemon. With --run-for the thread burns that much\n" +
			"time per dispatch, then sleeps --sleep-for (or yields when zero); without\n" +
			"it the thread runs until preempted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := model.SpawnRequest{
				Name:        name,
				CPU:         cpu,
				Policy:      model.Policy(policy),
				Priority:    priority,
				Partition:   partition,
				WarnOverrun: warnOverrun,
			}
			if runFor != "" {
				d, err := time.ParseDuration(runFor)
				if err != nil {
					return fmt.Errorf("parse --run-for: %w", err)
				}
				req.RunFor = model.Duration(d)
			}
			if sleepFor != "" {
				d, err := time.ParseDuration(sleepFor)
				if err != nil {
					return fmt.Errorf("parse --sleep-for: %w", err)
				}
				req.SleepFor = model.Duration(d)
			}

			resp, err := client.Post("/api/v1/threads/", req)
			if err != nil {
				return fmt.Errorf("spawn thread: %w", err)
			}

			var thread model.Thread
			if err := json.Unmarshal(resp.Data, &thread); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Printf("Thread spawned: %s (%s) on cpu %d, policy %s priority %d\n",
				thread.ID, thread.Name, thread.CPU, thread.Policy, thread.Priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Thread name")
	cmd.Flags().IntVar(&cpu, "cpu", 0, "CPU to attach to")
	cmd.Flags().StringVar(&policy, "policy", "tp", "Scheduling policy (tp, fifo)")
	cmd.Flags().IntVar(&priority, "priority", 50, "Priority 1-99")
	cmd.Flags().IntVar(&partition, "partition", 0, "Partition under the tp policy")
	cmd.Flags().BoolVar(&warnOverrun, "warn-overrun", false, "Report window overruns for this thread")
	cmd.Flags().StringVar(&runFor, "run-for", "", "Duty cycle burn per dispatch, e.g. 3ms")
	cmd.Flags().StringVar(&sleepFor, "sleep-for", "", "Sleep after each burn, e.g. 2ms")
	return cmd
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <thread_id>",
		Short: "Detach a thread and cancel its duty cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/threads/" + args[0]); err != nil {
				return fmt.Errorf("kill thread: %w", err)
			}
			fmt.Printf("Thread %s killed\n", args[0])
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <thread_id> <cpu>",
		Short: "Move a thread to another CPU",
		Long: "Move a thread to another CPU. Threads under the tp policy come back\n" +
			"demoted to fifo; partition windows do not follow threads across CPUs.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cpu, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("cpu %q is not a number", args[1])
			}

			resp, err := client.Post("/api/v1/threads/"+args[0]+"/migrate", model.MigrateRequest{CPU: cpu})
			if err != nil {
				return fmt.Errorf("migrate thread: %w", err)
			}

			var thread model.Thread
			if err := json.Unmarshal(resp.Data, &thread); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Printf("Thread %s now on cpu %d under %s priority %d\n",
				thread.ID, thread.CPU, thread.Policy, thread.Priority)
			return nil
		},
	}
}
