package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/gotp/internal/schedfile"
	"github.com/me/gotp/pkg/model"
)

func newInstallCmd() *cobra.Command {
	var flagCPU int

	cmd := &cobra.Command{
		Use:   "install <schedule.yaml>",
		Short: "Install a partition schedule from a YAML file",
		Long: "Parse and validate a schedule file, then install it on the CPU the file\n" +
			"names (or the one given with --cpu). The schedule starts stopped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := schedfile.New(logger).ParseFile(args[0])
			if err != nil {
				return err
			}
			if flagCPU >= 0 {
				doc.CPU = flagCPU
			}

			if apiErr := schedfile.NewValidator(logger).Validate(doc); apiErr != nil {
				fmt.Printf("Schedule file %s is invalid:\n", args[0])
				for _, d := range apiErr.Details {
					fmt.Printf("  %s: %s\n", d.Field, d.Message)
				}
				return apiErr
			}

			req := model.InstallRequest{Windows: doc.ToWindows()}
			resp, err := client.Put("/api/v1/cpus/"+strconv.Itoa(doc.CPU)+"/schedule", req)
			if err != nil {
				return fmt.Errorf("install schedule: %w", err)
			}

			var schedule model.Schedule
			if err := json.Unmarshal(resp.Data, &schedule); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Printf("Schedule installed on cpu %d: %d windows, frame %s\n",
				schedule.CPU, schedule.WindowCount, schedule.FrameDuration)
			return nil
		},
	}

	cmd.Flags().IntVar(&flagCPU, "cpu", -1, "Install on this CPU instead of the one in the file")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <cpu>",
		Short: "Remove the partition schedule from a CPU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/cpus/" + args[0] + "/schedule"); err != nil {
				return fmt.Errorf("uninstall schedule: %w", err)
			}
			fmt.Printf("Schedule uninstalled from cpu %s\n", args[0])
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <cpu>",
		Short: "Begin window rotation on a CPU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/cpus/"+args[0]+"/start", nil)
			if err != nil {
				return fmt.Errorf("start schedule: %w", err)
			}
			var status model.CPUStatus
			if err := json.Unmarshal(resp.Data, &status); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if status.State != model.ScheduleStateRunning {
				fmt.Printf("cpu %s has no schedule installed; nothing to start\n", args[0])
				return nil
			}
			fmt.Printf("Schedule running on cpu %s (%d windows, frame %s)\n",
				args[0], status.WindowCount, status.FrameDuration)
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <cpu>",
		Short: "Halt window rotation on a CPU, keeping the table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Post("/api/v1/cpus/"+args[0]+"/stop", nil); err != nil {
				return fmt.Errorf("stop schedule: %w", err)
			}
			fmt.Printf("Schedule stopped on cpu %s\n", args[0])
			return nil
		},
	}
}

func newGetCmd() *cobra.Command {
	var maxWindows int

	cmd := &cobra.Command{
		Use:   "get <cpu>",
		Short: "Print the partition schedule installed on a CPU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/cpus/" + args[0] + "/schedule"
			if maxWindows >= 0 {
				path += "?max_windows=" + strconv.Itoa(maxWindows)
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("get schedule: %w", err)
			}

			var schedule model.Schedule
			if err := json.Unmarshal(resp.Data, &schedule); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			state := "stopped"
			if schedule.Started {
				state = "running"
			}
			fmt.Printf("Schedule on cpu %d: %d windows, frame %s, %s\n",
				schedule.CPU, schedule.WindowCount, schedule.FrameDuration, state)
			fmt.Printf("  %-6s  %-8s  %-8s  %s\n", "WINDOW", "OFFSET", "DURATION", "PARTITION")
			for i, w := range schedule.Windows {
				fmt.Printf("  %-6d  %-8s  %-8s  %s\n", i, w.Offset, w.Duration, partitionName(w.Partition))
			}
			if len(schedule.Windows) < schedule.WindowCount {
				fmt.Printf("  (%d of %d windows shown)\n", len(schedule.Windows), schedule.WindowCount)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxWindows, "max-windows", -1, "Show at most this many windows")
	return cmd
}
