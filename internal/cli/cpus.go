package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/gotp/pkg/model"
)

func newCPUsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cpus",
		Short: "List per-CPU scheduler status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/cpus/")
			if err != nil {
				return fmt.Errorf("list cpus: %w", err)
			}

			var statuses []model.CPUStatus
			if err := json.Unmarshal(resp.Data, &statuses); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("%-4s  %-10s  %-8s  %-8s  %-7s  %-10s  %-8s  %s\n",
				"CPU", "STATE", "WINDOWS", "FRAME", "WINDOW", "PARTITION", "THREADS", "RUNNING")
			for _, st := range statuses {
				frame := "-"
				if st.WindowCount > 0 {
					frame = st.FrameDuration.String()
				}
				partition := "-"
				if st.CurrentPartition != nil {
					partition = partitionName(*st.CurrentPartition)
				}
				fmt.Printf("%-4d  %-10s  %-8d  %-8s  %-7s  %-10s  %-8d  %s\n",
					st.CPU, st.State, st.WindowCount, frame,
					optInt(st.CurrentWindow), partition,
					st.AttachedThreads, orDash(st.RunningThread))
			}
			return nil
		},
	}
}
