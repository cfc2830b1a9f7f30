package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/gotp/pkg/model"
)

func newEventsCmd() *cobra.Command {
	var (
		limit     int
		eventType string
		cpu       int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the scheduler audit trail, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if eventType != "" {
				q.Set("type", eventType)
			}
			if cpu >= 0 {
				q.Set("cpu", strconv.Itoa(cpu))
			}

			resp, err := client.Get("/api/v1/events?" + q.Encode())
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}

			var events []model.Event
			if err := json.Unmarshal(resp.Data, &events); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if len(events) == 0 {
				fmt.Println("No events recorded.")
				return nil
			}

			fmt.Printf("%-16s  %-9s  %-4s  %-12s  %-6s  %s\n",
				"WHEN", "TYPE", "CPU", "THREAD", "WINDOW", "DETAIL")
			for _, ev := range events {
				name := ev.Thread
				if name == "" {
					name = ev.ThreadID
				}
				fmt.Printf("%-16s  %-9s  %-4d  %-12s  %-6s  %s\n",
					humanize.Time(ev.CreatedAt), ev.Type, ev.CPU,
					orDash(name), optInt(ev.Window), orDash(ev.Detail))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Printf("\n(%d of %d shown)\n", len(events), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum events to show")
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type (install, start, spawn, overrun, ...)")
	cmd.Flags().IntVar(&cpu, "cpu", -1, "Filter by CPU")
	return cmd
}
