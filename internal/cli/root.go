package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/gotp/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking GOTP_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("GOTP_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the gotp CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gotp",
		Short: "gotp controls time-partitioned scheduling on a GoTP daemon",
		Long: "gotp installs and drives per-CPU partition schedules on a GoTP daemon,\n" +
			"spawns synthetic workloads against them, and replays scenario scripts locally.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "GoTP server URL (or GOTP_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newInstallCmd(),
		newUninstallCmd(),
		newStartCmd(),
		newStopCmd(),
		newGetCmd(),
		newCPUsCmd(),
		newThreadsCmd(),
		newSpawnCmd(),
		newKillCmd(),
		newMigrateCmd(),
		newEventsCmd(),
		newSimulateCmd(),
	)

	return root
}
