package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// ServeCmd runs the HTTP server, dispatcher, worker pool and recurring trigger.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the HTTP server and background workers",
	Long: `Start the registration API together with the job dispatcher, the worker
pool and the nightly cleanup trigger. Tables are migrated on startup.

SIGINT or SIGTERM stops accepting requests and drains running jobs within
worker.shutdown_grace.`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().String("addr", ":8080", "HTTP listen address")
	ServeCmd.Flags().Int("concurrency", 5, "Number of jobs run in parallel")
	ServeCmd.Flags().String("worker-id", "", "Worker identity recorded on claimed jobs")
	ServeCmd.Flags().Duration("conversion-delay", 0, "Delay between registration and conversion")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, logger, err := openApp(cmd, map[string]string{
		"addr":             "server.addr",
		"concurrency":      "worker.concurrency",
		"worker-id":        "worker.id",
		"conversion-delay": "jobs.conversion_delay",
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting docpipeline")
	return a.Run(ctx)
}
