package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/jdziat/docpipeline/internal/api"
	"github.com/jdziat/docpipeline/pkg/core"
)

// StatsCmd prints job counts by state.
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by state",
	RunE:  runStats,
}

// JobCmd prints one job.
var JobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show a job by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

var statsJSON bool

func init() {
	StatsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print JSON instead of a table")
}

func runStats(cmd *cobra.Command, args []string) error {
	a, _, err := openApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.Store().Stats(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "read job stats")
	}
	stats := api.JobStats(counts)
	if statsJSON {
		return writeJSON(cmd.OutOrStdout(), stats)
	}
	return printStats(cmd.OutOrStdout(), stats)
}

func printStats(w io.Writer, stats map[core.State]int64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tJOBS")
	for _, s := range core.AllStates {
		fmt.Fprintf(tw, "%s\t%d\n", s, stats[s])
	}
	return tw.Flush()
}

func runJob(cmd *cobra.Command, args []string) error {
	a, _, err := openApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.Store().GetJob(cmd.Context(), args[0])
	if errors.Is(err, core.ErrJobNotFound) {
		return errors.Newf("job %s not found", args[0])
	}
	if err != nil {
		return errors.Wrapf(err, "load job %s", args[0])
	}
	return writeJSON(cmd.OutOrStdout(), api.NewJobView(job))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
