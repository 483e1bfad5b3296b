package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexsales/leadscore/internal/results"
	"github.com/apexsales/leadscore/internal/scoring"
)

var (
	scorePipeline     int
	scoreIDs          []int
	scoreAll          bool
	scoreLimit        int
	scoreOnlyUnscored bool
	scoreRescore      bool
	scoreOutput       string
	scoreFormat       string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score lead engagement via Claude",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		runner, err := initRunner(st)
		if err != nil {
			return err
		}

		if scoreLimit == 0 {
			scoreLimit = cfg.Scoring.MaxLeads
		}
		if !cmd.Flags().Changed("only-unscored") {
			scoreOnlyUnscored = cfg.Scoring.OnlyUnscored
		}

		summary, err := runner.Run(ctx, scoring.Request{
			IDs:        scoreIDs,
			PipelineID: scorePipeline,
			All:        scoreAll,
			Rescore:    scoreRescore || !scoreOnlyUnscored,
			MaxLeads:   scoreLimit,
		})
		if err != nil {
			return eris.Wrap(err, "scoring run")
		}

		zap.L().Info("scoring run finished",
			zap.Int("total", summary.Total),
			zap.Int("successful", summary.Successful),
			zap.Int("failed", summary.Failed),
			zap.Bool("stopped", summary.Stopped),
		)
		for _, e := range summary.Errors {
			zap.L().Warn("lead failed",
				zap.Int("lead_id", e.LeadID),
				zap.String("lead", e.LeadName),
				zap.String("error", e.Message),
				zap.Bool("fatal", e.Fatal),
			)
		}

		return writeResults(runner.Results(), scoreOutput, scoreFormat)
	},
}

// writeResults renders a set to stdout as a table, or to a file as
// csv/xlsx when an output path is given.
func writeResults(set results.Set, output, format string) error {
	if output == "" {
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSCORE\tREASON")
		for _, sl := range set.Sorted() {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", sl.ID, sl.Name, sl.AIScore, sl.AIReason)
		}
		return tw.Flush()
	}

	f, err := os.Create(output)
	if err != nil {
		return eris.Wrapf(err, "create %s", output)
	}
	defer f.Close()

	switch format {
	case "csv":
		return results.WriteCSV(f, set)
	case "xlsx":
		return results.WriteXLSX(f, set)
	default:
		return eris.Errorf("unknown format %q (want csv or xlsx)", format)
	}
}

func init() {
	scoreCmd.Flags().IntVar(&scorePipeline, "pipeline", 0, "score all open leads in this pipeline")
	scoreCmd.Flags().IntSliceVar(&scoreIDs, "ids", nil, "score specific lead IDs")
	scoreCmd.Flags().BoolVar(&scoreAll, "all", false, "score open leads across all pipelines")
	scoreCmd.Flags().IntVar(&scoreLimit, "limit", 0, "cap the number of leads scored (0 = no cap)")
	scoreCmd.Flags().BoolVar(&scoreOnlyUnscored, "only-unscored", true, "skip leads that already have a stored score")
	scoreCmd.Flags().BoolVar(&scoreRescore, "rescore", false, "include leads that already have a stored score")
	scoreCmd.Flags().StringVar(&scoreOutput, "output", "", "write results to this file instead of stdout")
	scoreCmd.Flags().StringVar(&scoreFormat, "format", "csv", "output file format: csv or xlsx")
	rootCmd.AddCommand(scoreCmd)
}
