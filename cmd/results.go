package main

import (
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexsales/leadscore/internal/results"
)

var (
	resultsOutput string
	resultsFormat string
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect and manage stored scores",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print stored scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		set, err := st.Load(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "load scores")
		}
		return writeResults(set, "", "")
	},
}

var resultsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored scores to CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		set, err := st.Load(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "load scores")
		}
		if resultsOutput == "" {
			return results.WriteCSV(os.Stdout, set)
		}
		return writeResults(set, resultsOutput, resultsFormat)
	},
}

var resultsImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import a CSV export, backfilling scores without overwriting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		set, err := st.Load(ctx)
		if err != nil {
			return eris.Wrap(err, "load scores")
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close()

		imported, err := results.ReadCSV(f, set)
		if err != nil {
			return eris.Wrap(err, "import csv")
		}
		if err := st.Save(ctx, set); err != nil {
			return eris.Wrap(err, "save scores")
		}

		zap.L().Info("import complete",
			zap.Int("imported", imported),
			zap.Int("total", len(set)),
		)
		return nil
	},
}

var resultsDeleteCmd = &cobra.Command{
	Use:   "delete <lead-id>",
	Short: "Delete one lead's stored score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return eris.Wrapf(err, "invalid lead id %q", args[0])
		}

		st, err := initStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		return st.Delete(cmd.Context(), id)
	},
}

var resultsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		return st.Clear(cmd.Context())
	},
}

func init() {
	resultsExportCmd.Flags().StringVar(&resultsOutput, "output", "", "write to this file instead of stdout")
	resultsExportCmd.Flags().StringVar(&resultsFormat, "format", "csv", "output file format: csv or xlsx")
	resultsCmd.AddCommand(resultsListCmd, resultsExportCmd, resultsImportCmd, resultsDeleteCmd, resultsClearCmd)
	rootCmd.AddCommand(resultsCmd)
}
