package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/schoolscope/extract-cli/internal/batch"
	"github.com/schoolscope/extract-cli/internal/extract"
)

var (
	extractWorkers  int
	extractReadRate float64
)

var extractCmd = &cobra.Command{
	Use:   "extract <capture-dir>",
	Short: "Extract records from a directory of captured profile pages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("extract"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		workers := extractWorkers
		if workers == 0 {
			workers = cfg.Extract.Workers
		}
		readRate := extractReadRate
		if readRate == 0 {
			readRate = cfg.Extract.ReadRate
		}

		runner := batch.NewRunner(
			extract.New(env.Fields),
			env.Store,
			env.Breakers,
			batch.WithWorkers(workers),
			batch.WithReadRate(readRate),
		)

		report, err := runner.Run(ctx, batch.NewDirSource(args[0]))
		if err != nil {
			return err
		}

		fmt.Printf("Processed %d documents (%d failed) in %s\n",
			report.Processed, report.Failed, report.Duration.Round(time.Millisecond))
		fmt.Printf("Average confidence: %.1f\n", report.AvgConfidence)
		for status, n := range report.ByStatus {
			fmt.Printf("  %s: %d\n", status, n)
		}
		if report.Conflicts > 0 {
			fmt.Printf("Ranking conflicts flagged: %d\n", report.Conflicts)
		}
		if report.Quarantined > 0 {
			fmt.Printf("Quarantined: %d (see the quarantine command)\n", report.Quarantined)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().IntVar(&extractWorkers, "workers", 0, "worker pool size (default from config)")
	extractCmd.Flags().Float64Var(&extractReadRate, "read-rate", 0, "document reads per second (default from config)")
	rootCmd.AddCommand(extractCmd)
}
