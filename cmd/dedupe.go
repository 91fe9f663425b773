package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/schoolscope/extract-cli/internal/validate"
)

var (
	dedupeDryRun bool
	dedupeFormat string
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Collapse duplicate records sharing a (slug, year) natural key",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("dedupe"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := validate.NewDeduplicator(env.Store).Run(ctx, dedupeDryRun)
		if err != nil {
			return err
		}

		switch dedupeFormat {
		case "yaml":
			out, err := yaml.Marshal(report)
			if err != nil {
				return eris.Wrap(err, "marshal report")
			}
			os.Stdout.Write(out)
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return eris.Wrap(err, "marshal report")
			}
		default:
			if dedupeDryRun {
				fmt.Println("Dry run; no records removed.")
			}
			fmt.Printf("Duplicate groups: %d\n", report.GroupsFound)
			fmt.Printf("Records removed:  %d\n", report.RecordsRemoved)
			fmt.Printf("Records kept:     %d (avg confidence %.1f)\n",
				report.RecordsPreserved, report.AvgConfidenceKept)
		}
		return nil
	},
}

func init() {
	dedupeCmd.Flags().BoolVar(&dedupeDryRun, "dry-run", false, "report duplicates without removing anything")
	dedupeCmd.Flags().StringVar(&dedupeFormat, "format", "text", "output format: text, json, or yaml")
	rootCmd.AddCommand(dedupeCmd)
}
