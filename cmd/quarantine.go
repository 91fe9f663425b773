package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/schoolscope/extract-cli/internal/resilience"
)

var (
	quarantineErrorType string
	quarantineLimit     int
	quarantineFormat    string
	quarantineClear     []string
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "List or clear documents quarantined after load or persist failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("quarantine"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		for _, id := range quarantineClear {
			if err := env.Store.RemoveDLQ(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Cleared %s\n", id)
		}
		if len(quarantineClear) > 0 {
			return nil
		}

		entries, err := env.Store.ListDLQ(ctx, resilience.DLQFilter{
			ErrorType: quarantineErrorType,
			Limit:     quarantineLimit,
		})
		if err != nil {
			return err
		}

		switch quarantineFormat {
		case "yaml":
			out, err := yaml.Marshal(entries)
			if err != nil {
				return eris.Wrap(err, "marshal entries")
			}
			os.Stdout.Write(out)
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(entries); err != nil {
				return eris.Wrap(err, "marshal entries")
			}
		default:
			if len(entries) == 0 {
				fmt.Println("Quarantine is empty.")
				return nil
			}
			for _, e := range entries {
				retriable := "exhausted"
				if e.CanRetry() {
					retriable = fmt.Sprintf("retry %d/%d", e.RetryCount, e.MaxRetries)
				}
				fmt.Printf("%s  %-9s %-7s %s  %s\n",
					e.ID, e.ErrorType, e.FailedPhase, retriable, e.Path)
			}
			fmt.Printf("%d quarantined document(s)\n", len(entries))
		}
		return nil
	},
}

func init() {
	quarantineCmd.Flags().StringVar(&quarantineErrorType, "error-type", "", "filter by error type: transient or permanent")
	quarantineCmd.Flags().IntVar(&quarantineLimit, "limit", 0, "maximum entries to list (default 100)")
	quarantineCmd.Flags().StringVar(&quarantineFormat, "format", "text", "output format: text, json, or yaml")
	quarantineCmd.Flags().StringSliceVar(&quarantineClear, "clear", nil, "remove entries by id instead of listing")
	rootCmd.AddCommand(quarantineCmd)
}
