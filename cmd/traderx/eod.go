package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trader-x-ai/internal/eod"
	"trader-x-ai/internal/eod/eodobs"
	"trader-x-ai/internal/tradelog"
)

func eodCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "eod",
		Short: "Write the end-of-day CSV for a UTC date (default yesterday)",
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now().UTC().AddDate(0, 0, -1)
			if date != "" {
				t, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				day = t
			}
			p, err := eodobs.Wrap(eod.NewSummarizer(tradelog.Dir())).SummarizeDay(day)
			if err != nil {
				return err
			}
			if p == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No trades on", day.Format("2006-01-02"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "EOD CSV written:", p)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "UTC date, YYYY-MM-DD")
	return cmd
}
