package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"ipwatch/internal/resolver"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	var workers *uint
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "query every service once and report whether they agree",
		Args:  cobra.NoArgs,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if *workers < 1 || *workers > 64 {
				return fmt.Errorf("--workers out of range [1..64]")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			catalog, err := a.catalog(ctx)
			if err != nil {
				return err
			}
			results := a.resolver(catalog).Verify(ctx, catalog.Endpoints(), int(*workers))
			summary := resolver.Summarize(results)
			printVerify(cmd.OutOrStdout(), results, summary)
			return summary.Err()
		},
	}
	workers = cmd.Flags().Uint("workers", 8, "number of services queried concurrently")
	return cmd
}

// printVerify writes one line per service followed by the address counts
func printVerify(w io.Writer, results []resolver.VerifyResult, summary resolver.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(tw, "%s\tFAIL\t%v\n", res.Endpoint, res.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", res.Endpoint, res.Address, res.Duration.Round(time.Millisecond))
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%d services, %d failed\n", summary.Total, summary.Failed)
	for _, ac := range summary.Addresses {
		fmt.Fprintf(w, "%s: %d\n", ac.Address, ac.Count)
	}
}
