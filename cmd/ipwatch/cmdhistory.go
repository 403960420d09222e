package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"ipwatch/internal/history"
	"ipwatch/internal/types"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit *int
		since *time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "list recorded address changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			if !a.cfg.History.Enabled {
				return fmt.Errorf("history is disabled, set history.enabled in the config")
			}

			hs, err := history.Open(cmd.Context(), a.cfg.History, a.logger)
			if err != nil {
				return err
			}
			defer hs.Close()

			filter := &types.IPChangeFilter{Limit: *limit}
			if *since > 0 {
				filter.StartTime = time.Now().Add(-*since)
			}
			changes, err := hs.Recent(cmd.Context(), filter)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DETECTED\tMACHINE\tEXTERNAL\tLOCAL\tSOURCE")
			for _, c := range changes {
				fmt.Fprintf(tw, "%s\t%s\t%s -> %s\t%s -> %s\t%s\n",
					c.DetectedAt.Local().Format(time.DateTime), c.Machine,
					orNone(c.OldExternal), c.NewExternal,
					orNone(c.OldLocal), c.NewLocal, c.Source)
			}
			return tw.Flush()
		},
	}
	limit = cmd.Flags().Int("limit", 20, "maximum number of changes to list")
	since = cmd.Flags().Duration("since", 0, "only list changes newer than this")
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
