package main

import (
	"fmt"

	"ipwatch/internal/config"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "print an example config or write the effective one",
	}
	cmd.AddCommand(newConfigExampleCmd(), newConfigWriteCmd())
	return cmd
}

func newConfigExampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example",
		Short: "print an example config file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.ExampleConfig)
		},
	}
}

func newConfigWriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write PATH",
		Short: "write the effective config, including flag overrides, to PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.cfg.Write(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", args[0])
			return nil
		},
	}
	addWatchFlags(cmd.Flags())
	return cmd
}
