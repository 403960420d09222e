package main

import (
	"errors"
	"fmt"
	"io"

	"ipwatch/internal/servers"
	"ipwatch/internal/version"

	"github.com/spf13/cobra"
)

func newServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "inspect or refresh the cached list of IP services",
	}
	cmd.AddCommand(newServersShowCmd(), newServersRefreshCmd())
	return cmd
}

func newServersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "print the cached service list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			cache, err := a.cache()
			if err != nil {
				return err
			}
			snap, err := cache.Read()
			if errors.Is(err, servers.ErrCacheExpired) {
				return fmt.Errorf("%w, run \"ipwatch servers refresh\"", err)
			}
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), cache.Path(), snap)
			return nil
		},
	}
}

func newServersRefreshCmd() *cobra.Command {
	var remote *bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "rebuild the cached service list",
		Long: `Rebuild the cached service list from server_list_file, falling back to
the bundled list. With --remote the list is downloaded from server_list_url.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			cache, err := a.cache()
			if err != nil {
				return err
			}

			var sources []servers.Source
			if *remote {
				sources = append(sources, servers.NewRemoteSource(a.cfg.ServerListURL, version.UserAgent("")))
			} else {
				if a.cfg.ServerListFile != "" {
					sources = append(sources, servers.FileSource{Path: a.cfg.ServerListFile})
				}
				sources = append(sources, servers.BundledSource{})
			}

			snap, err := cache.Refresh(cmd.Context(), sources...)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), cache.Path(), snap)
			return nil
		},
	}
	remote = cmd.Flags().Bool("remote", false, "download the list from server_list_url")
	return cmd
}

func printSnapshot(w io.Writer, path string, snap *servers.Snapshot) {
	fmt.Fprintf(w, "cache:   %s\n", path)
	fmt.Fprintf(w, "expiry:  %s\n", snap.ExpiryDisplay)
	fmt.Fprintf(w, "servers: %d\n", len(snap.Servers))
	for _, s := range snap.Servers {
		fmt.Fprintf(w, "  %s\n", s)
	}
}
