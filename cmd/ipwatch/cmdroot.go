package main

import (
	"fmt"

	"ipwatch/internal/config"
	"ipwatch/internal/version"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configFile *string
	debug      *bool
)

const rootLong = `ipwatch gets your external IP address, checks it against your "saved"
IP address and, if a difference is found, emails you the new IP. This is
useful for servers at residential locations whose IP address may change
periodically due to actions by the ISP.

To be able to use it, create a config file
"%s"
with the following info:
%s`

func newRootCmd() (rootCmd *cobra.Command) {
	rootCmd = &cobra.Command{
		Use:          "ipwatch [flags]",
		Short:        "ipwatch notifies you when the external IP address of this machine changes",
		Long:         fmt.Sprintf(rootLong, config.DefaultFile(), config.ExampleConfig),
		Version:      version.Version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runWatch,
	}
	// Sets up the flags.
	configFile = rootCmd.PersistentFlags().StringP(
		"config-file", "c", "", "read email addresses, machine name, blacklist and try count from this file")
	debug = rootCmd.PersistentFlags().Bool(
		"debug", false, "enable debugging output")
	addCommonFlags(rootCmd.PersistentFlags())
	addWatchFlags(rootCmd.Flags())

	rootCmd.AddCommand(
		newRunCmd(),
		newVerifyCmd(),
		newServersCmd(),
		newConfigCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return
}

// addCommonFlags registers overrides shared by every command. Values are
// picked up by name when the config is loaded.
func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("cache-dir", "", "directory holding the service cache and saved addresses")
	fs.String("server-list-file", "", "read the service list from this JSON file")
	fs.String("server-list-url", "", "fetch the service list from this URL on servers refresh --remote")
	fs.Duration("fetch-timeout", 0, "timeout of a single service query")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
}

// addWatchFlags registers the overrides of a watch run
func addWatchFlags(fs *pflag.FlagSet) {
	fs.Bool("dry-run", false, "do not send email")
	fs.Bool("force", false, "notify even when the address did not change")
	fs.Duration("repeat", 0, "keep running and check again at this interval")
	fs.String("machine", "", "use this as the machine name")
	fs.StringSlice("receiver-email", nil, "receiver email address(es)")
	fs.Int("try-count", config.DefaultTryCount, "number of tries to detect the external ip")
	fs.Int("attempts-per-try", config.DefaultAttemptsPerTry, "service queries per try")
	fs.String("ip-blacklist", "", "external ips that are not allowed, comma separated globs")
	fs.String("status-listen", "", "serve the read-only status API on this address in repeat mode")
}
