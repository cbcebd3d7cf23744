// Command flecs-core is the device-local application/instance lifecycle
// manager of spec §1: it runs the HTTP API server (serve) and doubles as
// the CLI wrapper spec §6 describes, talking to a running server over
// loopback HTTP. Grounded on cmd/warren/main.go's cobra root + persistent
// flags + cobra.OnInitialize(initLogging) shape, generalized from a
// multi-subsystem cluster CLI to a single-process instance manager.
package main

import (
	"fmt"
	"os"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/flecs-technologies/flecs-core/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if e, ok := apierr.As(err); ok {
			os.Exit(apierr.ExitCode(e.Kind))
		}
		os.Exit(3)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flecs-core",
	Short: "flecs-core manages app and instance lifecycle on a single device",
	Long: `flecs-core is the device-local application and instance lifecycle
manager: it reserves and persists apps and instances in the Vault, drives
container creation through a deployment driver, configures the floxy
reverse proxy, and tracks long-running work as cancellable Quests.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("flecs-core version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("api-addr", "http://127.0.0.1:9090", "Address of a running flecs-core API server, for CLI subcommands")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(instanceCmd)
	rootCmd.AddCommand(jobCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}
