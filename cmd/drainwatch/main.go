// Command drainwatch holds an ECS container instance's shutdown until the
// tasks placed on it have stopped.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	regionFlag  string
	clusterFlag string
	logLevel    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "drainwatch",
		Short: "ECS container instance drain coordinator",
		Long: `drainwatch runs on an ECS container instance and blocks host shutdown on
SIGTERM until the orchestrator has stopped every non-daemon task on it.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&regionFlag, "region", "", "AWS region (default: from instance metadata, env: DRAINWATCH_REGION)")
	rootCmd.PersistentFlags().StringVar(&clusterFlag, "cluster", "", "ECS cluster (default: from task metadata, env: DRAINWATCH_CLUSTER)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (env: DRAINWATCH_LOG_LEVEL)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
