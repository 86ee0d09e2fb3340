// Command sentinel is the composition root: a cobra CLI exposing a "run"
// controller command and a hidden "scan-worker" subprocess entrypoint,
// following the breeze-agent root+hidden-subcommand pattern.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel window-prompt auto-approval agent",
	Long:  "Sentinel captures a target window or monitor, matches template images against it, and synthesizes clicks at the matched locations.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the controller process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runController()
	},
}

var scanWorkerCmd = &cobra.Command{
	Use:    "scan-worker",
	Short:  "Run as the isolated scanner subprocess (spawned automatically by 'run')",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScanWorker()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sentinel v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sentinel_config.json", "config file path")
	rootCmd.AddCommand(runCmd, scanWorkerCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
