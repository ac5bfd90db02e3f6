// Package cli provides the command-line interface for holescan.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/minhvn/holescan/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "holescan",
	Short: "Distributed file scan client",
	Long: `Holescan scans batches of files for hole codes (HOLE-n / HC-n) against a
coordination server, streams live progress, and produces an Excel report
of every match.

A running scan survives client disconnects: the session pointer is cached
locally and 'holescan resume' picks the scan back up.`,
	Version: Version,
}

// newClient builds the WebSocket client plus the persistent session cache.
func newClient() (*client.Client, *client.Cache, error) {
	cache, err := client.NewCache()
	if err != nil {
		return nil, nil, fmt.Errorf("open session cache: %w", err)
	}
	return client.New(serverURL, cache, nil), cache, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server WebSocket URL (default HOLESCAN_SERVER_URL or ws://localhost:8090/ws)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
