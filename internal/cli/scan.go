package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/minhvn/holescan/internal/client"
)

var (
	scanDir      string
	scanManifest string
	scanTargets  []string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Start a new scan session",
	Long: `Start a new scan over a directory of files or a curated YAML manifest and
follow its progress until the report is ready.

Examples:
  holescan scan --dir ./reports --targets "HOLE-101,HC-7"
  holescan scan --manifest items.yaml --targets HOLE-101
  holescan scan --dir ./reports          # match every hole code`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanDir, "dir", "d", "", "directory to scan for .txt/.pdf files")
	scanCmd.Flags().StringVarP(&scanManifest, "manifest", "m", "", "YAML manifest of items to scan")
	scanCmd.Flags().StringSliceVarP(&scanTargets, "targets", "t", nil, "hole codes to match (empty matches all)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if (scanDir == "") == (scanManifest == "") {
		return fmt.Errorf("exactly one of --dir or --manifest is required")
	}

	source := "dir:" + scanDir
	if scanManifest != "" {
		source = "manifest:" + scanManifest
	}

	c, cache, err := newClient()
	if err != nil {
		return err
	}

	if cached, err := cache.Load(); err == nil && cached != nil {
		fmt.Fprintf(os.Stderr, "Note: replacing cached session %s (resume it first with 'holescan resume' to keep it)\n",
			cached.SessionID)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return followScan(ctx, func(ctx context.Context, onEvent client.EventFunc) (client.View, error) {
		return c.Start(ctx, source, scanTargets, onEvent)
	})
}
