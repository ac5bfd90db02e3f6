package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/minhvn/holescan/internal/client"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Reattach to a running scan",
	Long: `Reconnect to a scan session and follow it to completion. Without an
argument the locally cached session pointer is used.

Examples:
  holescan resume
  holescan resume 4f1c07f2-9b7a-4d9e-8a75-56d1a7a3c9ee`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	c, cache, err := newClient()
	if err != nil {
		return err
	}

	sessionID, err := resolveSessionID(cache, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return followScan(ctx, func(ctx context.Context, onEvent client.EventFunc) (client.View, error) {
		return c.Resume(ctx, sessionID, onEvent)
	})
}

// resolveSessionID prefers an explicit argument over the cached pointer.
func resolveSessionID(cache *client.Cache, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cached, err := cache.Load()
	if err != nil {
		return "", err
	}
	if cached == nil {
		return "", fmt.Errorf("no cached session; pass a session id or start a new scan")
	}
	return cached.SessionID, nil
}
