package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Print a one-shot snapshot of a scan session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, cache, err := newClient()
	if err != nil {
		return err
	}

	sessionID, err := resolveSessionID(cache, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	view, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		return err
	}

	fmt.Printf("Session:   %s\n", sessionID)
	fmt.Printf("Status:    %s\n", view.Status)
	fmt.Printf("Progress:  %d/%d (%d%%)\n", view.Processed, view.Total, view.Percent)
	fmt.Printf("Matches:   %d\n", len(view.Matches))
	for _, m := range view.Matches {
		fmt.Printf("  %-30s %s\n", m.ItemRef, strings.Join(m.FoundCodes, ", "))
	}
	if view.DownloadURL != "" {
		fmt.Printf("Report:    %s\n", view.DownloadURL)
	}
	return nil
}
