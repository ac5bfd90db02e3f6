package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minhvn/holescan/internal/client"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the cached session pointer",
	Run:   runClear,
}

func runClear(cmd *cobra.Command, args []string) {
	cache, err := client.NewCache()
	if err != nil {
		exitWithError("open session cache: %v", err)
	}

	cached, err := cache.Load()
	if err != nil {
		exitWithError("read session cache: %v", err)
	}
	if cached == nil {
		fmt.Println("No cached session.")
		return
	}

	if err := cache.Clear(); err != nil {
		exitWithError("clear session cache: %v", err)
	}
	fmt.Printf("Dropped cached session %s.\n", cached.SessionID)
}
