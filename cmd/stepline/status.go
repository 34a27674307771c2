package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/app"
	"github.com/stepline/stepline/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "data",
	Short:   "Show local data and sync configuration",
	Run: func(cmd *cobra.Command, args []string) {
		c, cleanup := openController(context.Background())
		defer cleanup()

		data := c.Data()
		tabs := c.Tabs()

		fmt.Printf("\n%s\n", ui.RenderAccent("Stepline status"))
		fmt.Printf("   Database:   %s\n", cfg.DBPath())
		fmt.Printf("   Tabs:       %d\n", len(tabs))
		fmt.Printf("   Challenges: %d\n", len(data.Challenges))
		fmt.Printf("   Sessions:   %d\n", len(data.Sessions))

		switch c.Status() {
		case app.StatusOffline:
			fmt.Printf("   Sync:       %s\n", ui.RenderMuted("offline (no remote configured)"))
		case app.StatusSynced:
			fmt.Printf("   Sync:       %s %s\n", ui.RenderPass("✓"), cfg.RemoteEndpoint)
		case app.StatusSyncing:
			fmt.Printf("   Sync:       %s %s\n", ui.RenderWarn("…"), cfg.RemoteEndpoint)
		case app.StatusError:
			fmt.Printf("   Sync:       %s %s (last operation failed)\n", ui.RenderFail("✗"), cfg.RemoteEndpoint)
		}
		fmt.Fprintln(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
