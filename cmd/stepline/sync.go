package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/remote"
	"github.com/stepline/stepline/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Reconcile once with the remote store",
	Long: `Perform a one-shot reconcile with the configured remote store.

If the remote already holds challenges, they replace the local dataset.
If it is empty, the local dataset seeds it. This is the same exchange
every startup performs when a remote is configured.`,
	Run: func(cmd *cobra.Command, args []string) {
		rc := remoteConfig()
		if !rc.IsConfigured() {
			fail("no remote configured; set STEPLINE_REMOTE_ENDPOINT, _PROJECT, and _KEY")
		}

		s := openStore()
		defer s.Close()

		adapter := remote.New(rc, s, log.New(os.Stderr, "[remote] ", log.LstdFlags))
		defer adapter.Cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		fmt.Printf("%s Reconciling with %s...\n", ui.RenderAccent("🔄"), rc.Endpoint)
		start := time.Now()

		data, err := adapter.Initialize(ctx)
		if err != nil {
			fail("sync failed: %v", err)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Challenges: %d\n", len(data.Challenges))
		fmt.Printf("   Sessions:   %d\n", len(data.Sessions))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
