// Stepline is a local-first routine sequencing tool: ordered challenge
// lists organized into colored tabs, with optional real-time sync across
// devices through a self-hostable store.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/app"
	"github.com/stepline/stepline/internal/config"
	"github.com/stepline/stepline/internal/remote"
	"github.com/stepline/stepline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "stepline",
	Short: "Routine sequencing with tabs, timers, and device sync",
	Long: `Stepline keeps an ordered list of routine challenges, organized into up
to four colored tabs. Data lives in a local database and optionally syncs
in real time to a shared store (see 'stepline serve').`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var cfg config.Config

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "challenges", Title: "Challenges:"},
		&cobra.Group{ID: "tabs", Title: "Tabs:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
	)

	cobra.OnInitialize(func() {
		loaded, err := config.Load()
		if err != nil {
			fail("Error loading configuration: %v", err)
		}
		cfg = loaded
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// fail prints an error and exits, the way every command reports fatal
// conditions.
func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// openStore opens the local database, creating the data directory on
// first use.
func openStore() *store.Store {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fail("failed to create data directory: %v", err)
	}
	s, err := store.Open(cfg.DBPath(), log.New(os.Stderr, "[store] ", log.LstdFlags))
	if err != nil {
		fail("failed to open local database: %v", err)
	}
	return s
}

// remoteConfig maps the loaded configuration onto the adapter's
// connection parameters.
func remoteConfig() remote.Config {
	return remote.Config{
		Endpoint:  cfg.RemoteEndpoint,
		Project:   cfg.RemoteProject,
		AccessKey: cfg.RemoteKey,
	}
}

// openController builds the full stack (store, adapter, controller) and
// runs startup. The returned cleanup closes everything in order.
func openController(ctx context.Context) (*app.Controller, func()) {
	s := openStore()
	adapter := remote.New(remoteConfig(), s, log.New(os.Stderr, "[remote] ", log.LstdFlags))

	c := app.New(s, adapter, log.New(os.Stderr, "[app] ", log.LstdFlags))
	if err := c.Start(ctx); err != nil {
		_ = s.Close()
		fail("startup failed: %v", err)
	}
	return c, func() {
		c.Close()
		_ = s.Close()
	}
}
