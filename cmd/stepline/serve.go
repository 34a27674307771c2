package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stepline/stepline/internal/syncserver"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync server",
	Long: `Run the real-time sync server that Stepline clients connect to.

The server keeps one document per project and collection under its data
directory, serves them over REST, and broadcasts every change to
connected WebSocket watchers:

  GET/PUT  /v1/{project}/challenges        full collection
  GET/PUT  /v1/{project}/sessions          full collection
  PUT/DEL  /v1/{project}/{collection}/{id} single record
  WS       /v1/{project}/watch             change feed

External edits to the on-disk documents (restores, manual fixes) are
picked up and broadcast as well.

Example usage:
  stepline serve                 # Listen on the configured port (default 8484)
  stepline serve --port 9000     # Listen on a custom port
  stepline serve --key s3cret    # Require a bearer key on every request`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		key, _ := cmd.Flags().GetString("key")
		if port == 0 {
			port = cfg.ServePort
		}
		if key == "" {
			key = cfg.RemoteKey
		}

		// Server output goes to stderr and a rotated file, so long-running
		// deployments keep history without growing without bound.
		logFile := &lumberjack.Logger{
			Filename:   cfg.LogPath(),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		logger := log.New(io.MultiWriter(os.Stderr, logFile), "[serve] ", log.LstdFlags)

		server := syncserver.New(&syncserver.Config{
			Port:       port,
			DataDir:    cfg.ServerDataDir(),
			AccessKey:  key,
			WatchFiles: true,
			Logger:     logger,
		})
		if err := server.Start(); err != nil {
			fail("failed to start sync server: %v", err)
		}

		fmt.Printf("Sync server listening on %s\n", server.URL())
		fmt.Printf("Documents: %s\n", cfg.ServerDataDir())
		if key == "" {
			fmt.Println("Warning: no access key set; the server accepts any client")
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if err := server.Stop(); err != nil {
			fail("error during shutdown: %v", err)
		}
		fmt.Println("Sync server stopped")
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from config)")
	serveCmd.Flags().String("key", "", "Bearer access key clients must present")
	rootCmd.AddCommand(serveCmd)
}
