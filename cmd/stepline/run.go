package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/types"
	"github.com/stepline/stepline/internal/ui"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "challenges",
	Short:   "Step through the active tab's challenges with timing",
	Long: `Step through the active tab's challenges one at a time, timing each.

The position and the running timer are persisted, so a run survives the
process exiting and resumes where it left off:

  stepline run start     # begin at the first challenge
  stepline run next      # finish the current challenge, move on
  stepline run status    # where am I?
  stepline run abort     # discard the run`,
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Begin a run",
	Run: func(cmd *cobra.Command, args []string) {
		c, cleanup := openController(context.Background())
		defer cleanup()

		if progress, current := c.RunState(); progress != nil && current != nil {
			fail("a run is already in progress (at %s); use 'run next' or 'run abort'", current.Text)
		}

		first, err := c.StartRun()
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s Run started\n", ui.RenderPass("✓"))
		printRunChallenge(first)
	},
}

var runNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Finish the current challenge and move on",
	Run: func(cmd *cobra.Command, args []string) {
		c, cleanup := openController(context.Background())
		defer cleanup()

		next, done, err := c.AdvanceRun()
		if err != nil {
			fail("%v", err)
		}
		if done {
			fmt.Printf("%s All challenges finished. Record it with 'stepline done'.\n", ui.RenderPass("✓"))
			return
		}
		printRunChallenge(next)
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the in-progress run",
	Run: func(cmd *cobra.Command, args []string) {
		c, cleanup := openController(context.Background())
		defer cleanup()

		progress, current := c.RunState()
		if progress == nil {
			fmt.Printf("%s No run in progress. Start one with 'stepline run start'.\n", ui.RenderMuted("·"))
			return
		}
		if current == nil {
			fmt.Printf("%s Run position is past the last challenge; 'run next' will clear it.\n", ui.RenderWarn("⚠"))
			return
		}
		fmt.Printf("Running for %s, at challenge %d:\n",
			time.Since(progress.StartedAt).Round(time.Second), progress.Index+1)
		printRunChallenge(*current)
	},
}

var runAbortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Discard the in-progress run",
	Run: func(cmd *cobra.Command, args []string) {
		c, cleanup := openController(context.Background())
		defer cleanup()

		c.AbortRun()
		fmt.Printf("%s Run discarded\n", ui.RenderPass("✓"))
	},
}

func printRunChallenge(challenge types.Challenge) {
	line := fmt.Sprintf("   %s %s", renderIcon(challenge.Icon), challenge.Text)
	if challenge.TimerType == types.TimerDown {
		line += ui.RenderMuted(fmt.Sprintf("  ⏱ %s countdown", formatSeconds(challenge.TimerDuration)))
	}
	if challenge.BestTime != nil {
		line += ui.RenderMuted(fmt.Sprintf("  best %s", formatSeconds(*challenge.BestTime)))
	}
	fmt.Println(line)
}

func init() {
	runCmd.AddCommand(runStartCmd, runNextCmd, runStatusCmd, runAbortCmd)
	rootCmd.AddCommand(runCmd)
}
