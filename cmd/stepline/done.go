package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/types"
	"github.com/stepline/stepline/internal/ui"
)

var doneCmd = &cobra.Command{
	Use:     "done",
	GroupID: "challenges",
	Short:   "Record a completed run through the active tab",
	Long: `Record a completed run through the active tab's challenges as a session.

Per-challenge times can be given positionally with repeated --time flags,
matching challenge order; challenges without a time are recorded as zero:

  stepline done                       # run completed, no timing
  stepline done --time 42 --time 30   # first took 42s, second 30s`,
	Run: func(cmd *cobra.Command, args []string) {
		times, _ := cmd.Flags().GetIntSlice("time")

		c, cleanup := openController(context.Background())
		defer cleanup()

		challenges := c.ActiveChallenges()
		if len(challenges) == 0 {
			fail("the active tab has no challenges to complete")
		}
		if len(times) > len(challenges) {
			fail("got %d times for %d challenges", len(times), len(challenges))
		}

		items := make([]types.ChallengeSession, len(challenges))
		for i, challenge := range challenges {
			taken := 0
			if i < len(times) {
				taken = times[i]
			}
			items[i] = types.ChallengeSession{
				ChallengeID: challenge.ID,
				TimeTaken:   taken,
				Order:       challenge.Order,
			}
			if taken > 0 {
				if err := c.CompleteChallenge(challenge.ID, taken); err != nil {
					fail("%v", err)
				}
			}
		}

		session, err := c.RecordSession(items)
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s Run recorded: %d challenges", ui.RenderPass("✓"), len(items))
		if session.TotalTime > 0 {
			fmt.Printf(" in %s", formatSeconds(session.TotalTime))
		}
		fmt.Println()
	},
}

func init() {
	doneCmd.Flags().IntSlice("time", nil, "Seconds taken, one per challenge in order")
	rootCmd.AddCommand(doneCmd)
}
