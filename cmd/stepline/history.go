package main

import (
	"context"
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "challenges",
	Short:   "Show completed sessions",
	Long: `Show completed sessions, newest first.

The --since filter accepts natural-language phrases:

  stepline history
  stepline history --since "last monday"
  stepline history --since "3 days ago"`,
	Run: func(cmd *cobra.Command, args []string) {
		sinceFlag, _ := cmd.Flags().GetString("since")

		var since time.Time
		if sinceFlag != "" {
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)
			result, err := w.Parse(sinceFlag, time.Now())
			if err != nil || result == nil {
				fail("could not understand %q as a date", sinceFlag)
			}
			since = result.Time
		}

		c, cleanup := openController(context.Background())
		defer cleanup()

		sessions := c.Data().Sessions
		shown := 0
		fmt.Println()
		for _, session := range sessions {
			if !since.IsZero() && session.Date.Before(since) {
				continue
			}
			shown++
			line := fmt.Sprintf("%s  %d challenges",
				session.Date.Local().Format("Mon Jan 2 15:04"), len(session.Challenges))
			if session.TotalTime > 0 {
				line += fmt.Sprintf(", %s total", formatSeconds(session.TotalTime))
			}
			fmt.Printf("   %s\n", line)
		}
		if shown == 0 {
			fmt.Printf("   %s\n", ui.RenderMuted("No sessions in this range."))
		}
		fmt.Println()
	},
}

func init() {
	historyCmd.Flags().String("since", "", "Only sessions after this time (natural language)")
	rootCmd.AddCommand(historyCmd)
}
