package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/icons"
	"github.com/stepline/stepline/internal/types"
	"github.com/stepline/stepline/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "challenges",
	Short:   "List the active tab's challenges",
	Run: func(cmd *cobra.Command, args []string) {
		c, cleanup := openController(context.Background())
		defer cleanup()

		var active types.Tab
		for _, tab := range c.Tabs() {
			if tab.ID == c.ActiveTabID() {
				active = tab
			}
		}

		challenges := c.ActiveChallenges()
		fmt.Printf("\n%s %s\n", active.Icon, ui.TabSwatch(active))
		if len(challenges) == 0 {
			fmt.Printf("   %s\n\n", ui.RenderMuted("No challenges yet. Try 'stepline add'."))
			return
		}

		for _, challenge := range challenges {
			line := fmt.Sprintf("%2d. %s %s", challenge.Order, renderIcon(challenge.Icon), challenge.Text)
			if challenge.TimerType == types.TimerDown {
				line += ui.RenderMuted(fmt.Sprintf("  ⏱ %s", formatSeconds(challenge.TimerDuration)))
			} else if challenge.TimerType == types.TimerUp {
				line += ui.RenderMuted("  ⏱ count up")
			}
			if challenge.BestTime != nil {
				line += ui.RenderMuted(fmt.Sprintf("  best %s", formatSeconds(*challenge.BestTime)))
			}
			fmt.Println(line)
		}
		fmt.Println()
	},
}

// renderIcon resolves an icon to the glyph the terminal shows. The
// catalog is only needed for named references; failure to load it just
// means named icons show a placeholder.
func renderIcon(icon types.Icon) string {
	if icon.Kind == types.IconNamed {
		if catalog, err := icons.LoadCatalog(); err == nil {
			return catalog.Emoji(icon)
		}
		return "❔"
	}
	if icon.Kind == types.IconRaster {
		return "🖼️"
	}
	return icon.Emoji
}

func formatSeconds(seconds int) string {
	d := time.Duration(seconds) * time.Second
	if d >= time.Minute {
		return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%ds", seconds)
}

func init() {
	rootCmd.AddCommand(listCmd)
}
