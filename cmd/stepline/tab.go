package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/types"
	"github.com/stepline/stepline/internal/ui"
)

var tabCmd = &cobra.Command{
	Use:     "tab",
	GroupID: "tabs",
	Short:   "Manage tabs",
	Long: `Manage the colored tabs that group challenges. At most four tabs can
exist at a time.`,
}

var tabListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tabs",
	Run: func(cmd *cobra.Command, args []string) {
		c, cleanup := openController(context.Background())
		defer cleanup()

		data := c.Data()
		fmt.Println()
		for _, tab := range c.Tabs() {
			marker := "  "
			if tab.ID == c.ActiveTabID() {
				marker = ui.RenderAccent("▶ ")
			}
			count := len(types.ChallengesForTab(tab.ID, data.Challenges))
			fmt.Printf("%s%s %s  %s\n", marker, tab.Icon, ui.TabSwatch(tab),
				ui.RenderMuted(fmt.Sprintf("%d challenges · %s · id %s", count, tab.Color, tab.ID)))
		}
		fmt.Println()
	},
}

var tabAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a tab",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		colorFlag, _ := cmd.Flags().GetString("color")
		icon, _ := cmd.Flags().GetString("icon")
		activate, _ := cmd.Flags().GetBool("activate")

		c, cleanup := openController(context.Background())
		defer cleanup()

		color := types.TabColor(colorFlag)
		if colorFlag == "" {
			// Default to the first color not already in use.
			used := make(map[types.TabColor]bool)
			for _, tab := range c.Tabs() {
				used[tab.Color] = true
			}
			color = types.TabColors[0]
			for _, candidate := range types.TabColors {
				if !used[candidate] {
					color = candidate
					break
				}
			}
		}

		tab, err := c.AddTab(args[0], icon, color)
		if err != nil {
			fail("%v", err)
		}
		if activate {
			if err := c.SetActiveTab(tab.ID); err != nil {
				fail("%v", err)
			}
		}
		fmt.Printf("%s Created tab %s (%s)\n", ui.RenderPass("✓"), ui.TabSwatch(tab), tab.Color)
	},
}

var tabRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a tab and its challenges",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, cleanup := openController(context.Background())
		defer cleanup()

		if err := c.RemoveTab(args[0]); err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s Removed tab %s\n", ui.RenderPass("✓"), args[0])
	},
}

var tabUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Switch the active tab",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, cleanup := openController(context.Background())
		defer cleanup()

		if err := c.SetActiveTab(args[0]); err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s Active tab is now %s\n", ui.RenderPass("✓"), args[0])
	},
}

func init() {
	tabAddCmd.Flags().String("color", "", "Color token: soft-blue, soft-green, soft-lilac, soft-teal")
	tabAddCmd.Flags().String("icon", "📋", "Tab emoji")
	tabAddCmd.Flags().Bool("activate", false, "Switch to the new tab immediately")

	tabCmd.AddCommand(tabListCmd, tabAddCmd, tabRemoveCmd, tabUseCmd)
	rootCmd.AddCommand(tabCmd)
}
