package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/icons"
	"github.com/stepline/stepline/internal/types"
	"github.com/stepline/stepline/internal/ui"
)

var iconCmd = &cobra.Command{
	Use:     "icon",
	GroupID: "challenges",
	Short:   "Search and suggest challenge icons",
}

var iconSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the bundled icon catalog",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		catalog, err := icons.LoadCatalog()
		if err != nil {
			fail("%v", err)
		}

		hits := catalog.Search(strings.Join(args, " "))
		if len(hits) == 0 {
			fmt.Printf("%s No icons match. Any emoji works with 'stepline add --icon'.\n", ui.RenderWarn("⚠"))
			return
		}
		fmt.Println()
		for _, hit := range hits {
			fmt.Printf("   %s  %s\n", hit.Emoji, ui.RenderMuted(hit.Set+":"+hit.Name))
		}
		fmt.Printf("\nUse one with: stepline add \"...\" --icon %s:%s\n", hits[0].Set, hits[0].Name)
	},
}

var iconSuggestCmd = &cobra.Command{
	Use:   "suggest <text>",
	Short: "Ask the configured AI model to pick an emoji",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.AnthropicKey == "" {
			fail("no API key configured; set STEPLINE_ANTHROPIC_KEY")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		icon, err := icons.NewSuggester(cfg.AnthropicKey).Suggest(ctx, strings.Join(args, " "))
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), icon.Emoji)
	},
}

var iconSaveCmd = &cobra.Command{
	Use:   "save <icon>",
	Short: "Save an icon to the custom palette",
	Long: `Save an emoji, a set:name reference, or a data: URI to the custom
palette shown by 'stepline icon list'.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		icon := types.ParseIcon(args[0])
		if icon.IsZero() {
			fail("empty icon")
		}

		s := openStore()
		defer s.Close()

		saved := s.CustomIcons()
		for _, existing := range saved {
			if existing.String() == icon.String() {
				fmt.Printf("%s Already saved: %s\n", ui.RenderMuted("·"), renderIcon(existing))
				return
			}
		}
		if !s.SaveCustomIcons(append(saved, icon)) {
			fail("failed to save the icon")
		}
		fmt.Printf("%s Saved %s (%s)\n", ui.RenderPass("✓"), renderIcon(icon), icon.Kind)
	},
}

var iconListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the bundled catalog and saved custom icons",
	Run: func(cmd *cobra.Command, args []string) {
		catalog, err := icons.LoadCatalog()
		if err != nil {
			fail("%v", err)
		}

		fmt.Printf("\n%s\n", ui.RenderAccent("Catalog"))
		for _, entry := range catalog.Entries() {
			fmt.Printf("   %s  %s\n", entry.Emoji, ui.RenderMuted(entry.Set+":"+entry.Name))
		}

		s := openStore()
		defer s.Close()

		custom := s.CustomIcons()
		if len(custom) == 0 {
			return
		}
		fmt.Printf("\n%s\n", ui.RenderAccent("Custom"))
		for _, icon := range custom {
			fmt.Printf("   %s  %s\n", renderIcon(icon), ui.RenderMuted(icon.Kind.String()))
		}
	},
}

func init() {
	iconCmd.AddCommand(iconSearchCmd, iconSuggestCmd, iconSaveCmd, iconListCmd)
	rootCmd.AddCommand(iconCmd)
}
