package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/icons"
	"github.com/stepline/stepline/internal/types"
	"github.com/stepline/stepline/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add [text]",
	GroupID: "challenges",
	Short:   "Add a challenge to the active tab",
	Long: `Add a challenge to the end of the active tab.

With no arguments an interactive form collects the text, icon, and timer.
With text and flags the challenge is created directly:

  stepline add                                  # interactive
  stepline add "Brush teeth" --icon 🪥          # direct
  stepline add "Plank" --timer down --seconds 60`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		iconFlag, _ := cmd.Flags().GetString("icon")
		timerFlag, _ := cmd.Flags().GetString("timer")
		seconds, _ := cmd.Flags().GetInt("seconds")
		suggest, _ := cmd.Flags().GetBool("suggest-icon")

		var text string
		if len(args) == 1 {
			text = args[0]
		}

		ctx := context.Background()
		c, cleanup := openController(ctx)
		defer cleanup()

		timer := types.TimerType(timerFlag)
		if text == "" {
			var err error
			text, iconFlag, timer, seconds, err = runAddForm(iconFlag, timer, seconds)
			if err != nil {
				fail("%v", err)
			}
		}

		icon := types.ParseIcon(iconFlag)
		if icon.IsZero() && suggest && cfg.AnthropicKey != "" {
			suggested, err := icons.NewSuggester(cfg.AnthropicKey).Suggest(ctx, text)
			if err != nil {
				fmt.Printf("%s Icon suggestion unavailable: %v\n", ui.RenderWarn("⚠"), err)
			} else {
				icon = suggested
			}
		}
		if icon.IsZero() {
			icon = types.EmojiIcon("🎯")
		}

		challenge, err := c.AddChallenge(text, icon, timer, seconds)
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s Added %s %s (position %d)\n",
			ui.RenderPass("✓"), renderIcon(challenge.Icon), challenge.Text, challenge.Order)
	},
}

// runAddForm collects challenge fields interactively.
func runAddForm(icon string, timer types.TimerType, seconds int) (string, string, types.TimerType, int, error) {
	if timer == "" {
		timer = types.TimerNone
	}
	var text string
	secondsStr := ""
	if seconds > 0 {
		secondsStr = strconv.Itoa(seconds)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Challenge").
				Placeholder("Brush teeth").
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("text is required")
					}
					if len(s) > types.MaxChallengeText {
						return fmt.Errorf("keep it under %d characters", types.MaxChallengeText)
					}
					return nil
				}).
				Value(&text),
			huh.NewInput().
				Title("Icon").
				Description("An emoji, or blank for the default").
				Value(&icon),
			huh.NewSelect[types.TimerType]().
				Title("Timer").
				Options(
					huh.NewOption("No timer", types.TimerNone),
					huh.NewOption("Count up", types.TimerUp),
					huh.NewOption("Count down", types.TimerDown),
				).
				Value(&timer),
			huh.NewInput().
				Title("Countdown seconds").
				Description("Only used with a countdown timer").
				Value(&secondsStr),
		),
	)
	if err := form.Run(); err != nil {
		return "", "", "", 0, err
	}

	seconds = 0
	if secondsStr != "" {
		n, err := strconv.Atoi(secondsStr)
		if err != nil || n < 0 {
			return "", "", "", 0, fmt.Errorf("countdown seconds must be a non-negative number")
		}
		seconds = n
	}
	return text, icon, timer, seconds, nil
}

func init() {
	addCmd.Flags().String("icon", "", "Icon: an emoji, set:name reference, or data URI")
	addCmd.Flags().String("timer", "none", "Timer mode: none, up, or down")
	addCmd.Flags().Int("seconds", 0, "Countdown duration in seconds")
	addCmd.Flags().Bool("suggest-icon", false, "Ask the configured AI model to pick an emoji")
	rootCmd.AddCommand(addCmd)
}
