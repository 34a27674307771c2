package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/ui"
)

var soundCmd = &cobra.Command{
	Use:       "sound [on|off]",
	GroupID:   "data",
	Short:     "Show or set the completion sound preference",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		if len(args) == 0 {
			if s.SoundEnabled() {
				fmt.Printf("Completion sounds are %s\n", ui.RenderPass("on"))
			} else {
				fmt.Printf("Completion sounds are %s\n", ui.RenderMuted("off"))
			}
			return
		}

		enabled := args[0] == "on"
		if !s.SetSoundEnabled(enabled) {
			fail("failed to save the sound preference")
		}
		fmt.Printf("%s Completion sounds turned %s\n", ui.RenderPass("✓"), args[0])
	},
}

func init() {
	rootCmd.AddCommand(soundCmd)
}
