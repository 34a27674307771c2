package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "data",
	Short:   "Write the dataset as JSON",
	Long: `Write the full dataset (challenges and sessions) as pretty-printed
JSON, to a file or to stdout.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, cleanup := openController(context.Background())
		defer cleanup()

		snapshot := c.Export()
		if len(args) == 0 {
			fmt.Println(snapshot)
			return
		}
		if err := os.WriteFile(args[0], []byte(snapshot), 0600); err != nil {
			fail("failed to write %s: %v", args[0], err)
		}
		fmt.Printf("%s Exported to %s\n", ui.RenderPass("✓"), args[0])
	},
}

var importCmd = &cobra.Command{
	Use:     "import [file]",
	GroupID: "data",
	Short:   "Replace the dataset from exported JSON",
	Long: `Replace the full dataset from a previously exported JSON snapshot,
read from a file or stdin. A snapshot that fails validation changes
nothing.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var blob []byte
		var err error
		if len(args) == 1 {
			blob, err = os.ReadFile(args[0])
		} else {
			blob, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fail("failed to read snapshot: %v", err)
		}

		c, cleanup := openController(context.Background())
		defer cleanup()

		if err := c.Import(string(blob)); err != nil {
			fail("%v", err)
		}
		data := c.Data()
		fmt.Printf("%s Imported %d challenges, %d sessions\n",
			ui.RenderPass("✓"), len(data.Challenges), len(data.Sessions))
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
}
