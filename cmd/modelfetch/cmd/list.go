package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"modelfetch/internal/logging"
	"modelfetch/internal/ui"
)

// listCmd prints the manifest with local presence and sizes.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured models and their local state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		man, loc, err := loadManifest()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tPRESENT\tSIZE\tSOURCE\tPATH")
		for _, d := range man.Models {
			size := int64(-1)
			path := loc.Path(d)
			if info, err := os.Stat(path); err == nil {
				size = info.Size()
			}
			present := "no"
			if loc.Exists(d) {
				present = "yes"
			}
			source := logging.RedactURL(d.SourceURL)
			if source == "" {
				source = "(no source)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, present, ui.SizeLabel(size),
				ui.TruncateWithEllipsis(source, 48), ui.TruncateWithEllipsis(path, 60))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
