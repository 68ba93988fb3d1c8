package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"modelfetch/internal/fetch"
	"modelfetch/internal/ui"
)

// fetchCmd downloads a single model asset with a live progress line.
var fetchCmd = &cobra.Command{
	Use:   "fetch <model-id>",
	Short: "Download a model asset if it is not already present",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		man, loc, err := loadManifest()
		if err != nil {
			return err
		}
		d, ok := man.Lookup(args[0])
		if !ok {
			return fmt.Errorf("unknown model %q (not in %s)", args[0], cfg.ManifestPath)
		}

		if loc.Exists(d) {
			fmt.Printf("%s already present at %s\n", d.ID, loc.Path(d))
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fetcher := fetch.New(loc,
			fetch.WithChunkSize(cfg.ChunkSize),
			fetch.WithInactivityTimeout(cfg.InactivityTimeout),
		)
		// Progress arrives on the fetch goroutine; writing a terminal line
		// needs no further marshaling.
		h := fetcher.Fetch(ctx, d, func(p int) {
			fmt.Fprintf(os.Stderr, "\r%s", ui.ProgressLine(d.ID, p))
		})
		res := h.Wait()
		fmt.Fprintln(os.Stderr)

		switch res.Outcome {
		case fetch.OutcomeCompleted:
			fmt.Printf("%s fetched to %s\n", d.ID, loc.Path(d))
			return nil
		case fetch.OutcomeCancelled:
			// Not an error: the user asked for this and no file remains.
			fmt.Printf("%s fetch cancelled\n", d.ID)
			return nil
		default:
			return res.Err
		}
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
