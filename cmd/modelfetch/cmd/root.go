package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"modelfetch/internal/asset"
	"modelfetch/internal/config"
	"modelfetch/internal/fetch"
	"modelfetch/internal/logging"
)

// CLI exit codes for standardized error reporting.
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitNoSource     = 3
	ExitNetworkError = 4
	ExitStorageError = 5
)

var cfg = config.New()

var rootCmd = &cobra.Command{
	Use:          "modelfetch",
	Short:        "Fetch and manage local ML model assets",
	Long:         "Download large model files to a local storage root, with progress reporting,\ncancellation and a fetch history.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.ResolveStorageRoot(); err != nil {
			return err
		}
		if err := cfg.ResolveDBPath(); err != nil {
			return err
		}
		logging.Init(logging.ParseLevel(cfg.LogLevel))
		return os.MkdirAll(cfg.AbsStorageRoot, 0o755)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.ManifestPath, "manifest", "models.json", "Path to the model manifest")
	pf.StringVar(&cfg.StorageRoot, "storage-root", "", "Directory for model assets (default: ~/.local/share/modelfetch)")
	pf.StringVar(&cfg.DBPath, "db", "", "Path to SQLite fetch history (default: OS cache dir)")
	pf.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	pf.DurationVar(&cfg.InactivityTimeout, "inactivity-timeout", 0, "Abort a fetch when no bytes arrive within this window (0 disables)")

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// Execute runs the command tree and exits with a code derived from the
// error kind.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFromError(err))
	}
}

// loadManifest reads the configured manifest and builds a locator over the
// resolved storage root.
func loadManifest() (*asset.Manifest, *asset.Locator, error) {
	man, err := asset.Load(cfg.ManifestPath)
	if err != nil {
		return nil, nil, err
	}
	return man, asset.NewLocator(cfg.AbsStorageRoot), nil
}

func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch {
	case errors.Is(err, fetch.ErrNoSource):
		return ExitNoSource
	case errors.Is(err, fetch.ErrNetwork), errors.Is(err, fetch.ErrStalled):
		return ExitNetworkError
	case errors.Is(err, fetch.ErrStorage):
		return ExitStorageError
	}
	return ExitGeneralError
}
