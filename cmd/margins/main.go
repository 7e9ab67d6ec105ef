// Command margins post-processes fitted Bayesian regression models of
// arthropod community metrics along field-edge distance gradients into
// faceted uncertainty-ribbon figures.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"margins/internal/config"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// Loaded configuration and logger, set by the root PersistentPreRunE.
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "margins",
	Short: "margins - arthropod edge-distance figure pipeline",
	Long: `margins renders the figure set for the field-margin arthropod analysis.

It loads pre-fitted model objects (posterior coefficient draws and source
observations), expands posterior predictive expectations over synthetic
covariate grids, marginalizes over crop and habitat per posterior draw,
and draws faceted line-and-ribbon plots with empirical rug marks.

Model fitting happens upstream; margins only consumes its output.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if !verbose {
			if lvl, perr := zapcore.ParseLevel(cfg.Logging.Level); perr == nil {
				zcfg.Level.SetLevel(lvl)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to margins.yaml (default: built-in config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(curvesCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
