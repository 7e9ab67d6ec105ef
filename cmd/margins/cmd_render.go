package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"margins/internal/pipeline"
)

var renderFigures []string

// renderCmd runs the full pipeline and writes figures plus the manifest.
var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the configured figures",
	Long: `Runs the full pipeline for every configured figure (or a subset
via --figure): load models, build prediction grids, expand posterior
expectations, marginalize, summarize, and write PNGs and manifest.json
to the output directory. Any failure aborts the run.`,
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringSliceVar(&renderFigures, "figure", nil, "Figure name to render (repeatable; default all)")
}

func runRender(cmd *cobra.Command, args []string) error {
	p, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}
	man, err := p.Run(renderFigures)
	if err != nil {
		return err
	}
	logger.Info("render complete",
		zap.String("run_id", man.RunID),
		zap.Int("figures", len(man.Figures)),
		zap.String("out_dir", cfg.OutDir))
	return nil
}
