package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"margins/internal/pipeline"
)

var (
	curvesFigure string
	curvesOut    string
)

// curvesCmd exports marginal curve points without plotting, for checking
// the numbers behind a figure or feeding another tool.
var curvesCmd = &cobra.Command{
	Use:   "curves",
	Short: "Write a figure's marginal curve points as CSV",
	RunE:  runCurves,
}

func init() {
	curvesCmd.Flags().StringVar(&curvesFigure, "figure", "", "Figure name (required)")
	curvesCmd.Flags().StringVar(&curvesOut, "out", "", "Output CSV path (default stdout)")
	_ = curvesCmd.MarkFlagRequired("figure")
}

func runCurves(cmd *cobra.Command, args []string) error {
	p, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}

	w := os.Stdout
	if curvesOut != "" {
		f, err := os.Create(curvesOut)
		if err != nil {
			return fmt.Errorf("curves: %w", err)
		}
		defer f.Close()
		w = f
	}
	return p.WriteCurvesCSV(curvesFigure, w)
}
