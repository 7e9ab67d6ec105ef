package render

import (
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"margins/internal/marginal"
	"margins/internal/modelstore"
)

// Figure holds the cosmetic configuration for one rendered file.
type Figure struct {
	Title  string
	XLabel string
	YLabel string

	LineHex string // central line color
	FillHex string // ribbon base color; alpha varies per band

	Cols     int     // facets per row
	WidthIn  float64 // total canvas width in inches
	HeightIn float64
	DPI      int
}

func (f Figure) withDefaults() Figure {
	if f.XLabel == "" {
		f.XLabel = "Distance from edge (m)"
	}
	if f.LineHex == "" {
		f.LineHex = "#1b7837"
	}
	if f.FillHex == "" {
		f.FillHex = f.LineHex
	}
	if f.Cols <= 0 {
		f.Cols = 3
	}
	if f.WidthIn <= 0 {
		f.WidthIn = 10
	}
	if f.HeightIn <= 0 {
		f.HeightIn = 7
	}
	if f.DPI <= 0 {
		f.DPI = 150
	}
	return f
}

// RenderPNG draws one facet per curve, ribbons widest first under the
// median line, with rug marks for the facet's observed distances, and
// writes the composed canvas to path.
func RenderPNG(path string, fig Figure, curves []Curve, rugs []modelstore.Rug, key marginal.GroupKey) error {
	fig = fig.withDefaults()
	if len(curves) == 0 {
		return fmt.Errorf("render: figure %q has no facets", fig.Title)
	}

	lineCol, err := parseHex(fig.LineHex)
	if err != nil {
		return fmt.Errorf("render: figure %q: %w", fig.Title, err)
	}
	fillCol, err := parseHex(fig.FillHex)
	if err != nil {
		return fmt.Errorf("render: figure %q: %w", fig.Title, err)
	}

	cols := fig.Cols
	if len(curves) < cols {
		cols = len(curves)
	}
	nrows := (len(curves) + cols - 1) / cols

	plots := make([][]*plot.Plot, nrows)
	for i := range plots {
		plots[i] = make([]*plot.Plot, cols)
	}
	for i, c := range curves {
		p, err := facetPlot(fig, c, rugs, key, lineCol, fillCol)
		if err != nil {
			return err
		}
		plots[i/cols][i%cols] = p
	}

	img := vgimg.NewWith(
		vgimg.UseWH(vg.Length(fig.WidthIn)*vg.Inch, vg.Length(fig.HeightIn)*vg.Inch),
		vgimg.UseDPI(fig.DPI),
	)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: nrows, Cols: cols,
		PadX: vg.Millimeter * 2, PadY: vg.Millimeter * 2,
		PadTop: vg.Millimeter * 2, PadBottom: vg.Millimeter * 2,
		PadLeft: vg.Millimeter * 2, PadRight: vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for r := range plots {
		for c := range plots[r] {
			if plots[r][c] != nil {
				plots[r][c].Draw(canvases[r][c])
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	defer f.Close()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return fmt.Errorf("render: writing %s: %w", path, err)
	}
	return nil
}

func facetPlot(fig Figure, c Curve, rugs []modelstore.Rug, key marginal.GroupKey, lineCol, fillCol color.NRGBA) (*plot.Plot, error) {
	if len(c.Points) == 0 {
		return nil, fmt.Errorf("render: figure %q: facet %s/%s has no points after truncation", fig.Title, c.Model, c.Group)
	}

	p := plot.New()
	p.Title.Text = facetTitle(c)
	p.X.Label.Text = fig.XLabel
	p.Y.Label.Text = fig.YLabel

	nbands := len(c.Points[0].Bands)
	// Widest interval first so narrower ribbons layer on top.
	for b := nbands - 1; b >= 0; b-- {
		ring := make(plotter.XYs, 0, 2*len(c.Points))
		for _, pt := range c.Points {
			ring = append(ring, plotter.XY{X: pt.Distance, Y: pt.Bands[b].Hi})
		}
		for i := len(c.Points) - 1; i >= 0; i-- {
			pt := c.Points[i]
			ring = append(ring, plotter.XY{X: pt.Distance, Y: pt.Bands[b].Lo})
		}
		poly, err := plotter.NewPolygon(ring)
		if err != nil {
			return nil, fmt.Errorf("render: facet %s/%s: %w", c.Model, c.Group, err)
		}
		poly.Color = bandColor(fillCol, b, nbands)
		poly.LineStyle.Width = 0
		p.Add(poly)
	}

	xys := make(plotter.XYs, len(c.Points))
	for i, pt := range c.Points {
		xys[i] = plotter.XY{X: pt.Distance, Y: pt.Median}
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, fmt.Errorf("render: facet %s/%s: %w", c.Model, c.Group, err)
	}
	line.LineStyle.Width = vg.Points(1.5)
	line.LineStyle.Color = lineCol
	p.Add(line)

	if xs := rugDistances(rugs, key, c.Group); len(xs) > 0 {
		p.Add(&rugMarks{
			xs:     xs,
			height: vg.Points(4),
			style: draw.LineStyle{
				Color: color.NRGBA{A: 160},
				Width: vg.Points(0.5),
			},
		})
	}
	return p, nil
}

func facetTitle(c Curve) string {
	if c.Group == "" {
		return c.Model
	}
	return fmt.Sprintf("%s / %s", c.Model, c.Group)
}

// rugDistances selects the observed distances shown in a facet: those of
// the facet's own group level, or all of them when there is no grouping.
func rugDistances(rugs []modelstore.Rug, key marginal.GroupKey, group string) []float64 {
	var xs []float64
	for _, r := range rugs {
		switch key {
		case marginal.GroupCrop:
			if r.Crop != group {
				continue
			}
		case marginal.GroupHabitat:
			if r.Habitat != group {
				continue
			}
		}
		xs = append(xs, r.Distance)
	}
	return xs
}

// bandColor fades the fill towards transparency for wider intervals.
// Band index b follows the ascending level order, so higher b is wider.
func bandColor(base color.NRGBA, b, n int) color.NRGBA {
	alpha := 150 * (n - b) / (n + 1)
	base.A = uint8(alpha)
	return base
}

func parseHex(s string) (color.NRGBA, error) {
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("bad color %q: %w", s, err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}
