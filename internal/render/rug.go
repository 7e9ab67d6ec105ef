package render

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// rugMarks draws short vertical ticks at observed distances along the
// bottom edge of a facet. It deliberately implements only plot.Plotter:
// rugs must not influence axis ranges, which come from the curve data.
type rugMarks struct {
	xs     []float64
	height vg.Length
	style  draw.LineStyle
}

var _ plot.Plotter = (*rugMarks)(nil)

func (r *rugMarks) Plot(c draw.Canvas, plt *plot.Plot) {
	trX, _ := plt.Transforms(&c)
	for _, x := range r.xs {
		cx := trX(x)
		if !c.ContainsX(cx) {
			continue
		}
		c.StrokeLine2(r.style, cx, c.Min.Y, cx, c.Min.Y+r.height)
	}
}
