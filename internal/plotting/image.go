package plotting

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func renderImage(path string, series []Series, title, ylabel string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = ylabel

	colors := generateColors(len(series))
	for i, s := range series {
		pts := make(plotter.XYs, len(s.Values))
		for k, v := range s.Values {
			pts[k] = plotter.XY{X: s.Times[k], Y: v}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.Label, line)
	}
	p.Add(plotter.NewGrid())

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}
