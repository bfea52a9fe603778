// Package plotting renders source time courses as static images (gonum/plot)
// or interactive HTML charts (go-echarts).
package plotting

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/acpuchades/eegtools/internal/stc"
	"github.com/acpuchades/eegtools/internal/units"
	"gonum.org/v1/gonum/mat"
)

// DefaultSeries is how many source time courses a plot shows by default.
const DefaultSeries = 8

// ErrUnsupportedFormat is returned for an output extension no renderer handles.
var ErrUnsupportedFormat = errors.New("unsupported plot format")

// Series is the time course of one source.
type Series struct {
	Label  string
	Peak   float64 // largest absolute value
	Times  []float64
	Values []float64
}

// Strongest returns the n sources with the largest peak absolute amplitude,
// strongest first.
func Strongest(est *stc.SourceEstimate, n int) []Series {
	rows, _ := est.Data.Dims()
	labels := sourceLabels(est)
	times := est.Times()

	all := make([]Series, rows)
	for j := 0; j < rows; j++ {
		vals := mat.Row(nil, j, est.Data)
		peak := 0.0
		for _, v := range vals {
			peak = math.Max(peak, math.Abs(v))
		}
		all[j] = Series{Label: labels[j], Peak: peak, Times: times, Values: vals}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].Peak > all[b].Peak })
	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

func sourceLabels(est *stc.SourceEstimate) []string {
	prefixes := []string{"lh", "rh"}
	if est.Volume {
		prefixes = []string{"vol"}
	}
	var out []string
	for k, verts := range est.Vertices {
		p := fmt.Sprintf("src%d", k)
		if k < len(prefixes) {
			p = prefixes[k]
		}
		for _, v := range verts {
			out = append(out, fmt.Sprintf("%s %d", p, v))
		}
	}
	return out
}

// Render writes a plot of the n strongest sources to path, with values shown
// in unit (see package units). The extension selects the renderer: .html uses
// go-echarts; .png, .svg and .pdf use gonum/plot.
func Render(path string, est *stc.SourceEstimate, n int, title, unit string) error {
	if !units.IsValid(unit) {
		return fmt.Errorf("plot: unknown unit %q (want one of %s)", unit, units.GetValidUnitsString())
	}
	series := Strongest(est, n)
	if len(series) == 0 {
		return errors.New("plot: estimate has no sources")
	}
	for i := range series {
		series[i] = convert(series[i], unit)
	}
	ylabel := units.Label(unit)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".html", ".htm":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := renderHTML(f, series, title, ylabel); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case ".png", ".svg", ".pdf":
		return renderImage(path, series, title, ylabel)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// convert rescales a series into unit without touching the estimate.
func convert(s Series, unit string) Series {
	vals := make([]float64, len(s.Values))
	for k, v := range s.Values {
		vals[k] = units.ConvertMoment(v, unit)
	}
	s.Values = vals
	s.Peak = math.Abs(units.ConvertMoment(s.Peak, unit))
	return s
}

func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
