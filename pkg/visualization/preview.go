// Package visualization renders a quick-look PNG of a PSF image with its
// source regions overlaid.
package visualization

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"psfcontour/internal/models"
)

// outlinePoints is the number of vertices used to draw an ellipse or circle.
const outlinePoints = 90

// imageGrid adapts an image to plotter.GridXYZ in physical coordinates. Values
// are log-stretched so the PSF wings stay visible.
type imageGrid struct {
	img  *models.Image
	peak float64
}

func (g imageGrid) Dims() (c, r int) { return g.img.Width, g.img.Height }

func (g imageGrid) Z(c, r int) float64 {
	v := g.img.At(c, r)
	if g.peak <= 0 || v <= 0 {
		return 0
	}
	return math.Log10(1 + 1000*v/g.peak)
}

func (g imageGrid) X(c int) float64 { return g.img.PixelCenter(c, 0).X }
func (g imageGrid) Y(r int) float64 { return g.img.PixelCenter(0, r).Y }

var regionColors = map[models.Shape]color.Color{
	models.ShapePolygon: color.RGBA{R: 0, G: 255, B: 0, A: 255},
	models.ShapeEllipse: color.RGBA{R: 0, G: 160, B: 255, A: 255},
	models.ShapeCircle:  color.RGBA{R: 255, G: 0, B: 255, A: 255},
}

// Outline returns closed rings tracing the region boundary.
func Outline(r *models.Region) []plotter.XYs {
	switch r.Shape {
	case models.ShapePolygon:
		rings := make([]plotter.XYs, 0, len(r.Polygons))
		for _, ring := range r.Polygons {
			if len(ring) == 0 {
				continue
			}
			pts := make(plotter.XYs, len(ring)+1)
			for i, p := range ring {
				pts[i].X, pts[i].Y = p.X, p.Y
			}
			pts[len(ring)] = pts[0]
			rings = append(rings, pts)
		}
		return rings
	case models.ShapeEllipse, models.ShapeCircle:
		theta := r.Angle * math.Pi / 180
		cos, sin := math.Cos(theta), math.Sin(theta)
		pts := make(plotter.XYs, outlinePoints+1)
		for i := range pts {
			t := 2 * math.Pi * float64(i) / outlinePoints
			u := r.SemiMajor * math.Cos(t)
			v := r.SemiMinor * math.Sin(t)
			pts[i].X = r.Center.X + u*cos - v*sin
			pts[i].Y = r.Center.Y + u*sin + v*cos
		}
		return []plotter.XYs{pts}
	}
	return nil
}

// SavePreview writes a PNG heat map of img with the regions outlined.
func SavePreview(path string, img *models.Image, regions ...*models.Region) error {
	if err := img.Validate(); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "PSF source regions"
	p.X.Label.Text = "x (physical)"
	p.Y.Label.Text = "y (physical)"
	p.Title.TextStyle.Font.Size = vg.Points(12)

	grid := imageGrid{img: img, peak: floats.Max(img.Data)}
	p.Add(plotter.NewHeatMap(grid, palette.Heat(32, 1)))

	for _, r := range regions {
		if r == nil {
			continue
		}
		for _, ring := range Outline(r) {
			line, err := plotter.NewLine(ring)
			if err != nil {
				return fmt.Errorf("failed to draw %v outline: %w", r.Shape, err)
			}
			line.Color = regionColors[r.Shape]
			line.Width = vg.Points(1)
			p.Add(line)
		}
	}

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save preview %s: %w", path, err)
	}
	return nil
}
