package models

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s2"
)

// LinearTransform maps 1-based image pixel coordinates onto another linear
// system, as described by the CRVALnP/CRPIXnP/CDELTnP keywords.
type LinearTransform struct {
	CRVal [2]float64
	CRPix [2]float64
	CDelt [2]float64
}

// IdentityTransform returns a transform where physical == image coordinates.
func IdentityTransform() LinearTransform {
	return LinearTransform{
		CRVal: [2]float64{1, 1},
		CRPix: [2]float64{1, 1},
		CDelt: [2]float64{1, 1},
	}
}

// Forward converts image coordinates to physical coordinates.
func (t LinearTransform) Forward(p r2.Point) r2.Point {
	return r2.Point{
		X: t.CRVal[0] + (p.X-t.CRPix[0])*t.CDelt[0],
		Y: t.CRVal[1] + (p.Y-t.CRPix[1])*t.CDelt[1],
	}
}

// Inverse converts physical coordinates to image coordinates.
func (t LinearTransform) Inverse(p r2.Point) r2.Point {
	return r2.Point{
		X: t.CRPix[0] + (p.X-t.CRVal[0])/t.CDelt[0],
		Y: t.CRPix[1] + (p.Y-t.CRVal[1])/t.CDelt[1],
	}
}

// Image is a 2D intensity image on a regular pixel grid.
type Image struct {
	// Path is where the image lives on disk, empty for in-memory images
	Path string

	// Width and Height are NAXIS1 and NAXIS2
	Width  int
	Height int

	// Data holds the samples in row-major order with x varying fastest
	Data []float64

	// PixelScale is the size of one image pixel in arcsec
	PixelScale float64

	// Physical maps image coordinates to physical (sky pixel) coordinates
	Physical LinearTransform
}

// NewImage allocates a zero-filled image with an identity physical transform.
func NewImage(width, height int) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Data:     make([]float64, width*height),
		Physical: IdentityTransform(),
	}
}

// At returns the sample at zero-based pixel (x, y).
func (img *Image) At(x, y int) float64 {
	return img.Data[y*img.Width+x]
}

// Set stores v at zero-based pixel (x, y).
func (img *Image) Set(x, y int, v float64) {
	img.Data[y*img.Width+x] = v
}

// PixelCenter returns the physical coordinates of the centre of zero-based
// pixel (x, y).
func (img *Image) PixelCenter(x, y int) r2.Point {
	return img.Physical.Forward(r2.Point{X: float64(x + 1), Y: float64(y + 1)})
}

// Validate checks that the dimensions agree with the data.
func (img *Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", img.Width, img.Height)
	}
	if len(img.Data) != img.Width*img.Height {
		return fmt.Errorf("image data has %d samples, want %d", len(img.Data), img.Width*img.Height)
	}
	return nil
}

// Shape identifies the geometry carried by a Region.
type Shape int

const (
	ShapePolygon Shape = iota
	ShapeEllipse
	ShapeCircle
)

func (s Shape) String() string {
	switch s {
	case ShapePolygon:
		return "polygon"
	case ShapeEllipse:
		return "ellipse"
	case ShapeCircle:
		return "circle"
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// Region is a contour, ellipse or circle in physical coordinates.
type Region struct {
	Shape Shape

	// Level is the intensity the contour was traced at (polygons only)
	Level float64

	// Polygons are closed rings; several rings combine with the even-odd rule
	Polygons [][]r2.Point

	// Center is used by ellipses and circles
	Center r2.Point

	// SemiMajor and SemiMinor are the ellipse semi-axes; SemiMajor is the
	// circle radius
	SemiMajor float64
	SemiMinor float64

	// Angle is the ellipse rotation in degrees counter-clockwise from +X
	Angle float64
}

// NewEllipse builds an ellipse region.
func NewEllipse(center r2.Point, semiMajor, semiMinor, angle float64) *Region {
	return &Region{
		Shape:     ShapeEllipse,
		Center:    center,
		SemiMajor: semiMajor,
		SemiMinor: semiMinor,
		Angle:     angle,
	}
}

// NewCircle builds a circle region.
func NewCircle(center r2.Point, radius float64) *Region {
	return &Region{
		Shape:     ShapeCircle,
		Center:    center,
		SemiMajor: radius,
		SemiMinor: radius,
	}
}

// Radius returns the circle radius.
func (r *Region) Radius() float64 {
	return r.SemiMajor
}

// Contains reports whether p lies inside the region.
func (r *Region) Contains(p r2.Point) bool {
	switch r.Shape {
	case ShapePolygon:
		inside := false
		for _, ring := range r.Polygons {
			if ringContains(ring, p) {
				inside = !inside
			}
		}
		return inside
	case ShapeEllipse:
		if r.SemiMajor <= 0 || r.SemiMinor <= 0 {
			return false
		}
		theta := r.Angle * math.Pi / 180
		d := p.Sub(r.Center)
		u := d.X*math.Cos(theta) + d.Y*math.Sin(theta)
		v := -d.X*math.Sin(theta) + d.Y*math.Cos(theta)
		return (u*u)/(r.SemiMajor*r.SemiMajor)+(v*v)/(r.SemiMinor*r.SemiMinor) <= 1
	case ShapeCircle:
		return p.Sub(r.Center).Norm() <= r.SemiMajor
	}
	return false
}

// RingDepths returns, for each polygon ring, how many other rings enclose
// it. Rings at an odd depth are holes. Contour rings never cross, so one
// vertex decides.
func (r *Region) RingDepths() []int {
	depths := make([]int, len(r.Polygons))
	for i, ring := range r.Polygons {
		if len(ring) == 0 {
			continue
		}
		for j, other := range r.Polygons {
			if i != j && ringContains(other, ring[0]) {
				depths[i]++
			}
		}
	}
	return depths
}

// Bounds returns the bounding rectangle of the region.
func (r *Region) Bounds() r2.Rect {
	switch r.Shape {
	case ShapePolygon:
		rect := r2.EmptyRect()
		for _, ring := range r.Polygons {
			for _, p := range ring {
				rect = rect.AddPoint(p)
			}
		}
		return rect
	default:
		e := r2.Point{X: r.SemiMajor, Y: r.SemiMajor}
		return r2.RectFromCenterSize(r.Center, e.Mul(2))
	}
}

// ringContains is the crossing-number test for a single closed ring.
func ringContains(ring []r2.Point, p r2.Point) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := a.X + (p.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

// Pointing is a celestial position in decimal degrees.
type Pointing struct {
	RA  float64
	Dec float64
}

// LatLng converts the pointing to an s2 latitude/longitude pair.
func (p Pointing) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Dec, p.RA)
}

// SeparationArcmin is the great-circle distance to o in arcminutes.
func (p Pointing) SeparationArcmin(o Pointing) float64 {
	return p.LatLng().Distance(o.LatLng()).Degrees() * 60
}

// Coordinates are the focal-plane, detector and chip coordinates of a sky
// position.
type Coordinates struct {
	// X and Y are sky pixel (physical) coordinates
	X, Y float64

	// Theta is the off-axis angle in arcmin, Phi the azimuth in degrees
	Theta, Phi float64

	DetX, DetY float64

	ChipID       int
	ChipX, ChipY float64

	// PixSize is the sky pixel size in arcsec
	PixSize float64
}

// Center returns the sky pixel position as a point.
func (c Coordinates) Center() r2.Point {
	return r2.Point{X: c.X, Y: c.Y}
}

// Kernel is a truncated 2D Gaussian smoothing kernel.
type Kernel struct {
	// SigmaX and SigmaY are in image pixels
	SigmaX float64
	SigmaY float64

	// NSigma is where the kernel is truncated
	NSigma float64
}

// Spec renders the kernel in CIAO kernelspec syntax.
func (k Kernel) Spec() string {
	return fmt.Sprintf("lib:gaus(2,%g,1,%g,%g)", k.NSigma, k.SigmaX, k.SigmaY)
}
