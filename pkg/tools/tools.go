// Package tools defines the external capabilities the pipeline depends on,
// one narrow interface and one typed request per capability.
package tools

import (
	"context"

	"github.com/golang/geo/r2"

	"psfcontour/internal/models"
	"psfcontour/pkg/fitsimage"
	"psfcontour/pkg/fluxsearch"
)

// SimulateRequest asks for a ray-traced PSF image.
type SimulateRequest struct {
	// InFile is the event file whose observation sets the aspect and instrument
	InFile   string
	Pointing models.Pointing

	// Energy in keV
	Energy float64

	// Flux in photon/cm^2/s
	Flux float64

	// OutRoot is the output prefix; the image is written to OutRoot + ".psf"
	OutRoot string
}

// PSFSimulator produces a PSF image and returns its path.
type PSFSimulator interface {
	SimulatePSF(ctx context.Context, req SimulateRequest) (string, error)
}

// CoordRequest asks for the focal-plane position of a sky position.
type CoordRequest struct {
	InFile   string
	Keywords fitsimage.Keywords
	Pointing models.Pointing
}

// CoordTransformer converts celestial to Chandra coordinates.
type CoordTransformer interface {
	CelToChandra(ctx context.Context, req CoordRequest) (models.Coordinates, error)
}

// SmoothRequest asks for InFile convolved with Kernel, written to OutFile.
type SmoothRequest struct {
	InFile  string
	OutFile string
	Kernel  models.Kernel
}

// Smoother convolves an image and returns the output path.
type Smoother interface {
	Smooth(ctx context.Context, req SmoothRequest) (string, error)
}

// EllipseRequest asks for the ellipse at a fixed centre enclosing Fraction.
type EllipseRequest struct {
	Image     *models.Image
	Fraction  float64
	Center    r2.Point
	Tolerance float64
	OutFile   string
}

// EllipseFitter writes an ellipse region and returns its path.
type EllipseFitter interface {
	FitEllipse(ctx context.Context, req EllipseRequest) (string, error)
}

// CircleRequest asks for the circle enclosing Fraction of the PSF energy.
type CircleRequest struct {
	InFile   string
	Pointing models.Pointing

	// Center is the source position in physical coordinates
	Center r2.Point

	Energy   float64
	Fraction float64

	// PSF is the simulated image, for implementations that measure it
	// directly rather than consult a calibration library
	PSF *models.Image

	OutFile string
}

// CircleMaker writes a circle region and returns its path.
type CircleMaker interface {
	EncircledEnergyCircle(ctx context.Context, req CircleRequest) (string, error)
}

// Toolkit bundles one implementation of every capability.
type Toolkit struct {
	Simulator PSFSimulator
	Coords    CoordTransformer
	Smoother  Smoother
	Contours  fluxsearch.RegionBuilder
	Flux      fluxsearch.FluxMeter
	Ellipse   EllipseFitter
	Circle    CircleMaker
}
