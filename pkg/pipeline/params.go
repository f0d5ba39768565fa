package pipeline

import (
	"errors"
	"fmt"
	"math"

	"psfcontour/internal/models"
	"psfcontour/pkg/fluxsearch"
)

// Output file extensions, appended to Params.OutRoot.
const (
	ExtPSF      = ".psf"
	ExtSmoothed = ".smpsf"
	ExtContour  = ".contr"
	ExtEllipse  = ".ellps"
	ExtCircle   = ".crcl"
	ExtPreview  = ".png"
	ExtChart    = ".search.html"
)

// Inclusive ranges accepted for the numeric arguments.
var (
	RangeRA        = [2]float64{0, 360}
	RangeDec       = [2]float64{-90, 90}
	RangeEnergy    = [2]float64{0.1, 10}
	RangeFraction  = [2]float64{0, 1}
	RangeTolerance = [2]float64{0, 1}
	RangeFlux      = [2]float64{1e-7, 0.1}
)

// RangeError reports a numeric argument outside its inclusive range.
type RangeError struct {
	Name     string
	Value    float64
	Min, Max float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %g outside allowed range [%g, %g]", e.Name, e.Value, e.Min, e.Max)
}

// Params holds everything one run needs.
type Params struct {
	// InFile is the event file the observation is taken from
	InFile string

	// OutRoot prefixes every output file
	OutRoot string

	// RA and Dec locate the source in decimal degrees
	RA  float64
	Dec float64

	// Energy of the simulated PSF in keV
	Energy float64

	// Fraction of the PSF flux the regions should enclose
	Fraction float64

	// Tolerance on Fraction for the contour and ellipse
	Tolerance float64

	// Flux of the simulated source in photon/cm^2/s
	Flux float64

	Kernel        models.Kernel
	MaxIterations int
	Strategy      fluxsearch.Strategy

	// MeasurePSF loads the simulated PSF and hands it to the circle maker
	MeasurePSF bool

	// Preview also writes OutRoot + ".png" and the search chart
	Preview bool

	// Viewer names the program in the summary command, "ds9" when empty
	Viewer string
}

// Pointing returns the source position.
func (p Params) Pointing() models.Pointing {
	return models.Pointing{RA: p.RA, Dec: p.Dec}
}

// Output returns OutRoot with ext appended.
func (p Params) Output(ext string) string {
	return p.OutRoot + ext
}

func checkRange(name string, v float64, r [2]float64) error {
	if math.IsNaN(v) || v < r[0] || v > r[1] {
		return &RangeError{Name: name, Value: v, Min: r[0], Max: r[1]}
	}
	return nil
}

// Validate checks every argument before any tool runs.
func (p Params) Validate() error {
	if p.InFile == "" {
		return errors.New("input event file is required")
	}
	if p.OutRoot == "" {
		return errors.New("output root is required")
	}

	checks := []struct {
		name  string
		value float64
		r     [2]float64
	}{
		{"ra", p.RA, RangeRA},
		{"dec", p.Dec, RangeDec},
		{"energy", p.Energy, RangeEnergy},
		{"fraction", p.Fraction, RangeFraction},
		{"tolerance", p.Tolerance, RangeTolerance},
		{"flux", p.Flux, RangeFlux},
	}
	for _, c := range checks {
		if err := checkRange(c.name, c.value, c.r); err != nil {
			return err
		}
	}

	if p.Kernel.SigmaX <= 0 || p.Kernel.SigmaY <= 0 || p.Kernel.NSigma <= 0 {
		return fmt.Errorf("invalid smoothing kernel %s", p.Kernel.Spec())
	}
	if p.MaxIterations < 0 {
		return fmt.Errorf("max iterations must not be negative, got %d", p.MaxIterations)
	}
	return nil
}
