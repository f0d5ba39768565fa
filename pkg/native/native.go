// Package native implements the image-analysis tools in process: Gaussian
// smoothing, contour tracing, flux sums, ellipse and encircled-energy circle.
// PSF simulation and coordinate transforms are not provided here.
package native

import (
	"psfcontour/pkg/logger"
	"psfcontour/pkg/tools"
)

// Tools implements the image capabilities of tools.Toolkit.
type Tools struct {
	log logger.ILogger

	// MaxFitIterations bounds the ellipse scale bisection
	MaxFitIterations int
}

var (
	_ tools.Smoother      = (*Tools)(nil)
	_ tools.EllipseFitter = (*Tools)(nil)
	_ tools.CircleMaker   = (*Tools)(nil)
)

// New creates the native toolkit.
func New(log logger.ILogger) *Tools {
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Tools{log: log, MaxFitIterations: 100}
}

// Attach returns base with every image capability replaced by t. The
// simulator and coordinate transformer are kept.
func (t *Tools) Attach(base tools.Toolkit) tools.Toolkit {
	base.Smoother = t
	base.Contours = t
	base.Flux = t
	base.Ellipse = t
	base.Circle = t
	return base
}
