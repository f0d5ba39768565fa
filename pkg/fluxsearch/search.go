package fluxsearch

import (
	"context"
	"fmt"
	"math"

	"psfcontour/internal/models"
	"psfcontour/pkg/logger"
)

// DefaultMaxIterations bounds the number of contours traced by a search.
const DefaultMaxIterations = 20

// RegionBuilder traces the region at or above an intensity level.
type RegionBuilder interface {
	RegionFromLevel(ctx context.Context, img *models.Image, level float64) (*models.Region, error)
}

// FluxMeter returns the fraction of the image's flux inside a region.
type FluxMeter interface {
	FluxFraction(ctx context.Context, img *models.Image, region *models.Region) (float64, error)
}

// Strategy decides how the threshold index moves between iterations.
type Strategy int

const (
	// StrategyStep moves one sorted pixel per iteration.
	StrategyStep Strategy = iota

	// StrategyBisect halves a bracket of candidate indices per iteration.
	StrategyBisect
)

func (s Strategy) String() string {
	switch s {
	case StrategyStep:
		return "step"
	case StrategyBisect:
		return "bisect"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy converts "step" or "bisect" to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "step", "":
		return StrategyStep, nil
	case "bisect":
		return StrategyBisect, nil
	}
	return StrategyStep, fmt.Errorf("unknown search strategy %q", name)
}

// Status describes how a search ended.
type Status int

const (
	// StatusConverged means the fraction landed inside the tolerance band.
	StatusConverged Status = iota

	// StatusTooLow means the fraction stayed below target at the lowest level.
	StatusTooLow

	// StatusTooHigh means the fraction stayed above target at the highest level.
	StatusTooHigh

	// StatusNotConverged means the iteration budget ran out.
	StatusNotConverged
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusTooLow:
		return "fraction too low"
	case StatusTooHigh:
		return "fraction too high"
	case StatusNotConverged:
		return "not converged"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Params configures a search.
type Params struct {
	// Fraction is the target enclosed-flux fraction, in [0,1]
	Fraction float64

	// Tolerance is the half-width of the accepted band, in [0,1]
	Tolerance float64

	// MaxIterations defaults to DefaultMaxIterations when zero
	MaxIterations int

	Strategy Strategy
}

// Step records one iteration of the search.
type Step struct {
	Iteration int
	Index     int
	Level     float64
	Fraction  float64
}

// Result is the region the search settled on and how it got there.
type Result struct {
	Region   *models.Region
	Index    int
	Level    float64
	Fraction float64
	Status   Status

	// Trajectory holds every iteration in order
	Trajectory []Step
}

// Iterations is the number of contours traced.
func (r *Result) Iterations() int {
	return len(r.Trajectory)
}

// Converged reports whether the fraction is within tolerance.
func (r *Result) Converged() bool {
	return r.Status == StatusConverged
}

// Searcher drives a RegionBuilder and FluxMeter pair towards a target
// enclosed fraction.
type Searcher struct {
	regions RegionBuilder
	flux    FluxMeter
	log     logger.ILogger
}

// NewSearcher creates a searcher. A nil log discards messages.
func NewSearcher(regions RegionBuilder, flux FluxMeter, log logger.ILogger) *Searcher {
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Searcher{
		regions: regions,
		flux:    flux,
		log:     log,
	}
}

func (p Params) validate() error {
	if !(p.Fraction >= 0 && p.Fraction <= 1) || !(p.Tolerance >= 0 && p.Tolerance <= 1) {
		return fmt.Errorf("fraction %g, tolerance %g: %w", p.Fraction, p.Tolerance, ErrInvalidTarget)
	}
	if p.MaxIterations < 0 {
		return fmt.Errorf("max iterations must not be negative, got %d", p.MaxIterations)
	}
	return nil
}

// Search looks for the contour of img enclosing params.Fraction of its flux.
//
// Failing to converge is not an error: the last region traced is returned
// with a status other than StatusConverged and a warning is logged. Errors
// from the region builder or flux meter end the search immediately.
func (s *Searcher) Search(ctx context.Context, img *models.Image, params Params) (*Result, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	table, err := NewFluxTable(img.Data)
	if err != nil {
		return nil, err
	}

	maxIter := params.MaxIterations
	if maxIter == 0 {
		maxIter = DefaultMaxIterations
	}

	last := table.Len() - 1
	idx := table.StartIndex(params.Fraction)
	lo, hi := 0, last

	res := &Result{Status: StatusNotConverged}
	s.log.Debugf("Contour search: %d pixels, target %.4f +/- %.4f, start index %d, strategy %v",
		table.Len(), params.Fraction, params.Tolerance, idx, params.Strategy)

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		level := table.Value(idx)

		region, err := s.regions.RegionFromLevel(ctx, img, level)
		if err != nil {
			return nil, fmt.Errorf("tracing contour at level %g: %w", level, err)
		}
		frac, err := s.flux.FluxFraction(ctx, img, region)
		if err != nil {
			return nil, fmt.Errorf("measuring flux at level %g: %w", level, err)
		}

		res.Region = region
		res.Index = idx
		res.Level = level
		res.Fraction = frac
		res.Trajectory = append(res.Trajectory, Step{Iteration: iter, Index: idx, Level: level, Fraction: frac})
		s.log.Debugf("Iteration %d: index %d level %g fraction %.6f", iter, idx, level, frac)

		if math.Abs(frac-params.Fraction) <= params.Tolerance {
			res.Status = StatusConverged
			break
		}

		if frac < params.Fraction {
			// widen the region: lower level, lower index
			if idx == 0 {
				res.Status = StatusTooLow
				break
			}
			if params.Strategy == StrategyBisect {
				hi = idx - 1
				if hi < lo {
					break
				}
				idx = (lo + hi) / 2
			} else {
				idx--
			}
		} else {
			if idx == last {
				res.Status = StatusTooHigh
				break
			}
			if params.Strategy == StrategyBisect {
				lo = idx + 1
				if lo > hi {
					break
				}
				idx = (lo + hi + 1) / 2
			} else {
				idx++
			}
		}
	}

	switch res.Status {
	case StatusConverged:
		s.log.Infof("Contour level %g encloses %.4f of the flux after %d iteration(s)",
			res.Level, res.Fraction, res.Iterations())
	case StatusTooLow:
		s.log.Warnf("Fraction too low (%.4f < %.4f) at the lowest level, returning best effort",
			res.Fraction, params.Fraction)
	case StatusTooHigh:
		s.log.Warnf("Fraction too high (%.4f > %.4f) at the highest level, returning best effort",
			res.Fraction, params.Fraction)
	default:
		s.log.Warnf("Contour search did not converge after %d iteration(s), using level %g enclosing %.4f",
			res.Iterations(), res.Level, res.Fraction)
	}

	return res, nil
}
