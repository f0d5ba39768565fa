package ciao

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"psfcontour/internal/models"
	"psfcontour/pkg/logger"
	"psfcontour/pkg/region"
	"psfcontour/pkg/tools"
)

// ErrNoImagePath is returned when a tool needs an image that is not on disk.
var ErrNoImagePath = errors.New("image has no file path")

// Options configures the CIAO toolkit.
type Options struct {
	// Simulator is passed to simulate_psf, normally "marx"
	Simulator string

	// NumIter is the number of simulate_psf iterations
	NumIter int

	// TempRoot is where per-call scratch directories are made; empty means
	// the system default
	TempRoot string
}

// Tools implements every tools interface with CIAO commands.
type Tools struct {
	run  Runner
	opts Options
	log  logger.ILogger

	mu     sync.Mutex
	totals map[string]float64
}

var (
	_ tools.PSFSimulator     = (*Tools)(nil)
	_ tools.CoordTransformer = (*Tools)(nil)
	_ tools.Smoother         = (*Tools)(nil)
	_ tools.EllipseFitter    = (*Tools)(nil)
	_ tools.CircleMaker      = (*Tools)(nil)
)

// New creates the CIAO toolkit.
func New(run Runner, opts Options, log logger.ILogger) *Tools {
	if opts.Simulator == "" {
		opts.Simulator = "marx"
	}
	if opts.NumIter < 1 {
		opts.NumIter = 1
	}
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Tools{
		run:    run,
		opts:   opts,
		log:    log,
		totals: make(map[string]float64),
	}
}

// Toolkit returns a tools.Toolkit backed entirely by CIAO.
func (t *Tools) Toolkit() tools.Toolkit {
	return tools.Toolkit{
		Simulator: t,
		Coords:    t,
		Smoother:  t,
		Contours:  t,
		Flux:      t,
		Ellipse:   t,
		Circle:    t,
	}
}

// scratch runs fn inside a temporary directory removed afterwards.
func (t *Tools) scratch(fn func(dir string) error) error {
	dir, err := os.MkdirTemp(t.opts.TempRoot, "psfcontour-")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)
	return fn(dir)
}

// SimulatePSF runs simulate_psf; the image lands in OutRoot.psf.
func (t *Tools) SimulatePSF(ctx context.Context, req tools.SimulateRequest) (string, error) {
	_, err := t.run.Run(ctx, "simulate_psf",
		param("infile", req.InFile),
		param("outroot", req.OutRoot),
		param("ra", req.Pointing.RA),
		param("dec", req.Pointing.Dec),
		param("spectrumfile", ""),
		param("monoenergy", req.Energy),
		param("flux", req.Flux),
		param("simulator", t.opts.Simulator),
		param("numiter", t.opts.NumIter),
		param("clobber", true),
	)
	if err != nil {
		return "", err
	}
	return req.OutRoot + ".psf", nil
}

// CelToChandra runs dmcoords and collects its outputs with pget.
func (t *Tools) CelToChandra(ctx context.Context, req tools.CoordRequest) (models.Coordinates, error) {
	var c models.Coordinates

	_, err := t.run.Run(ctx, "dmcoords",
		param("infile", req.InFile),
		param("op", "cel"),
		param("celfmt", "deg"),
		param("ra", req.Pointing.RA),
		param("dec", req.Pointing.Dec),
	)
	if err != nil {
		return c, err
	}

	out, err := t.run.Run(ctx, "pget", "dmcoords", "x", "y", "theta", "phi", "detx", "dety", "chip_id", "chipx", "chipy")
	if err != nil {
		return c, err
	}
	v, err := parseValues(out, 9)
	if err != nil {
		return c, fmt.Errorf("reading dmcoords results: %w", err)
	}

	c = models.Coordinates{
		X:       v[0],
		Y:       v[1],
		Theta:   v[2],
		Phi:     v[3],
		DetX:    v[4],
		DetY:    v[5],
		ChipID:  int(v[6]),
		ChipX:   v[7],
		ChipY:   v[8],
		PixSize: req.Keywords.SkyPixelSize(),
	}
	return c, nil
}

// Smooth runs aconvolve with a Gaussian kernel.
func (t *Tools) Smooth(ctx context.Context, req tools.SmoothRequest) (string, error) {
	_, err := t.run.Run(ctx, "aconvolve",
		param("infile", req.InFile),
		param("outfile", req.OutFile),
		param("kernelspec", req.Kernel.Spec()),
		param("method", "fft"),
		param("clobber", true),
	)
	if err != nil {
		return "", err
	}
	return req.OutFile, nil
}

// RegionFromLevel runs dmcontour at a single level and reads the polygons
// back.
func (t *Tools) RegionFromLevel(ctx context.Context, img *models.Image, level float64) (*models.Region, error) {
	if img.Path == "" {
		return nil, ErrNoImagePath
	}

	out := &models.Region{Shape: models.ShapePolygon, Level: level}
	err := t.scratch(func(dir string) error {
		regFile := filepath.Join(dir, "contour.reg")
		if _, err := t.run.Run(ctx, "dmcontour",
			param("infile", img.Path),
			param("outfile", regFile),
			param("levels", level),
			param("clobber", true),
		); err != nil {
			return err
		}

		shapes, err := region.ParseFile(regFile)
		if err != nil {
			return err
		}
		for _, s := range shapes {
			if s.Shape == models.ShapePolygon {
				out.Polygons = append(out.Polygons, s.Polygons...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FluxFraction divides the dmstat sum inside the region by the image sum.
func (t *Tools) FluxFraction(ctx context.Context, img *models.Image, r *models.Region) (float64, error) {
	if img.Path == "" {
		return 0, ErrNoImagePath
	}
	if r.Shape == models.ShapePolygon && len(r.Polygons) == 0 {
		return 0, nil
	}

	total, err := t.totalFlux(ctx, img.Path)
	if err != nil {
		return 0, err
	}

	var inside float64
	err = t.scratch(func(dir string) error {
		regFile := filepath.Join(dir, "filter.reg")
		if err := region.WriteFile(regFile, r); err != nil {
			return err
		}
		inside, err = t.sum(ctx, fmt.Sprintf("%s[sky=region(%s)]", img.Path, regFile))
		return err
	})
	if err != nil {
		return 0, err
	}
	return inside / total, nil
}

func (t *Tools) totalFlux(ctx context.Context, path string) (float64, error) {
	t.mu.Lock()
	total, ok := t.totals[path]
	t.mu.Unlock()
	if ok {
		return total, nil
	}

	total, err := t.sum(ctx, path)
	if err != nil {
		return 0, err
	}
	if total <= 0 {
		return 0, fmt.Errorf("image %s has no flux", path)
	}

	t.mu.Lock()
	t.totals[path] = total
	t.mu.Unlock()
	return total, nil
}

func (t *Tools) sum(ctx context.Context, infile string) (float64, error) {
	if _, err := t.run.Run(ctx, "dmstat", param("infile", infile), param("centroid", false)); err != nil {
		return 0, err
	}
	out, err := t.run.Run(ctx, "pget", "dmstat", "out_sum")
	if err != nil {
		return 0, err
	}
	v, err := parseValues(out, 1)
	if err != nil {
		return 0, fmt.Errorf("reading dmstat sum: %w", err)
	}
	return v[0], nil
}

// FitEllipse runs dmellipse with the centroid held fixed.
func (t *Tools) FitEllipse(ctx context.Context, req tools.EllipseRequest) (string, error) {
	if req.Image == nil || req.Image.Path == "" {
		return "", ErrNoImagePath
	}
	_, err := t.run.Run(ctx, "dmellipse",
		param("infile", req.Image.Path),
		param("outfile", req.OutFile),
		param("fraction", req.Fraction),
		param("shape", "ellipse"),
		param("x_centroid", req.Center.X),
		param("y_centroid", req.Center.Y),
		param("fix_centroid", true),
		param("tolerance", req.Tolerance),
		param("clobber", true),
	)
	if err != nil {
		return "", err
	}
	return req.OutFile, nil
}

// EncircledEnergyCircle runs psfsize_srcs for the source position.
func (t *Tools) EncircledEnergyCircle(ctx context.Context, req tools.CircleRequest) (string, error) {
	err := t.scratch(func(dir string) error {
		posFile := filepath.Join(dir, "pos.dat")
		text := fmt.Sprintf("#ra dec\n%.8f %.8f\n", req.Pointing.RA, req.Pointing.Dec)
		if err := os.WriteFile(posFile, []byte(text), 0644); err != nil {
			return fmt.Errorf("failed to write position file: %w", err)
		}
		_, err := t.run.Run(ctx, "psfsize_srcs",
			param("infile", req.InFile),
			param("pos", posFile),
			param("outfile", req.OutFile),
			param("energy", req.Energy),
			param("ecf", req.Fraction),
			param("clobber", true),
		)
		return err
	})
	if err != nil {
		return "", err
	}
	return req.OutFile, nil
}
