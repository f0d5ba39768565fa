// Package pipeline runs the source-region workflow: simulate the PSF, locate
// the source on the focal plane, smooth, then derive the contour, ellipse and
// circle regions.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"psfcontour/internal/models"
	"psfcontour/pkg/fitsimage"
	"psfcontour/pkg/fluxsearch"
	"psfcontour/pkg/logger"
	"psfcontour/pkg/region"
	"psfcontour/pkg/tools"
	"psfcontour/pkg/visualization"
)

// EventsHDU is the extension holding the event list and its header.
const EventsHDU = "EVENTS"

// Pipeline sequences the tools for one source. Every step depends on the
// previous one, so the first failure ends the run.
type Pipeline struct {
	params *Params
	kit    tools.Toolkit
	log    logger.ILogger

	keywords fitsimage.Keywords
	coords   models.Coordinates
	psf      *models.Image
	smoothed *models.Image
	search   *fluxsearch.Result
}

// New creates a pipeline. A nil log discards messages.
func New(params *Params, kit tools.Toolkit, log logger.ILogger) *Pipeline {
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Pipeline{
		params: params,
		kit:    kit,
		log:    log,
	}
}

// checkOutput fails with a MissingOutputError unless path exists.
func checkOutput(step, path string) error {
	if _, err := os.Stat(path); err != nil {
		return &MissingOutputError{Step: step, Path: path, Err: err}
	}
	return nil
}

// Process runs the complete pipeline
func (p *Pipeline) Process(ctx context.Context) (*Summary, error) {
	if err := p.params.Validate(); err != nil {
		return nil, err
	}

	// Step 1: Read the observation header
	p.log.Infof("Step 1: Reading %s header of %s", EventsHDU, p.params.InFile)
	keywords, err := fitsimage.ReadHeader(p.params.InFile, EventsHDU)
	if err != nil {
		return nil, fmt.Errorf("failed to read event file header: %w", err)
	}
	p.keywords = keywords

	// Step 2: Simulate the PSF
	p.log.Infof("Step 2: Simulating PSF at %.3f keV", p.params.Energy)
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}

	// Step 3: Locate the source on the focal plane
	p.log.Infof("Step 3: Converting RA=%g Dec=%g to Chandra coordinates", p.params.RA, p.params.Dec)
	if err := p.locate(ctx); err != nil {
		return nil, err
	}

	// Step 4: Smooth the PSF
	p.log.Infof("Step 4: Smoothing PSF with %s", p.params.Kernel.Spec())
	if err := p.smooth(ctx); err != nil {
		return nil, err
	}

	// Step 5: Contour search
	p.log.Infof("Step 5: Searching for the contour enclosing %.4f of the flux", p.params.Fraction)
	contour, err := p.contour(ctx)
	if err != nil {
		return nil, err
	}

	// Step 6: Ellipse
	p.log.Infof("Step 6: Fitting ellipse")
	if err := p.ellipse(ctx); err != nil {
		return nil, err
	}

	// Step 7: Encircled-energy circle
	p.log.Infof("Step 7: Computing encircled-energy circle")
	if err := p.circle(ctx); err != nil {
		return nil, err
	}

	summary := p.summary()

	// Step 8: Optional preview
	if p.params.Preview {
		p.log.Infof("Step 8: Rendering preview")
		if path, ok := p.preview(contour); ok {
			summary.PreviewFile = path
		}
		chart := p.params.Output(ExtChart)
		if err := visualization.SaveSearchChart(chart, p.search, p.params.Fraction, p.params.Tolerance); err != nil {
			p.log.Warnf("Failed to save search chart: %v", err)
		} else {
			summary.ChartFile = chart
		}
	}

	p.log.Infof("Processing complete")
	return summary, nil
}

func (p *Pipeline) simulate(ctx context.Context) error {
	want := p.params.Output(ExtPSF)
	got, err := p.kit.Simulator.SimulatePSF(ctx, tools.SimulateRequest{
		InFile:   p.params.InFile,
		Pointing: p.params.Pointing(),
		Energy:   p.params.Energy,
		Flux:     p.params.Flux,
		OutRoot:  p.params.OutRoot,
	})
	if err != nil {
		return fmt.Errorf("failed to simulate PSF: %w", err)
	}
	if got != want {
		p.log.Debugf("Simulator reported %s, expected %s", got, want)
	}
	if err := checkOutput("simulate_psf", want); err != nil {
		return err
	}

	if p.params.MeasurePSF {
		psf, err := fitsimage.ReadImage(want)
		if err != nil {
			return fmt.Errorf("failed to load simulated PSF: %w", err)
		}
		p.psf = psf
	}
	return nil
}

func (p *Pipeline) locate(ctx context.Context) error {
	coords, err := p.kit.Coords.CelToChandra(ctx, tools.CoordRequest{
		InFile:   p.params.InFile,
		Keywords: p.keywords,
		Pointing: p.params.Pointing(),
	})
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	p.coords = coords

	p.log.Infof("Source at sky (%.2f, %.2f), chip %d (%.2f, %.2f), off-axis %.3f arcmin",
		coords.X, coords.Y, coords.ChipID, coords.ChipX, coords.ChipY, coords.Theta)
	if nom, ok := p.keywords.NominalPointing(); ok {
		p.log.Infof("Separation from nominal pointing: %.3f arcmin", p.params.Pointing().SeparationArcmin(nom))
	}
	return nil
}

func (p *Pipeline) smooth(ctx context.Context) error {
	want := p.params.Output(ExtSmoothed)
	if _, err := p.kit.Smoother.Smooth(ctx, tools.SmoothRequest{
		InFile:  p.params.Output(ExtPSF),
		OutFile: want,
		Kernel:  p.params.Kernel,
	}); err != nil {
		return fmt.Errorf("failed to smooth PSF: %w", err)
	}
	if err := checkOutput("smooth", want); err != nil {
		return err
	}

	img, err := fitsimage.ReadImage(want)
	if err != nil {
		return fmt.Errorf("failed to load smoothed PSF: %w", err)
	}
	// FFT convolution leaves small negative ringing in empty areas
	clipped := 0
	for i, v := range img.Data {
		if v < 0 {
			img.Data[i] = 0
			clipped++
		}
	}
	if clipped > 0 {
		// flux tools read the file, so they must see the clipped pixels too
		if err := fitsimage.WriteImage(want, img); err != nil {
			return fmt.Errorf("failed to store clipped PSF: %w", err)
		}
		p.log.Debugf("Clipped %d negative pixel(s) in %s", clipped, want)
	}
	p.smoothed = img
	return nil
}

func (p *Pipeline) contour(ctx context.Context) (*models.Region, error) {
	searcher := fluxsearch.NewSearcher(p.kit.Contours, p.kit.Flux, p.log)
	res, err := searcher.Search(ctx, p.smoothed, fluxsearch.Params{
		Fraction:      p.params.Fraction,
		Tolerance:     p.params.Tolerance,
		MaxIterations: p.params.MaxIterations,
		Strategy:      p.params.Strategy,
	})
	if err != nil {
		return nil, fmt.Errorf("contour search failed: %w", err)
	}
	p.search = res

	path := p.params.Output(ExtContour)
	if err := region.WriteFile(path, res.Region); err != nil {
		return nil, err
	}
	return res.Region, nil
}

func (p *Pipeline) ellipse(ctx context.Context) error {
	want := p.params.Output(ExtEllipse)
	if _, err := p.kit.Ellipse.FitEllipse(ctx, tools.EllipseRequest{
		Image:     p.smoothed,
		Fraction:  p.params.Fraction,
		Center:    p.coords.Center(),
		Tolerance: p.params.Tolerance,
		OutFile:   want,
	}); err != nil {
		return fmt.Errorf("failed to fit ellipse: %w", err)
	}
	return checkOutput("ellipse", want)
}

func (p *Pipeline) circle(ctx context.Context) error {
	want := p.params.Output(ExtCircle)
	if _, err := p.kit.Circle.EncircledEnergyCircle(ctx, tools.CircleRequest{
		InFile:   p.params.InFile,
		Pointing: p.params.Pointing(),
		Center:   p.coords.Center(),
		Energy:   p.params.Energy,
		Fraction: p.params.Fraction,
		PSF:      p.psf,
		OutFile:  want,
	}); err != nil {
		return fmt.Errorf("failed to compute encircled-energy circle: %w", err)
	}
	return checkOutput("circle", want)
}

// preview draws the smoothed PSF with every region. Failures are only logged.
func (p *Pipeline) preview(contour *models.Region) (string, bool) {
	regions := []*models.Region{contour}
	for _, ext := range []string{ExtEllipse, ExtCircle} {
		parsed, err := region.ParseFile(p.params.Output(ext))
		if err != nil {
			p.log.Warnf("Preview skips %s: %v", p.params.Output(ext), err)
			continue
		}
		regions = append(regions, parsed...)
	}

	path := p.params.Output(ExtPreview)
	if err := visualization.SavePreview(path, p.smoothed, regions...); err != nil {
		p.log.Warnf("Failed to save preview: %v", err)
		return "", false
	}
	return path, true
}

// Result returns the contour search outcome of the last Process call.
func (p *Pipeline) Result() *fluxsearch.Result {
	return p.search
}
