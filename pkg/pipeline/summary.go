package pipeline

import (
	"fmt"
	"strings"

	"psfcontour/internal/models"
	"psfcontour/pkg/fluxsearch"
)

// Summary lists what a run produced.
type Summary struct {
	PSFFile      string
	SmoothedFile string
	ContourFile  string
	EllipseFile  string
	CircleFile   string

	// PreviewFile and ChartFile are empty unless previews were written
	PreviewFile string
	ChartFile   string

	Coordinates models.Coordinates
	Search      *fluxsearch.Result

	// ViewerCommand overlays the three regions on the smoothed PSF
	ViewerCommand string
}

func (p *Pipeline) summary() *Summary {
	viewer := p.params.Viewer
	if viewer == "" {
		viewer = "ds9"
	}
	s := &Summary{
		PSFFile:      p.params.Output(ExtPSF),
		SmoothedFile: p.params.Output(ExtSmoothed),
		ContourFile:  p.params.Output(ExtContour),
		EllipseFile:  p.params.Output(ExtEllipse),
		CircleFile:   p.params.Output(ExtCircle),
		Coordinates:  p.coords,
		Search:       p.search,
	}
	s.ViewerCommand = fmt.Sprintf("%s %s -region %s -region %s -region %s",
		viewer, s.SmoothedFile, s.ContourFile, s.EllipseFile, s.CircleFile)
	return s
}

// String renders the summary for the terminal.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Contour region:  %s\n", s.ContourFile)
	fmt.Fprintf(&b, "Ellipse region:  %s\n", s.EllipseFile)
	fmt.Fprintf(&b, "Circle region:   %s\n", s.CircleFile)
	if s.PreviewFile != "" {
		fmt.Fprintf(&b, "Preview:         %s\n", s.PreviewFile)
	}
	if s.ChartFile != "" {
		fmt.Fprintf(&b, "Search chart:    %s\n", s.ChartFile)
	}
	if s.Search != nil {
		fmt.Fprintf(&b, "Contour search:  %s, level %g encloses %.4f after %d iteration(s)\n",
			s.Search.Status, s.Search.Level, s.Search.Fraction, s.Search.Iterations())
	}
	fmt.Fprintf(&b, "\nTo view:\n  %s\n", s.ViewerCommand)
	return b.String()
}
