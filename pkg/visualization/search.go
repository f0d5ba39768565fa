package visualization

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"psfcontour/pkg/fluxsearch"
)

// SaveSearchChart writes an HTML line chart of the enclosed fraction at each
// search iteration against the accepted band.
func SaveSearchChart(path string, res *fluxsearch.Result, target, tolerance float64) error {
	if res == nil || len(res.Trajectory) == 0 {
		return fmt.Errorf("no search iterations to chart")
	}

	iterations := make([]int, len(res.Trajectory))
	fractions := make([]opts.LineData, len(res.Trajectory))
	lower := make([]opts.LineData, len(res.Trajectory))
	upper := make([]opts.LineData, len(res.Trajectory))
	for i, s := range res.Trajectory {
		iterations[i] = s.Iteration
		fractions[i] = opts.LineData{Value: s.Fraction, Name: fmt.Sprintf("index %d level %g", s.Index, s.Level)}
		lower[i] = opts.LineData{Value: target - tolerance}
		upper[i] = opts.LineData{Value: target + tolerance}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Contour search", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Contour search",
			Subtitle: fmt.Sprintf("%s after %d iteration(s)", res.Status, res.Iterations()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "enclosed fraction", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(iterations).
		AddSeries("fraction", fractions).
		AddSeries("lower", lower).
		AddSeries("upper", upper)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := line.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to render search chart: %w", err)
	}
	return f.Close()
}
