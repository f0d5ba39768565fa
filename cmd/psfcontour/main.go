package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"psfcontour/internal/models"
	"psfcontour/pkg/ciao"
	"psfcontour/pkg/config"
	"psfcontour/pkg/fluxsearch"
	"psfcontour/pkg/logger"
	"psfcontour/pkg/native"
	"psfcontour/pkg/pipeline"
)

type options struct {
	configPath string
	energy     float64
	fraction   float64
	tolerance  float64
	flux       float64
	backend    string
	strategy   string
	preview    bool
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("psfcontour failed: %v", err)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	defaults := config.DefaultConfig()
	opts := &options{}

	root := &cobra.Command{
		Use:   "psfcontour <infile> <outroot> <ra> <dec>",
		Short: "Derive source regions from a simulated Chandra PSF",
		Long: `Simulate the PSF of a point source, smooth it and write three source
regions enclosing the requested fraction of the flux: a contour
(<outroot>.contr), an ellipse (<outroot>.ellps) and an encircled-energy
circle (<outroot>.crcl).

RA and Dec are in decimal degrees. Pass a negative declination after "--":

  psfcontour -f 0.9 -- evt2.fits src1 83.633 -5.391`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts, out)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flags.Float64VarP(&opts.energy, "energy", "e", defaults.Defaults.Energy, "PSF energy in keV (0.1-10)")
	flags.Float64VarP(&opts.fraction, "fraction", "f", defaults.Defaults.Fraction, "enclosed flux fraction (0-1)")
	flags.Float64VarP(&opts.tolerance, "tolerance", "t", defaults.Defaults.Tolerance, "tolerance on the fraction (0-1)")
	flags.Float64VarP(&opts.flux, "flux", "x", defaults.Defaults.Flux, "source flux in photon/cm^2/s (1e-7-0.1)")
	flags.StringVar(&opts.backend, "backend", "", "image backend: ciao or native")
	flags.StringVar(&opts.strategy, "strategy", "", "contour search strategy: step or bisect")
	flags.BoolVar(&opts.preview, "preview", false, "also write <outroot>.png")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every search iteration")

	root.AddCommand(newConfigCmd(out))
	return root
}

func newConfigCmd(out io.Writer) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "Default configuration written to %s\n", args[0])
			return nil
		},
	})
	return cfgCmd
}

// loadConfig reads the configuration and applies the flags the user set.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("energy") {
		cfg.Defaults.Energy = opts.energy
	}
	if flags.Changed("fraction") {
		cfg.Defaults.Fraction = opts.fraction
	}
	if flags.Changed("tolerance") {
		cfg.Defaults.Tolerance = opts.tolerance
	}
	if flags.Changed("flux") {
		cfg.Defaults.Flux = opts.flux
	}
	if opts.backend != "" {
		cfg.Tools.ImageBackend = opts.backend
	}
	if opts.strategy != "" {
		cfg.Search.Strategy = opts.strategy
	}
	if opts.preview {
		cfg.Output.Preview = true
	}
	if opts.verbose {
		cfg.Output.LogLevel = logger.LogDebug.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseCoordinate(name, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return v, nil
}

func buildParams(args []string, cfg *config.Config) (*pipeline.Params, error) {
	ra, err := parseCoordinate("ra", args[2])
	if err != nil {
		return nil, err
	}
	dec, err := parseCoordinate("dec", args[3])
	if err != nil {
		return nil, err
	}
	strategy, err := fluxsearch.ParseStrategy(cfg.Search.Strategy)
	if err != nil {
		return nil, err
	}

	return &pipeline.Params{
		InFile:    args[0],
		OutRoot:   args[1],
		RA:        ra,
		Dec:       dec,
		Energy:    cfg.Defaults.Energy,
		Fraction:  cfg.Defaults.Fraction,
		Tolerance: cfg.Defaults.Tolerance,
		Flux:      cfg.Defaults.Flux,
		Kernel: models.Kernel{
			SigmaX: cfg.Smoothing.SigmaX,
			SigmaY: cfg.Smoothing.SigmaY,
			NSigma: cfg.Smoothing.NSigma,
		},
		MaxIterations: cfg.Search.MaxIterations,
		Strategy:      strategy,
		MeasurePSF:    cfg.Tools.ImageBackend == config.BackendNative,
		Preview:       cfg.Output.Preview,
		Viewer:        cfg.Output.Viewer,
	}, nil
}

func run(cmd *cobra.Command, args []string, opts *options, out io.Writer) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	params, err := buildParams(args, cfg)
	if err != nil {
		return err
	}
	// reject bad input before building any tool
	if err := params.Validate(); err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.Output.LogLevel)
	if err != nil {
		return err
	}
	lg := logger.NewStdErrLogger(level)

	runner := ciao.NewExecRunner(cfg.Tools.BinDir, cfg.Tools.Timeout, lg)
	kit := ciao.New(runner, ciao.Options{
		Simulator: cfg.Tools.Simulator,
		NumIter:   cfg.Tools.NumIter,
	}, lg).Toolkit()
	if cfg.Tools.ImageBackend == config.BackendNative {
		kit = native.New(lg).Attach(kit)
	}

	lg.Infof("psfcontour: %s -> %s.* using the %s image backend", params.InFile, params.OutRoot, cfg.Tools.ImageBackend)
	start := time.Now()
	summary, err := pipeline.New(params, kit, lg).Process(cmd.Context())
	if err != nil {
		return err
	}
	lg.Infof("Finished in %.1f seconds", time.Since(start).Seconds())

	fmt.Fprint(out, summary)
	return nil
}
