package cmd

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mira-titan/hmfemu/emu"
	"github.com/mira-titan/hmfemu/emu/design"
	"github.com/mira-titan/hmfemu/emu/hmf"
	"github.com/mira-titan/hmfemu/emu/store"
)

type predictOptions struct {
	design    string   // Path to the design manifest
	cosmology string   // Path to a cosmology YAML file
	params    []string // name=value overrides applied on top of --cosmology
	redshifts []float64
	massMin   float64
	massMax   float64
	massN     int
	log10m    []float64 // Explicit masses, exclusive with the grid flags
	format    string
	samples   int
	seed      int64
	workers   int
	store     string // Optional run store path
}

// result is one evaluated redshift, with optional sample summaries.
type result struct {
	Prediction *hmf.Prediction `json:"prediction"`
	RunID      string          `json:"run_id,omitempty"`
	Samples    [][]float64     `json:"samples,omitempty"`
	SampleMean []float64       `json:"sample_mean,omitempty"`
	SampleStd  []float64       `json:"sample_std,omitempty"`
}

func newPredictCmd() *cobra.Command {
	opts := &predictOptions{}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the mass function for one cosmology",
		Example: `  hmfemu predict --design design.yaml --param omega_m_h2=0.1335 --param sigma_8=0.8 --z 0.5
  hmfemu predict --design design.yaml --cosmology m000.yaml --z 0,1 --mass-min 13 --mass-max 15 --mass-n 9 --format csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.design, "design", "", "Path to the design manifest (required)")
	f.StringVar(&opts.cosmology, "cosmology", "", "YAML file of parameter values")
	f.StringArrayVar(&opts.params, "param", nil, "Parameter assignment name=value (repeatable)")
	f.Float64SliceVar(&opts.redshifts, "z", []float64{0}, "Comma-separated redshifts")
	f.Float64Var(&opts.massMin, "mass-min", math.NaN(), "Lowest log10 mass (default: design minimum)")
	f.Float64Var(&opts.massMax, "mass-max", math.NaN(), "Highest log10 mass (default: design maximum)")
	f.IntVar(&opts.massN, "mass-n", 20, fmt.Sprintf("Number of masses in the grid (at most %d)", hmf.MaxMassPoints))
	f.Float64SliceVar(&opts.log10m, "log10m", nil, "Explicit comma-separated log10 masses")
	f.StringVar(&opts.format, "format", formatTable, "Output format (table, json, csv)")
	f.IntVar(&opts.samples, "samples", 0, "Number of GP realizations to draw per redshift")
	f.Int64Var(&opts.seed, "seed", 42, "Seed for sampling")
	f.IntVar(&opts.workers, "workers", 0, "Concurrent redshift evaluations (0 = GOMAXPROCS)")
	f.StringVar(&opts.store, "store", "", "SQLite run store to record predictions in")
	_ = cmd.MarkFlagRequired("design")
	cmd.MarkFlagsMutuallyExclusive("log10m", "mass-min")
	cmd.MarkFlagsMutuallyExclusive("log10m", "mass-max")
	return cmd
}

func runPredict(cmd *cobra.Command, opts *predictOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	if opts.samples < 0 {
		return fmt.Errorf("--samples must not be negative, got %d", opts.samples)
	}
	cosmo, err := resolveCosmology(opts.cosmology, opts.params)
	if err != nil {
		return err
	}
	e, err := loadEmulator(opts.design)
	if err != nil {
		return err
	}
	masses, err := massesFor(e, opts)
	if err != nil {
		return err
	}

	reqs := make([]hmf.Request, len(opts.redshifts))
	for i, z := range opts.redshifts {
		reqs[i] = hmf.Request{Cosmology: cosmo, Redshift: z, Log10M: masses}
	}
	preds, err := e.PredictBatch(ctx, reqs, opts.workers)
	if err != nil {
		return err
	}

	results := make([]result, len(preds))
	for i, p := range preds {
		results[i].Prediction = p
	}
	if opts.samples > 0 {
		rng := emu.NewPartitionedRNG(emu.NewSamplingKey(opts.seed))
		for i, req := range reqs {
			draws, err := e.Sample(ctx, req, opts.samples, rng)
			if err != nil {
				return err
			}
			results[i].Samples = draws
			results[i].SampleMean, results[i].SampleStd = summarize(draws)
		}
	}
	if opts.store != "" {
		if err := recordRuns(ctx, opts.store, e.Name(), cosmo, results); err != nil {
			return err
		}
	}

	return render(cmd.OutOrStdout(), opts.format, e.Quantity(), results)
}

// resolveCosmology loads the optional file, then applies --param overrides.
func resolveCosmology(path string, assignments []string) (emu.Cosmology, error) {
	cosmo := emu.Cosmology{}
	if path != "" {
		c, err := emu.LoadCosmology(path)
		if err != nil {
			return nil, err
		}
		cosmo = c
	}
	overrides, err := emu.ParseAssignments(assignments)
	if err != nil {
		return nil, err
	}
	cosmo = cosmo.Merge(overrides)
	if len(cosmo) == 0 {
		return nil, fmt.Errorf("no cosmology given: use --cosmology or --param")
	}
	return cosmo, nil
}

func loadEmulator(path string) (*hmf.Emulator, error) {
	d, err := design.Load(path)
	if err != nil {
		return nil, err
	}
	return hmf.New(d)
}

// massesFor returns the explicit masses or the grid, filling unset grid
// bounds from the emulator's mass range.
func massesFor(e *hmf.Emulator, opts *predictOptions) ([]float64, error) {
	if len(opts.log10m) > 0 {
		return opts.log10m, nil
	}
	lo, hi := e.MassRange()
	if !math.IsNaN(opts.massMin) {
		lo = opts.massMin
	}
	if !math.IsNaN(opts.massMax) {
		hi = opts.massMax
	}
	return hmf.MassGrid(lo, hi, opts.massN)
}

func summarize(draws [][]float64) (mean, std []float64) {
	if len(draws) == 0 {
		return nil, nil
	}
	k := len(draws[0])
	mean = make([]float64, k)
	std = make([]float64, k)
	for _, d := range draws {
		for j, v := range d {
			mean[j] += v
		}
	}
	n := float64(len(draws))
	for j := range mean {
		mean[j] /= n
	}
	if len(draws) < 2 {
		return mean, std
	}
	for _, d := range draws {
		for j, v := range d {
			std[j] += (v - mean[j]) * (v - mean[j])
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / (n - 1))
	}
	return mean, std
}

func recordRuns(ctx context.Context, path, designName string, cosmo emu.Cosmology, results []result) error {
	s, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	runs := make([]*store.Run, len(results))
	for i := range results {
		p := results[i].Prediction
		runs[i] = &store.Run{
			Design:    designName,
			Redshift:  p.Redshift,
			Cosmology: cosmo,
			Log10M:    p.Log10M,
			Value:     p.Value,
			Sigma:     p.Sigma,
		}
	}
	ids, err := s.SaveAll(ctx, runs)
	if err != nil {
		return err
	}
	for i, id := range ids {
		results[i].RunID = id
		logrus.Infof("Stored run %s (z=%v) in %s", id, runs[i].Redshift, path)
	}
	return nil
}
