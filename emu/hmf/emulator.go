// Package hmf provides the halo mass function Emulator: one Gaussian process
// per simulation snapshot, a mass basis turning GP outputs into the mass
// function, and linear interpolation between snapshot redshifts.
package hmf

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/mira-titan/hmfemu/emu"
	"github.com/mira-titan/hmfemu/emu/design"
	"github.com/mira-titan/hmfemu/emu/gp"
)

var (
	// ErrRedshiftOutOfRange is returned for redshifts outside the snapshot range.
	ErrRedshiftOutOfRange = errors.New("redshift outside emulator range")

	// ErrMassOutOfRange is returned for masses outside the basis grid.
	ErrMassOutOfRange = design.ErrMassOutOfRange

	// ErrEmptyMassGrid is returned when a request carries no masses.
	ErrEmptyMassGrid = errors.New("mass grid is empty")

	// ErrTooManyMasses is returned when a request asks for more than
	// MaxMassPoints masses.
	ErrTooManyMasses = errors.New("too many masses")
)

// MaxMassPoints caps the masses evaluated per request.
const MaxMassPoints = 10000

// checkMasses rejects empty and oversized mass lists.
func checkMasses(log10m []float64) error {
	if len(log10m) == 0 {
		return ErrEmptyMassGrid
	}
	if len(log10m) > MaxMassPoints {
		return fmt.Errorf("%w: %d requested, at most %d", ErrTooManyMasses, len(log10m), MaxMassPoints)
	}
	return nil
}

// snapshot pairs a fitted GP with the basis of the same redshift.
type snapshot struct {
	redshift float64
	gp       *gp.GaussianProcess
	basis    *design.Basis
}

// Emulator predicts the halo mass function for a cosmology. It is read-only
// after New and safe for concurrent use.
type Emulator struct {
	name      string
	quantity  string
	params    emu.ParamSpace
	snapshots []snapshot // sorted by redshift
	redshifts []float64
}

// Request asks for the mass function of one cosmology at one redshift.
type Request struct {
	Cosmology emu.Cosmology `json:"cosmology"`
	Redshift  float64       `json:"redshift"`
	Log10M    []float64     `json:"log10m"`
}

// Prediction is the emulated mass function with its 1-sigma uncertainty.
type Prediction struct {
	Redshift float64   `json:"redshift"`
	Log10M   []float64 `json:"log10m"`
	Value    []float64 `json:"value"`
	Sigma    []float64 `json:"sigma"`
}

// New fits a GP for every snapshot of the design.
func New(d *design.Design) (*Emulator, error) {
	if len(d.Snapshots) == 0 {
		return nil, fmt.Errorf("design %q has no snapshots", d.Manifest.Name)
	}
	e := &Emulator{
		name:     d.Manifest.Name,
		quantity: d.Manifest.Quantity,
		params:   d.Params(),
	}
	for _, s := range d.Snapshots {
		// A nil *mat.SymDense must not reach gp.New as a non-nil interface.
		var covN mat.Symmetric
		if s.Noise != nil {
			covN = s.Noise
		}
		g, err := gp.New(s.X, s.Y, s.Precision, covN, s.Rho)
		if err != nil {
			return nil, fmt.Errorf("snapshot z=%v: %w", s.Redshift, err)
		}
		logrus.Debugf("Fitted GP for z=%v: %d points, %d outputs, lnlike=%.4f",
			s.Redshift, g.NumData(), g.NumOutput(), g.LnLike())
		e.snapshots = append(e.snapshots, snapshot{redshift: s.Redshift, gp: g, basis: s.Basis})
		e.redshifts = append(e.redshifts, s.Redshift)
	}
	return e, nil
}

// Name returns the design name.
func (e *Emulator) Name() string { return e.name }

// Quantity labels the emulated value.
func (e *Emulator) Quantity() string { return e.quantity }

// Params returns the parameter space.
func (e *Emulator) Params() emu.ParamSpace { return e.params }

// Redshifts returns the snapshot redshifts in increasing order.
func (e *Emulator) Redshifts() []float64 { return append([]float64(nil), e.redshifts...) }

// RedshiftRange returns the smallest and largest snapshot redshift.
func (e *Emulator) RedshiftRange() (lo, hi float64) {
	return e.redshifts[0], e.redshifts[len(e.redshifts)-1]
}

// MassRange returns the log10 mass range covered by every snapshot.
func (e *Emulator) MassRange() (lo, hi float64) {
	lo, hi = math.Inf(-1), math.Inf(1)
	for _, s := range e.snapshots {
		l, h := s.basis.Range()
		lo = math.Max(lo, l)
		hi = math.Min(hi, h)
	}
	return lo, hi
}

// LnLikes returns the GP ln-likelihood of every snapshot, keyed by redshift.
func (e *Emulator) LnLikes() map[float64]float64 {
	out := make(map[float64]float64, len(e.snapshots))
	for _, s := range e.snapshots {
		out[s.redshift] = s.gp.LnLike()
	}
	return out
}

// bracket resolves z to one or two snapshots and the interpolation weight
// of the upper one.
func (e *Emulator) bracket(z float64) (lo, hi *snapshot, t float64, err error) {
	zmin, zmax := e.RedshiftRange()
	if math.IsNaN(z) || z < zmin || z > zmax {
		return nil, nil, 0, fmt.Errorf("%w: z=%v not in [%v, %v]", ErrRedshiftOutOfRange, z, zmin, zmax)
	}
	i, j, t := design.Bracket(e.redshifts, z)
	return &e.snapshots[i], &e.snapshots[j], t, nil
}

// Predict returns the emulated mass function for req.
func (e *Emulator) Predict(ctx context.Context, req Request) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkMasses(req.Log10M); err != nil {
		return nil, err
	}
	x, err := e.params.Normalize(req.Cosmology)
	if err != nil {
		return nil, err
	}
	lo, hi, t, err := e.bracket(req.Redshift)
	if err != nil {
		return nil, err
	}

	value, variance, err := lo.evaluate(x, req.Log10M)
	if err != nil {
		return nil, err
	}
	if lo != hi {
		vHi, varHi, err := hi.evaluate(x, req.Log10M)
		if err != nil {
			return nil, err
		}
		for i := range value {
			value[i] = (1-t)*value[i] + t*vHi[i]
			variance[i] = (1-t)*(1-t)*variance[i] + t*t*varHi[i]
		}
	}

	sigma := make([]float64, len(variance))
	for i, v := range variance {
		sigma[i] = math.Sqrt(v)
	}
	return &Prediction{
		Redshift: req.Redshift,
		Log10M:   append([]float64(nil), req.Log10M...),
		Value:    value,
		Sigma:    sigma,
	}, nil
}

// evaluate projects the GP prediction at x through the basis at every mass.
func (s *snapshot) evaluate(x, log10m []float64) (value, variance []float64, err error) {
	w, cov, err := s.gp.Predict(x)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot z=%v: %w", s.redshift, err)
	}
	wVec := mat.NewVecDense(len(w), w)
	value = make([]float64, len(log10m))
	variance = make([]float64, len(log10m))
	for i, m := range log10m {
		mean, phi, err := s.basis.At(m)
		if err != nil {
			return nil, nil, err
		}
		phiVec := mat.NewVecDense(len(phi), phi)
		value[i] = mean + mat.Dot(wVec, phiVec)
		// Round-off can push a vanishing variance slightly negative.
		variance[i] = math.Max(0, mat.Inner(phiVec, cov, phiVec))
	}
	return value, variance, nil
}

// MassGrid returns n log10 masses evenly spaced from lo to hi inclusive.
func MassGrid(lo, hi float64, n int) ([]float64, error) {
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return nil, fmt.Errorf("mass grid bounds must be finite, got [%v, %v]", lo, hi)
	}
	if n < 1 {
		return nil, fmt.Errorf("mass grid needs at least one point, got %d", n)
	}
	if n > MaxMassPoints {
		return nil, fmt.Errorf("%w: mass grid of %d points, at most %d", ErrTooManyMasses, n, MaxMassPoints)
	}
	if lo > hi {
		return nil, fmt.Errorf("mass grid min %v exceeds max %v", lo, hi)
	}
	if n == 1 {
		if lo != hi {
			return nil, fmt.Errorf("a single-point mass grid needs min == max, got [%v, %v]", lo, hi)
		}
		return []float64{lo}, nil
	}
	grid := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range grid {
		grid[i] = lo + float64(i)*step
	}
	grid[n-1] = hi
	return grid, nil
}
