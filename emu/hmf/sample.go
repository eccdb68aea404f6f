package hmf

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/mira-titan/hmfemu/emu"
)

// jitterSteps are the relative diagonal loads tried when the predictive
// weight covariance is too close to singular to factorize.
var jitterSteps = []float64{0, 1e-12, 1e-10, 1e-8, 1e-6}

// Sample draws n realizations of the mass function for req from the GP
// predictive distribution. Each call derives a fresh stream per snapshot
// from rng, so the draws depend only on the seed and the request, never on
// earlier calls sharing the same rng.
func (e *Emulator) Sample(ctx context.Context, req Request, n int, rng *emu.PartitionedRNG) ([][]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("number of samples must be positive, got %d", n)
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

	drawsLo, err := lo.draw(ctx, x, req.Log10M, n, rng.Derive(emu.SubsystemSnapshot(lo.redshift)))
	if err != nil {
		return nil, err
	}
	if lo == hi {
		return drawsLo, nil
	}
	drawsHi, err := hi.draw(ctx, x, req.Log10M, n, rng.Derive(emu.SubsystemSnapshot(hi.redshift)))
	if err != nil {
		return nil, err
	}
	for i := range drawsLo {
		for j := range drawsLo[i] {
			drawsLo[i][j] = (1-t)*drawsLo[i][j] + t*drawsHi[i][j]
		}
	}
	return drawsLo, nil
}

// draw returns n realizations of value(m) for one snapshot.
func (s *snapshot) draw(ctx context.Context, x, log10m []float64, n int, rng *rand.Rand) ([][]float64, error) {
	w, cov, err := s.gp.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("snapshot z=%v: %w", s.redshift, err)
	}
	l, err := choleskyFactor(cov)
	if err != nil {
		return nil, fmt.Errorf("snapshot z=%v: %w", s.redshift, err)
	}

	means := make([]float64, len(log10m))
	phis := make([][]float64, len(log10m))
	for i, m := range log10m {
		means[i], phis[i], err = s.basis.At(m)
		if err != nil {
			return nil, err
		}
	}

	k := len(w)
	z := mat.NewVecDense(k, nil)
	var dw mat.VecDense
	out := make([][]float64, n)
	for d := range out {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := 0; i < k; i++ {
			z.SetVec(i, rng.NormFloat64())
		}
		dw.MulVec(l, z)
		row := make([]float64, len(log10m))
		for i := range log10m {
			v := means[i]
			for j := 0; j < k; j++ {
				v += (w[j] + dw.AtVec(j)) * phis[i][j]
			}
			row[i] = v
		}
		out[d] = row
	}
	return out, nil
}

// choleskyFactor returns the lower Cholesky factor of cov, loading the
// diagonal with increasing jitter until the factorization succeeds.
func choleskyFactor(cov *mat.SymDense) (*mat.TriDense, error) {
	n := cov.SymmetricDim()
	scale := 0.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, math.Abs(cov.At(i, i)))
	}
	if scale == 0 {
		scale = 1
	}
	loaded := mat.NewSymDense(n, nil)
	for _, jitter := range jitterSteps {
		loaded.CopySym(cov)
		for i := 0; i < n; i++ {
			loaded.SetSym(i, i, loaded.At(i, i)+jitter*scale)
		}
		var chol mat.Cholesky
		if chol.Factorize(loaded) {
			var l mat.TriDense
			chol.LTo(&l)
			return &l, nil
		}
	}
	return nil, fmt.Errorf("predictive covariance is not positive semi-definite")
}
