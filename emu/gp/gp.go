// Package gp implements the multi-output Gaussian process behind the emulator.
//
// Each output has its own correlation parameters (rho) and precision. Outputs
// are independent a priori, so the design correlation matrix is block diagonal
// until the measurement covariance is added. Inputs are expected on the unit
// hypercube; the kernel rho^(4*(a-b)^2) is parameterized for that range.
package gp

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotPositiveDefinite is returned when the design covariance cannot be
	// Cholesky-factorized. The GP returned alongside it has LnLike() == -Inf
	// and refuses to predict.
	ErrNotPositiveDefinite = errors.New("gp: design covariance is not positive definite")

	// ErrDimensionMismatch reports inputs whose shapes disagree.
	ErrDimensionMismatch = errors.New("gp: dimension mismatch")
)

// GaussianProcess holds a factorized design covariance and the kriging basis
// K^-1 y. It is read-only after New returns, so Predict is safe to call from
// multiple goroutines.
type GaussianProcess struct {
	x       [][]float64 // [nData][nDim]
	rho     [][]float64 // [nOutput][nDim]
	precF   []float64   // [nOutput]
	nData   int
	nDim    int
	nOutput int

	chol       mat.Cholesky
	krig       *mat.VecDense
	lnLike     float64
	factorized bool
}

// CorrPoint returns the correlation between points a and b:
// prod_k rho_k^(4*(a_k-b_k)^2).
func CorrPoint(a, b, rho []float64) float64 {
	corr := 1.0
	for k := range a {
		d := a[k] - b[k]
		corr *= math.Pow(rho[k], 4*d*d)
	}
	return corr
}

// CorrMatrix returns the [len(a), len(b)] matrix of CorrPoint values.
func CorrMatrix(a, b [][]float64, rho []float64) *mat.Dense {
	m := mat.NewDense(len(a), len(b), nil)
	for i := range a {
		for j := range b {
			m.Set(i, j, CorrPoint(a[i], b[j], rho))
		}
	}
	return m
}

// New builds the design covariance, factorizes it and solves for the kriging
// basis.
//
//	x:     design points [nData, nDim]
//	y:     design values [nData, nOutput]
//	precF: GP precision per output [nOutput]
//	covN:  covariance of the flattened y [nOutput*nData, nOutput*nData], or nil
//	rho:   correlation parameters [nOutput, nDim]
//
// y is flattened column-major: all design points of output 0, then output 1.
// covN must use the same ordering.
func New(x, y mat.Matrix, precF []float64, covN mat.Symmetric, rho mat.Matrix) (*GaussianProcess, error) {
	nData, nDim := x.Dims()
	yRows, nOutput := y.Dims()
	if nData == 0 || nDim == 0 {
		return nil, fmt.Errorf("%w: empty design (%d points, %d dimensions)", ErrDimensionMismatch, nData, nDim)
	}
	if yRows != nData {
		return nil, fmt.Errorf("%w: number of design points %d must match number of design values %d",
			ErrDimensionMismatch, nData, yRows)
	}
	if nOutput == 0 {
		return nil, fmt.Errorf("%w: design values have no outputs", ErrDimensionMismatch)
	}
	if len(precF) != nOutput {
		return nil, fmt.Errorf("%w: number of GP precisions %d does not match number of outputs %d",
			ErrDimensionMismatch, len(precF), nOutput)
	}
	if rr, rc := rho.Dims(); rr != nOutput || rc != nDim {
		return nil, fmt.Errorf("%w: correlation parameters have shape (%d,%d), but data has (%d,%d)",
			ErrDimensionMismatch, rr, rc, nOutput, nDim)
	}
	n := nOutput * nData
	if covN != nil && covN.SymmetricDim() != n {
		return nil, fmt.Errorf("%w: measurement covariance has size %d, want %d for %d GPs over %d points",
			ErrDimensionMismatch, covN.SymmetricDim(), n, nOutput, nData)
	}
	for i, p := range precF {
		if !(p > 0) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("gp: precision[%d] must be positive and finite, got %v", i, p)
		}
	}

	gp := &GaussianProcess{
		x:       rows(x),
		rho:     rows(rho),
		precF:   append([]float64(nil), precF...),
		nData:   nData,
		nDim:    nDim,
		nOutput: nOutput,
	}
	for i, r := range gp.rho {
		for k, v := range r {
			if !(v > 0) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("gp: rho[%d][%d] must be positive and finite, got %v", i, k, v)
			}
		}
	}

	k := mat.NewSymDense(n, nil)
	for i := 0; i < nOutput; i++ {
		off := i * nData
		for a := 0; a < nData; a++ {
			for b := a; b < nData; b++ {
				k.SetSym(off+a, off+b, CorrPoint(gp.x[a], gp.x[b], gp.rho[i])/gp.precF[i])
			}
		}
	}
	if covN != nil {
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				k.SetSym(i, j, k.At(i, j)+covN.At(i, j))
			}
		}
	}

	if ok := gp.chol.Factorize(k); !ok {
		logrus.Warnf("Could not compute Cholesky decomposition of %dx%d design covariance", n, n)
		gp.lnLike = math.Inf(-1)
		return gp, ErrNotPositiveDefinite
	}
	gp.factorized = true

	yFlat := mat.NewVecDense(n, nil)
	for i := 0; i < nOutput; i++ {
		for j := 0; j < nData; j++ {
			yFlat.SetVec(i*nData+j, y.At(j, i))
		}
	}
	gp.krig = mat.NewVecDense(n, nil)
	if err := tolerateCondition(gp.chol.SolveVecTo(gp.krig, yFlat)); err != nil {
		return nil, fmt.Errorf("gp: solve kriging basis: %w", err)
	}
	gp.lnLike = -0.5*mat.Dot(yFlat, gp.krig) - 0.5*gp.chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)
	return gp, nil
}

// Predict evaluates the GP at xNew (one point, nDim values) and returns the
// mean of every output and their [nOutput, nOutput] covariance.
func (gp *GaussianProcess) Predict(xNew []float64) ([]float64, *mat.SymDense, error) {
	if !gp.factorized {
		return nil, nil, ErrNotPositiveDefinite
	}
	if len(xNew) != gp.nDim {
		return nil, nil, fmt.Errorf("%w: evaluation point has %d dimensions, want %d",
			ErrDimensionMismatch, len(xNew), gp.nDim)
	}

	// Correlation with design input [nOutput, nOutput*nData]
	n := gp.nOutput * gp.nData
	c := mat.NewDense(gp.nOutput, n, nil)
	for i := 0; i < gp.nOutput; i++ {
		for j := 0; j < gp.nData; j++ {
			c.Set(i, i*gp.nData+j, CorrPoint(xNew, gp.x[j], gp.rho[i])/gp.precF[i])
		}
	}

	mean := mat.NewVecDense(gp.nOutput, nil)
	mean.MulVec(c, gp.krig)

	var v mat.Dense
	if err := tolerateCondition(gp.chol.SolveTo(&v, c.T())); err != nil {
		return nil, nil, fmt.Errorf("gp: solve predictive variance: %w", err)
	}
	var cv mat.Dense
	cv.Mul(c, &v)

	cov := mat.NewSymDense(gp.nOutput, nil)
	for i := 0; i < gp.nOutput; i++ {
		for j := i; j < gp.nOutput; j++ {
			val := -0.5 * (cv.At(i, j) + cv.At(j, i))
			if i == j {
				val += 1 / gp.precF[i]
			}
			cov.SetSym(i, j, val)
		}
	}

	out := make([]float64, gp.nOutput)
	for i := range out {
		out[i] = mean.AtVec(i)
	}
	return out, cov, nil
}

// LnLike returns the Gaussian ln-likelihood of the design values under the GP,
// or -Inf if the design covariance could not be factorized.
func (gp *GaussianProcess) LnLike() float64 { return gp.lnLike }

// NumData returns the number of design points.
func (gp *GaussianProcess) NumData() int { return gp.nData }

// NumDim returns the input dimension.
func (gp *GaussianProcess) NumDim() int { return gp.nDim }

// NumOutput returns the number of outputs.
func (gp *GaussianProcess) NumOutput() int { return gp.nOutput }

// rows copies m into a slice of rows.
func rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// tolerateCondition drops mat.Condition errors: the solve result is still
// returned by gonum, only flagged as ill-conditioned.
func tolerateCondition(err error) error {
	var cond mat.Condition
	if errors.As(err, &cond) {
		logrus.Debugf("GP solve is ill-conditioned (condition number %.3g)", float64(cond))
		return nil
	}
	return err
}
