package design

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMassOutOfRange is returned for masses outside the tabulated basis grid.
// The basis is never extrapolated.
var ErrMassOutOfRange = errors.New("mass outside emulator range")

// Basis turns GP outputs into the emulated mass function:
//
//	value(m) = Mean(m) + sum_k w_k * Phi_k(m)
//
// Mean and Phi are tabulated on Log10M and interpolated linearly in log10 M.
type Basis struct {
	Log10M []float64   // strictly increasing
	Mean   []float64   // [len(Log10M)]
	Phi    [][]float64 // [nOutput][len(Log10M)]
}

// NumOutputs returns the number of basis functions.
func (b *Basis) NumOutputs() int { return len(b.Phi) }

// Range returns the smallest and largest tabulated log10 mass.
func (b *Basis) Range() (lo, hi float64) {
	return b.Log10M[0], b.Log10M[len(b.Log10M)-1]
}

// At returns the interpolated mean and basis function values at log10m.
func (b *Basis) At(log10m float64) (mean float64, phi []float64, err error) {
	lo, hi := b.Range()
	if !(log10m >= lo && log10m <= hi) {
		return 0, nil, fmt.Errorf("%w: log10 M = %v not in [%v, %v]", ErrMassOutOfRange, log10m, lo, hi)
	}
	i, j, t := Bracket(b.Log10M, log10m)
	mean = lerp(b.Mean[i], b.Mean[j], t)
	phi = make([]float64, len(b.Phi))
	for k := range b.Phi {
		phi[k] = lerp(b.Phi[k][i], b.Phi[k][j], t)
	}
	return mean, phi, nil
}

// Bracket returns indices lo <= hi of the sorted grid entries enclosing v and
// the fraction t of the way from grid[lo] to grid[hi]. Values outside the grid
// clamp to the nearest end with t = 0.
func Bracket(grid []float64, v float64) (lo, hi int, t float64) {
	n := len(grid)
	if v <= grid[0] {
		return 0, 0, 0
	}
	if v >= grid[n-1] {
		return n - 1, n - 1, 0
	}
	hi = sort.SearchFloat64s(grid, v)
	if grid[hi] == v {
		return hi, hi, 0
	}
	lo = hi - 1
	return lo, hi, (v - grid[lo]) / (grid[hi] - grid[lo])
}

// lerp performs linear interpolation: a + t*(b-a).
func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// basisFromTable builds a Basis from a CSV table with columns
// log10_m, mean, phi_1..phi_k.
func basisFromTable(t *table, nOutput int, name string) (*Basis, error) {
	if t.column("log10_m") != 0 || t.column("mean") != 1 {
		return nil, fmt.Errorf("basis %s: header must start with log10_m, mean; got %v", name, t.header)
	}
	if got := len(t.header) - 2; got != nOutput {
		return nil, fmt.Errorf("basis %s: has %d basis functions, snapshot declares %d outputs", name, got, nOutput)
	}
	if len(t.rows) < 2 {
		return nil, fmt.Errorf("basis %s: need at least 2 mass grid points, got %d", name, len(t.rows))
	}
	b := &Basis{
		Log10M: make([]float64, len(t.rows)),
		Mean:   make([]float64, len(t.rows)),
		Phi:    make([][]float64, nOutput),
	}
	for k := range b.Phi {
		b.Phi[k] = make([]float64, len(t.rows))
	}
	for i, row := range t.rows {
		if i > 0 && row[0] <= t.rows[i-1][0] {
			return nil, fmt.Errorf("basis %s row %d: log10_m must be strictly increasing (%v after %v)",
				name, i+2, row[0], t.rows[i-1][0])
		}
		b.Log10M[i] = row[0]
		b.Mean[i] = row[1]
		for k := 0; k < nOutput; k++ {
			b.Phi[k][i] = row[2+k]
		}
	}
	return b, nil
}
