package design

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/mira-titan/hmfemu/emu"
)

// Snapshot holds the fitted GP inputs for one redshift.
type Snapshot struct {
	Redshift  float64
	X         *mat.Dense    // design points on the unit cube [nData, nDim]
	Y         *mat.Dense    // GP outputs [nData, nOutput]
	Rho       *mat.Dense    // [nOutput, nDim]
	Precision []float64     // [nOutput]
	Noise     *mat.SymDense // [nOutput*nData]^2, nil when noise-free
	Basis     *Basis
}

// NumData returns the number of design points.
func (s *Snapshot) NumData() int {
	r, _ := s.X.Dims()
	return r
}

// NumOutputs returns the number of GP outputs.
func (s *Snapshot) NumOutputs() int { return len(s.Precision) }

// Design is a loaded manifest with all of its snapshots, sorted by redshift.
type Design struct {
	Manifest  *Manifest
	Snapshots []*Snapshot
}

// Redshifts returns the snapshot redshifts in increasing order.
func (d *Design) Redshifts() []float64 {
	zs := make([]float64, len(d.Snapshots))
	for i, s := range d.Snapshots {
		zs[i] = s.Redshift
	}
	return zs
}

// MassRange returns the log10 mass range every snapshot's basis covers.
func (d *Design) MassRange() (lo, hi float64) {
	lo, hi = math.Inf(-1), math.Inf(1)
	for _, s := range d.Snapshots {
		l, h := s.Basis.Range()
		lo = math.Max(lo, l)
		hi = math.Min(hi, h)
	}
	return lo, hi
}

// Load reads a manifest, validates it and loads every snapshot.
func Load(path string) (*Design, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid design %s: %w", path, err)
	}
	d := &Design{Manifest: m}
	for i := range m.Snapshots {
		s, err := LoadSnapshot(m, &m.Snapshots[i])
		if err != nil {
			return nil, fmt.Errorf("snapshot z=%v: %w", m.Snapshots[i].Redshift, err)
		}
		d.Snapshots = append(d.Snapshots, s)
	}
	sort.Slice(d.Snapshots, func(i, j int) bool {
		return d.Snapshots[i].Redshift < d.Snapshots[j].Redshift
	})
	logrus.Infof("Loaded design %q: %d parameters, %d snapshots (z=%v)",
		m.Name, len(m.Parameters), len(d.Snapshots), d.Redshifts())
	return d, nil
}

// outputColumn names the i-th (0-based) GP output column.
func outputColumn(i int) string { return fmt.Sprintf("w_%d", i+1) }

// LoadSnapshot reads the tables of one snapshot and checks them against the
// manifest's parameter space and the snapshot's declared output count.
func LoadSnapshot(m *Manifest, spec *SnapshotSpec) (*Snapshot, error) {
	nDim := len(m.Parameters)
	nOutput := spec.NumOutputs()

	designTable, err := readTable(m.Resolve(spec.Design), true)
	if err != nil {
		return nil, fmt.Errorf("load design points: %w", err)
	}
	names := m.Parameters.Names()
	if len(designTable.header) != nDim {
		return nil, fmt.Errorf("design points %s: header %v, want %v", spec.Design, designTable.header, names)
	}
	for i, n := range names {
		if designTable.header[i] != n {
			return nil, fmt.Errorf("design points %s: column %d is %q, want %q", spec.Design, i+1, designTable.header[i], n)
		}
	}
	nData := len(designTable.rows)
	x := mat.NewDense(nData, nDim, nil)
	for i, row := range designTable.rows {
		for k, v := range row {
			if !m.Parameters.Contains(k, v) {
				return nil, fmt.Errorf("design points %s row %d: %s=%v outside [%v, %v]",
					spec.Design, i+2, names[k], v, m.Parameters[k].Min, m.Parameters[k].Max)
			}
			p := m.Parameters[k]
			x.Set(i, k, (v-p.Min)/(p.Max-p.Min))
		}
	}

	outputTable, err := readTable(m.Resolve(spec.Outputs), true)
	if err != nil {
		return nil, fmt.Errorf("load outputs: %w", err)
	}
	if len(outputTable.header) != nOutput {
		return nil, fmt.Errorf("outputs %s: has %d columns, snapshot declares %d outputs", spec.Outputs, len(outputTable.header), nOutput)
	}
	for i, h := range outputTable.header {
		if want := outputColumn(i); h != want {
			return nil, fmt.Errorf("outputs %s: column %d is %q, want %q", spec.Outputs, i+1, h, want)
		}
	}
	if len(outputTable.rows) != nData {
		return nil, fmt.Errorf("outputs %s: has %d rows, design has %d points", spec.Outputs, len(outputTable.rows), nData)
	}
	y := mat.NewDense(nData, nOutput, nil)
	for i, row := range outputTable.rows {
		y.SetRow(i, row)
	}

	basisTable, err := readTable(m.Resolve(spec.Basis), true)
	if err != nil {
		return nil, fmt.Errorf("load basis: %w", err)
	}
	basis, err := basisFromTable(basisTable, nOutput, spec.Basis)
	if err != nil {
		return nil, err
	}

	rho := mat.NewDense(nOutput, nDim, nil)
	for i, r := range spec.Rho {
		rho.SetRow(i, r)
	}

	noise, err := loadNoise(m, spec, nData)
	if err != nil {
		return nil, err
	}

	logrus.Debugf("Loaded snapshot z=%v: %d design points, %d outputs, %d mass bins",
		spec.Redshift, nData, nOutput, len(basis.Log10M))

	return &Snapshot{
		Redshift:  spec.Redshift,
		X:         x,
		Y:         y,
		Rho:       rho,
		Precision: append([]float64(nil), spec.Precision...),
		Noise:     noise,
		Basis:     basis,
	}, nil
}

// loadNoise builds the measurement covariance from either the per-output
// nugget or the full covariance file. Returns nil for a noise-free snapshot.
func loadNoise(m *Manifest, spec *SnapshotSpec, nData int) (*mat.SymDense, error) {
	n := spec.NumOutputs() * nData
	switch {
	case len(spec.Noise) > 0:
		cov := mat.NewSymDense(n, nil)
		for i, v := range spec.Noise {
			for j := 0; j < nData; j++ {
				cov.SetSym(i*nData+j, i*nData+j, v)
			}
		}
		return cov, nil
	case spec.NoiseFile != "":
		t, err := readTable(m.Resolve(spec.NoiseFile), false)
		if err != nil {
			return nil, fmt.Errorf("load noise covariance: %w", err)
		}
		if len(t.rows) != n || len(t.rows[0]) != n {
			return nil, fmt.Errorf("noise covariance %s: shape (%d,%d), want (%d,%d)",
				spec.NoiseFile, len(t.rows), len(t.rows[0]), n, n)
		}
		cov := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				a, b := t.rows[i][j], t.rows[j][i]
				if math.Abs(a-b) > 1e-12*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
					return nil, fmt.Errorf("noise covariance %s: not symmetric at (%d,%d): %v vs %v",
						spec.NoiseFile, i, j, a, b)
				}
				cov.SetSym(i, j, a)
			}
		}
		return cov, nil
	}
	return nil, nil
}

// Params returns the design's parameter space.
func (d *Design) Params() emu.ParamSpace { return d.Manifest.Parameters }
