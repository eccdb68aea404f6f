// Package design loads a trained emulator design: the YAML manifest naming the
// parameter space and per-redshift snapshots, and the CSV tables holding the
// design points, GP outputs, mass basis and optional noise covariance.
package design

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mira-titan/hmfemu/emu"
)

// Manifest is the top-level design description.
// Loaded from YAML via LoadManifest(path).
type Manifest struct {
	Version    string         `yaml:"version"`
	Name       string         `yaml:"name"`
	Quantity   string         `yaml:"quantity,omitempty"`
	Parameters emu.ParamSpace `yaml:"parameters"`
	Snapshots  []SnapshotSpec `yaml:"snapshots"`

	// dir is the manifest's directory; relative table paths resolve against it.
	dir string
}

// SnapshotSpec describes the trained GP at one redshift.
type SnapshotSpec struct {
	Redshift  float64     `yaml:"redshift"`
	Design    string      `yaml:"design"`  // header = parameter names
	Outputs   string      `yaml:"outputs"` // header = w_1..w_k
	Basis     string      `yaml:"basis"`   // header = log10_m, mean, phi_1..phi_k
	Rho       [][]float64 `yaml:"rho"`
	Precision []float64   `yaml:"precision"`
	Noise     []float64   `yaml:"noise,omitempty"`      // per-output nugget
	NoiseFile string      `yaml:"noise_file,omitempty"` // full covariance, no header
}

// DefaultQuantity labels the emulated value when the manifest omits it.
const DefaultQuantity = "log10_dn_dlog10m"

// LoadManifest reads and parses a YAML design manifest.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading design manifest: %w", err)
	}
	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing design manifest: %w", err)
	}
	if m.Quantity == "" {
		m.Quantity = DefaultQuantity
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// Dir returns the directory relative table paths resolve against.
func (m *Manifest) Dir() string { return m.dir }

// Resolve returns p relative to the manifest directory unless it is absolute.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}

// Validate checks that all fields in the manifest are valid.
func (m *Manifest) Validate() error {
	if m.Version != "" && m.Version != "1" {
		return fmt.Errorf("unsupported design version %q; valid: 1", m.Version)
	}
	if err := m.Parameters.Validate(); err != nil {
		return err
	}
	if len(m.Snapshots) == 0 {
		return fmt.Errorf("at least one snapshot required")
	}
	seen := make(map[float64]bool, len(m.Snapshots))
	for i := range m.Snapshots {
		s := &m.Snapshots[i]
		if err := s.validate(i, len(m.Parameters)); err != nil {
			return err
		}
		if seen[s.Redshift] {
			return fmt.Errorf("snapshot[%d]: duplicate redshift %v", i, s.Redshift)
		}
		seen[s.Redshift] = true
	}
	return nil
}

func (s *SnapshotSpec) validate(idx, nDim int) error {
	prefix := fmt.Sprintf("snapshot[%d]", idx)
	if math.IsNaN(s.Redshift) || math.IsInf(s.Redshift, 0) || s.Redshift < 0 {
		return fmt.Errorf("%s: redshift must be finite and non-negative, got %v", prefix, s.Redshift)
	}
	if s.Design == "" || s.Outputs == "" || s.Basis == "" {
		return fmt.Errorf("%s: design, outputs and basis tables are required", prefix)
	}
	if len(s.Precision) == 0 {
		return fmt.Errorf("%s: precision is required", prefix)
	}
	for i, p := range s.Precision {
		if err := validateFinitePositive(fmt.Sprintf("%s.precision[%d]", prefix, i), p); err != nil {
			return err
		}
	}
	if len(s.Rho) != len(s.Precision) {
		return fmt.Errorf("%s: rho has %d rows but precision has %d outputs", prefix, len(s.Rho), len(s.Precision))
	}
	for i, row := range s.Rho {
		if len(row) != nDim {
			return fmt.Errorf("%s.rho[%d]: has %d entries, want one per parameter (%d)", prefix, i, len(row), nDim)
		}
		for k, r := range row {
			if math.IsNaN(r) || r <= 0 || r > 1 {
				return fmt.Errorf("%s.rho[%d][%d] must be in (0, 1], got %v", prefix, i, k, r)
			}
		}
	}
	if len(s.Noise) > 0 && s.NoiseFile != "" {
		return fmt.Errorf("%s: noise and noise_file are mutually exclusive", prefix)
	}
	if len(s.Noise) > 0 && len(s.Noise) != len(s.Precision) {
		return fmt.Errorf("%s: noise has %d entries, want one per output (%d)", prefix, len(s.Noise), len(s.Precision))
	}
	for i, n := range s.Noise {
		if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
			return fmt.Errorf("%s.noise[%d] must be finite and non-negative, got %v", prefix, i, n)
		}
	}
	return nil
}

// NumOutputs returns the number of GP outputs the snapshot declares.
func (s *SnapshotSpec) NumOutputs() int { return len(s.Precision) }

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, val)
	}
	return nil
}
