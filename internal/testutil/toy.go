// Package testutil provides shared test infrastructure for the emulator.
// It writes a small, fully analytic design to disk so that loader, emulator,
// server and CLI tests exercise the same files a real design would use.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Toy parameter bounds.
const (
	OmegaMin, OmegaMax = 0.12, 0.155
	SigmaMin, SigmaMax = 0.7, 0.9
)

// ToyRedshifts are the snapshot redshifts of the toy design.
var ToyRedshifts = []float64{0, 1}

// ToyLog10M is the basis mass grid.
var ToyLog10M = []float64{13, 13.5, 14, 14.5, 15}

// ToyUnitDesign holds the design points on the unit square.
var ToyUnitDesign = [][2]float64{
	{0, 0}, {1, 0}, {0, 1}, {1, 1}, {0.5, 0.5}, {0.25, 0.75},
}

// ToyWeights returns the GP outputs at unit-cube point (u, v) and redshift z.
func ToyWeights(u, v, z float64) [2]float64 {
	return [2]float64{u + 0.5*v - 0.3*z, u*v - 0.2}
}

// ToyMean is the basis mean at log10 mass m and redshift z.
func ToyMean(m, z float64) float64 {
	return -2 - (m - 13) - 0.5*z
}

// ToyPhi returns the two basis functions at log10 mass m.
func ToyPhi(m float64) [2]float64 {
	return [2]float64{1, (m - 14) / 2}
}

// ToyValue is the exact emulated value for a design point.
func ToyValue(u, v, z, m float64) float64 {
	w := ToyWeights(u, v, z)
	phi := ToyPhi(m)
	return ToyMean(m, z) + w[0]*phi[0] + w[1]*phi[1]
}

// ToyCosmology converts a unit-square point to named parameter values.
func ToyCosmology(u, v float64) map[string]float64 {
	return map[string]float64{
		"omega_m_h2": scale(u, OmegaMin, OmegaMax),
		"sigma_8":    scale(v, SigmaMin, SigmaMax),
	}
}

// scale maps u in [0, 1] onto [lo, hi], returning hi exactly at u = 1.
func scale(u, lo, hi float64) float64 {
	if u >= 1 {
		return hi
	}
	return lo + u*(hi-lo)
}

// ToyNugget is the per-output noise written to the manifest.
const ToyNugget = 1e-10

// WriteToyDesign writes the toy manifest and tables into dir and returns the
// manifest path.
func WriteToyDesign(t testing.TB, dir string) string {
	t.Helper()
	var manifest strings.Builder
	manifest.WriteString(fmt.Sprintf(`version: "1"
name: toy
quantity: log10_dn_dlog10m
parameters:
  - {name: omega_m_h2, min: %g, max: %g}
  - {name: sigma_8, min: %g, max: %g}
snapshots:
`, OmegaMin, OmegaMax, SigmaMin, SigmaMax))

	for i, z := range ToyRedshifts {
		sub := fmt.Sprintf("z%d", i)
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}

		var design, outputs, basis strings.Builder
		design.WriteString("omega_m_h2,sigma_8\n")
		outputs.WriteString("w_1,w_2\n")
		for _, p := range ToyUnitDesign {
			c := ToyCosmology(p[0], p[1])
			design.WriteString(fmt.Sprintf("%.6g,%.6g\n", c["omega_m_h2"], c["sigma_8"]))
			w := ToyWeights(p[0], p[1], z)
			outputs.WriteString(fmt.Sprintf("%.17g,%.17g\n", w[0], w[1]))
		}
		basis.WriteString("log10_m,mean,phi_1,phi_2\n")
		for _, m := range ToyLog10M {
			phi := ToyPhi(m)
			basis.WriteString(fmt.Sprintf("%g,%.17g,%.17g,%.17g\n", m, ToyMean(m, z), phi[0], phi[1]))
		}

		writeFile(t, filepath.Join(dir, sub, "design.csv"), design.String())
		writeFile(t, filepath.Join(dir, sub, "outputs.csv"), outputs.String())
		writeFile(t, filepath.Join(dir, sub, "basis.csv"), basis.String())

		manifest.WriteString(fmt.Sprintf(`  - redshift: %g
    design: %s/design.csv
    outputs: %s/outputs.csv
    basis: %s/basis.csv
    rho: [[0.4, 0.6], [0.5, 0.5]]
    precision: [1.0, 2.0]
    noise: [%g, %g]
`, z, sub, sub, sub, ToyNugget, ToyNugget))
	}

	path := filepath.Join(dir, "design.yaml")
	writeFile(t, path, manifest.String())
	return path
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
