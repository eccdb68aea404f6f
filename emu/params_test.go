package emu

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func miraSpace() ParamSpace {
	return ParamSpace{
		{Name: "omega_m_h2", Min: 0.12, Max: 0.155},
		{Name: "h", Min: 0.55, Max: 0.85},
		{Name: "sigma_8", Min: 0.7, Max: 0.9},
	}
}

func TestParamSpace_Normalize(t *testing.T) {
	ps := miraSpace()
	got, err := ps.Normalize(Cosmology{"omega_m_h2": 0.12, "h": 0.7, "sigma_8": 0.9})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, got, 1e-12)
}

func TestParamSpace_Normalize_Errors(t *testing.T) {
	ps := miraSpace()
	tests := []struct {
		name   string
		c      Cosmology
		bounds bool
	}{
		{"missing", Cosmology{"omega_m_h2": 0.13, "h": 0.7}, false},
		{"unknown", Cosmology{"omega_m_h2": 0.13, "h": 0.7, "sigma_8": 0.8, "w_0": -1}, false},
		{"nan", Cosmology{"omega_m_h2": math.NaN(), "h": 0.7, "sigma_8": 0.8}, false},
		{"below", Cosmology{"omega_m_h2": 0.11, "h": 0.7, "sigma_8": 0.8}, true},
		{"above", Cosmology{"omega_m_h2": 0.13, "h": 0.9, "sigma_8": 0.8}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ps.Normalize(tc.c)
			require.Error(t, err)
			assert.Equal(t, tc.bounds, errors.Is(err, ErrOutOfBounds))
			assert.Equal(t, !tc.bounds, errors.Is(err, ErrInvalidCosmology))
		})
	}
}

func TestParamSpace_Validate(t *testing.T) {
	assert.NoError(t, miraSpace().Validate())
	assert.Error(t, ParamSpace{}.Validate())
	assert.Error(t, ParamSpace{{Name: "a", Min: 0, Max: 1}, {Name: "a", Min: 0, Max: 1}}.Validate())
	assert.Error(t, ParamSpace{{Name: "a", Min: 1, Max: 1}}.Validate())
	assert.Error(t, ParamSpace{{Name: "", Min: 0, Max: 1}}.Validate())
	assert.Error(t, ParamSpace{{Name: "a", Min: 0, Max: math.Inf(1)}}.Validate())
}

func TestParamSpace_Center(t *testing.T) {
	c := miraSpace().Center()
	x, err := miraSpace().Normalize(c)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0.5}, x, 1e-12)
}

func TestParseAssignments(t *testing.T) {
	c, err := ParseAssignments([]string{"h=0.7", " sigma_8 = 0.8 ", "h=0.71"})
	require.NoError(t, err)
	assert.Equal(t, Cosmology{"h": 0.71, "sigma_8": 0.8}, c)

	_, err = ParseAssignments([]string{"h"})
	assert.Error(t, err)
	_, err = ParseAssignments([]string{"h=abc"})
	assert.Error(t, err)
	_, err = ParseAssignments([]string{"=1"})
	assert.Error(t, err)
}

func TestLoadCosmology(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cosmo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("omega_m_h2: 0.1335\nh: 0.71\nsigma_8: 0.8\n"), 0644))

	c, err := LoadCosmology(path)
	require.NoError(t, err)
	assert.Equal(t, 0.71, c["h"])

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("h: [1, 2]\n"), 0644))
	_, err = LoadCosmology(bad)
	assert.Error(t, err)

	_, err = LoadCosmology(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestCosmology_Merge(t *testing.T) {
	base := Cosmology{"h": 0.7, "sigma_8": 0.8}
	got := base.Merge(Cosmology{"h": 0.72})
	assert.Equal(t, Cosmology{"h": 0.72, "sigma_8": 0.8}, got)
	assert.Equal(t, 0.7, base["h"], "Merge must not mutate the receiver")
}
