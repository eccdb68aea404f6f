package cmd

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mira-titan/hmfemu/internal/testutil"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

// execute runs a fresh root command and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func paramArgs(u, v float64) []string {
	var args []string
	for name, val := range testutil.ToyCosmology(u, v) {
		args = append(args, "--param", name+"="+strconv.FormatFloat(val, 'g', -1, 64))
	}
	return args
}

func TestPredict_JSON_ReproducesDesignPoint(t *testing.T) {
	// GIVEN the toy design and one of its design cosmologies
	manifest := testutil.WriteToyDesign(t, t.TempDir())
	args := append([]string{"predict", "--design", manifest, "--z", "0,1", "--log10m", "13.5,14", "--format", "json"}, paramArgs(0.5, 0.5)...)

	// WHEN predicting as JSON
	out, err := execute(t, args...)
	require.NoError(t, err)

	// THEN both redshifts come back in order and match the training values
	var got jsonOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Results, 2)
	for i, z := range []float64{0, 1} {
		p := got.Results[i].Prediction
		assert.Equal(t, z, p.Redshift)
		for j, m := range []float64{13.5, 14} {
			assert.InDelta(t, testutil.ToyValue(0.5, 0.5, z, m), p.Value[j], 1e-4)
		}
		assert.Empty(t, got.Results[i].Samples)
	}
}

func TestPredict_CSV_WithSamples(t *testing.T) {
	manifest := testutil.WriteToyDesign(t, t.TempDir())
	args := append([]string{"predict", "--design", manifest, "--z", "0.5",
		"--mass-min", "13", "--mass-max", "15", "--mass-n", "3",
		"--samples", "50", "--seed", "7", "--format", "csv"}, paramArgs(0.25, 0.75)...)

	out, err := execute(t, args...)
	require.NoError(t, err)

	recs, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, []string{"z", "log10_m", "log10_dn_dlog10m", "sigma", "sample_mean", "sample_std"}, recs[0])
	assert.Equal(t, "13", recs[1][1])
	assert.Equal(t, "15", recs[3][1])

	again, err := execute(t, args...)
	require.NoError(t, err)
	assert.Equal(t, out, again, "same seed must give the same samples")
}

func TestPredict_SamplesIndependentOfOtherRedshifts(t *testing.T) {
	// GIVEN the same seed and cosmology
	manifest := testutil.WriteToyDesign(t, t.TempDir())
	base := append([]string{"predict", "--design", manifest, "--log10m", "14", "--samples", "5", "--seed", "3", "--format", "json"}, paramArgs(0.25, 0.75)...)
	decode := func(args ...string) jsonOutput {
		out, err := execute(t, append(append([]string{}, base...), args...)...)
		require.NoError(t, err)
		var got jsonOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		return got
	}

	// WHEN z=0.75 is sampled alone and after z=0.25 in one invocation
	alone := decode("--z", "0.75")
	both := decode("--z", "0.25,0.75")

	// THEN the z=0.75 draws match
	require.Len(t, alone.Results, 1)
	require.Len(t, both.Results, 2)
	assert.Equal(t, alone.Results[0].Samples, both.Results[1].Samples)
}

func TestPredict_Table_DefaultsToDesignMassRange(t *testing.T) {
	manifest := testutil.WriteToyDesign(t, t.TempDir())
	out, err := execute(t, append([]string{"predict", "--design", manifest, "--mass-n", "5"}, paramArgs(0.5, 0.5)...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "log10_dn_dlog10m")
	assert.Contains(t, out, "13.5")
	assert.Contains(t, out, "14.5")
}

func TestPredict_CosmologyFileWithOverride(t *testing.T) {
	dir := t.TempDir()
	manifest := testutil.WriteToyDesign(t, dir)
	cosmo := filepath.Join(dir, "cosmo.yaml")
	require.NoError(t, os.WriteFile(cosmo, []byte("omega_m_h2: 0.1\nsigma_8: 0.8\n"), 0644))

	// The file alone is out of bounds; the override brings it back in.
	_, err := execute(t, "predict", "--design", manifest, "--cosmology", cosmo, "--log10m", "14")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside emulator bounds")

	_, err = execute(t, "predict", "--design", manifest, "--cosmology", cosmo, "--param", "omega_m_h2=0.13", "--log10m", "14")
	assert.NoError(t, err)
}

func TestPredict_Errors(t *testing.T) {
	manifest := testutil.WriteToyDesign(t, t.TempDir())
	good := paramArgs(0.5, 0.5)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no cosmology", []string{"predict", "--design", manifest}, "no cosmology"},
		{"bad format", append([]string{"predict", "--design", manifest, "--format", "xml"}, good...), "unknown output format"},
		{"redshift out of range", append([]string{"predict", "--design", manifest, "--z", "2"}, good...), "redshift outside"},
		{"mass out of range", append([]string{"predict", "--design", manifest, "--log10m", "12"}, good...), "outside"},
		{"exclusive mass flags", append([]string{"predict", "--design", manifest, "--log10m", "14", "--mass-min", "13"}, good...), "none of the others"},
		{"missing design", append([]string{"predict"}, good...), "design"},
		{"mass grid too large", append([]string{"predict", "--design", manifest, "--mass-n", "100000"}, good...), "too many masses"},
		{"negative samples", append([]string{"predict", "--design", manifest, "--samples", "-1"}, good...), "--samples"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestPredict_StoreThenRuns(t *testing.T) {
	// GIVEN predictions recorded in a run store
	dir := t.TempDir()
	manifest := testutil.WriteToyDesign(t, dir)
	db := filepath.Join(dir, "runs.db")
	args := append([]string{"predict", "--design", manifest, "--z", "0,1", "--log10m", "14", "--format", "json", "--store", db}, paramArgs(0.5, 0.5)...)
	out, err := execute(t, args...)
	require.NoError(t, err)
	var got jsonOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Results, 2)
	id := got.Results[0].RunID
	require.NotEmpty(t, id)

	// WHEN listing and showing runs
	listed, err := execute(t, "runs", "list", "--store", db)
	require.NoError(t, err)
	shown, err := execute(t, "runs", "show", id, "--store", db, "--format", "json")
	require.NoError(t, err)

	// THEN both runs are listed and the shown one matches the prediction
	assert.Contains(t, listed, "(2 runs)")
	assert.Contains(t, listed, id)
	var show jsonOutput
	require.NoError(t, json.Unmarshal([]byte(shown), &show))
	require.Len(t, show.Results, 1)
	assert.Equal(t, got.Results[0].Prediction.Value, show.Results[0].Prediction.Value)

	_, err = execute(t, "runs", "show", "missing", "--store", db)
	assert.ErrorContains(t, err, "run not found")
}

func TestRuns_ListEmpty(t *testing.T) {
	out, err := execute(t, "runs", "list", "--store", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "(0 runs)")
}

func TestValidate(t *testing.T) {
	manifest := testutil.WriteToyDesign(t, t.TempDir())
	out, err := execute(t, "validate", "--design", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, `design "toy" OK: 2 parameters, 2 snapshots`)
	assert.Contains(t, out, "lnlike")

	_, err = execute(t, "validate", "--design", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	manifest := testutil.WriteToyDesign(t, t.TempDir())
	_, err := execute(t, "validate", "--design", manifest, "--log", "loud")
	assert.Error(t, err)
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	for _, name := range []string{"predict", "validate", "serve", "runs"} {
		sub, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log"))

	// Fresh trees never share flag state with rootCmd.
	fresh := newRootCmd()
	pFresh, _, err := fresh.Find([]string{"predict"})
	require.NoError(t, err)
	pRoot, _, err := rootCmd.Find([]string{"predict"})
	require.NoError(t, err)
	require.NoError(t, pFresh.Flags().Set("mass-n", "7"))
	assert.Equal(t, "20", pRoot.Flags().Lookup("mass-n").Value.String())
}
