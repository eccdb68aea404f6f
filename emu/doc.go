// Package emu provides the halo mass function emulator trained on the
// Mira-Titan Universe simulation suite.
//
// # Reading Guide
//
// Start with these files to understand the prediction path:
//   - params.go: the cosmological parameter space and unit-cube normalization
//   - gp/gp.go: the multi-output Gaussian process (kernel, Cholesky, predict)
//   - hmf/emulator.go: mass basis projection and redshift interpolation
//
// # Architecture
//
// The emu package owns the parameter space and deterministic sampling RNG;
// everything else lives in sub-packages:
//   - emu/gp/: Gaussian process regression
//   - emu/design/: training design manifest and CSV table loading
//   - emu/hmf/: the Emulator (per-redshift snapshots, batches, sampling)
//   - emu/store/: SQLite store for prediction runs
//   - emu/server/: HTTP API over an Emulator
//   - emu/metrics/: Prometheus instrumentation
//
// A design is loaded once and is read-only afterwards, so a single Emulator
// serves concurrent predictions.
package emu
