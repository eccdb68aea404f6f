package emu

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrOutOfBounds is returned when a cosmological parameter lies outside
	// the range covered by the simulation design.
	ErrOutOfBounds = errors.New("parameter outside emulator bounds")

	// ErrInvalidCosmology is returned for unknown, missing or non-finite
	// parameters.
	ErrInvalidCosmology = errors.New("invalid cosmology")
)

// ParamDef names one input dimension and the range spanned by the design.
type ParamDef struct {
	Name string  `yaml:"name" json:"name"`
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
}

// ParamSpace is the ordered list of input dimensions. The order fixes the
// column order of the GP input vector.
type ParamSpace []ParamDef

// Cosmology maps parameter names to values.
type Cosmology map[string]float64

// Names returns the parameter names in input order.
func (ps ParamSpace) Names() []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

// Validate checks that names are unique and non-empty and that every range is
// finite with Min < Max.
func (ps ParamSpace) Validate() error {
	if len(ps) == 0 {
		return fmt.Errorf("parameter space is empty")
	}
	seen := make(map[string]bool, len(ps))
	for i, p := range ps {
		if p.Name == "" {
			return fmt.Errorf("parameters[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("parameters[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if math.IsNaN(p.Min) || math.IsInf(p.Min, 0) || math.IsNaN(p.Max) || math.IsInf(p.Max, 0) {
			return fmt.Errorf("parameters[%d] %q: bounds must be finite, got [%v, %v]", i, p.Name, p.Min, p.Max)
		}
		if p.Min >= p.Max {
			return fmt.Errorf("parameters[%d] %q: min %v must be below max %v", i, p.Name, p.Min, p.Max)
		}
	}
	return nil
}

// Normalize maps c onto the unit hypercube in input order. Every parameter
// must be present, finite and within bounds; unknown names are rejected.
func (ps ParamSpace) Normalize(c Cosmology) ([]float64, error) {
	known := make(map[string]bool, len(ps))
	for _, p := range ps {
		known[p.Name] = true
	}
	var unknown []string
	for name := range c {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown parameters %v (expected %v)", ErrInvalidCosmology, unknown, ps.Names())
	}

	out := make([]float64, len(ps))
	for i, p := range ps {
		v, ok := c[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing parameter %q", ErrInvalidCosmology, p.Name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: parameter %q must be finite, got %v", ErrInvalidCosmology, p.Name, v)
		}
		if v < p.Min || v > p.Max {
			return nil, fmt.Errorf("%w: %s=%v not in [%v, %v]", ErrOutOfBounds, p.Name, v, p.Min, p.Max)
		}
		out[i] = (v - p.Min) / (p.Max - p.Min)
	}
	return out, nil
}

// Contains reports whether v lies inside the bounds of parameter i.
func (ps ParamSpace) Contains(i int, v float64) bool {
	return v >= ps[i].Min && v <= ps[i].Max
}

// Center returns the cosmology at the middle of every range.
func (ps ParamSpace) Center() Cosmology {
	c := make(Cosmology, len(ps))
	for _, p := range ps {
		c[p.Name] = 0.5 * (p.Min + p.Max)
	}
	return c
}

// LoadCosmology reads a YAML mapping of parameter name to value.
// Uses strict parsing: anything but a flat name: number mapping is rejected.
func LoadCosmology(path string) (Cosmology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cosmology: %w", err)
	}
	var c Cosmology
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("parsing cosmology %s: %w", path, err)
	}
	if len(c) == 0 {
		return nil, fmt.Errorf("cosmology %s defines no parameters", path)
	}
	return c, nil
}

// ParseAssignments parses "name=value" pairs, as given on the command line.
// Later assignments override earlier ones.
func ParseAssignments(pairs []string) (Cosmology, error) {
	c := make(Cosmology, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter assignment %q; want name=value", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		c[name] = v
	}
	return c, nil
}

// Merge returns a copy of c overlaid with other.
func (c Cosmology) Merge(other Cosmology) Cosmology {
	out := make(Cosmology, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
