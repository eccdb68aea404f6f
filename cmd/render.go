package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatCSV   = "csv"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatCSV:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or csv)", format)
	}
}

// render writes the results in the requested format. Sample columns appear
// only when samples were drawn; raw draws are only written as JSON.
func render(w io.Writer, format, quantity string, results []result) error {
	switch format {
	case formatJSON:
		return renderJSON(w, quantity, results)
	case formatCSV:
		return renderCSV(w, quantity, results)
	default:
		return renderTable(w, quantity, results)
	}
}

func hasSamples(results []result) bool {
	return len(results) > 0 && results[0].SampleMean != nil
}

func header(quantity string, samples bool) []string {
	cols := []string{"z", "log10_m", quantity, "sigma"}
	if samples {
		cols = append(cols, "sample_mean", "sample_std")
	}
	return cols
}

// rows flattens results into one row per (redshift, mass).
func rows(results []result) [][]float64 {
	var out [][]float64
	samples := hasSamples(results)
	for _, r := range results {
		p := r.Prediction
		for i, m := range p.Log10M {
			row := []float64{p.Redshift, m, p.Value[i], p.Sigma[i]}
			if samples {
				row = append(row, r.SampleMean[i], r.SampleStd[i])
			}
			out = append(out, row)
		}
	}
	return out
}

func renderTable(w io.Writer, quantity string, results []result) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	cols := header(quantity, hasSamples(results))
	headerRow := make(table.Row, len(cols))
	for i, c := range cols {
		headerRow[i] = c
	}
	t.AppendHeader(headerRow)
	for _, vals := range rows(results) {
		row := make(table.Row, len(vals))
		for i, v := range vals {
			row[i] = strconv.FormatFloat(v, 'g', 6, 64)
		}
		t.AppendRow(row)
	}
	t.Render()

	for _, r := range results {
		if r.RunID != "" {
			_, _ = fmt.Fprintf(w, "run %s (z=%v)\n", r.RunID, r.Prediction.Redshift)
		}
	}
	return nil
}

type jsonOutput struct {
	Quantity string   `json:"quantity"`
	Results  []result `json:"results"`
}

func renderJSON(w io.Writer, quantity string, results []result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonOutput{Quantity: quantity, Results: results})
}

func renderCSV(w io.Writer, quantity string, results []result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(quantity, hasSamples(results))); err != nil {
		return err
	}
	for _, vals := range rows(results) {
		rec := make([]string, len(vals))
		for i, v := range vals {
			rec[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
