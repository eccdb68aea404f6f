package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mira-titan/hmfemu/emu/hmf"
	"github.com/mira-titan/hmfemu/emu/store"
)

func newRunsCmd() *cobra.Command {
	var storePath string
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored prediction runs",
	}
	runs.PersistentFlags().StringVar(&storePath, "store", "", "SQLite run store (required)")
	_ = runs.MarkPersistentFlagRequired("store")

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, storePath, func(ctx context.Context, s *store.Store) error {
				rs, err := s.List(ctx, limit)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(rs) == 0 {
					_, _ = fmt.Fprintln(w, "(0 runs)")
					return nil
				}
				t := table.NewWriter()
				t.SetOutputMirror(w)
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"id", "created", "design", "z", "masses"})
				for _, r := range rs {
					t.AppendRow(table.Row{r.ID, r.CreatedAt.Format(time.RFC3339), r.Design, r.Redshift, len(r.Log10M)})
				}
				t.Render()
				_, _ = fmt.Fprintf(w, "(%d runs)\n", len(rs))
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 = all)")

	var format string
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			return withStore(cmd, storePath, func(ctx context.Context, s *store.Store) error {
				r, err := s.Get(ctx, args[0])
				if err != nil {
					return err
				}
				res := []result{{
					Prediction: &hmf.Prediction{Redshift: r.Redshift, Log10M: r.Log10M, Value: r.Value, Sigma: r.Sigma},
					RunID:      r.ID,
				}}
				if format == formatTable {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "design %s, created %s, cosmology %v\n",
						r.Design, r.CreatedAt.Format(time.RFC3339), r.Cosmology)
				}
				return render(cmd.OutOrStdout(), format, "value", res)
			})
		},
	}
	show.Flags().StringVar(&format, "format", formatTable, "Output format (table, json, csv)")

	runs.AddCommand(list, show)
	return runs
}

func withStore(cmd *cobra.Command, path string, fn func(context.Context, *store.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(ctx, s)
}
