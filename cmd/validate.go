package cmd

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mira-titan/hmfemu/emu/design"
	"github.com/mira-titan/hmfemu/emu/hmf"
)

func newValidateCmd() *cobra.Command {
	var designPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a design, fit every snapshot GP and report its fit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := design.Load(designPath)
			if err != nil {
				return err
			}
			e, err := hmf.New(d)
			if err != nil {
				return err
			}

			lnLikes := e.LnLikes()
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"z", "points", "outputs", "log10_m range", "lnlike"})
			for _, s := range d.Snapshots {
				lo, hi := s.Basis.Range()
				ll := lnLikes[s.Redshift]
				logrus.Infof("Snapshot z=%v: %d points, %d outputs, lnlike=%.4f", s.Redshift, s.NumData(), s.NumOutputs(), ll)
				t.AppendRow(table.Row{
					s.Redshift, s.NumData(), s.NumOutputs(),
					fmt.Sprintf("[%v, %v]", lo, hi),
					strconv.FormatFloat(ll, 'f', 4, 64),
				})
			}
			t.Render()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "design %q OK: %d parameters, %d snapshots\n",
				e.Name(), len(e.Params()), len(d.Snapshots))
			return nil
		},
	}
	cmd.Flags().StringVar(&designPath, "design", "", "Path to the design manifest (required)")
	_ = cmd.MarkFlagRequired("design")
	return cmd
}
