package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mira-titan/hmfemu/emu/metrics"
	"github.com/mira-titan/hmfemu/emu/server"
	"github.com/mira-titan/hmfemu/emu/store"
)

func newServeCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions over HTTP",
		Long: `Serve predictions over HTTP. Settings come from defaults, then the
--config YAML file, then HMFEMU_* environment variables, then flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadServeConfig(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML config file")
	f.String("addr", DefaultAddr, "Listen address")
	f.String("design", "", "Path to the design manifest")
	f.String("store", "", "SQLite run store to record predictions in")
	f.Int("workers", DefaultWorkers, "Concurrent predictions per batch request (0 = GOMAXPROCS)")
	return cmd
}

func runServe(ctx context.Context, cfg *ServeConfig) error {
	e, err := loadEmulator(cfg.Design)
	if err != nil {
		return err
	}

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(reg)
	rec.SetSnapshots(len(e.Redshifts()))

	var st *store.Store
	if cfg.Store != "" {
		st, err = store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
	}

	logrus.Infof("Loaded design %q: %d snapshots, z in %v", e.Name(), len(e.Redshifts()), e.Redshifts())
	return server.New(server.Config{
		Addr:     cfg.Addr,
		Emulator: e,
		Store:    st,
		Recorder: rec,
		Registry: reg,
		Workers:  cfg.Workers,
	}).Serve(ctx)
}
