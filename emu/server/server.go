// Package server serves emulator predictions over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mira-titan/hmfemu/emu"
	"github.com/mira-titan/hmfemu/emu/hmf"
	"github.com/mira-titan/hmfemu/emu/metrics"
	"github.com/mira-titan/hmfemu/emu/store"
)

// maxBodyBytes bounds the size of a predict request body.
const maxBodyBytes = 1 << 20

// Config holds what the server needs. Store and Recorder are optional.
type Config struct {
	Addr     string
	Emulator *hmf.Emulator
	Store    *store.Store
	Recorder *metrics.Recorder
	Registry *prom.Registry
	// Workers bounds concurrent predictions within one batch request.
	Workers int
}

// Server is the emulator HTTP API.
type Server struct {
	addr     string
	emulator *hmf.Emulator
	store    *store.Store
	recorder *metrics.Recorder
	registry *prom.Registry
	workers  int
}

// New creates a server from cfg.
func New(cfg Config) *Server {
	reg := cfg.Registry
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return &Server{
		addr:     cfg.Addr,
		emulator: cfg.Emulator,
		store:    cfg.Store,
		recorder: cfg.Recorder,
		registry: reg,
		workers:  cfg.Workers,
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, requestLogger, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/design", s.handleDesign)
		r.Post("/predict", s.handlePredict)
		r.Post("/predict/batch", s.handlePredictBatch)
	})
	return r
}

// Serve listens on the configured address and blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}
	logrus.Infof("Serving %s emulator on http://%s", s.emulator.Name(), ln.Addr())

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logrus.Debug("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

type designResponse struct {
	Name       string         `json:"name"`
	Quantity   string         `json:"quantity"`
	Parameters emu.ParamSpace `json:"parameters"`
	Redshifts  []float64      `json:"redshifts"`
	Redshift   [2]float64     `json:"redshift_range"`
	Log10M     [2]float64     `json:"log10m_range"`
}

func (s *Server) handleDesign(w http.ResponseWriter, _ *http.Request) {
	zlo, zhi := s.emulator.RedshiftRange()
	mlo, mhi := s.emulator.MassRange()
	writeJSON(w, http.StatusOK, designResponse{
		Name:       s.emulator.Name(),
		Quantity:   s.emulator.Quantity(),
		Parameters: s.emulator.Params(),
		Redshifts:  s.emulator.Redshifts(),
		Redshift:   [2]float64{zlo, zhi},
		Log10M:     [2]float64{mlo, mhi},
	})
}

// predictRequest accepts either an explicit log10m list or an evenly spaced
// grid given by mass_min, mass_max and mass_n.
type predictRequest struct {
	Cosmology emu.Cosmology `json:"cosmology"`
	Redshift  *float64      `json:"redshift"`
	Log10M    []float64     `json:"log10m"`
	MassMin   *float64      `json:"mass_min"`
	MassMax   *float64      `json:"mass_max"`
	MassN     int           `json:"mass_n"`
}

type predictResponse struct {
	Design   string    `json:"design"`
	Quantity string    `json:"quantity"`
	Redshift float64   `json:"redshift"`
	Log10M   []float64 `json:"log10m"`
	Value    []float64 `json:"value"`
	Sigma    []float64 `json:"sigma"`
	RunID    string    `json:"run_id,omitempty"`
}

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

func (pr *predictRequest) toRequest() (hmf.Request, error) {
	if pr.Redshift == nil {
		return hmf.Request{}, fmt.Errorf("%w: redshift is required", errBadRequest)
	}
	if len(pr.Cosmology) == 0 {
		return hmf.Request{}, fmt.Errorf("%w: cosmology is required", errBadRequest)
	}
	req := hmf.Request{Cosmology: pr.Cosmology, Redshift: *pr.Redshift, Log10M: pr.Log10M}
	grid := pr.MassMin != nil || pr.MassMax != nil || pr.MassN != 0
	switch {
	case grid && len(pr.Log10M) > 0:
		return hmf.Request{}, fmt.Errorf("%w: log10m and mass_min/mass_max/mass_n are mutually exclusive", errBadRequest)
	case grid:
		if pr.MassMin == nil || pr.MassMax == nil {
			return hmf.Request{}, fmt.Errorf("%w: mass_min and mass_max are both required", errBadRequest)
		}
		g, err := hmf.MassGrid(*pr.MassMin, *pr.MassMax, pr.MassN)
		if err != nil {
			return hmf.Request{}, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		req.Log10M = g
	}
	return req, nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var body predictRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		s.fail(w, err)
		return
	}
	p, err := s.emulator.Predict(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	ids, err := s.record(r.Context(), []hmf.Request{req}, []*hmf.Prediction{p})
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := s.response(p)
	if ids != nil {
		resp.RunID = ids[0]
	}
	s.recorder.ObservePrediction(metrics.ResultOK, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

type batchRequest struct {
	Requests []predictRequest `json:"requests"`
}

type batchResponse struct {
	Predictions []predictResponse `json:"predictions"`
}

// handlePredictBatch evaluates several requests concurrently. Any failing
// request fails the whole batch and the error names its index. With a store,
// the batch is recorded atomically.
func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var body batchRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, err)
		return
	}
	if len(body.Requests) == 0 {
		s.fail(w, fmt.Errorf("%w: requests must not be empty", errBadRequest))
		return
	}
	reqs := make([]hmf.Request, len(body.Requests))
	for i := range body.Requests {
		req, err := body.Requests[i].toRequest()
		if err != nil {
			s.fail(w, fmt.Errorf("request %d: %w", i, err))
			return
		}
		reqs[i] = req
	}
	preds, err := s.emulator.PredictBatch(r.Context(), reqs, s.workers)
	if err != nil {
		s.fail(w, err)
		return
	}
	ids, err := s.record(r.Context(), reqs, preds)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := batchResponse{Predictions: make([]predictResponse, len(preds))}
	for i, p := range preds {
		out.Predictions[i] = s.response(p)
		if ids != nil {
			out.Predictions[i].RunID = ids[i]
		}
	}
	s.recorder.ObservePrediction(metrics.ResultOK, time.Since(start))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) response(p *hmf.Prediction) predictResponse {
	return predictResponse{
		Design:   s.emulator.Name(),
		Quantity: s.emulator.Quantity(),
		Redshift: p.Redshift,
		Log10M:   p.Log10M,
		Value:    p.Value,
		Sigma:    p.Sigma,
	}
}

// record stores the predictions as runs in one transaction and returns their
// ids, or nil when no store is configured.
func (s *Server) record(ctx context.Context, reqs []hmf.Request, preds []*hmf.Prediction) ([]string, error) {
	if s.store == nil {
		return nil, nil
	}
	runs := make([]*store.Run, len(preds))
	for i, p := range preds {
		runs[i] = &store.Run{
			Design:    s.emulator.Name(),
			Redshift:  p.Redshift,
			Cosmology: reqs[i].Cosmology,
			Log10M:    p.Log10M,
			Value:     p.Value,
			Sigma:     p.Sigma,
		}
	}
	return s.store.SaveAll(ctx, runs)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// fail maps err onto a status code, counts it, and writes the error body.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status, result := classify(err)
	s.recorder.ObservePrediction(result, 0)
	if status == http.StatusInternalServerError {
		logrus.Errorf("Prediction failed: %v", err)
	} else {
		logrus.Debugf("Rejected prediction: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, hmf.ErrRedshiftOutOfRange),
		errors.Is(err, hmf.ErrMassOutOfRange),
		errors.Is(err, emu.ErrOutOfBounds):
		return http.StatusUnprocessableEntity, metrics.ResultOutOfRange
	case errors.Is(err, errBadRequest),
		errors.Is(err, emu.ErrInvalidCosmology),
		errors.Is(err, hmf.ErrEmptyMassGrid),
		errors.Is(err, hmf.ErrTooManyMasses):
		return http.StatusBadRequest, metrics.ResultInvalid
	default:
		return http.StatusInternalServerError, metrics.ResultInternalFail
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debugf("Write response: %v", err)
	}
}

// requestLogger logs one debug line per request through logrus.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}
