// Package adminapi exposes audits, applies and approval callbacks over HTTP
// to authenticated administrators.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexisbeaulieu97/reconciler/internal/approval"
	"github.com/alexisbeaulieu97/reconciler/internal/audit"
	"github.com/alexisbeaulieu97/reconciler/internal/change"
	"github.com/alexisbeaulieu97/reconciler/internal/logger"
	"github.com/alexisbeaulieu97/reconciler/internal/metrics"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const (
	maxBodyBytes      = 1 << 20
	maxChangeIDs      = 100
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Engines is the per-request view of the system, built from freshly loaded
// desired state and policy.
type Engines struct {
	Audit   *audit.Engine
	Changes *change.Engine
}

// BuildFunc loads desired state and policy and assembles engines.
type BuildFunc func(ctx context.Context) (*Engines, error)

// Options configures a Server.
type Options struct {
	Build     BuildFunc
	JWTSecret string
	Verifier  *approval.Verifier
	// Decisions receives verified approval callbacks.
	Decisions approval.DecisionSink
	// Approvals returns recorded decisions merged into every apply request.
	Approvals func() map[string]model.ApprovalStatus
	Limiter   RateLimiter
	RateLimit int
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Logger    *logger.Logger
	Now       func() time.Time
}

// Server is the admin HTTP handler.
type Server struct {
	mux       *http.ServeMux
	build     BuildFunc
	secret    string
	verifier  *approval.Verifier
	decisions approval.DecisionSink
	approvals func() map[string]model.ApprovalStatus
	limiter   RateLimiter
	rateLimit int
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	log       *logger.Logger
	now       func() time.Time
}

// New wires routes. A nil Limiter falls back to an in-memory limiter.
func New(opts Options) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		build:     opts.Build,
		secret:    opts.JWTSecret,
		verifier:  opts.Verifier,
		decisions: opts.Decisions,
		approvals: opts.Approvals,
		limiter:   opts.Limiter,
		rateLimit: opts.RateLimit,
		metrics:   opts.Metrics,
		gatherer:  opts.Gatherer,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.limiter == nil {
		s.limiter = NewMemoryRateLimiter()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.register()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.mux.ServeHTTP(w, req)
}

// Close releases the rate limiter.
func (s *Server) Close() {
	s.limiter.Close()
}

func (s *Server) register() {
	s.mux.HandleFunc("POST /v1/audits", s.instrument("/v1/audits", s.requireAuth(s.withRateLimit("/v1/audits", s.handleAudit))))
	s.mux.HandleFunc("POST /v1/changes/apply", s.instrument("/v1/changes/apply", s.requireAuth(s.withRateLimit("/v1/changes/apply", s.handleApply))))
	s.mux.HandleFunc("POST /v1/approvals/callback", s.instrument("/v1/approvals/callback", s.withRateLimit("/v1/approvals/callback", s.handleCallback)))
	s.mux.HandleFunc("GET /healthz", s.instrument("/healthz", s.handleHealthz))
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

type auditRequest struct {
	Scope []string   `json:"scope"`
	Mode  model.Mode `json:"mode"`
}

func (s *Server) handleAudit(w http.ResponseWriter, req *http.Request) {
	var payload auditRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	engines, ok := s.engines(w, req)
	if !ok {
		return
	}
	report, err := engines.Audit.Run(req.Context(), audit.Request{Scope: payload.Scope, Mode: payload.Mode})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type applyRequest struct {
	ChangeIDs   []string `json:"changeIds"`
	GeneratePR  bool     `json:"generatePR"`
	DirectApply bool     `json:"directApply"`
	// Rejections lets the caller veto changes. Approvals only arrive
	// through verified callbacks.
	Rejections []string `json:"rejections"`
}

func (s *Server) handleApply(w http.ResponseWriter, req *http.Request) {
	var payload applyRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	if len(payload.ChangeIDs) == 0 {
		writeError(w, http.StatusBadRequest, "changeIds is required")
		return
	}
	if len(payload.ChangeIDs) > maxChangeIDs {
		writeError(w, http.StatusBadRequest, "too many changeIds")
		return
	}
	for _, id := range payload.Rejections {
		if _, err := model.ParseChangeID(id); err != nil {
			writeError(w, http.StatusBadRequest, "invalid rejection "+logger.SafeToken(id))
			return
		}
	}

	engines, ok := s.engines(w, req)
	if !ok {
		return
	}
	caller, _ := callerFromContext(req.Context())
	results := engines.Changes.Apply(req.Context(), change.Request{
		ChangeIDs:   payload.ChangeIDs,
		GeneratePR:  payload.GeneratePR,
		DirectApply: payload.DirectApply,
		Approvals:   s.mergeApprovals(payload.Rejections),
	})
	s.log.WithFields(map[string]any{"subject": caller.Subject, "changes": len(results)}).Info("apply requested")
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// mergeApprovals combines verified callback decisions with the caller's
// rejections. A rejection always wins.
func (s *Server) mergeApprovals(rejections []string) map[string]model.ApprovalStatus {
	merged := make(map[string]model.ApprovalStatus, len(rejections))
	if s.approvals != nil {
		for id, status := range s.approvals() {
			merged[id] = status
		}
	}
	for _, id := range rejections {
		merged[id] = model.ApprovalRejected
	}
	return merged
}

func (s *Server) handleCallback(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.verifier.Verify(req.Header, body, s.now()); err != nil {
		s.metrics.ObserveCallback("unverified")
		s.log.Warn(err.Error())
		unauthorized(w)
		return
	}
	decision, err := approval.ParseDecision(body)
	if err != nil {
		s.metrics.ObserveCallback("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.decisions == nil {
		s.metrics.ObserveCallback("dropped")
		writeError(w, http.StatusServiceUnavailable, "no decision sink configured")
		return
	}
	if err := s.decisions.Record(req.Context(), decision); err != nil {
		s.metrics.ObserveCallback("error")
		s.log.Error(err, "recording approval decision failed")
		writeError(w, http.StatusInternalServerError, "decision not recorded")
		return
	}
	s.metrics.ObserveCallback(string(decision.Status))
	s.log.WithFields(map[string]any{
		"change_id": decision.ChangeID,
		"status":    string(decision.Status),
		"actor":     logger.SafeToken(decision.Actor),
	}).Info("approval decision recorded")
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) engines(w http.ResponseWriter, req *http.Request) (*Engines, bool) {
	if s.build == nil {
		writeError(w, http.StatusServiceUnavailable, "engines are not configured")
		return nil, false
	}
	engines, err := s.build(req.Context())
	if err != nil {
		s.writeFailure(w, err)
		return nil, false
	}
	return engines, true
}

// writeFailure maps the error taxonomy onto status codes without leaking
// internals for unexpected errors.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var (
		validationErr *reconerrors.ValidationError
		parseErr      *reconerrors.ParseError
		cfgErr        *reconerrors.ConfigurationError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &parseErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error(err, "request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, req *http.Request, out any) bool {
	decoder := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := s.now()
		next(recorder, req)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := s.now().Sub(start)
		s.metrics.ObserveRequest(req.Method, route, status, elapsed)
		s.log.WithFields(map[string]any{
			"method":      req.Method,
			"route":       route,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
		}).Debug("request handled")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// ListenAndServe runs handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(map[string]any{"addr": addr}).Info("admin api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info("admin api stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
