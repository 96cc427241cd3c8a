// Package api serves workload listings and profiling sessions over HTTP.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/kprof/internal/backend"
	"github.com/samcharles93/kprof/internal/logger"
	"github.com/samcharles93/kprof/internal/profiler"
	"github.com/samcharles93/kprof/internal/version"
	"github.com/samcharles93/kprof/internal/workload"
)

// Defaults are applied to profile requests that leave a field unset.
type Defaults struct {
	Warmup int
	Repeat int
}

type Server struct {
	backend   *backend.Backend
	workloads *workload.Set
	store     *SessionStore
	defaults  Defaults
	log       logger.Logger

	// limiter throttles session starts; mu keeps one session on the
	// device at a time.
	limiter *rate.Limiter
	mu      sync.Mutex
}

type Option func(*Server)

// WithRateLimit allows perSecond session starts with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

func WithDefaults(d Defaults) Option {
	return func(s *Server) { s.defaults = d }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithStore(store *SessionStore) Option {
	return func(s *Server) { s.store = store }
}

func NewServer(b *backend.Backend, set *workload.Set, opts ...Option) *Server {
	s := &Server{
		backend:   b,
		workloads: set,
		store:     NewSessionStore(0),
		defaults:  Defaults{Warmup: 1, Repeat: 5},
		log:       logger.Default(),
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/workloads", s.handleListWorkloads)
	e.GET("/v1/workloads/:name/instances", s.handleListInstances)
	e.GET("/v1/signatures", s.handleListSignatures)
	e.POST("/v1/profile", s.handleProfile)
	e.GET("/v1/sessions/:id", s.handleGetSession)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
		"backend": s.backend.Name(),
		"device":  s.backend.Device().Name(),
	})
}

func (s *Server) handleListWorkloads(c *echo.Context) error {
	all := s.workloads.All()
	out := WorkloadList{Object: "list", Data: make([]WorkloadInfo, 0, len(all))}
	for _, w := range all {
		out.Data = append(out.Data, WorkloadInfo{
			Name:        w.Name,
			Description: w.Description,
			Signature:   w.Signature.Key(),
			Problem:     w.Problem.String(),
			Flops:       w.Problem.Flops(),
			Bytes:       w.Problem.Bytes(w.Signature),
		})
	}
	return writeJSON(c, http.StatusOK, out)
}

func (s *Server) handleListSignatures(c *echo.Context) error {
	reg := s.backend.Registry()
	sigs := reg.Signatures()
	out := SignatureList{Object: "list", Data: make([]SignatureInfo, 0, len(sigs))}
	for _, sig := range sigs {
		out.Data = append(out.Data, SignatureInfo{Key: sig.Key(), Families: reg.Families(sig)})
	}
	return writeJSON(c, http.StatusOK, out)
}

func (s *Server) handleListInstances(c *echo.Context) error {
	w, err := s.workloads.Get(c.Param("name"))
	if err != nil {
		return writeNotFound(c, err.Error())
	}
	if err := s.backend.Enable(w.Signature); err != nil {
		return writeJSON(c, http.StatusOK, InstanceList{Object: "list", Workload: w.Name, Data: []InstanceInfo{}})
	}
	cands := s.backend.Registry().Instances(w.Signature)
	out := InstanceList{Object: "list", Workload: w.Name, Data: make([]InstanceInfo, 0, len(cands))}
	for i, cand := range cands {
		out.Data = append(out.Data, InstanceInfo{Index: i, Name: cand.Name(), Supported: cand.Supports(w.Problem)})
	}
	return writeJSON(c, http.StatusOK, out)
}

func (r ProfileRequest) options(d Defaults) (profiler.Options, error) {
	opts := profiler.Options{Warmup: d.Warmup, Repeat: d.Repeat, Seed: r.Seed, Verify: r.Verify, Only: r.Only}
	if r.Workload == "" {
		return opts, invalidParam("workload", "is required")
	}
	if r.Warmup != nil {
		if *r.Warmup < 0 {
			return opts, invalidParam("warmup", "must not be negative, got %d", *r.Warmup)
		}
		opts.Warmup = *r.Warmup
	}
	if r.Repeat != nil {
		if *r.Repeat < 1 {
			return opts, invalidParam("repeat", "must be at least 1, got %d", *r.Repeat)
		}
		opts.Repeat = *r.Repeat
	}
	return opts, nil
}

func (s *Server) handleProfile(c *echo.Context) error {
	req, err := decodeJSON[ProfileRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err)
	}
	opts, err := req.options(s.defaults)
	if err != nil {
		return writeBadRequest(c, err)
	}
	w, err := s.workloads.Get(req.Workload)
	if err != nil {
		return writeNotFound(c, err.Error())
	}
	if !s.limiter.Allow() {
		return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many profiling sessions, retry later", "")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Enable(w.Signature); err != nil {
		s.log.Debug("no families for signature", "workload", w.Name, "error", err)
	}
	ctx := logger.WithContext(c.Request().Context(), s.log)
	rep, err := profiler.Run(ctx, s.backend.Device(), s.backend.Registry(), w, opts)
	if rep != nil {
		s.store.Put(rep)
	}
	if err != nil {
		s.log.Error("profiling session failed", "workload", w.Name, "error", err)
		msg := err.Error()
		if rep != nil {
			msg = fmt.Sprintf("session %s: %v", rep.ID, err)
		}
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		return writeError(c, status, "server_error", msg, "")
	}
	return writeJSON(c, http.StatusOK, ProfileResponse{Object: "profile", Report: rep, Passed: rep.Passed()})
}

func (s *Server) handleGetSession(c *echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeBadRequest(c, invalidParam("id", "not a session id: %q", c.Param("id")))
	}
	rep, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, fmt.Sprintf("session %s not found", id))
	}
	return writeJSON(c, http.StatusOK, ProfileResponse{Object: "profile", Report: rep, Passed: rep.Passed()})
}
