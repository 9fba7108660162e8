// Package brain hosts the decision API. The control loop, whether it runs
// in the same process or across the network, posts screenshots here and
// gets back critic decisions and assistant verdicts; operators use the
// run-control endpoints to pause, steer, and abort the active run. When a
// driver pool is attached the same port also serves the browser worker
// websocket, so one process can host the whole agent.
package brain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/config"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/driver"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
)

// RunControl is the handle the run-control endpoints drive. The active
// run's supervisor implements it; a brain hosting no local run leaves it
// unset and the endpoints answer 503.
type RunControl interface {
	RequestPause()
	SupplyContext(text string)
	AbortRun()
}

// RunLauncher starts goal runs on behalf of /v1/run/start. The serve
// command implements it with a single active run at a time; a brain with
// no launcher answers 503 on the run-start endpoints.
type RunLauncher interface {
	// StartRun begins a run and returns its id, or an error carrying
	// run_already_active when one is in flight.
	StartRun(req StartRunRequest) (string, error)

	// RunStatus reports the active run, if any.
	RunStatus() (RunStatusInfo, bool)
}

// Server is the brain HTTP service.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	sessions *SessionStore
	pool     *driver.Pool
	control  RunControl
	launcher RunLauncher

	// llmBaseURL overrides the OpenAI endpoint for every critic and
	// assistant client the handlers build. Tests point it at a fake.
	llmBaseURL string

	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithPool attaches the driver pool so the server can expose the worker
// websocket and the agent inventory.
func WithPool(pool *driver.Pool) Option {
	return func(s *Server) { s.pool = pool }
}

// WithRunControl attaches the active run's pause/context/abort handle.
func WithRunControl(rc RunControl) Option {
	return func(s *Server) { s.control = rc }
}

// WithRunLauncher enables /v1/run/start and /v1/run/status to drive runs.
func WithRunLauncher(launcher RunLauncher) Option {
	return func(s *Server) { s.launcher = launcher }
}

// WithTracer wraps every request in an HTTP server span.
func WithTracer(tracer *observability.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// WithLLMBaseURL points every critic and assistant client at an alternate
// OpenAI-compatible endpoint.
func WithLLMBaseURL(url string) Option {
	return func(s *Server) { s.llmBaseURL = url }
}

// WithSessionStore replaces the default session store.
func WithSessionStore(store *SessionStore) Option {
	return func(s *Server) {
		if store != nil {
			s.sessions = store
		}
	}
}

// NewServer builds a brain server from the configuration.
func NewServer(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		sessions: NewSessionStore(cfg.Server.SessionTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRunControl swaps the run-control handle after construction. The serve
// command installs the supervisor of each run as it starts.
func (s *Server) SetRunControl(rc RunControl) {
	s.control = rc
}

// SetRunLauncher installs the run launcher after construction. The serve
// command builds its runner against the bound listen address, so the
// launcher arrives after Start.
func (s *Server) SetRunLauncher(launcher RunLauncher) {
	s.launcher = launcher
}

// Handler returns the routed brain API, wrapped in request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("/v1/brain/bootstrap", s.handleBootstrap)
	mux.HandleFunc("/v1/brain/critic", s.handleCritic)
	mux.HandleFunc("/v1/brain/assistant", s.handleAssistant)

	mux.HandleFunc("/v1/run/start", s.handleStartRun)
	mux.HandleFunc("/v1/run/status", s.handleRunStatus)
	mux.HandleFunc("/v1/run/pause", s.handlePause)
	mux.HandleFunc("/v1/run/context", s.handleContext)
	mux.HandleFunc("/v1/run/abort", s.handleAbort)

	mux.HandleFunc("/v1/agents", s.handleAgents)
	if s.pool != nil {
		mux.Handle("/v1/agent/ws", s.pool)
	}

	return s.instrument(mux)
}

// Start binds the listener and serves in the background. The context
// scopes the session sweeper and, when a pool is attached, stale-agent
// pruning.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("brain listen: %w", err)
	}

	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("brain server error", "error", err)
		}
	}()

	s.sessions.StartSweeping(ctx, s.cfg.Server.SessionSweep)
	if s.pool != nil {
		s.pool.StartPruning(ctx)
	}

	s.logger.Info("brain listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when Port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests. A nil context gets a 5 second cap.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("brain shutdown error", "error", err)
	}
	s.httpServer = nil
	s.listener = nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
}

// statusRecorder captures the status code written downstream so the
// metrics wrapper can label the request.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade on /v1/agent/ws reach through the
// recorder to the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil && s.tracer == nil {
			next.ServeHTTP(w, r)
			return
		}
		if s.tracer != nil {
			ctx, span := s.tracer.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
			defer span.End()
			r = r.WithContext(ctx)
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start).Seconds())
		}
	})
}
