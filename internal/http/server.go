package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"widerow/pkg/compression"
	"widerow/pkg/config"
	"widerow/pkg/dberrors"
	"widerow/pkg/family"
	"widerow/pkg/metrics"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = time.Second * 5
	maxPageSize            = 10_000
	maxBodyBytes           = 16 << 20
	compressionLevel       = 5
)

type iRaftNode interface {
	IsLeader() bool
	LeaderAddr() string
	Handle(ctx context.Context, message raftpb.Message) error
}

type iMetrics interface {
	metrics.Collector
	Handler() http.Handler
}

type Option func(*Server)

// WithRaft enables the raft endpoint and leader redirects for mutations.
func WithRaft(node iRaftNode) Option {
	return func(s *Server) {
		s.node = node
	}
}

func WithMetrics(m iMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithURL sets the address peers know this node by, used to avoid
// redirecting to ourselves.
func WithURL(u string) Option {
	return func(s *Server) {
		s.URL = u
	}
}

// Server exposes a column family over HTTP.
type Server struct {
	fam        family.Family
	node       iRaftNode
	metrics    iMetrics
	cfg        config.ServerConfig
	httpServer *http.Server
	URL        string
	addr       string
}

func NewServer(fam family.Family, cfg config.ServerConfig, opts ...Option) *Server {
	port := strconv.Itoa(cfg.Port)
	s := &Server{
		fam:  fam,
		cfg:  cfg,
		URL:  "http://localhost:" + port,
		addr: ":" + port,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	readHeader := s.cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = time.Second
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeader,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	comp := middleware.NewCompressor(compressionLevel, contentTypeJSON)
	comp.SetEncoder(compression.Zstd, compression.NewZstdWriter)
	r.Use(comp.Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/rows/{row}", func(r chi.Router) {
		r.Get("/", s.handleGetRow)
		r.Head("/", s.handleRowExists)
		r.Put("/", s.handleUpdate)
		r.Delete("/", s.handleDeleteRow)
		r.Get("/count", s.handleCount)
		r.Get("/columns", s.handlePage)
		r.Delete("/columns", s.handleDeleteColumns)
		r.Get("/columns/{column}", s.handleGetColumn)
		r.Post("/columns/{column}/increment", s.handleIncrement)
	})

	if s.node != nil {
		r.Post("/api/internal/raft", s.handleRaft)
	}

	return r
}

// observe logs and measures every request by its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		took := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, ww.Status(), took)
		}
		slog.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"took", took)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusOf(err), NewErrorResponse(err.Error()))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, dberrors.ErrInvalidArgument),
		errors.Is(err, dberrors.ErrEmptyKey),
		errors.Is(err, dberrors.ErrTooLargeEntry):
		return http.StatusBadRequest
	case errors.Is(err, dberrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dberrors.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// redirectLeader sends mutations arriving at a follower to the raft leader.
func (s *Server) redirectLeader(w http.ResponseWriter, r *http.Request) bool {
	if s.node == nil || s.node.IsLeader() {
		return false
	}

	leaderAddr := s.node.LeaderAddr()
	// leader unknown yet or ourselves: handle locally
	if leaderAddr == "" || leaderAddr == s.URL {
		return false
	}

	http.Redirect(w, r, leaderAddr+r.URL.RequestURI(), http.StatusTemporaryRedirect)
	return true
}

// pathParam returns an unescaped route parameter. chi matches on RawPath
// when the request has one, so parameters may still be escaped.
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	u, err := url.PathUnescape(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", dberrors.ErrInvalidArgument, name, err)
	}
	return u, nil
}

func rowParam(r *http.Request) (string, error) {
	row, err := pathParam(r, "row")
	if err != nil {
		return "", err
	}
	if row == "" {
		return "", dberrors.ErrEmptyKey
	}
	return row, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: body: %v", dberrors.ErrInvalidArgument, err)
	}
	return nil
}
