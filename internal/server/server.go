package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/pomotimer/pomoledger/internal/config"
	"github.com/pomotimer/pomoledger/internal/db"
	"github.com/pomotimer/pomoledger/internal/insights"
	"github.com/pomotimer/pomoledger/internal/rollup"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Snapshotter computes the insights snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) (insights.Snapshot, error)
}

// Server is the HTTP server for the REST API and the timer
// device endpoints.
type Server struct {
	mu       gosync.RWMutex
	cfg      config.Config
	db       *db.DB
	insights Snapshotter
	mux      *http.ServeMux
	httpSrv  *http.Server
	version  VersionInfo
	device   deviceStatus
}

// New creates a new Server. Unless WithSnapshotter is given,
// insights are bucketed in the configured time zone.
func New(
	cfg config.Config, database *db.DB, opts ...Option,
) *Server {
	s := &Server{
		cfg: cfg,
		db:  database,
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.insights == nil {
		loc, err := cfg.Location()
		if err != nil {
			log.Printf("timezone %q: %v; using Local", cfg.Timezone, err)
			loc = time.Local
		}
		s.insights = insights.NewService(rollup.New(database, loc))
	}
	if s.cfg.WriteTimeout <= 0 {
		s.cfg.WriteTimeout = 30 * time.Second
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithSnapshotter overrides the insights source, allowing tests
// to substitute a stub. Nil is ignored.
func WithSnapshotter(sn Snapshotter) Option {
	return func(s *Server) {
		if sn != nil {
			s.insights = sn
		}
	}
}

// legacyPaths are the routes the timer device and the original
// dashboard call without the /api/v1 prefix.
var legacyPaths = map[string]bool{
	"/insights":      true,
	"/config":        true,
	"/update-config": true,
	"/update":        true,
	"/latest":        true,
}

func isAPIPath(p string) bool {
	return strings.HasPrefix(p, "/api/") || legacyPaths[p]
}

func (s *Server) routes() {
	// API v1 routes
	s.mux.Handle("POST /api/v1/sessions", s.withTimeout(s.handleRecordSession))
	s.mux.Handle("GET /api/v1/sessions", s.withTimeout(s.handleListSessions))
	s.mux.Handle("GET /api/v1/sessions/{id}", s.withTimeout(s.handleGetSession))
	s.mux.Handle("GET /api/v1/insights", s.withTimeout(s.handleGetInsights))
	s.mux.Handle("GET /api/v1/config", s.withTimeout(s.handleGetConfig))
	s.mux.Handle("PATCH /api/v1/config", s.withTimeout(s.handleUpdateConfig))
	s.mux.Handle("POST /api/v1/config", s.withTimeout(s.handleUpdateConfig))
	s.mux.Handle("GET /api/v1/stats", s.withTimeout(s.handleGetStats))
	s.mux.Handle("GET /api/v1/version", s.withTimeout(s.handleGetVersion))

	// Unprefixed routes used by the device firmware and the
	// original dashboard.
	s.mux.Handle("GET /insights", s.withTimeout(s.handleGetInsights))
	s.mux.Handle("GET /config", s.withTimeout(s.handleGetConfig))
	s.mux.Handle("POST /update-config", s.withTimeout(s.handleUpdateConfig))
	s.mux.Handle("POST /update", s.withTimeout(s.handleDeviceUpdate))
	s.mux.Handle("GET /latest", s.withTimeout(s.handleDeviceLatest))
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

func (s *Server) handleGetStats(
	w http.ResponseWriter, r *http.Request,
) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SetPort updates the listen port (for testing).
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Port = port
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(logMiddleware(s.mux))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.httpSrv = srv
	s.mu.Unlock()
	log.Printf("Starting server at http://%s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

// URL returns the base URL for host and port.
func URL(host string, port int) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(port)))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIPath(r.URL.Path) {
			w.Header().Set(
				"Access-Control-Allow-Origin", "*",
			)
			w.Header().Set(
				"Access-Control-Allow-Methods",
				"GET, POST, PATCH, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type",
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIPath(r.URL.Path) {
			log.Printf("%s %s", r.Method, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}
