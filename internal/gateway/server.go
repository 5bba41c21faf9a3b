// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package gateway is the HTTP surface of the access controller: the portal
// login/logout endpoints the hotspot clients hit and the admin API. It only
// listens on LAN addresses; every admin route requires an admin bearer token.
package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/campusgate/internal/clock"
	"grimm.is/campusgate/internal/errors"
	"grimm.is/campusgate/internal/logging"
	"grimm.is/campusgate/internal/metrics"
	"grimm.is/campusgate/internal/policy"
	"grimm.is/campusgate/internal/store"
)

const maxBodyBytes = 1 << 20

// Sessions is the session-manager slice the HTTP layer drives.
type Sessions interface {
	Login(userID, password, clientIP string) (*store.Session, error)
	Logout(userID string) error
	ActiveSessions() ([]store.Session, error)
	InsertBan(b store.Ban) error
}

// Filter is the rule-engine slice the HTTP layer drives.
type Filter interface {
	AllowClient(ctx context.Context, ip string) error
	DenyClient(ctx context.Context, ip string) error
	SyncPolicy(ctx context.Context, cfg *policy.Config) error
	AllowedClients() []string
	BlockedHostIPs() map[string][]string
}

// Directory is the store slice backing the admin surface. Satisfied by
// *store.Store.
type Directory interface {
	GetUser(userID string) (*store.User, error)
	ListUsers() ([]store.User, error)
	CreateUser(u store.User) error
	UpdateUserTier(userID, tier string) error
	GetBan(userID string) (*store.Ban, error)
	LiftBan(userID string) error
	ActiveBannedUsers(now time.Time) ([]string, error)
	RecentAnomalies(since time.Time, limit int) ([]store.Anomaly, error)
	AnomaliesByUser(userID string, limit int) ([]store.Anomaly, error)
	DetectionCount() (int64, error)
	DeviceNames() (map[string]string, error)
}

// Options holds the dependencies for a Server.
type Options struct {
	Sessions    Sessions
	Filter      Filter
	Policy      *policy.Manager
	Directory   Directory
	Metrics     *metrics.Metrics
	Logger      *logging.Logger
	Clock       clock.Clock
	TokenSecret string
	TokenTTL    time.Duration
}

// Server handles portal and admin API requests.
type Server struct {
	sessions    Sessions
	filter      Filter
	policy      *policy.Manager
	dir         Directory
	metrics     *metrics.Metrics
	logger      *logging.Logger
	clock       clock.Clock
	tokenSecret []byte
	tokenTTL    time.Duration

	router *mux.Router
	http   *http.Server
}

// NewServer wires the router. TokenSecret must be non-empty.
func NewServer(opts Options) (*Server, error) {
	if opts.TokenSecret == "" {
		return nil, errors.New(errors.KindValidation, "token secret is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	s := &Server{
		sessions:    opts.Sessions,
		filter:      opts.Filter,
		policy:      opts.Policy,
		dir:         opts.Directory,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "gateway"),
		clock:       clk,
		tokenSecret: []byte(opts.TokenSecret),
		tokenTTL:    ttl,
	}
	s.initRoutes()
	return s, nil
}

func (s *Server) initRoutes() {
	r := mux.NewRouter()
	r.Use(s.lanOnly)

	r.HandleFunc("/api/login", s.handleLogin).Methods("POST")
	r.HandleFunc("/api/logout", s.requireAuth(s.handleLogout)).Methods("POST")
	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.HandleFunc("/filter", s.requireAdmin(s.handleGetFilter)).Methods("GET")
	admin.HandleFunc("/filter/sites", s.requireAdmin(s.handleAddSite)).Methods("POST")
	admin.HandleFunc("/filter/sites/{hostname}", s.requireAdmin(s.handleRemoveSite)).Methods("DELETE")
	admin.HandleFunc("/filter/categories/{name}", s.requireAdmin(s.handleSetCategory)).Methods("PATCH")
	admin.HandleFunc("/clients", s.requireAdmin(s.handleListClients)).Methods("GET")
	admin.HandleFunc("/clients", s.requireAdmin(s.handleCreateClient)).Methods("POST")
	admin.HandleFunc("/clients/{id}", s.requireAdmin(s.handleUpdateClient)).Methods("PATCH")
	admin.HandleFunc("/anomalies", s.requireAdmin(s.handleAnomalies)).Methods("GET")
	admin.HandleFunc("/stats", s.requireAdmin(s.handleStats)).Methods("GET")

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")

	s.router = r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves HTTP on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("listening", "addr", addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// lanOnly rejects requests that do not originate from a private or loopback
// address. The gateway has no business being reachable from the uplink side.
func (s *Server) lanOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !(ip.IsLoopback() || ip.IsPrivate()) {
			s.logger.Warn("rejected non-LAN request", "remote", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("encode response", "error", err)
		}
	}
}

// respondError maps error kinds onto HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetKind(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindNotAuthenticated:
		status = http.StatusUnauthorized
	case errors.KindBanned:
		status = http.StatusForbidden
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindConflict:
		status = http.StatusConflict
	case errors.KindFilterInstall, errors.KindStoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, errors.KindValidation, "decode request body")
	}
	return nil
}
