// Package server is the thin HTTP glue binding the orchestrator's internal
// packages to the control plane's JSON/WebSocket API surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/proximityhq/proximity/internal/appliance"
	"github.com/proximityhq/proximity/internal/catalog"
	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/events"
	"github.com/proximityhq/proximity/internal/ipam"
	"github.com/proximityhq/proximity/internal/lifecycle"
	"github.com/proximityhq/proximity/internal/pipeline"
	"github.com/proximityhq/proximity/internal/proxmox"
	"github.com/proximityhq/proximity/internal/secrets"
	"github.com/proximityhq/proximity/internal/store"
)

// Server is the control plane's HTTP server: it wires the orchestrator's
// internal packages to the API surface and owns nothing but that wiring.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	catalog   *catalog.Catalog
	lifecycle *lifecycle.Controller
	pipeline  *pipeline.Pipeline
	appliance *appliance.Manager
	ipam      *ipam.Registry
	events    *events.Hub
	pxm       *proxmox.Manager
	cipher    *secrets.Cipher

	http *http.Server
}

// Deps bundles every collaborator New needs. Every field must be set by
// the caller (typically cmd/proximity's serve command) before the Server
// can route a request.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Catalog   *catalog.Catalog
	Lifecycle *lifecycle.Controller
	Pipeline  *pipeline.Pipeline
	Appliance *appliance.Manager
	IPAM      *ipam.Registry
	Events    *events.Hub
	Proxmox   *proxmox.Manager
	Cipher    *secrets.Cipher
}

// New builds a Server and its routing table from deps.
func New(deps Deps) *Server {
	s := &Server{
		cfg:       deps.Config,
		store:     deps.Store,
		catalog:   deps.Catalog,
		lifecycle: deps.Lifecycle,
		pipeline:  deps.Pipeline,
		appliance: deps.Appliance,
		ipam:      deps.IPAM,
		events:    deps.Events,
		pxm:       deps.Proxmox,
		cipher:    deps.Cipher,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/catalog", s.handleListCatalog)
	mux.HandleFunc("GET /api/catalog/search", s.handleSearchCatalog)
	mux.HandleFunc("GET /api/catalog/{id}", s.handleGetCatalogApp)
	mux.HandleFunc("POST /api/catalog/reload", s.withAuth(s.handleCatalogReload))

	mux.HandleFunc("GET /api/apps", s.withAuth(s.handleListApps))
	mux.HandleFunc("POST /api/apps", s.withAuth(s.handleCreateApp))
	mux.HandleFunc("GET /api/apps/{id}", s.withAuth(s.handleGetApp))
	mux.HandleFunc("DELETE /api/apps/{id}", s.withAuth(s.handleDeleteApp))
	mux.HandleFunc("POST /api/apps/{id}/action", s.withAuth(s.handleAppAction))
	mux.HandleFunc("POST /api/apps/{id}/clone", s.withAuth(s.handleCloneApp))
	mux.HandleFunc("POST /api/apps/{id}/update", s.withAuth(s.handleUpdateApp))
	mux.HandleFunc("POST /api/apps/{id}/resize", s.withAuth(s.handleResizeApp))
	mux.HandleFunc("GET /api/apps/{id}/logs", s.withAuth(s.handleAppLogs))
	mux.HandleFunc("GET /api/apps/{id}/stats", s.withAuth(s.handleAppStats))
	mux.HandleFunc("GET /api/apps/{id}/events", s.withAuth(s.handleAppEvents))
	mux.HandleFunc("GET /api/apps/{id}/shell", s.withAuth(s.handleAppShell))
	mux.HandleFunc("GET /api/apps/{id}/shell/logs", s.withAuth(s.handleAppShellLogs))

	mux.HandleFunc("GET /api/apps/{id}/backups", s.withAuth(s.handleListBackups))
	mux.HandleFunc("POST /api/apps/{id}/backups", s.withAuth(s.handleCreateBackup))
	mux.HandleFunc("POST /api/apps/{id}/backups/{bid}/restore", s.withAuth(s.handleRestoreBackup))
	mux.HandleFunc("DELETE /api/apps/{id}/backups/{bid}", s.withAuth(s.handleDeleteBackup))

	mux.HandleFunc("GET /api/core/settings/resources", s.withAuth(s.handleGetResourceSettings))
	mux.HandleFunc("POST /api/core/settings/resources", s.withAuth(s.handleUpdateResourceSettings))
	mux.HandleFunc("GET /api/core/settings/network", s.withAuth(s.handleGetNetworkSettings))
	mux.HandleFunc("POST /api/core/settings/network", s.withAuth(s.handleUpdateNetworkSettings))

	if deps.Config.Auth.Mode == config.AuthModePassword {
		mux.HandleFunc("POST /api/auth/login", s.handleLogin)
		mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
		mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)
		mux.HandleFunc("POST /api/auth/terminal-token", s.withAuth(s.handleTerminalToken))
	}

	var handler http.Handler = mux
	handler = maxBodyMiddleware(handler, 1<<20)
	handler = corsMiddleware(handler)
	handler = logMiddleware(handler)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", deps.Config.Service.BindAddress, deps.Config.Service.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // long-poll websocket routes need no write deadline
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

func maxBodyMiddleware(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && strings.HasPrefix(r.URL.Path, "/api/") && r.Method != "GET" &&
			!strings.Contains(r.Header.Get("Upgrade"), "websocket") {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		fmt.Printf("[%s] %s %s %s\n", time.Now().Format("15:04:05"), r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, r.Host) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Upgrade, Connection")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether an Origin header's host exactly matches
// the server's own r.Host, or is a localhost/127.0.0.1 development
// origin. Comparing hosts after parsing (rather than a raw string prefix
// match on the Origin header) rules out a lookalike origin such as
// "http://<host>.evil.com" satisfying a prefix check.
func originAllowed(origin, requestHost string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Host == requestHost {
		return true
	}
	hostname := u.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1"
}

// allowedOriginPatterns returns WebSocket origin patterns matching the
// server's own host, for nhooyr.io/websocket's Accept origin check.
func (s *Server) allowedOriginPatterns(r *http.Request) []string {
	patterns := []string{"localhost:*", "127.0.0.1:*"}
	if host := r.Host; host != "" {
		h := host
		if idx := strings.LastIndex(h, ":"); idx > 0 {
			h = h[:idx]
		}
		patterns = append(patterns, h+":*", host)
	}
	return patterns
}
