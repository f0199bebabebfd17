// Package web provides the browser chat interface and a small runtime
// dashboard.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/toolchat/internal/agent"
	"github.com/nugget/toolchat/internal/buildinfo"
	"github.com/nugget/toolchat/internal/usage"
)

//go:embed static/*
var staticFiles embed.FS

// UsageFunc returns usage totals and per-model totals for a window.
type UsageFunc func(start, end time.Time) (*usage.Summary, map[string]*usage.Summary, error)

// Config wires the dashboard to its data sources. Nil sources render
// as empty sections.
type Config struct {
	BrandName string
	Sessions  func() []agent.SessionInfo
	Usage     UsageFunc
	Logger    *slog.Logger
}

// WebServer serves the chat UI and dashboard pages.
type WebServer struct {
	brandName string
	sessions  func() []agent.SessionInfo
	usage     UsageFunc
	logger    *slog.Logger
	templates map[string]*template.Template
	static    http.Handler
}

// NewWebServer parses templates and prepares the static file server.
// It panics if the embedded templates are malformed.
func NewWebServer(cfg Config) *WebServer {
	if cfg.BrandName == "" {
		cfg.BrandName = "toolchat"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Strip the "static" prefix from embedded files
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}

	return &WebServer{
		brandName: cfg.BrandName,
		sessions:  cfg.Sessions,
		usage:     cfg.Usage,
		logger:    cfg.Logger,
		templates: loadTemplates(),
		static:    http.FileServer(http.FS(subFS)),
	}
}

// RegisterRoutes adds the chat UI and dashboard routes to a mux.
func (s *WebServer) RegisterRoutes(mux *http.ServeMux) {
	// FileServer answers "/" with index.html; asking for /index.html
	// directly would redirect back here.
	mux.Handle("GET /{$}", s.static)
	mux.Handle("GET /static/", http.StripPrefix("/static", s.static))
	mux.HandleFunc("GET /dashboard", s.handleDashboard)
}

// DashboardData is the template context for the runtime overview page.
type DashboardData struct {
	PageData
	Uptime   time.Duration
	Sessions []agent.SessionInfo
	Today    *usage.Summary
	ByModel  map[string]*usage.Summary
	Build    map[string]string
}

// handleDashboard renders live conversations and the last day of usage.
func (s *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{
		PageData: PageData{BrandName: s.brandName, ActiveNav: "dashboard"},
		Uptime:   buildinfo.Uptime(),
		Build:    buildinfo.BuildInfo(),
	}
	if s.sessions != nil {
		data.Sessions = s.sessions()
	}
	if s.usage != nil {
		end := time.Now()
		total, byModel, err := s.usage(end.Add(-24*time.Hour), end)
		if err != nil {
			s.logger.Warn("usage summary unavailable", "error", err)
		}
		data.Today, data.ByModel = total, byModel
	}
	s.render(w, r, "dashboard.html", data)
}
