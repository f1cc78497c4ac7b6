package httpapi

import (
	"embed"
	"net/http"
)

// dashboardHTML is the built-in status page, served unconditionally at
// GET /status; the JSON it fetches from /api/status is what gets gated by
// RequireAuth, per spec §4.8. Grounded on destiny-lucas's web.go
// go:embed SPA pattern, reduced from a built frontend bundle to a single
// static document since the dashboard has nothing to build.
//
//go:embed dashboard.html
var dashboardFS embed.FS

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	data, err := dashboardFS.ReadFile("dashboard.html")
	if err != nil {
		http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}
