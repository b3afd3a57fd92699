package server

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/bobmcallan/revisor/internal/app"
	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/services/report"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/config/fmp-key", s.handleSetAPIKey)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)
	mux.HandleFunc("/debug/memstats", s.handleMemstats)
	mux.HandleFunc("/api/universes", s.handleUniverses)
	mux.HandleFunc("/api/exports", s.handleExports)

	// Snapshots and revisions
	mux.HandleFunc("/api/snapshots/status", s.handleSnapshotStatus)
	mux.HandleFunc("/api/snapshots/", s.handleSnapshotHistory)
	mux.HandleFunc("/api/capture/last", s.handleLastCapture)
	mux.HandleFunc("/api/capture", s.handleCapture)
	mux.HandleFunc("/api/revisions/compare", s.handleRevisionCompare)
	mux.HandleFunc("/api/revisions/sectors", s.handleRevisionSectors)
	mux.HandleFunc("/api/revisions/trends", s.handleRevisionTrends)
	mux.HandleFunc("/api/revisions/", s.routeRevisions)

	// Ranking scans
	mux.HandleFunc("/api/scans/ws", s.handleScanEvents)
	mux.HandleFunc("/api/scans/latest", s.handleScanLatest)
	mux.HandleFunc("/api/scans/", s.routeScans)
	mux.HandleFunc("/api/scans", s.handleScans)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	info := common.GetVersionInfo()
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": info.Version,
		"build":   info.Build,
		"commit":  info.GitCommit,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	cfg := s.app.Config

	storedKey, _ := s.app.Storage.InternalStore().GetSystemKV(ctx, app.FMPKeyName)
	backend, location := s.app.Storage.SnapshotStore().Describe()

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"environment":      cfg.Environment,
		"fmp_configured":   s.app.HasFMP(),
		"fmp_key_stored":   maskSecret(storedKey),
		"fmp_base_url":     cfg.Clients.FMP.BaseURL,
		"snapshot_backend": backend,
		"snapshot_store":   location,
		"internal_path":    cfg.Storage.Internal.Path,
		"scan": map[string]interface{}{
			"max_workers":   cfg.Scan.MaxWorkers,
			"revision_days": cfg.Scan.RevisionDays,
			"top_n":         cfg.Scan.TopN,
		},
		"capture": map[string]interface{}{
			"enabled":  cfg.Capture.Enabled,
			"schedule": cfg.Capture.Schedule,
			"universe": cfg.Capture.Universe,
		},
		"logging_level": cfg.Logging.Level,
	})
}

// handleSetAPIKey handles POST /api/config/fmp-key.
func (s *Server) handleSetAPIKey(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		APIKey string `json:"api_key"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	body.APIKey = strings.TrimSpace(body.APIKey)
	if body.APIKey == "" {
		WriteError(w, http.StatusBadRequest, "api_key is required")
		return
	}
	if err := s.app.SetAPIKey(r.Context(), body.APIKey); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"fmp_configured": true})
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

func (s *Server) handleMemstats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"goroutines":    runtime.NumGoroutine(),
		"alloc_mb":      float64(m.Alloc) / 1024 / 1024,
		"heap_inuse_mb": float64(m.HeapInuse) / 1024 / 1024,
		"sys_mb":        float64(m.Sys) / 1024 / 1024,
		"num_gc":        m.NumGC,
		"uptime":        time.Since(s.app.StartupTime).Round(time.Second).String(),
	})
}

func (s *Server) handleUniverses(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"universes": s.app.UniverseService.Available(),
	})
}

// handleExports handles GET /api/exports?kind=rankings|charts|universes.
func (s *Server) handleExports(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = report.KindRankings
	}
	switch kind {
	case report.KindRankings, report.KindCharts, report.KindUniverses:
	default:
		WriteError(w, http.StatusBadRequest, "kind must be rankings, charts or universes")
		return
	}
	files, err := s.app.ReportService.ListExports(r.Context(), kind)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"kind": kind, "files": files})
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
