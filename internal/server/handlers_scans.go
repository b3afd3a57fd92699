package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bobmcallan/revisor/internal/models"
	"github.com/bobmcallan/revisor/internal/services/jobmanager"
	"github.com/bobmcallan/revisor/internal/services/report"
)

// handleScans handles GET /api/scans?limit=N and POST /api/scans.
func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleScanList(w, r)
	case http.MethodPost:
		s.handleScanSubmit(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleScanList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.app.Storage.InternalStore().ListScanRuns(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.ScanRunSummary{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleScanSubmit queues a scan and returns 202 with the PENDING run.
func (s *Server) handleScanSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.app.RequireFMP(); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "FMP API key not configured")
		return
	}
	var opts models.ScanOptions
	if !DecodeJSON(w, r, &opts) {
		return
	}

	run, err := s.app.JobManager.Submit(r.Context(), opts)
	if err != nil {
		switch {
		case errors.Is(err, jobmanager.ErrInvalidOptions):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, jobmanager.ErrQueueFull):
			WriteErrorWithCode(w, http.StatusServiceUnavailable, err.Error(), "queue_full")
		default:
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.Header().Set("Location", "/api/scans/"+run.ID)
	WriteJSON(w, http.StatusAccepted, run.Summary())
}

// handleScanLatest handles GET /api/scans/latest[?format=markdown&top=N].
func (s *Server) handleScanLatest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	run, err := s.app.Storage.InternalStore().LatestScanRun(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		WriteError(w, http.StatusNotFound, "No scan has run")
		return
	}
	s.writeScanRun(w, r, run)
}

// routeScans dispatches /api/scans/{id}[/export|/cancel].
func (s *Server) routeScans(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/scans/"), "/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		s.handleScans(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		if run := s.loadScanRun(w, r, id); run != nil {
			s.writeScanRun(w, r, run)
		}
	case len(parts) == 2 && parts[1] == "export":
		s.handleScanExport(w, r, id)
	case len(parts) == 2 && parts[1] == "cancel":
		s.handleScanCancel(w, r, id)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) loadScanRun(w http.ResponseWriter, r *http.Request, id string) *models.ScanRun {
	run, err := s.app.Storage.InternalStore().GetScanRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrScanRunNotFound) {
			WriteError(w, http.StatusNotFound, "Scan run not found: "+id)
			return nil
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	return run
}

func (s *Server) writeScanRun(w http.ResponseWriter, r *http.Request, run *models.ScanRun) {
	if !WantsMarkdown(r) {
		WriteJSON(w, http.StatusOK, run)
		return
	}
	if run.Result == nil {
		WriteMarkdown(w, http.StatusOK, fmt.Sprintf("Scan %s is %s. %s\n", run.ID, run.State, run.Error))
		return
	}
	top, err := queryInt(r, "top", s.app.Config.Scan.TopN)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteMarkdown(w, http.StatusOK, report.FormatRankingSummary(run.Result, top))
}

// handleScanExport handles GET /api/scans/{id}/export, streaming the ranking
// workbook. POST stores it in the export directory instead.
func (s *Server) handleScanExport(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	run := s.loadScanRun(w, r, id)
	if run == nil {
		return
	}
	if run.Result == nil {
		WriteError(w, http.StatusConflict, "Scan run has no result")
		return
	}

	if r.Method == http.MethodPost {
		path, err := s.app.ReportService.ExportRanking(r.Context(), run.Result, r.URL.Query().Get("name"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]string{"path": path})
		return
	}

	data, err := report.BuildWorkbook(run.Result, s.app.Config.Scan.TopN)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.ExportFileName(run.Result.GeneratedAt)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleScanCancel handles POST /api/scans/{id}/cancel.
func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.app.JobManager.Cancel(id); err != nil {
		if errors.Is(err, jobmanager.ErrRunNotActive) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

// handleScanEvents upgrades GET /api/scans/ws to the run event stream.
func (s *Server) handleScanEvents(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	s.app.JobManager.Hub().ServeWS(w, r)
}
