package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bobmcallan/revisor/internal/services/estimates"
	"github.com/bobmcallan/revisor/internal/services/report"
	"github.com/bobmcallan/revisor/internal/services/universe"
)

// handleSnapshotStatus handles GET /api/snapshots/status.
func (s *Server) handleSnapshotStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	status, err := s.app.EstimatesService.Status(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if WantsMarkdown(r) {
		WriteMarkdown(w, http.StatusOK, report.FormatTrackerStatus(status))
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// handleSnapshotHistory handles GET /api/snapshots/{ticker}.
func (s *Server) handleSnapshotHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ticker := strings.ToUpper(PathParam(r, "/api/snapshots/", ""))
	if ticker == "" {
		WriteError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	snaps, err := s.app.EstimatesService.TickerHistory(r.Context(), ticker)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(snaps) == 0 {
		WriteError(w, http.StatusNotFound, "No snapshots for "+ticker)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"ticker": ticker, "snapshots": snaps})
}

// handleCapture handles POST /api/capture {"universe": "..."}. Runs synchronously.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.app.RequireFMP(); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "FMP API key not configured")
		return
	}
	var body struct {
		Universe string `json:"universe"`
	}
	if r.ContentLength != 0 && !DecodeJSON(w, r, &body) {
		return
	}
	if body.Universe == "" {
		body.Universe = s.app.Config.Capture.Universe
	}

	result, err := s.app.JobManager.Capture(r.Context(), body.Universe)
	if err != nil {
		switch {
		case errors.Is(err, universe.ErrUnknownUniverse):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, estimates.ErrNoClient):
			WriteError(w, http.StatusServiceUnavailable, err.Error())
		default:
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// handleLastCapture handles GET /api/capture/last.
func (s *Server) handleLastCapture(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	rec := s.app.JobManager.LastCapture(r.Context())
	if rec == nil {
		WriteError(w, http.StatusNotFound, "No capture has run")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// routeRevisions dispatches /api/revisions/{ticker}[/history|/chart].
func (s *Server) routeRevisions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/revisions/"), "/")
	parts := strings.Split(rest, "/")
	ticker := strings.ToUpper(parts[0])
	if ticker == "" {
		WriteError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	switch {
	case len(parts) == 1:
		s.handleRevisionSummary(w, r, ticker)
	case len(parts) == 2 && parts[1] == "history":
		s.handleEPSHistory(w, r, ticker)
	case len(parts) == 2 && parts[1] == "chart":
		s.handleEPSChart(w, r, ticker)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// handleRevisionSummary handles GET /api/revisions/{ticker}?days=7,30&period=2025-12-31.
// With period set, only that fiscal period is compared over the first window.
func (s *Server) handleRevisionSummary(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	days, err := parseIntList(r.URL.Query().Get("days"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "days: "+err.Error())
		return
	}

	if period := strings.TrimSpace(r.URL.Query().Get("period")); period != "" {
		window := s.app.Config.Scan.RevisionDays[0]
		if len(days) > 0 {
			window = days[0]
		}
		rev, err := s.app.EstimatesService.GetRevision(r.Context(), ticker, period, window)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if rev == nil {
			WriteError(w, http.StatusNotFound, "Not enough snapshot history for "+ticker)
			return
		}
		WriteJSON(w, http.StatusOK, rev)
		return
	}

	summary, err := s.app.EstimatesService.GetRevisionsSummary(r.Context(), ticker, days)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summary == nil {
		WriteError(w, http.StatusNotFound, "No snapshot history for "+ticker)
		return
	}
	if WantsMarkdown(r) {
		WriteMarkdown(w, http.StatusOK, report.FormatRevisionSummary(summary))
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

func (s *Server) handleEPSHistory(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	points, err := s.app.EstimatesService.EPSHistory(r.Context(), ticker)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(points) == 0 {
		WriteError(w, http.StatusNotFound, "No snapshot history for "+ticker)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"ticker": ticker, "points": points})
}

// handleEPSChart handles GET /api/revisions/{ticker}/chart[?save=true] and returns a PNG.
func (s *Server) handleEPSChart(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	points, err := s.app.EstimatesService.EPSHistory(ctx, ticker)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(points) < 2 {
		WriteError(w, http.StatusNotFound, "Need at least 2 snapshot dates to chart "+ticker)
		return
	}
	png, err := estimates.RenderEPSHistoryChart(ticker, points)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if r.URL.Query().Get("save") == "true" {
		if path, err := s.app.ReportService.SaveChart(ctx, ticker, png); err != nil {
			s.logger.Warn().Str("ticker", ticker).Err(err).Msg("Failed to save chart")
		} else {
			w.Header().Set("X-Export-Path", path)
		}
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleRevisionCompare handles GET /api/revisions/compare?from=&to=&tickers=A,B.
func (s *Server) handleRevisionCompare(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	from, err := queryDate(r, "from")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.app.EstimatesService.CompareDates(r.Context(), from, to, splitList(r.URL.Query().Get("tickers")))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if WantsMarkdown(r) {
		WriteMarkdown(w, http.StatusOK, report.FormatComparison(from, to, rows))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"from": from, "to": to, "rows": rows})
}

// handleRevisionSectors handles GET /api/revisions/sectors?from=&to=&universe=sp500.
func (s *Server) handleRevisionSectors(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	from, err := queryDate(r, "from")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.URL.Query().Get("universe")
	if name == "" {
		name = universe.SP500
	}

	entries, err := s.app.UniverseService.Load(ctx, name)
	if err != nil {
		if errors.Is(err, universe.ErrUnknownUniverse) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sectors := universe.SectorMap(entries)
	if len(sectors) == 0 {
		WriteError(w, http.StatusBadRequest, "Universe "+name+" has no sector data")
		return
	}

	rows, err := s.app.EstimatesService.SectorSummary(ctx, from, to, sectors)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if WantsMarkdown(r) {
		WriteMarkdown(w, http.StatusOK, report.FormatSectorSummary(rows))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"universe": name, "sectors": rows})
}

// handleRevisionTrends handles GET /api/revisions/trends?min_days=30&positive=true.
func (s *Server) handleRevisionTrends(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	minDays, err := queryInt(r, "min_days", 30)
	if err != nil || minDays < 1 {
		WriteError(w, http.StatusBadRequest, "min_days must be a positive integer")
		return
	}
	onlyPositive := r.URL.Query().Get("positive") == "true"

	trends, err := s.app.EstimatesService.ScreenPositiveTrends(r.Context(), minDays)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if WantsMarkdown(r) {
		WriteMarkdown(w, http.StatusOK, report.FormatTrends(trends, onlyPositive))
		return
	}
	if onlyPositive {
		kept := trends[:0]
		for _, t := range trends {
			if t.AllFYPositive {
				kept = append(kept, t)
			}
		}
		trends = kept
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"min_days": minDays, "trends": trends})
}
