package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/archive"
)

const (
	defaultReadingsLimit = 1000
	maxReadingsLimit     = 10000
)

type stationJSON struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Altitude  float64 `json:"altitude_m"`
}

type runJSON struct {
	ID          string    `json:"id"`
	Start       string    `json:"start"`
	End         string    `json:"end"`
	Variables   []string  `json:"variables"`
	RowCount    int       `json:"row_count"`
	Spreadsheet string    `json:"spreadsheet,omitempty"`
	Chart       string    `json:"chart,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type readingJSON struct {
	StationID    int       `json:"station_id"`
	Time         time.Time `json:"time"`
	TemperatureC *float64  `json:"temperature_c"`
	DewPointC    *float64  `json:"dew_point_c,omitempty"`
}

type archiveHandler struct {
	repo archive.Repository
}

func registerArchive(mux *http.ServeMux, repo archive.Repository) {
	h := &archiveHandler{repo: repo}
	mux.HandleFunc("GET /api/stations", h.handleStations)
	mux.HandleFunc("GET /api/runs/{id}", h.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/stations/{station}/readings", h.handleReadings)
}

func (h *archiveHandler) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.repo.GetStations(r.Context())
	if err != nil {
		slog.Error("get stations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stations")
		return
	}
	out := make([]stationJSON, len(stations))
	for i, s := range stations {
		out[i] = stationJSON{ID: s.ID, Name: s.Name, Longitude: s.Longitude, Latitude: s.Latitude, Altitude: s.Altitude}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *archiveHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.repo.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, archive.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		slog.Error("get run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, runJSON{
		ID:          run.ID,
		Start:       run.Start,
		End:         run.End,
		Variables:   run.Variables,
		RowCount:    run.RowCount,
		Spreadsheet: run.Spreadsheet,
		Chart:       run.Chart,
		CreatedAt:   run.CreatedAt,
	})
}

// handleReadings pages through a station's readings of one run. Query
// parameters: from, to (RFC3339), limit, offset. total counts the readings
// inside from..to.
func (h *archiveHandler) handleReadings(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	stationID, err := strconv.Atoi(r.PathValue("station"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid station id")
		return
	}

	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"), time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := parseTimeParam(q.Get("to"), time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "'from' must be <= 'to'")
		return
	}
	limit, err := parseIntParam(q.Get("limit"), defaultReadingsLimit)
	if err != nil || limit <= 0 || limit > maxReadingsLimit {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := parseIntParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	readings, err := h.repo.GetReadings(r.Context(), runID, stationID, from, to, limit, offset)
	if err != nil {
		slog.Error("get readings", "run_id", runID, "station_id", stationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	total, err := h.repo.CountReadings(r.Context(), runID, stationID, from, to)
	if err != nil {
		slog.Error("count readings", "run_id", runID, "station_id", stationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count readings")
		return
	}

	out := make([]readingJSON, len(readings))
	for i, rd := range readings {
		out[i] = readingJSON{StationID: rd.StationID, Time: rd.Time, TemperatureC: rd.TemperatureC, DewPointC: rd.DewPointC}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"readings": out,
	})
}

func parseTimeParam(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseIntParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
