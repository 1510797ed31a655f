package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/archive"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/knmi"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/migrate"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, outputDir string, db *sql.DB) *httptest.Server {
	t.Helper()

	srv := NewServer(":0", NewMux(outputDir, db), quietLogger())
	ts := httptest.NewServer(srv.Handler)

	t.Cleanup(ts.Close)
	return ts
}

func mustGetJSON[T any](t *testing.T, client *http.Client, url string, out *T) *http.Response {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return resp
}

func setupArchive(t *testing.T) (*sql.DB, string) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := migrate.Run(ctx, db, quietLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := archive.NewRepository(db, quietLogger())
	if err := repo.UpsertStation(ctx, knmi.Station{ID: 260, Name: "De Bilt"}); err != nil {
		t.Fatalf("upsert station: %v", err)
	}
	runID, err := repo.InsertRun(ctx, archive.Run{Start: "20240101", End: "20240101", Variables: []string{"TEMP"}, RowCount: 3})
	if err != nil {
		t.Fatalf("insert run: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var readings []archive.Reading
	for i := 0; i < 3; i++ {
		v := float64(i)
		readings = append(readings, archive.Reading{StationID: 260, Time: base.Add(time.Duration(i) * time.Hour), TemperatureC: &v})
	}
	if _, err := repo.InsertReadings(ctx, runID, readings); err != nil {
		t.Fatalf("insert readings: %v", err)
	}
	return db, runID
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, t.TempDir(), nil)

	var body map[string]string
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q; want ok", body["status"])
	}
}

func TestHealthz_ClosedDB(t *testing.T) {
	db, _ := setupArchive(t)
	ts := newTestServer(t, t.TempDir(), db)
	_ = db.Close()

	var body map[string]any
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d; want 500", resp.StatusCode)
	}
}

func TestServesOutputDir(t *testing.T) {
	dir := t.TempDir()
	name := "KNMI_data_De Bilt_TEMP_20240101_20241231.html"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("<html>chart</html>"), 0o644); err != nil {
		t.Fatalf("write chart: %v", err)
	}
	ts := newTestServer(t, dir, nil)

	resp, err := ts.Client().Get(ts.URL + "/" + strings.ReplaceAll(name, " ", "%20"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "<html>chart</html>" {
		t.Errorf("status=%d body=%q", resp.StatusCode, body)
	}

	missing, err := ts.Client().Get(ts.URL + "/nope.html")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing file status = %d; want 404", missing.StatusCode)
	}
}

func TestArchiveAPI_DisabledWithoutDB(t *testing.T) {
	ts := newTestServer(t, t.TempDir(), nil)
	resp, err := ts.Client().Get(ts.URL + "/api/stations")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d; want 404", resp.StatusCode)
	}
}

func TestArchiveAPI(t *testing.T) {
	db, runID := setupArchive(t)
	ts := newTestServer(t, t.TempDir(), db)
	client := ts.Client()

	var stations []stationJSON
	mustGetJSON(t, client, ts.URL+"/api/stations", &stations)
	if len(stations) != 1 || stations[0].ID != 260 || stations[0].Name != "De Bilt" {
		t.Errorf("stations = %+v", stations)
	}

	var run runJSON
	resp := mustGetJSON(t, client, ts.URL+"/api/runs/"+runID, &run)
	if resp.StatusCode != http.StatusOK || run.ID != runID || run.RowCount != 3 {
		t.Errorf("run status=%d body=%+v", resp.StatusCode, run)
	}

	var notFound map[string]any
	resp = mustGetJSON(t, client, ts.URL+"/api/runs/unknown", &notFound)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown run status = %d; want 404", resp.StatusCode)
	}

	var page struct {
		Total    int           `json:"total"`
		Limit    int           `json:"limit"`
		Readings []readingJSON `json:"readings"`
	}
	resp = mustGetJSON(t, client, ts.URL+"/api/runs/"+runID+"/stations/260/readings?limit=2&offset=1", &page)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readings status = %d", resp.StatusCode)
	}
	if page.Total != 3 || page.Limit != 2 || len(page.Readings) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if *page.Readings[0].TemperatureC != 1 {
		t.Errorf("first reading = %v, want 1", *page.Readings[0].TemperatureC)
	}
}

func TestArchiveAPI_TotalFollowsRange(t *testing.T) {
	db, runID := setupArchive(t)
	ts := newTestServer(t, t.TempDir(), db)
	base := ts.URL + "/api/runs/" + runID + "/stations/260/readings"

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "no range", query: "", want: 3},
		{name: "from", query: "?from=2024-01-01T02:00:00Z", want: 1},
		{name: "to", query: "?to=2024-01-01T01:00:00Z", want: 2},
		{name: "from and to", query: "?from=2024-01-01T01:00:00Z&to=2024-01-01T01:00:00Z", want: 1},
		{name: "empty range", query: "?from=2024-02-01T00:00:00Z", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var page struct {
				Total    int           `json:"total"`
				Readings []readingJSON `json:"readings"`
			}
			resp := mustGetJSON(t, ts.Client(), base+tt.query, &page)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if page.Total != tt.want {
				t.Errorf("total = %d, want %d", page.Total, tt.want)
			}
			if len(page.Readings) != tt.want {
				t.Errorf("got %d readings, want %d", len(page.Readings), tt.want)
			}
		})
	}
}

func TestArchiveAPI_BadParams(t *testing.T) {
	db, runID := setupArchive(t)
	ts := newTestServer(t, t.TempDir(), db)

	for _, q := range []string{
		"/stations/abc/readings",
		"/stations/260/readings?limit=0",
		"/stations/260/readings?limit=x",
		"/stations/260/readings?offset=-1",
		"/stations/260/readings?from=yesterday",
		"/stations/260/readings?from=2024-01-02T00:00:00Z&to=2024-01-01T00:00:00Z",
	} {
		resp, err := ts.Client().Get(ts.URL + "/api/runs/" + runID + q)
		if err != nil {
			t.Fatalf("get %s: %v", q, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d; want 400", q, resp.StatusCode)
		}
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), logger)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line: %v", err)
	}
	if rec["msg"] != "http request" || rec["path"] != "/brew" || rec["status"] != float64(http.StatusTeapot) {
		t.Errorf("log record = %v", rec)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(ln.Addr().String(), NewMux(t.TempDir(), nil), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, ln, quietLogger()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
