package archive

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/knmi"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/migrate"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/table"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	if err := migrate.Run(context.Background(), db, quietLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

var (
	deBilt     = knmi.Station{ID: 260, Name: "De Bilt", Longitude: 5.18, Latitude: 52.1, Altitude: 1.9}
	maastricht = knmi.Station{ID: 380, Name: "Maastricht", Longitude: 5.762, Latitude: 50.906, Altitude: 114.3}
	jan1       = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func ptr(v float64) *float64 { return &v }

var endOfTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

func TestGetStations_Empty(t *testing.T) {
	repo := NewRepository(setupTestDB(t), quietLogger())
	stations, err := repo.GetStations(context.Background())
	if err != nil {
		t.Fatalf("GetStations: %v", err)
	}
	if len(stations) != 0 {
		t.Fatalf("GetStations: got %d stations, want 0", len(stations))
	}
}

func TestUpsertStation(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), quietLogger())

	if err := repo.UpsertStation(ctx, maastricht); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}
	if err := repo.UpsertStation(ctx, knmi.Station{ID: 260, Name: "Bilt"}); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}
	if err := repo.UpsertStation(ctx, deBilt); err != nil {
		t.Fatalf("UpsertStation again: %v", err)
	}

	stations, err := repo.GetStations(ctx)
	if err != nil {
		t.Fatalf("GetStations: %v", err)
	}
	if len(stations) != 2 {
		t.Fatalf("got %d stations, want 2", len(stations))
	}
	// ordered by id
	if stations[0] != deBilt {
		t.Errorf("first station = %+v, want %+v", stations[0], deBilt)
	}
	if stations[1].ID != 380 || stations[1].Name != "Maastricht" {
		t.Errorf("second station = %+v", stations[1])
	}

	if err := repo.UpsertStation(ctx, knmi.Station{Name: "no id"}); err == nil {
		t.Error("UpsertStation without id: error = nil")
	}
}

func TestInsertRun_GetRun(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), quietLogger())

	id, err := repo.InsertRun(ctx, Run{
		Start:       "20240101",
		End:         "20241231",
		Variables:   []string{"TEMP"},
		RowCount:    8784,
		Spreadsheet: "KNMI_data_TEMP_20240101_20241231.xlsx",
	})
	if err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("run id %q is not a uuid: %v", id, err)
	}

	run, err := repo.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Start != "20240101" || run.RowCount != 8784 || len(run.Variables) != 1 || run.Variables[0] != "TEMP" {
		t.Errorf("run = %+v", run)
	}
	if run.Chart != "" {
		t.Errorf("Chart = %q, want empty", run.Chart)
	}
	if run.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}

	if _, err := repo.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrRunNotFound", err)
	}
}

func TestInsertReadings(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), quietLogger())

	if err := repo.UpsertStation(ctx, deBilt); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}
	runID, err := repo.InsertRun(ctx, Run{ID: "run-1", Start: "20240101", End: "20240101", Variables: []string{"TEMP"}})
	if err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	readings := []Reading{
		{StationID: 260, Time: jan1, TemperatureC: ptr(8.1), DewPointC: ptr(6.1)},
		{StationID: 260, Time: jan1.Add(time.Hour), TemperatureC: ptr(7.9)},
		{StationID: 260, Time: jan1.Add(2 * time.Hour)},
	}
	n, err := repo.InsertReadings(ctx, runID, readings)
	if err != nil {
		t.Fatalf("InsertReadings: %v", err)
	}
	if n != 3 {
		t.Errorf("inserted %d, want 3", n)
	}

	count, err := repo.CountReadings(ctx, runID, 260, time.Time{}, endOfTime)
	if err != nil {
		t.Fatalf("CountReadings: %v", err)
	}
	if count != 3 {
		t.Errorf("CountReadings = %d, want 3", count)
	}

	ranged, err := repo.CountReadings(ctx, runID, 260, jan1.Add(time.Hour), endOfTime)
	if err != nil {
		t.Fatalf("CountReadings in range: %v", err)
	}
	if ranged != 2 {
		t.Errorf("CountReadings from 01:00 = %d, want 2", ranged)
	}

	got, err := repo.GetReadings(ctx, runID, 260, jan1, jan1.Add(time.Hour), 10, 0)
	if err != nil {
		t.Fatalf("GetReadings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetReadings returned %d rows, want 2", len(got))
	}
	if !got[0].Time.Equal(jan1) || *got[0].TemperatureC != 8.1 || *got[0].DewPointC != 6.1 {
		t.Errorf("first reading = %+v", got[0])
	}
	if got[1].DewPointC != nil {
		t.Errorf("second reading dew point = %v, want nil", *got[1].DewPointC)
	}

	page, err := repo.GetReadings(ctx, runID, 260, jan1, jan1.Add(24*time.Hour), 1, 2)
	if err != nil {
		t.Fatalf("GetReadings page: %v", err)
	}
	if len(page) != 1 || page[0].TemperatureC != nil {
		t.Errorf("page = %+v, want the single empty reading", page)
	}
}

func TestInsertReadings_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), quietLogger())

	if err := repo.UpsertStation(ctx, deBilt); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}
	runID, err := repo.InsertRun(ctx, Run{Start: "20240101", End: "20240101"})
	if err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	// duplicate primary key on the second row
	_, err = repo.InsertReadings(ctx, runID, []Reading{
		{StationID: 260, Time: jan1, TemperatureC: ptr(1)},
		{StationID: 260, Time: jan1, TemperatureC: ptr(2)},
	})
	if err == nil {
		t.Fatal("InsertReadings with duplicate: error = nil")
	}
	n, err := repo.CountReadings(ctx, runID, 260, time.Time{}, endOfTime)
	if err != nil {
		t.Fatalf("CountReadings: %v", err)
	}
	if n != 0 {
		t.Errorf("CountReadings after rollback = %d, want 0", n)
	}
}

func mergedTable(t *testing.T) *table.Table {
	t.Helper()
	df := dataframe.New(
		series.New([]float64{8.1, 7.9}, series.Float, "T"),
		series.New([]float64{6.1, math.NaN()}, series.Float, "TD"),
		series.New([]float64{8.1, 7.9}, series.Float, "T_260"),
		series.New([]float64{9.4, math.NaN()}, series.Float, "T_380"),
	)
	if df.Err != nil {
		t.Fatalf("frame: %v", df.Err)
	}
	return &table.Table{Index: []time.Time{jan1, jan1.Add(time.Hour)}, Frame: df}
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), quietLogger())

	runID, err := Save(ctx, repo, Snapshot{
		Run:             Run{Start: "20240101", End: "20240101", Variables: []string{"TEMP"}},
		Stations:        []knmi.Station{deBilt, maastricht},
		Table:           mergedTable(t),
		DewPointStation: 260,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	run, err := repo.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", run.RowCount)
	}

	for _, id := range []int{260, 380} {
		n, err := repo.CountReadings(ctx, runID, id, time.Time{}, endOfTime)
		if err != nil {
			t.Fatalf("CountReadings(%d): %v", id, err)
		}
		if n != 2 {
			t.Errorf("CountReadings(%d) = %d, want 2", id, n)
		}
	}

	got, err := repo.GetReadings(ctx, runID, 380, jan1, jan1.Add(time.Hour), 10, 0)
	if err != nil {
		t.Fatalf("GetReadings: %v", err)
	}
	if got[0].DewPointC != nil {
		t.Error("secondary station carries a dew point")
	}
	if got[1].TemperatureC != nil {
		t.Errorf("NaN temperature archived as %v", *got[1].TemperatureC)
	}
}

func TestTableReadings_MissingColumn(t *testing.T) {
	if _, err := TableReadings(mergedTable(t), 616, false); err == nil {
		t.Fatal("TableReadings for unknown station: error = nil")
	}
}
