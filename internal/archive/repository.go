package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/knmi"
)

//go:embed sql/upsert-station.sql
var upsertStationSQL string

//go:embed sql/insert-run.sql
var insertRunSQL string

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-stations.sql
var getStationsSQL string

//go:embed sql/get-run.sql
var getRunSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

//go:embed sql/get-readings-count.sql
var getReadingsCountSQL string

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run describes one retrieval: its date range, variables and output files.
type Run struct {
	ID          string
	Start       string
	End         string
	Variables   []string
	RowCount    int
	Spreadsheet string
	Chart       string
	Disclaimer  string
	CreatedAt   time.Time
}

// Reading is one archived hourly observation. Missing values are nil.
type Reading struct {
	StationID    int
	Time         time.Time
	TemperatureC *float64
	DewPointC    *float64
}

type Repository interface {
	UpsertStation(ctx context.Context, st knmi.Station) error
	InsertRun(ctx context.Context, run Run) (string, error)
	InsertReadings(ctx context.Context, runID string, readings []Reading) (int, error)
	GetStations(ctx context.Context) ([]knmi.Station, error)
	GetRun(ctx context.Context, id string) (Run, error)
	GetReadings(ctx context.Context, runID string, stationID int, from, to time.Time, limit, offset int) ([]Reading, error)
	CountReadings(ctx context.Context, runID string, stationID int, from, to time.Time) (int, error)
}

type repositoryImpl struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRepository(db *sql.DB, logger *slog.Logger) Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &repositoryImpl{db: db, logger: logger}
}

func (r *repositoryImpl) UpsertStation(ctx context.Context, st knmi.Station) error {
	if st.ID <= 0 {
		return fmt.Errorf("upsert station: invalid id %d", st.ID)
	}
	_, err := r.db.ExecContext(ctx, upsertStationSQL,
		st.ID, st.Name, nullFloat(st.Longitude), nullFloat(st.Latitude), nullFloat(st.Altitude))
	if err != nil {
		return fmt.Errorf("upsert station %d: %w", st.ID, err)
	}
	return nil
}

// InsertRun stores run and returns its id. A fresh UUID is assigned when
// run.ID is empty.
func (r *repositoryImpl) InsertRun(ctx context.Context, run Run) (string, error) {
	id := run.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, insertRunSQL,
		id, run.Start, run.End, strings.Join(run.Variables, ":"), run.RowCount,
		nullString(run.Spreadsheet), nullString(run.Chart), nullString(run.Disclaimer))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// InsertReadings stores readings for runID in a single transaction and
// returns how many rows were written.
func (r *repositoryImpl) InsertReadings(ctx context.Context, runID string, readings []Reading) (n int, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin readings tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback readings tx", "error", rbErr)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertReadingSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert reading: %w", err)
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			r.logger.Error("close insert reading stmt", "error", cerr)
		}
	}()

	for _, rd := range readings {
		ts := rd.Time.UTC().Format(time.RFC3339)
		if _, err := stmt.ExecContext(ctx, runID, rd.StationID, ts, floatPtrValue(rd.TemperatureC), floatPtrValue(rd.DewPointC)); err != nil {
			return 0, fmt.Errorf("insert reading station=%d ts=%s: %w", rd.StationID, ts, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit readings: %w", err)
	}
	return n, nil
}

func (r *repositoryImpl) GetStations(ctx context.Context) ([]knmi.Station, error) {
	rows, err := r.db.QueryContext(ctx, getStationsSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("close stations rows", "error", err)
		}
	}()

	var out []knmi.Station
	for rows.Next() {
		var (
			st            knmi.Station
			lon, lat, alt sql.NullFloat64
		)
		if err := rows.Scan(&st.ID, &st.Name, &lon, &lat, &alt); err != nil {
			return nil, err
		}
		st.Longitude, st.Latitude, st.Altitude = lon.Float64, lat.Float64, alt.Float64
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) GetRun(ctx context.Context, id string) (Run, error) {
	var (
		run                Run
		vars, createdAt    string
		spreadsheet, chart sql.NullString
	)
	err := r.db.QueryRowContext(ctx, getRunSQL, id).Scan(
		&run.ID, &run.Start, &run.End, &vars, &run.RowCount, &spreadsheet, &chart, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	if vars != "" {
		run.Variables = strings.Split(vars, ":")
	}
	run.Spreadsheet, run.Chart = spreadsheet.String, chart.String
	run.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func (r *repositoryImpl) GetReadings(ctx context.Context, runID string, stationID int, from, to time.Time, limit, offset int) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx, getReadingsSQL,
		runID, stationID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("close readings rows", "error", err)
		}
	}()

	var out []Reading
	for rows.Next() {
		var (
			rd       Reading
			ts       string
			temp, dp sql.NullFloat64
		)
		if err := rows.Scan(&rd.StationID, &ts, &temp, &dp); err != nil {
			return nil, err
		}
		if rd.Time, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		rd.TemperatureC = floatPtr(temp)
		rd.DewPointC = floatPtr(dp)
		out = append(out, rd)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) CountReadings(ctx context.Context, runID string, stationID int, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, getReadingsCountSQL,
		runID, stationID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)).Scan(&n)
	return n, err
}

func parseTimestamp(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	return t, nil
}

func nullFloat(v float64) interface{} {
	if v == 0 || math.IsNaN(v) {
		return nil
	}
	return v
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func floatPtrValue(p *float64) interface{} {
	if p == nil || math.IsNaN(*p) {
		return nil
	}
	return *p
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
