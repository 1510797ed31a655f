package archive

import (
	"context"
	"fmt"
	"math"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/knmi"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/table"
)

// Snapshot is everything one retrieval contributes to the archive.
type Snapshot struct {
	Run      Run
	Stations []knmi.Station
	Table    *table.Table
	// DewPointStation is the station whose dew point the merged table carries.
	DewPointStation int
}

// Save stores the stations, the run and one reading per station and hour.
// It returns the run id.
func Save(ctx context.Context, repo Repository, snap Snapshot) (string, error) {
	if snap.Table == nil {
		return "", fmt.Errorf("archive: nil table")
	}
	for _, st := range snap.Stations {
		if err := repo.UpsertStation(ctx, st); err != nil {
			return "", err
		}
	}

	run := snap.Run
	run.RowCount = snap.Table.Nrow()
	runID, err := repo.InsertRun(ctx, run)
	if err != nil {
		return "", err
	}

	var readings []Reading
	for _, st := range snap.Stations {
		rs, err := TableReadings(snap.Table, st.ID, st.ID == snap.DewPointStation)
		if err != nil {
			return "", err
		}
		readings = append(readings, rs...)
	}
	if _, err := repo.InsertReadings(ctx, runID, readings); err != nil {
		return "", err
	}
	return runID, nil
}

// TableReadings converts the T_<station> column of tbl into readings. With
// withDewPoint the table's TD column is attached as well.
func TableReadings(tbl *table.Table, stationID int, withDewPoint bool) ([]Reading, error) {
	temps, err := tbl.Series(table.TemperatureColumn(stationID))
	if err != nil {
		return nil, err
	}
	var dews []float64
	if withDewPoint {
		if dews, err = tbl.Series(table.ColDewPoint); err != nil {
			return nil, err
		}
	}

	out := make([]Reading, len(tbl.Index))
	for i, ts := range tbl.Index {
		out[i] = Reading{StationID: stationID, Time: ts, TemperatureC: present(temps, i)}
		if dews != nil {
			out[i].DewPointC = present(dews, i)
		}
	}
	return out, nil
}

func present(vals []float64, i int) *float64 {
	if i >= len(vals) || math.IsNaN(vals[i]) {
		return nil
	}
	v := vals[i]
	return &v
}
