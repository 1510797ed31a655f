package knmi

import (
	"strconv"
	"time"

	"github.com/go-gota/gota/dataframe"
)

// Column names of the hourly observation table.
const (
	ColStation = "STN"
	ColDate    = "YYYYMMDD"
	ColHour    = "HH"
)

// DefaultStationNames labels the stations used most often when a response
// carries no station block.
var DefaultStationNames = map[int]string{
	250: "Terschelling",
	260: "De Bilt",
	380: "Maastricht",
	616: "Amsterdam",
}

// Station is one row of the station block.
type Station struct {
	ID        int
	Longitude float64
	Latitude  float64
	Altitude  float64
	Name      string
}

// Variable is one row of the variable legend, e.g. T = "Temperatuur (in 0.1 graden Celsius) ...".
type Variable struct {
	Name        string
	Description string
}

// HourlyRequest configures an hourly data query.
type HourlyRequest struct {
	// Stations to query; empty means all stations.
	Stations []int

	// Inclusive day range. Only the date part is used.
	Start time.Time
	End   time.Time

	// InSeason limits every year in the range to the Start..End day window.
	InSeason bool

	// Variables or variable groups (TEMP, WIND, ...); empty means all.
	Variables []string

	// Parse controls whether the body is parsed into a Result. When false
	// only Result.Raw is set.
	Parse bool
}

// Result is a parsed hourly response.
type Result struct {
	Disclaimer   string
	Stations     map[int]Station
	Variables    []Variable
	Observations dataframe.DataFrame
	Raw          string
}

// StationName returns the station's name from the response, falling back to
// DefaultStationNames and finally the numeric id.
func (r *Result) StationName(id int) string {
	if r != nil {
		if s, ok := r.Stations[id]; ok && s.Name != "" {
			return s.Name
		}
	}
	if name, ok := DefaultStationNames[id]; ok {
		return name
	}
	return strconv.Itoa(id)
}
