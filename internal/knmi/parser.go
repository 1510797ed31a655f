package knmi

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

type section int

const (
	sectionDisclaimer section = iota
	sectionStations
	sectionLegend
	sectionData
)

var (
	stationHeaderRe = regexp.MustCompile(`^STN\s+LON`)
	variableRe      = regexp.MustCompile(`^([A-Z][A-Z0-9]*)\s*=\s*(.+)$`)
)

var intColumns = map[string]bool{
	ColStation: true,
	ColDate:    true,
	ColHour:    true,
}

// ParseHourly parses the commented CSV returned by the hourly endpoint:
//
//	# BRON: KONINKLIJK NEDERLANDS METEOROLOGISCH INSTITUUT (KNMI)
//	#
//	# STN         LON(east)   LAT(north)  ALT(m)      NAME
//	# 260         5.180       52.100      1.90        De Bilt
//	#
//	# T         = Temperatuur (in 0.1 graden Celsius) ...
//	#
//	# STN,YYYYMMDD,   HH,    T, T10N,   TD
//	#
//	  260,20240101,    1,   81,     ,   61
//
// Blank data fields become NaN.
func ParseHourly(r io.Reader) (*Result, error) {
	res := &Result{Stations: make(map[int]Station)}

	var (
		disclaimer []string
		header     []string
		columns    [][]string
		state      = sectionDisclaimer
		lineNo     int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if body, ok := strings.CutPrefix(line, "#"); ok {
			body = strings.TrimSpace(body)
			switch {
			case body == "":
				if state == sectionDisclaimer || state == sectionStations {
					state = sectionLegend
				}
			case strings.HasPrefix(body, ColStation+","):
				header = splitFields(body)
				columns = make([][]string, len(header))
				state = sectionData
			case stationHeaderRe.MatchString(body):
				state = sectionStations
			case state == sectionDisclaimer:
				disclaimer = append(disclaimer, body)
			case state == sectionStations:
				st, err := parseStation(body)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				res.Stations[st.ID] = st
			case state == sectionLegend:
				if m := variableRe.FindStringSubmatch(body); m != nil {
					res.Variables = append(res.Variables, Variable{Name: m[1], Description: strings.TrimSpace(m[2])})
				}
			}
			continue
		}

		if header == nil {
			return nil, fmt.Errorf("line %d: data row before column header", lineNo)
		}
		fields := splitFields(line)
		if len(fields) != len(header) {
			return nil, fmt.Errorf("line %d: got %d fields, header has %d", lineNo, len(fields), len(header))
		}
		for i, f := range fields {
			columns[i] = append(columns[i], f)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read hourly data: %w", err)
	}

	res.Disclaimer = strings.Join(disclaimer, "\n")

	frame, err := buildFrame(header, columns)
	if err != nil {
		return nil, err
	}
	res.Observations = frame
	return res, nil
}

func splitFields(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseStation(body string) (Station, error) {
	f := strings.Fields(body)
	if len(f) < 5 {
		return Station{}, fmt.Errorf("station row %q: want 5 fields, got %d", body, len(f))
	}
	id, err := strconv.Atoi(strings.TrimSuffix(f[0], ":"))
	if err != nil {
		return Station{}, fmt.Errorf("station id %q: %w", f[0], err)
	}
	nums := make([]float64, 3)
	for i := range nums {
		nums[i], err = strconv.ParseFloat(f[i+1], 64)
		if err != nil {
			return Station{}, fmt.Errorf("station %d field %d %q: %w", id, i+2, f[i+1], err)
		}
	}
	return Station{
		ID:        id,
		Longitude: nums[0],
		Latitude:  nums[1],
		Altitude:  nums[2],
		Name:      strings.Join(f[4:], " "),
	}, nil
}

func buildFrame(header []string, columns [][]string) (dataframe.DataFrame, error) {
	if header == nil {
		return dataframe.DataFrame{}, nil
	}

	cols := make([]series.Series, 0, len(header))
	for i, name := range header {
		if intColumns[name] {
			vals := make([]int, len(columns[i]))
			for j, raw := range columns[i] {
				v, err := strconv.Atoi(raw)
				if err != nil {
					return dataframe.DataFrame{}, fmt.Errorf("row %d column %s: %w", j+1, name, err)
				}
				vals[j] = v
			}
			cols = append(cols, series.New(vals, series.Int, name))
			continue
		}

		vals := make([]float64, len(columns[i]))
		for j, raw := range columns[i] {
			if raw == "" {
				vals[j] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return dataframe.DataFrame{}, fmt.Errorf("row %d column %s: %w", j+1, name, err)
			}
			vals[j] = v
		}
		cols = append(cols, series.New(vals, series.Float, name))
	}

	df := dataframe.New(cols...)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("build observation table: %w", df.Err)
	}
	return df, nil
}
