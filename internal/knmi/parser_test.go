package knmi

import (
	"math"
	"strings"
	"testing"
)

const sampleHourly = `# BRON: KONINKLIJK NEDERLANDS METEOROLOGISCH INSTITUUT (KNMI)
# Opmerking: door stationsverplaatsingen en veranderingen in waarneemmethodieken zijn deze tijdreeksen van uurwaarden mogelijk inhomogeen!
#
# STN         LON(east)   LAT(north)  ALT(m)      NAME
# 260         5.180       52.100      1.90        De Bilt
#
# YYYYMMDD = datum (YYYY=jaar MM=maand DD=dag) / date (YYYY=year MM=month DD=day)
# HH       = tijd (HH=uur, UT.12 UT=13 MET, 14 MEZT.)
# T        = Temperatuur (in 0.1 graden Celsius) op 1.50 m hoogte tijdens de waarneming
# T10N     = Minimumtemperatuur (in 0.1 graden Celsius) op 10 cm hoogte in de afgelopen 6 uur
# TD       = Dauwpuntstemperatuur (in 0.1 graden Celsius) op 1.50 m hoogte tijdens de waarneming
#
# STN,YYYYMMDD,   HH,    T, T10N,   TD
#
  260,20240101,    1,   81,     ,   61
  260,20240101,    2,   79,     ,   60
  260,20240101,    3,  -12,     ,
  260,20240101,    6,   75,   52,   58
`

func TestParseHourly(t *testing.T) {
	res, err := ParseHourly(strings.NewReader(sampleHourly))
	if err != nil {
		t.Fatalf("ParseHourly() error = %v", err)
	}

	if !strings.HasPrefix(res.Disclaimer, "BRON: KONINKLIJK") {
		t.Errorf("Disclaimer = %q; want BRON line first", res.Disclaimer)
	}
	if got := strings.Count(res.Disclaimer, "\n"); got != 1 {
		t.Errorf("Disclaimer has %d newlines, want 1 (two lines)", got)
	}

	st, ok := res.Stations[260]
	if !ok {
		t.Fatalf("Stations = %v; want station 260", res.Stations)
	}
	if st.Name != "De Bilt" || st.Longitude != 5.18 || st.Latitude != 52.1 || st.Altitude != 1.9 {
		t.Errorf("station 260 = %+v", st)
	}

	var names []string
	for _, v := range res.Variables {
		names = append(names, v.Name)
	}
	if got, want := strings.Join(names, ","), "YYYYMMDD,HH,T,T10N,TD"; got != want {
		t.Errorf("variables = %s, want %s", got, want)
	}

	df := res.Observations
	if got, want := strings.Join(df.Names(), ","), "STN,YYYYMMDD,HH,T,T10N,TD"; got != want {
		t.Fatalf("columns = %s, want %s", got, want)
	}
	if df.Nrow() != 4 {
		t.Fatalf("Nrow = %d, want 4", df.Nrow())
	}

	hours, err := df.Col(ColHour).Int()
	if err != nil {
		t.Fatalf("HH as int: %v", err)
	}
	if hours[3] != 6 {
		t.Errorf("HH[3] = %d, want 6", hours[3])
	}

	temps := df.Col("T").Float()
	if temps[0] != 81 || temps[2] != -12 {
		t.Errorf("T = %v", temps)
	}
	t10n := df.Col("T10N").Float()
	if !math.IsNaN(t10n[0]) || t10n[3] != 52 {
		t.Errorf("T10N = %v; want NaN then 52", t10n)
	}
	if td := df.Col("TD").Float(); !math.IsNaN(td[2]) {
		t.Errorf("TD[2] = %v, want NaN", td[2])
	}
}

func TestParseHourly_CRLF(t *testing.T) {
	body := strings.ReplaceAll(sampleHourly, "\n", "\r\n")
	res, err := ParseHourly(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseHourly() error = %v", err)
	}
	if res.Observations.Nrow() != 4 {
		t.Errorf("Nrow = %d, want 4", res.Observations.Nrow())
	}
	if res.Stations[260].Name != "De Bilt" {
		t.Errorf("station name = %q", res.Stations[260].Name)
	}
}

func TestParseHourly_NoData(t *testing.T) {
	res, err := ParseHourly(strings.NewReader("# BRON: KNMI\n# \n"))
	if err != nil {
		t.Fatalf("ParseHourly() error = %v", err)
	}
	if res.Observations.Nrow() != 0 {
		t.Errorf("Nrow = %d, want 0", res.Observations.Nrow())
	}
	if res.Disclaimer != "BRON: KNMI" {
		t.Errorf("Disclaimer = %q", res.Disclaimer)
	}
}

func TestParseHourly_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "data before header",
			body: "# BRON\n  260,20240101,1,81\n",
			want: "before column header",
		},
		{
			name: "field count mismatch",
			body: "# STN,YYYYMMDD,HH,T\n  260,20240101,1\n",
			want: "got 3 fields",
		},
		{
			name: "bad hour",
			body: "# STN,YYYYMMDD,HH,T\n  260,20240101,x,81\n",
			want: "column HH",
		},
		{
			name: "bad temperature",
			body: "# STN,YYYYMMDD,HH,T\n  260,20240101,1,warm\n",
			want: "column T",
		},
		{
			name: "short station row",
			body: "# STN  LON(east)  LAT(north)  ALT(m)  NAME\n# 260  5.18\n",
			want: "want 5 fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHourly(strings.NewReader(tt.body))
			if err == nil {
				t.Fatal("ParseHourly() error = nil, want non-nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q; want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestResult_StationName(t *testing.T) {
	res := &Result{Stations: map[int]Station{260: {ID: 260, Name: "De Bilt (parsed)"}}}

	tests := []struct {
		id   int
		want string
	}{
		{id: 260, want: "De Bilt (parsed)"},
		{id: 380, want: "Maastricht"},
		{id: 999, want: "999"},
	}
	for _, tt := range tests {
		if got := res.StationName(tt.id); got != tt.want {
			t.Errorf("StationName(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}

	var nilRes *Result
	if got := nilRes.StationName(260); got != "De Bilt" {
		t.Errorf("nil StationName(260) = %q, want %q", got, "De Bilt")
	}
}
