// Package knmitest serves synthetic hourly KNMI responses for tests.
package knmitest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Station describes one synthetic station.
type Station struct {
	ID   int
	Name string
	// Temp returns the raw temperature in tenths of a degree for hour i.
	Temp func(i int) int
}

// HourlyBody renders a response in the hourly endpoint's format covering
// every hour from start through end inclusive.
func HourlyBody(st Station, start, end time.Time) string {
	var b strings.Builder
	b.WriteString("# BRON: KONINKLIJK NEDERLANDS METEOROLOGISCH INSTITUUT (KNMI)\n")
	b.WriteString("# Opmerking: door stationsverplaatsingen en veranderingen in waarneemmethodieken zijn deze tijdreeksen van uurwaarden mogelijk inhomogeen!\n")
	b.WriteString("# \n")
	b.WriteString("# STN         LON(east)   LAT(north)  ALT(m)      NAME\n")
	fmt.Fprintf(&b, "# %-11d %-11s %-11s %-11s %s\n", st.ID, "5.180", "52.100", "1.90", st.Name)
	b.WriteString("# \n")
	b.WriteString("# YYYYMMDD = datum (YYYY=jaar MM=maand DD=dag) / date (YYYY=year MM=month DD=day)\n")
	b.WriteString("# HH       = tijd (HH=uur, UT.12 UT=13 MET, 14 MEZT.) / time (HH uur/hour, UT.)\n")
	b.WriteString("# T        = Temperatuur (in 0.1 graden Celsius) op 1.50 m hoogte tijdens de waarneming\n")
	b.WriteString("# T10N     = Minimumtemperatuur (in 0.1 graden Celsius) op 10 cm hoogte in de afgelopen 6 uur\n")
	b.WriteString("# TD       = Dauwpuntstemperatuur (in 0.1 graden Celsius) op 1.50 m hoogte tijdens de waarneming\n")
	b.WriteString("# \n")
	b.WriteString("# STN,YYYYMMDD,   HH,    T, T10N,   TD\n")
	b.WriteString("# \n")

	i := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for hh := 1; hh <= 24; hh++ {
			t := st.Temp(i)
			t10n := "     "
			if hh%6 == 0 {
				t10n = fmt.Sprintf("%5d", t-20)
			}
			fmt.Fprintf(&b, "  %d,%s, %4d, %4d,%s, %4d\n", st.ID, day.Format("20060102"), hh, t, t10n, t-15)
			i++
		}
	}
	return b.String()
}

// Server fakes the hourly endpoint for a fixed set of stations and records
// the forms it received.
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	forms []map[string]string
}

// NewServer starts a fake endpoint. Requests for unknown stations get 404.
func NewServer(stations ...Station) *Server {
	byID := make(map[int]Station, len(stations))
	for _, st := range stations {
		byID[st.ID] = st
	}

	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		s.mu.Lock()
		s.forms = append(s.forms, form)
		s.mu.Unlock()

		id, err := strconv.Atoi(form["stns"])
		if err != nil {
			http.Error(w, "stns must be a single station", http.StatusBadRequest)
			return
		}
		st, ok := byID[id]
		if !ok {
			http.Error(w, "unknown station", http.StatusNotFound)
			return
		}
		start, err1 := parseDay(form["start"])
		end, err2 := parseDay(form["end"])
		if err1 != nil || err2 != nil {
			http.Error(w, "bad date range", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(HourlyBody(st, start, end)))
	}))
	return s
}

// parseDay reads the YYYYMMDD part of a YYYYMMDDHH form value.
func parseDay(v string) (time.Time, error) {
	if len(v) != 10 {
		return time.Time{}, fmt.Errorf("want YYYYMMDDHH, got %q", v)
	}
	return time.Parse("20060102", v[:8])
}

// Forms returns the request forms received so far.
func (s *Server) Forms() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.forms...)
}
