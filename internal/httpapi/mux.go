package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/archive"
)

// NewMux serves outputDir at / and GET /healthz. With a non-nil db the
// health check pings it and the archive API is mounted under /api.
func NewMux(outputDir string, db *sql.DB) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db)
	if db != nil {
		registerArchive(mux, archive.NewRepository(db, nil))
	}
	mux.Handle("GET /", http.FileServer(http.Dir(outputDir)))
	return mux
}
