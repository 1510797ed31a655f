package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/browser"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/archive"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/config"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/db"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/export"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/httpapi"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/knmi"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/migrate"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/mqtt"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/plot"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/table"
)

// The retrieval is fixed: two stations, calendar year 2024, TEMP.
const (
	primaryStation   = 260 // De Bilt
	secondaryStation = 380 // Maastricht

	startDate = "20240101"
	endDate   = "20241231"

	inSeason = false
	parse    = true

	mqttConnectTimeout = 30 * time.Second
)

var variables = []string{"TEMP"}

// Fetcher retrieves hourly observations.
type Fetcher interface {
	FetchHourly(ctx context.Context, req knmi.HourlyRequest) (*knmi.Result, error)
}

type telemetryPublisher interface {
	Connect(ctx context.Context) error
	PublishTable(ctx context.Context, runID string, tbl *table.Table, stationIDs []int, dewPointStation int) (int, error)
	Disconnect()
}

// Outputs lists what a run produced.
type Outputs struct {
	Spreadsheet string
	Chart       string
	Preview     string
	RunID       string
	Published   int
}

type deps struct {
	cfg          config.Config
	logger       *slog.Logger
	stdout       io.Writer
	fetcher      Fetcher
	openFile     func(path string) error
	newPublisher func(cfg config.Config, logger *slog.Logger) telemetryPublisher
	serve        func(ctx context.Context, srv *http.Server) error
}

// Run fetches both stations, merges them, writes the spreadsheet and chart,
// feeds the configured sinks and finally shows the chart.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer) error {
	d := deps{
		cfg:      cfg,
		logger:   logger,
		stdout:   stdout,
		fetcher:  knmi.NewClient(cfg.KNMIBaseURL, cfg.KNMIHTTPTimeout, logger),
		openFile: browser.OpenFile,
		newPublisher: func(cfg config.Config, logger *slog.Logger) telemetryPublisher {
			return mqtt.NewPublisher(cfg, logger)
		},
		serve: func(ctx context.Context, srv *http.Server) error {
			return httpapi.ListenAndServe(ctx, srv, logger)
		},
	}
	_, err := run(ctx, d)
	return err
}

func run(ctx context.Context, d deps) (Outputs, error) {
	var out Outputs
	cfg, logger := d.cfg, d.logger

	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"knmiBaseURL", cfg.KNMIBaseURL,
		"outputDir", cfg.OutputDir,
		"viewer", cfg.Viewer,
		"archive", cfg.ArchiveEnabled(),
		"publish", cfg.PublishEnabled(),
	)

	start, err := time.Parse("20060102", startDate)
	if err != nil {
		return out, err
	}
	end, err := time.Parse("20060102", endDate)
	if err != nil {
		return out, err
	}

	primary, err := fetch(ctx, d, primaryStation, start, end)
	if err != nil {
		return out, err
	}
	secondary, err := fetch(ctx, d, secondaryStation, start, end)
	if err != nil {
		return out, err
	}

	tbl, err := table.Merge(primary.Observations, secondary.Observations, primaryStation, secondaryStation, logger)
	if err != nil {
		return out, fmt.Errorf("merge stations: %w", err)
	}
	if first, last, err := tbl.Span(); err == nil {
		logger.Info("stations merged", "rows", tbl.Nrow(), "first", first, "last", last)
	}
	fmt.Fprintln(d.stdout, tbl)

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return out, fmt.Errorf("create output dir: %w", err)
	}

	out.Spreadsheet = filepath.Join(cfg.OutputDir, export.SpreadsheetName(variables, startDate, endDate))
	if err := export.WriteXLSX(out.Spreadsheet, tbl); err != nil {
		return out, err
	}
	fmt.Fprintf(d.stdout, "Data saved to %s\n", out.Spreadsheet)

	primaryName := primary.StationName(primaryStation)
	fig, err := plot.NewFigure(tbl, startDate, endDate,
		plot.Station{ID: primaryStation, Name: primaryName},
		plot.Station{ID: secondaryStation, Name: secondary.StationName(secondaryStation)},
	)
	if err != nil {
		return out, err
	}
	out.Chart = filepath.Join(cfg.OutputDir, plot.ChartName(primaryName, variables, startDate, endDate))
	if err := plot.WriteHTML(out.Chart, fig); err != nil {
		return out, err
	}
	if cfg.WritePNG {
		out.Preview = strings.TrimSuffix(out.Chart, ".html") + ".png"
		if err := plot.WritePNG(out.Preview, fig); err != nil {
			return out, err
		}
	}
	fmt.Fprintf(d.stdout, "Data and plots saved to %s\n", out.Chart)

	var archiveDB *sql.DB
	if cfg.ArchiveEnabled() {
		archiveDB, err = db.Open(cfg, logger)
		if err != nil {
			return out, err
		}
		defer func() {
			if err := db.Close(archiveDB); err != nil {
				logger.Error("db close", "error", err)
			}
		}()
		if out.RunID, err = store(ctx, archiveDB, logger, out, tbl, primary, secondary); err != nil {
			return out, err
		}
	}

	if cfg.PublishEnabled() {
		if out.Published, err = publish(ctx, d, out.RunID, tbl); err != nil {
			return out, err
		}
	}

	return out, show(ctx, d, out.Chart, archiveDB)
}

func fetch(ctx context.Context, d deps, station int, start, end time.Time) (*knmi.Result, error) {
	res, err := d.fetcher.FetchHourly(ctx, knmi.HourlyRequest{
		Stations:  []int{station},
		Start:     start,
		End:       end,
		InSeason:  inSeason,
		Variables: variables,
		Parse:     parse,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch station %d: %w", station, err)
	}
	d.logger.Info("station data retrieved",
		"station", station,
		"name", res.StationName(station),
		"rows", res.Observations.Nrow(),
	)
	return res, nil
}

func store(ctx context.Context, conn *sql.DB, logger *slog.Logger, out Outputs, tbl *table.Table, primary, secondary *knmi.Result) (string, error) {
	if err := migrate.Run(ctx, conn, logger); err != nil {
		return "", fmt.Errorf("migrate archive: %w", err)
	}

	repo := archive.NewRepository(conn, logger)
	runID, err := archive.Save(ctx, repo, archive.Snapshot{
		Run: archive.Run{
			Start:       startDate,
			End:         endDate,
			Variables:   variables,
			Spreadsheet: filepath.Base(out.Spreadsheet),
			Chart:       filepath.Base(out.Chart),
			Disclaimer:  primary.Disclaimer,
		},
		Stations:        []knmi.Station{stationMeta(primary, primaryStation), stationMeta(secondary, secondaryStation)},
		Table:           tbl,
		DewPointStation: primaryStation,
	})
	if err != nil {
		return "", fmt.Errorf("archive run: %w", err)
	}
	logger.Info("run archived", "run_id", runID, "rows", tbl.Nrow())
	return runID, nil
}

func stationMeta(res *knmi.Result, id int) knmi.Station {
	if st, ok := res.Stations[id]; ok {
		return st
	}
	return knmi.Station{ID: id, Name: res.StationName(id)}
}

func publish(ctx context.Context, d deps, runID string, tbl *table.Table) (int, error) {
	pub := d.newPublisher(d.cfg, d.logger)
	defer pub.Disconnect()

	connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	err := pub.Connect(connectCtx)
	cancel()
	if err != nil {
		d.logger.Warn("mqtt connection failed (continuing without publishing)", "error", err)
		return 0, nil
	}

	n, err := pub.PublishTable(ctx, runID, tbl, []int{primaryStation, secondaryStation}, primaryStation)
	if err != nil {
		return n, fmt.Errorf("publish readings: %w", err)
	}
	d.logger.Info("readings published", "messages", n, "prefix", d.cfg.MQTTTopicPrefix)
	return n, nil
}

func show(ctx context.Context, d deps, chart string, archiveDB *sql.DB) error {
	switch d.cfg.Viewer {
	case config.ViewerNone:
		return nil
	case config.ViewerHTTP:
		srv := httpapi.NewServer(d.cfg.HTTPAddr, httpapi.NewMux(d.cfg.OutputDir, archiveDB), d.logger)
		d.logger.Info("serving chart",
			"url", "http://"+displayHost(d.cfg.HTTPAddr)+"/"+url.PathEscape(filepath.Base(chart)))
		return d.serve(ctx, srv)
	default:
		if err := d.openFile(chart); err != nil {
			d.logger.Warn("could not open chart in browser", "path", chart, "error", err)
		}
		return nil
	}
}

func displayHost(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
