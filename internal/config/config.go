package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultKNMIBaseURL = "https://www.daggegevens.knmi.nl/klimatologie/uurgegevens"

const (
	ViewerBrowser = "browser"
	ViewerHTTP    = "http"
	ViewerNone    = "none"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	KNMIBaseURL     string
	KNMIHTTPTimeout time.Duration

	// OutputDir is the absolute directory the spreadsheet and chart are written to.
	OutputDir string
	Viewer    string
	HTTPAddr  string
	WritePNG  bool

	// SQLite archive; disabled when both SQLitePath and SQLiteDSN are empty.
	SQLiteDriver string
	SQLitePath   string
	SQLiteDSN    string

	// MQTT publisher; disabled when MQTTBroker is empty.
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
}

// ArchiveEnabled reports whether merged readings should be stored in SQLite.
func (c Config) ArchiveEnabled() bool {
	return c.SQLitePath != "" || c.SQLiteDSN != ""
}

// PublishEnabled reports whether merged readings should be published over MQTT.
func (c Config) PublishEnabled() bool {
	return c.MQTTBroker != ""
}

// LoadEnvFile loads key=value pairs from path into the process environment.
// Variables already set are not overridden. A missing file is not an error.
func LoadEnvFile(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("load env file %q: %w", path, err)
	}
	return true, nil
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	baseURL := strings.TrimSpace(os.Getenv("KNMI_BASE_URL"))
	if baseURL == "" {
		baseURL = DefaultKNMIBaseURL
	}

	timeoutStr := strings.TrimSpace(os.Getenv("KNMI_HTTP_TIMEOUT"))
	if timeoutStr == "" {
		timeoutStr = "0s"
	}
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid KNMI_HTTP_TIMEOUT %q: %w", timeoutStr, err)
	}
	if timeout < 0 {
		return Config{}, fmt.Errorf("invalid KNMI_HTTP_TIMEOUT %q: must be >= 0", timeoutStr)
	}

	outputDir := strings.TrimSpace(os.Getenv("OUTPUT_DIR"))
	if outputDir == "" {
		outputDir = "."
	}
	outputDir, err = filepath.Abs(outputDir)
	if err != nil {
		return Config{}, fmt.Errorf("OUTPUT_DIR %q: %w", outputDir, err)
	}

	viewer := strings.ToLower(strings.TrimSpace(os.Getenv("VIEWER")))
	if viewer == "" {
		viewer = ViewerBrowser
	}
	switch viewer {
	case ViewerBrowser, ViewerHTTP, ViewerNone:
	default:
		return Config{}, fmt.Errorf("invalid VIEWER %q (allowed: browser, http, none)", viewer)
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	writePNG, err := parseBool("WRITE_PNG", false)
	if err != nil {
		return Config{}, err
	}

	driver := strings.TrimSpace(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = "sqlite3"
	}

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %d (allowed: 1-65535)", mqttPort)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "knmi-retrieve"
	}

	topicPrefix := strings.Trim(strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX")), "/")
	if topicPrefix == "" {
		topicPrefix = "stations"
	}

	return Config{
		AppEnv:          appEnv,
		LogLevel:        level,
		KNMIBaseURL:     baseURL,
		KNMIHTTPTimeout: timeout,
		OutputDir:       outputDir,
		Viewer:          viewer,
		HTTPAddr:        httpAddr,
		WritePNG:        writePNG,
		SQLiteDriver:    driver,
		SQLitePath:      strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		SQLiteDSN:       strings.TrimSpace(os.Getenv("SQLITE_DSN")),
		MQTTBroker:      strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTPort:        mqttPort,
		MQTTClientID:    mqttClientID,
		MQTTTopicPrefix: topicPrefix,
	}, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
