package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/config"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/table"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	telemetryQoS   = 1
	publishTimeout = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("publisher stopped")
)

// Telemetry is one hourly station observation as published on
// <prefix>/<station>/telemetry.
type Telemetry struct {
	StationID    string    `json:"station_id"`
	RunID        string    `json:"run_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	TemperatureC *float64  `json:"temperature_c,omitempty"`
	DewPointC    *float64  `json:"dew_point_c,omitempty"`
	Sequence     *int      `json:"sequence,omitempty"`
}

type Publisher struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPublisher(cfg config.Config, logger *slog.Logger) *Publisher {
	p := newPublisher(nil, cfg, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	// A single run publishes and exits, so only the initial connect retries.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

func newPublisher(client mqtt.Client, cfg config.Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Connect waits for the broker connection while honouring ctx and Disconnect.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			p.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			p.client.Disconnect(0)
			return ctx.Err()
		case <-p.stopCh:
			return ErrStopped
		default:
		}
	}
}

// Topic returns the telemetry topic of a station.
func (p *Publisher) Topic(stationID string) string {
	prefix := p.cfg.MQTTTopicPrefix
	if prefix == "" {
		prefix = "stations"
	}
	return fmt.Sprintf("%s/%s/telemetry", prefix, stationID)
}

// PublishTelemetry publishes one message at QoS 1 and waits for the broker
// acknowledgement.
func (p *Publisher) PublishTelemetry(stationID string, t Telemetry) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	topic := p.Topic(stationID)
	t.StationID = stationID

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	token := p.client.Publish(topic, telemetryQoS, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("failed to publish telemetry", "topic", topic, "error", err)
		return fmt.Errorf("publish telemetry: %w", err)
	}
	return nil
}

// PublishTable publishes the T_<id> column of every station, hour by hour.
// Hours without a temperature are skipped. The dew point is attached for
// dewPointStation only. It returns the number of messages sent.
func (p *Publisher) PublishTable(ctx context.Context, runID string, tbl *table.Table, stationIDs []int, dewPointStation int) (int, error) {
	if tbl == nil {
		return 0, errors.New("publish table: nil table")
	}
	var dew []float64
	if dewPointStation != 0 {
		var err error
		if dew, err = tbl.Series(table.ColDewPoint); err != nil {
			return 0, err
		}
	}

	sent := 0
	for _, id := range stationIDs {
		temps, err := tbl.Series(table.TemperatureColumn(id))
		if err != nil {
			return sent, err
		}
		station := strconv.Itoa(id)
		seq := 0
		for i, ts := range tbl.Index {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			temp, ok := value(temps, i)
			if !ok {
				continue
			}
			seq++
			n := seq
			msg := Telemetry{RunID: runID, Timestamp: ts, TemperatureC: temp, Sequence: &n}
			if id == dewPointStation {
				msg.DewPointC, _ = value(dew, i)
			}
			if err := p.PublishTelemetry(station, msg); err != nil {
				return sent, err
			}
			sent++
		}
		p.logger.Debug("published station readings", "station_id", id, "messages", seq)
	}
	return sent, nil
}

func value(vals []float64, i int) (*float64, bool) {
	if i >= len(vals) || math.IsNaN(vals[i]) {
		return nil, false
	}
	v := vals[i]
	return &v, true
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect stops the publisher. Safe to call more than once.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	p.logger.Info("mqtt disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
