package knmi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "https://www.daggegevens.knmi.nl/klimatologie/uurgegevens"

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Client fetches hourly station data from the KNMI climatology service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for baseURL. A zero timeout means no timeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout}, logger)
}

// NewClientWithHTTP creates a client with a custom HTTP client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Form builds the request body. Hours run 1..24, so the day range maps to
// hour 01 of Start through hour 24 of End.
func (req HourlyRequest) Form() (url.Values, error) {
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, errors.New("start and end are required")
	}
	if req.End.Before(req.Start) {
		return nil, fmt.Errorf("end %s before start %s", req.End.Format("20060102"), req.Start.Format("20060102"))
	}

	form := url.Values{}
	form.Set("start", req.Start.Format("20060102")+"01")
	form.Set("end", req.End.Format("20060102")+"24")

	if len(req.Variables) > 0 {
		form.Set("vars", strings.Join(req.Variables, ":"))
	} else {
		form.Set("vars", "ALL")
	}

	if len(req.Stations) > 0 {
		ids := make([]string, len(req.Stations))
		for i, s := range req.Stations {
			ids[i] = strconv.Itoa(s)
		}
		form.Set("stns", strings.Join(ids, ":"))
	} else {
		form.Set("stns", "ALL")
	}

	if req.InSeason {
		form.Set("inseason", "Y")
	}
	return form, nil
}

// FetchHourly retrieves and optionally parses hourly observations.
func (c *Client) FetchHourly(ctx context.Context, req HourlyRequest) (*Result, error) {
	form, err := req.Form()
	if err != nil {
		return nil, fmt.Errorf("knmi request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build knmi request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Debug("knmi request", "url", c.baseURL, "form", form.Encode())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to KNMI API: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("close knmi response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read KNMI response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		excerpt := body
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return nil, fmt.Errorf("KNMI API returned status %d: %s\nRequest: %s\nResponse: %s",
			resp.StatusCode, http.StatusText(resp.StatusCode), form.Encode(), strings.TrimSpace(string(excerpt)))
	}

	c.logger.Info("knmi request successful",
		"stations", form.Get("stns"),
		"vars", form.Get("vars"),
		"bytes", len(body),
	)

	if !req.Parse {
		return &Result{Raw: string(body)}, nil
	}

	res, err := ParseHourly(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse KNMI response: %w", err)
	}
	res.Raw = string(body)
	return res, nil
}
