// Package health probes the liveness endpoint of a deployed service.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrUnhealthy is returned when the service did not report healthy in time.
var ErrUnhealthy = errors.New("service is unhealthy")

// maxBodySize caps how much of a health response is read.
const maxBodySize = 64 << 10

// Status values reported by the service's health endpoint.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Response is the body returned by GET /health.
type Response struct {
	Status string `json:"status"`
}

// Result describes a single probe.
type Result struct {
	StatusCode int
	Status     string
	Latency    time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Probe checks a health endpoint.
type Probe struct {
	client *http.Client
	sleep  SleepFunc
	logger *slog.Logger
}

// NewProbe creates a Probe. A nil client defaults to NewHTTPClient and a nil
// sleep to Sleep.
func NewProbe(client *http.Client, sleep SleepFunc, logger *slog.Logger) *Probe {
	if client == nil {
		client = NewHTTPClient()
	}
	if sleep == nil {
		sleep = Sleep
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		client: client,
		sleep:  sleep,
		logger: logger.With("component", "health.probe"),
	}
}

// Check sends one GET to url. Any 2xx is healthy unless the JSON body
// explicitly reports "unhealthy".
func (p *Probe) Check(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer resp.Body.Close()

	result := &Result{
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	var decoded Response
	if json.Unmarshal(body, &decoded) == nil {
		result.Status = decoded.Status
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("%w: HTTP %d", ErrUnhealthy, resp.StatusCode)
	}
	if strings.EqualFold(result.Status, StatusUnhealthy) {
		return result, fmt.Errorf("%w: reported status %q", ErrUnhealthy, result.Status)
	}

	return result, nil
}

// Wait probes url according to schedule and returns the first healthy result.
// When every attempt fails, the last error is returned and wraps ErrUnhealthy.
func (p *Probe) Wait(ctx context.Context, url string, schedule Schedule) (*Result, error) {
	var lastErr error

	for attempt := 0; !schedule.IsExhausted(attempt); attempt++ {
		if err := p.sleep(ctx, schedule.Delay(attempt)); err != nil {
			return nil, err
		}

		result, err := p.Check(ctx, url)
		if err == nil {
			p.logger.Info("health check passed",
				"url", url,
				"attempt", attempt+1,
				"status_code", result.StatusCode,
				"latency", result.Latency,
			)
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		p.logger.Warn("health check failed",
			"url", url,
			"attempt", attempt+1,
			"max_attempts", schedule.attempts(),
			"error", err,
		)
	}

	return nil, lastErr
}
