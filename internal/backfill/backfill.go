// Package backfill fills beach trash predictions for a date range by calling
// the deployed API once per date.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tangyuling/deploy/internal/health"
)

// DateLayout is the format of prediction dates on the wire and on the CLI.
const DateLayout = "2006-01-02"

// BeachPath is the endpoint that computes and stores predictions for a date.
const BeachPath = "/api/v1/trash/beach"

const (
	// DefaultTimeout bounds a single prediction request.
	DefaultTimeout = 300 * time.Second
	// DefaultPause is the wait between requests.
	DefaultPause = 500 * time.Millisecond
)

var (
	// ErrInvalidRange is returned when end precedes start.
	ErrInvalidRange = errors.New("end date is before start date")
	// ErrNotArray is returned when a prediction response is not a JSON array.
	ErrNotArray = errors.New("decode response: not a JSON array")
)

// Mode selects which dates in the range are requested.
type Mode int

const (
	// Daily requests every date in the range.
	Daily Mode = iota
	// Monthly requests the first of each month touched by the range.
	Monthly
)

func (m Mode) String() string {
	if m == Monthly {
		return "monthly"
	}
	return "daily"
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return t, nil
}

// Dates returns the dates to request between start and end, inclusive.
func Dates(start, end time.Time, mode Mode) ([]time.Time, error) {
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return nil, ErrInvalidRange
	}

	var dates []time.Time
	switch mode {
	case Monthly:
		cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
		last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
		for !cur.After(last) {
			dates = append(dates, cur)
			cur = cur.AddDate(0, 1, 0)
		}
	default:
		for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
			dates = append(dates, cur)
		}
	}
	return dates, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Beach is the subset of a beach prediction the backfill reports on.
type Beach struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Prediction struct {
		TrashAmount float64 `json:"trash_amount"`
	} `json:"prediction"`
}

// String formats the beach as "name: amount kg (status)".
func (b Beach) String() string {
	return fmt.Sprintf("%s: %.2f kg (%s)", b.Name, b.Prediction.TrashAmount, b.Status)
}

// PreviewSize is how many beaches Preview lists before summarizing the rest.
const PreviewSize = 3

// Preview lists the first PreviewSize beaches and a "... N more" line for the rest.
func Preview(beaches []Beach) []string {
	n := min(len(beaches), PreviewSize)
	lines := make([]string, 0, n+1)
	for _, b := range beaches[:n] {
		lines = append(lines, b.String())
	}
	if rest := len(beaches) - n; rest > 0 {
		lines = append(lines, fmt.Sprintf("... %d more", rest))
	}
	return lines
}

// DayResult is the outcome for a single date.
type DayResult struct {
	Date    time.Time
	Beaches []Beach
	Err     error
}

// Summary totals a backfill.
type Summary struct {
	Succeeded int
	Failed    int
	Days      []DayResult
}

// Total returns the number of dates attempted.
func (s *Summary) Total() int {
	return s.Succeeded + s.Failed
}

// OK returns true if every date succeeded.
func (s *Summary) OK() bool {
	return s.Failed == 0
}

// Options configure a Backfiller.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Pause   time.Duration
}

// Backfiller requests predictions date by date.
type Backfiller struct {
	client  *http.Client
	baseURL string
	pause   time.Duration
	sleep   health.SleepFunc
	logger  *slog.Logger
}

// New creates a Backfiller. A nil client gets one with opts.Timeout.
func New(client *http.Client, opts Options, logger *slog.Logger) *Backfiller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Backfiller{
		client:  client,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		pause:   opts.Pause,
		sleep:   health.Sleep,
		logger:  logger.With("component", "backfill"),
	}
}

// Run requests every date and returns a summary. Individual failures are
// recorded and do not stop the loop; only context cancellation does.
func (b *Backfiller) Run(ctx context.Context, dates []time.Time) (*Summary, error) {
	summary := &Summary{Days: make([]DayResult, 0, len(dates))}

	for i, date := range dates {
		if i > 0 {
			if err := b.sleep(ctx, b.pause); err != nil {
				return summary, err
			}
		}

		beaches, err := b.Fetch(ctx, date)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return summary, ctxErr
		}

		day := DayResult{Date: date, Beaches: beaches, Err: err}
		summary.Days = append(summary.Days, day)

		if err != nil {
			summary.Failed++
			b.logger.Warn("prediction failed",
				"date", date.Format(DateLayout),
				"error", err,
			)
			continue
		}

		summary.Succeeded++
		b.logger.Info("prediction stored",
			"date", date.Format(DateLayout),
			"beaches", len(beaches),
		)
	}

	return summary, nil
}

// Fetch requests predictions for a single date.
func (b *Backfiller) Fetch(ctx context.Context, date time.Time) ([]Beach, error) {
	q := url.Values{}
	q.Set("prediction_date", date.Format(DateLayout))
	endpoint := b.baseURL + BeachPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var beaches []Beach
	if err := json.NewDecoder(resp.Body).Decode(&beaches); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if beaches == nil {
		return nil, ErrNotArray
	}
	return beaches, nil
}
