package consent

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/frlabs/sitegate/internal/model"
	"github.com/frlabs/sitegate/internal/pkg/logger"
	json "github.com/goccy/go-json"
)

// ReportTimeout bounds the fallback POST.
const ReportTimeout = 2500 * time.Millisecond

// Reporter delivers consent evidence. Report must return immediately.
type Reporter interface {
	Report(ev model.ConsentLogEvent)
}

// Beacon is a page-lifecycle-safe, fire-and-forget transport. Its return
// value only says whether the payload was queued.
type Beacon interface {
	SendBeacon(url, contentType string, body []byte) bool
}

// HTTPReporter posts events to the consent log endpoint. Delivery is
// detached from the caller, never retried, and failures are dropped.
type HTTPReporter struct {
	endpoint string
	client   *http.Client
	beacon   Beacon
	timeout  time.Duration
	log      *slog.Logger

	inflight sync.WaitGroup
}

type ReporterOption func(*HTTPReporter)

func WithBeacon(b Beacon) ReporterOption {
	return func(r *HTTPReporter) { r.beacon = b }
}

func WithHTTPClient(c *http.Client) ReporterOption {
	return func(r *HTTPReporter) { r.client = c }
}

func WithReportTimeout(d time.Duration) ReporterOption {
	return func(r *HTTPReporter) { r.timeout = d }
}

func NewHTTPReporter(endpoint string, opts ...ReporterOption) *HTTPReporter {
	r := &HTTPReporter{
		endpoint: endpoint,
		client:   http.DefaultClient,
		timeout:  ReportTimeout,
		log:      logger.Get(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *HTTPReporter) Report(ev model.ConsentLogEvent) {
	if r.endpoint == "" {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		r.log.Debug("consent report encode failed", "error", err)
		return
	}

	if r.beacon != nil {
		r.beacon.SendBeacon(r.endpoint, "application/json", body)
		return
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		r.post(body)
	}()
}

func (r *HTTPReporter) post(body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		r.log.Debug("consent report request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug("consent report not delivered", "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		r.log.Debug("consent report rejected", "status", resp.StatusCode)
	}
}

// Wait blocks until deliveries already started have finished or timed out.
// It never cancels them.
func (r *HTTPReporter) Wait() {
	r.inflight.Wait()
}
