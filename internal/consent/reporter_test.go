package consent

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/frlabs/sitegate/internal/model"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() model.ConsentLogEvent {
	return model.ConsentLogEvent{
		ConsentID:      "c-42",
		ConsentVersion: DefaultVersion,
		Source:         string(model.SourceRejectAll),
		UpdatedAt:      "2026-03-10T09:00:00.000Z",
		ExpiresAt:      "2026-09-06T09:00:00.000Z",
		Preferences:    DefaultPreferences,
	}
}

func TestHTTPReporterPostsEvent(t *testing.T) {
	var (
		mu          sync.Mutex
		body        []byte
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := NewHTTPReporter(srv.URL)
	r.Report(sampleEvent())
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", contentType)
	var got model.ConsentLogEvent
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "c-42", got.ConsentID)
	assert.Equal(t, "banner_reject_all", got.Source)
	assert.True(t, got.Preferences.Necessary)
}

func TestHTTPReporterDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	r := NewHTTPReporter(srv.URL, WithReportTimeout(100*time.Millisecond))
	start := time.Now()
	r.Report(sampleEvent())
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// The request is abandoned at the timeout.
	r.Wait()
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPReporterSwallowsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srv.Close()

	r := NewHTTPReporter(srv.URL)
	assert.NotPanics(t, func() {
		r.Report(sampleEvent())
		r.Wait()
	})
}

type fakeBeacon struct {
	url, contentType string
	body             []byte
}

func (b *fakeBeacon) SendBeacon(url, contentType string, body []byte) bool {
	b.url, b.contentType, b.body = url, contentType, body
	return true
}

func TestHTTPReporterPrefersBeacon(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	b := &fakeBeacon{}
	r := NewHTTPReporter(srv.URL, WithBeacon(b))
	r.Report(sampleEvent())
	r.Wait()

	assert.Equal(t, srv.URL, b.url)
	assert.Equal(t, "application/json", b.contentType)
	assert.Contains(t, string(b.body), `"consent_id":"c-42"`)
	assert.Zero(t, calls)
}

func TestHTTPReporterWithoutEndpoint(t *testing.T) {
	b := &fakeBeacon{}
	r := NewHTTPReporter("", WithBeacon(b))
	r.Report(sampleEvent())
	assert.Nil(t, b.body)
}
