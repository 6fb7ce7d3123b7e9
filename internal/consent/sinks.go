package consent

import (
	"net/url"
	"strings"
	"sync"
)

type SinkKind int

const (
	Analytics SinkKind = iota
	Marketing
)

func (k SinkKind) String() string {
	if k == Marketing {
		return "marketing"
	}
	return "analytics"
}

// TrackingSink is a third-party integration gated by one consent category.
// A sink with no IDs is disabled and never granted.
type TrackingSink interface {
	Kind() SinkKind
	IDs() []string
	Configure(ids []string)
	Grant()
	Revoke()
	PageView(loc Location)
	Track(event string, params map[string]any)
}

// defaulter is implemented by sinks that must publish a deny-all state before
// any decision is known.
type defaulter interface {
	SetDefaults()
}

// ScriptHost loads third-party scripts into the page. Inject returns false
// when a script with that id is already present.
type ScriptHost interface {
	Inject(id, src string) bool
}

// MemoryScriptHost records injected scripts.
type MemoryScriptHost struct {
	mu      sync.Mutex
	scripts map[string]string
	order   []string
}

func NewMemoryScriptHost() *MemoryScriptHost {
	return &MemoryScriptHost{scripts: make(map[string]string)}
}

func (h *MemoryScriptHost) Inject(id, src string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.scripts[id]; ok {
		return false
	}
	h.scripts[id] = src
	h.order = append(h.order, id)
	return true
}

func (h *MemoryScriptHost) Scripts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.scripts[id])
	}
	return out
}

// Command is one call queued for a tag library, e.g. gtag('consent', ...).
type Command struct {
	Name string
	Args []any
}

// DataLayer is the tag manager command queue shared by the gtag-based sinks.
type DataLayer struct {
	mu           sync.Mutex
	host         ScriptHost
	commands     []Command
	defaultsSent bool
	configured   map[string]bool
}

func NewDataLayer(host ScriptHost) *DataLayer {
	return &DataLayer{host: host, configured: make(map[string]bool)}
}

func (d *DataLayer) push(name string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, Command{Name: name, Args: args})
}

func (d *DataLayer) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.commands...)
}

// SetDefaults publishes the deny-all consent state once.
func (d *DataLayer) SetDefaults() {
	d.mu.Lock()
	sent := d.defaultsSent
	d.defaultsSent = true
	d.mu.Unlock()
	if sent {
		return
	}
	d.push("consent", "default", map[string]any{
		"analytics_storage":  "denied",
		"ad_storage":         "denied",
		"ad_user_data":       "denied",
		"ad_personalization": "denied",
		"wait_for_update":    500,
	})
}

// ensureBase loads the tag script once, bootstrapped with the first id, then
// configures each id with page views off and IP anonymisation on.
func (d *DataLayer) ensureBase(ids []string) {
	ids = nonEmpty(ids)
	if len(ids) == 0 {
		return
	}
	if d.host != nil && d.host.Inject("gtag", "https://www.googletagmanager.com/gtag/js?id="+url.QueryEscape(ids[0])) {
		d.push("js")
	}
	for _, id := range ids {
		d.push("config", id, map[string]any{
			"anonymize_ip":         true,
			"allow_google_signals": false,
			"send_page_view":       false,
		})
	}
}

// AnalyticsTagSink drives analytics_storage on the tag manager.
type AnalyticsTagSink struct {
	dl  *DataLayer
	ids []string
}

func NewAnalyticsTagSink(dl *DataLayer, measurementID string) *AnalyticsTagSink {
	return &AnalyticsTagSink{dl: dl, ids: nonEmpty([]string{measurementID})}
}

func (s *AnalyticsTagSink) Kind() SinkKind { return Analytics }
func (s *AnalyticsTagSink) IDs() []string { return s.ids }
func (s *AnalyticsTagSink) Configure(ids []string) { s.dl.ensureBase(ids) }
func (s *AnalyticsTagSink) SetDefaults() { s.dl.SetDefaults() }
func (s *AnalyticsTagSink) Grant() { s.update("granted") }
func (s *AnalyticsTagSink) Revoke() { s.update("denied") }

func (s *AnalyticsTagSink) update(state string) {
	s.dl.push("consent", "update", map[string]any{"analytics_storage": state})
}

func (s *AnalyticsTagSink) PageView(loc Location) {
	s.dl.push("event", "page_view", map[string]any{
		"page_path":     loc.Path,
		"page_location": loc.URL,
		"page_title":    loc.Title,
	})
}

func (s *AnalyticsTagSink) Track(event string, params map[string]any) {
	s.dl.push("event", event, params)
}

// AdsTagSink drives the ad_* consent signals on the tag manager.
type AdsTagSink struct {
	dl  *DataLayer
	ids []string
}

func NewAdsTagSink(dl *DataLayer, measurementID, adsID string) *AdsTagSink {
	return &AdsTagSink{dl: dl, ids: nonEmpty([]string{measurementID, adsID})}
}

func (s *AdsTagSink) Kind() SinkKind { return Marketing }
func (s *AdsTagSink) IDs() []string { return s.ids }
func (s *AdsTagSink) Configure(ids []string) { s.dl.ensureBase(ids) }
func (s *AdsTagSink) Grant() { s.update("granted") }
func (s *AdsTagSink) Revoke() { s.update("denied") }
func (s *AdsTagSink) PageView(Location) {}
func (s *AdsTagSink) Track(string, map[string]any) {}

func (s *AdsTagSink) update(state string) {
	s.dl.push("consent", "update", map[string]any{
		"ad_storage":         state,
		"ad_user_data":       state,
		"ad_personalization": state,
	})
}

// PixelSink is the advertising pixel. Its script is injected only on the
// first grant; revoking before that is a no-op.
type PixelSink struct {
	mu       sync.Mutex
	host     ScriptHost
	ids      []string
	loaded   bool
	commands []Command
}

const pixelScript = "https://connect.facebook.net/en_US/fbevents.js"

func NewPixelSink(host ScriptHost, pixelID string) *PixelSink {
	return &PixelSink{host: host, ids: nonEmpty([]string{pixelID})}
}

func (s *PixelSink) Kind() SinkKind { return Marketing }
func (s *PixelSink) IDs() []string { return s.ids }

func (s *PixelSink) Configure(ids []string) {
	ids = nonEmpty(ids)
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return
	}
	if s.host != nil {
		s.host.Inject("fbq", pixelScript)
	}
	s.loaded = true
	s.commands = append(s.commands, Command{Name: "init", Args: []any{ids[0]}})
}

func (s *PixelSink) Grant() {
	s.call("consent", "grant")
}

func (s *PixelSink) Revoke() {
	s.call("consent", "revoke")
}

func (s *PixelSink) PageView(Location) {
	s.call("track", "PageView")
}

func (s *PixelSink) Track(event string, params map[string]any) {
	s.call("trackCustom", event, params)
}

func (s *PixelSink) call(name string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return
	}
	s.commands = append(s.commands, Command{Name: name, Args: args})
}

func (s *PixelSink) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *PixelSink) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// DefaultSinks builds the tag manager and pixel sinks for cfg. Integrations
// whose id is blank are returned disabled.
func DefaultSinks(cfg TrackingConfig, host ScriptHost) (*DataLayer, []TrackingSink) {
	dl := NewDataLayer(host)
	return dl, []TrackingSink{
		NewAnalyticsTagSink(dl, cfg.GA4MeasurementID),
		NewAdsTagSink(dl, cfg.GA4MeasurementID, cfg.GoogleAdsID),
		NewPixelSink(host, cfg.MetaPixelID),
	}
}

func nonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
