// Package consent implements the site's cookie-consent manager: the persisted
// decision, the banner state machine, consent-gated tracking sinks and
// cleanup of tracking cookies after a revoke.
package consent

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/frlabs/sitegate/internal/model"
	"github.com/frlabs/sitegate/internal/pkg/logger"
	"github.com/google/uuid"
)

// TrackingConfig is the page-global tracking configuration. Blank ids
// disable the matching integration.
type TrackingConfig struct {
	GA4MeasurementID   string
	GoogleAdsID        string
	MetaPixelID        string
	ConsentLogEndpoint string
	PolicyVersion      string
}

type State int

const (
	Unknown State = iota
	BannerOpen
	Decided
)

func (s State) String() string {
	switch s {
	case BannerOpen:
		return "banner_open"
	case Decided:
		return "decided"
	default:
		return "unknown"
	}
}

type Action string

const (
	ActionAccept       Action = "accept"
	ActionDeny         Action = "deny"
	ActionDismiss      Action = "dismiss"
	ActionCustomize    Action = "customize"
	ActionSaveSelected Action = "save-selected"
)

var ErrUnknownAction = errors.New("consent: unknown action")

type Options struct {
	Storage  Storage
	Cookies  CookieJar
	Location Location
	Config   TrackingConfig
	Sinks    []TrackingSink
	Reporter Reporter
	// Version is the active policy version; defaults to DefaultVersion.
	Version string
	Now     func() time.Time
	NewID   func() (string, error)
	Logger  *slog.Logger
}

// Manager owns consent for one page session. Its one-time flags (sink setup,
// page views) are per instance.
type Manager struct {
	mu sync.Mutex

	storage  Storage
	cookies  CookieJar
	loc      Location
	cfg      TrackingConfig
	sinks    []TrackingSink
	reporter Reporter
	version  string
	now      func() time.Time
	newID    func() (string, error)
	log      *slog.Logger

	state      State
	editorOpen bool
	current    *Record
	configured []bool
	pageViewed map[SinkKind]bool
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		storage:    opts.Storage,
		cookies:    opts.Cookies,
		loc:        opts.Location,
		cfg:        opts.Config,
		sinks:      opts.Sinks,
		reporter:   opts.Reporter,
		version:    opts.Version,
		now:        opts.Now,
		newID:      opts.NewID,
		log:        opts.Logger,
		configured: make([]bool, len(opts.Sinks)),
		pageViewed: make(map[SinkKind]bool),
	}
	if m.storage == nil {
		m.storage = NewMemoryStorage()
	}
	if m.version == "" {
		m.version = DefaultVersion
	}
	if m.cfg.PolicyVersion == "" {
		m.cfg.PolicyVersion = m.version
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = func() (string, error) {
			id, err := uuid.NewRandom()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}
	if m.log == nil {
		m.log = logger.Get()
	}
	return m
}

// Init runs on page load: publish deny-all defaults, then either apply the
// stored decision or apply defaults and open the banner.
func (m *Manager) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sinks {
		if d, ok := s.(defaulter); ok {
			d.SetDefaults()
		}
	}

	rec, ok := m.load()
	if !ok {
		m.apply(DefaultPreferences)
		m.state = BannerOpen
		return
	}
	m.current = rec
	m.apply(rec.Preferences)
	m.state = Decided
}

// Load returns the stored record if it is present, well formed, of the
// active version and not expired. Stale records are purged.
func (m *Manager) Load() (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func (m *Manager) load() (*Record, bool) {
	raw, ok, err := m.storage.Get(StorageKey)
	if err != nil || !ok || raw == "" {
		return nil, false
	}
	rec, ok := decodeRecord(raw)
	if !ok {
		return nil, false
	}
	if rec.Version != m.version || rec.Expired(m.now()) {
		if err := m.storage.Remove(StorageKey); err != nil {
			m.log.Debug("consent purge failed", "error", err)
		}
		m.current = nil
		if m.state == Decided {
			m.state = Unknown
		}
		return nil, false
	}
	return rec, true
}

// Decide writes a new record for prefs and reports it. A storage failure does
// not fail the decision; it still applies for this session.
func (m *Manager) Decide(prefs Preferences, source Source) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decide(prefs, source)
}

func (m *Manager) decide(prefs Preferences, source Source) *Record {
	if source == "" {
		source = model.SourceUnknown
	}
	updatedAt := m.now().UTC().Truncate(time.Millisecond)
	rec := &Record{
		ID:          m.consentID(),
		Version:     m.version,
		UpdatedAt:   updatedAt,
		ExpiresAt:   updatedAt.Add(MaxAge),
		Source:      source,
		Preferences: prefs.Normalized(),
	}

	if raw, err := encodeRecord(rec); err == nil {
		if err := m.storage.Set(StorageKey, raw); err != nil {
			m.log.Warn("consent not persisted, applying for this session only", "error", err)
		}
	}
	m.current = rec
	m.reportDecision(rec)
	return rec
}

func (m *Manager) consentID() string {
	existing, ok, err := m.storage.Get(IDStorageKey)
	if err != nil {
		return m.fallbackID()
	}
	if ok && existing != "" {
		return existing
	}
	id, err := m.newID()
	if err != nil || id == "" {
		id = m.fallbackID()
	}
	if err := m.storage.Set(IDStorageKey, id); err != nil {
		m.log.Debug("consent id not persisted", "error", err)
	}
	return id
}

func (m *Manager) fallbackID() string {
	var sb strings.Builder
	for sb.Len() < 8 {
		sb.WriteString(strconv.FormatUint(rand.Uint64(), 36))
	}
	return fmt.Sprintf("consent_%d_%s", m.now().UnixMilli(), sb.String()[:8])
}

// Apply switches every sink to match prefs. Revoked categories also get
// their cookies deleted.
func (m *Manager) Apply(prefs Preferences) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(prefs)
}

func (m *Manager) apply(prefs Preferences) {
	prefs = prefs.Normalized()
	m.setCategory(Analytics, prefs.Analytics, AnalyticsCookiePrefixes)
	m.setCategory(Marketing, prefs.Marketing, MarketingCookiePrefixes)
}

func (m *Manager) setCategory(kind SinkKind, granted bool, prefixes []string) {
	if !granted {
		for _, s := range m.sinks {
			if s.Kind() == kind {
				s.Revoke()
			}
		}
		DeleteByPrefix(m.cookies, m.loc, prefixes)
		return
	}

	var enabled []TrackingSink
	for i, s := range m.sinks {
		if s.Kind() != kind || len(s.IDs()) == 0 {
			continue
		}
		if !m.configured[i] {
			s.Configure(s.IDs())
			m.configured[i] = true
		}
		s.Grant()
		enabled = append(enabled, s)
	}
	if len(enabled) > 0 && !m.pageViewed[kind] {
		for _, s := range enabled {
			s.PageView(m.loc)
		}
		m.pageViewed[kind] = true
	}
}

// ReportDecision sends rec to the consent log endpoint without waiting.
func (m *Manager) ReportDecision(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportDecision(rec)
}

func (m *Manager) reportDecision(rec *Record) {
	if m.reporter == nil || m.cfg.ConsentLogEndpoint == "" || rec == nil {
		return
	}
	m.reporter.Report(m.event(rec))
}

func (m *Manager) event(rec *Record) model.ConsentLogEvent {
	return model.ConsentLogEvent{
		ConsentID:      rec.ID,
		ConsentVersion: rec.Version,
		PolicyVersion:  m.cfg.PolicyVersion,
		Source:         string(rec.Source),
		UpdatedAt:      formatISO(rec.UpdatedAt),
		ExpiresAt:      formatISO(rec.ExpiresAt),
		Preferences:    rec.Preferences.Normalized(),
		PageURL:        m.loc.URL,
		PagePath:       m.loc.Path,
		Referrer:       m.loc.Referrer,
		UserAgent:      m.loc.UserAgent,
	}
}

// Handle applies a banner or editor action. Customize only opens the editor
// and returns a nil record.
func (m *Manager) Handle(action Action, selection Preferences) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prefs Preferences
	var source Source
	switch action {
	case ActionAccept:
		prefs, source = AllGranted, model.SourceAcceptAll
	case ActionDeny:
		prefs, source = DefaultPreferences, model.SourceRejectAll
	case ActionDismiss:
		prefs, source = DefaultPreferences, model.SourceCloseX
	case ActionSaveSelected:
		prefs, source = selection, model.SourceSavePreferences
	case ActionCustomize:
		m.editorOpen = true
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	rec := m.decide(prefs, source)
	m.apply(rec.Preferences)
	m.editorOpen = false
	m.state = Decided
	return rec, nil
}

// OpenPreferences opens the editor from outside the banner, e.g. a footer
// link. Consent is unchanged.
func (m *Manager) OpenPreferences() Preferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editorOpen = true
	return m.effective().Preferences
}

// EditorPreferences is what the editor shows: the last decision, or
// defaults if there is none.
func (m *Manager) EditorPreferences() Preferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effective().Preferences
}

func (m *Manager) effective() *Record {
	if rec, ok := m.load(); ok {
		return rec
	}
	if m.current != nil {
		return m.current
	}
	return &Record{Preferences: DefaultPreferences}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) EditorOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.editorOpen
}

// TrackCustomEvent forwards an interaction event to the sinks the current
// decision allows.
func (m *Manager) TrackCustomEvent(event string, params map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.effective()
	if rec.ID == "" {
		return
	}
	for _, s := range m.sinks {
		if len(s.IDs()) == 0 {
			continue
		}
		switch {
		case s.Kind() == Analytics && rec.Preferences.Analytics:
			s.Track(event, params)
		case s.Kind() == Marketing && rec.Preferences.Marketing:
			s.Track(event, params)
		}
	}
}

// DeleteCookiesByPrefix expires the page's cookies matching prefixes across
// every domain and path variant of the current location.
func (m *Manager) DeleteCookiesByPrefix(prefixes []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return DeleteByPrefix(m.cookies, m.loc, prefixes)
}
