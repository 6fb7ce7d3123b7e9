package consent

import (
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/frlabs/sitegate/internal/model"
	"github.com/frlabs/sitegate/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type recordingReporter struct {
	mu     sync.Mutex
	events []model.ConsentLogEvent
}

func (r *recordingReporter) Report(ev model.ConsentLogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type harness struct {
	m        *Manager
	storage  *MemoryStorage
	jar      *MemoryJar
	host     *MemoryScriptHost
	dl       *DataLayer
	pixel    *PixelSink
	reporter *recordingReporter
	now      time.Time
}

func newHarness(t *testing.T, storage *MemoryStorage) *harness {
	t.Helper()
	if storage == nil {
		storage = NewMemoryStorage()
	}
	loc, err := ParseLocation("https://www.example.com/servizi/automazioni")
	require.NoError(t, err)
	loc.Title = "Automazioni"

	cfg := TrackingConfig{
		GA4MeasurementID:   "G-TEST",
		GoogleAdsID:        "AW-TEST",
		MetaPixelID:        "123456",
		ConsentLogEndpoint: "https://www.example.com/api/consent-log",
	}
	host := NewMemoryScriptHost()
	dl, sinks := DefaultSinks(cfg, host)

	h := &harness{
		storage:  storage,
		jar:      NewMemoryJar(loc.Hostname),
		host:     host,
		dl:       dl,
		pixel:    sinks[2].(*PixelSink),
		reporter: &recordingReporter{},
		now:      testNow,
	}
	h.m = NewManager(Options{
		Storage:  storage,
		Cookies:  h.jar,
		Location: loc,
		Config:   cfg,
		Sinks:    sinks,
		Reporter: h.reporter,
		Now:      func() time.Time { return h.now },
		Logger:   logger.New(io.Discard, "debug"),
	})
	return h
}

func (h *harness) count(name, first string) int {
	n := 0
	for _, c := range h.dl.Commands() {
		if c.Name != name || len(c.Args) == 0 {
			continue
		}
		if s, ok := c.Args[0].(string); ok && s == first {
			n++
		}
	}
	return n
}

func TestInitWithoutDecisionOpensBanner(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Init()

	assert.Equal(t, BannerOpen, h.m.State())
	cmds := h.dl.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "consent", cmds[0].Name)
	assert.Equal(t, "default", cmds[0].Args[0])
	assert.Zero(t, h.count("event", "page_view"))
	assert.Empty(t, h.host.Scripts())
	assert.False(t, h.pixel.Loaded())
}

func TestAcceptAllGrantsEverything(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Init()

	rec, err := h.m.Handle(ActionAccept, Preferences{})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, AllGranted, rec.Preferences)
	assert.Equal(t, model.SourceAcceptAll, rec.Source)
	assert.Equal(t, DefaultVersion, rec.Version)
	assert.True(t, rec.ExpiresAt.Equal(testNow.Add(MaxAge)))
	assert.Equal(t, Decided, h.m.State())

	assert.True(t, h.pixel.Loaded())
	assert.Len(t, h.host.Scripts(), 2)
	assert.Equal(t, 1, h.count("event", "page_view"))
	assert.Equal(t, 2, h.count("config", "G-TEST")) // once per gtag sink
	assert.Equal(t, 1, h.count("config", "AW-TEST"))

	raw, ok, err := h.storage.Get(StorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"source":"banner_accept_all"`)
}

func TestPageViewSentOncePerCategory(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Init()

	h.m.Apply(AllGranted)
	h.m.Apply(AllGranted)
	h.m.Apply(DefaultPreferences)
	h.m.Apply(AllGranted)

	assert.Equal(t, 1, h.count("event", "page_view"))
	pageViews := 0
	for _, c := range h.pixel.Commands() {
		if c.Name == "track" {
			pageViews++
		}
	}
	assert.Equal(t, 1, pageViews)
}

func TestDecisionSurvivesReload(t *testing.T) {
	storage := NewMemoryStorage()
	first := newHarness(t, storage)
	first.m.Init()
	rec, err := first.m.Handle(ActionSaveSelected, Preferences{Analytics: true})
	require.NoError(t, err)

	second := newHarness(t, storage)
	loaded, ok := second.m.Load()
	require.True(t, ok)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.Equal(t, rec.Preferences, loaded.Preferences)
	assert.True(t, loaded.UpdatedAt.Equal(rec.UpdatedAt))

	second.m.Init()
	assert.Equal(t, Decided, second.m.State())
	assert.Equal(t, 1, second.count("event", "page_view"))
	assert.False(t, second.pixel.Loaded())
}

func TestDecideReusesConsentID(t *testing.T) {
	h := newHarness(t, nil)
	a := h.m.Decide(AllGranted, model.SourceAcceptAll)
	h.now = h.now.Add(time.Hour)
	b := h.m.Decide(DefaultPreferences, model.SourceRejectAll)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, a.ID, b.ID)
	assert.True(t, b.UpdatedAt.After(a.UpdatedAt))

	id, ok, _ := h.storage.Get(IDStorageKey)
	assert.True(t, ok)
	assert.Equal(t, a.ID, id)
}

func TestDecideFallsBackWhenIDGeneratorFails(t *testing.T) {
	h := newHarness(t, nil)
	h.m.newID = func() (string, error) { return "", errors.New("no entropy") }

	rec := h.m.Decide(DefaultPreferences, model.SourceCloseX)
	assert.Regexp(t, regexp.MustCompile(`^consent_\d+_[0-9a-z]{8}$`), rec.ID)
}

func TestLoadPurgesOtherVersion(t *testing.T) {
	storage := NewMemoryStorage()
	old := `{"id":"x","version":"2025-01-01","updatedAt":"2026-03-01T00:00:00.000Z",` +
		`"expiresAt":"2026-08-28T00:00:00.000Z","source":"banner_accept_all",` +
		`"preferences":{"necessary":true,"analytics":true,"marketing":true}}`
	require.NoError(t, storage.Set(StorageKey, old))

	h := newHarness(t, storage)
	_, ok := h.m.Load()
	assert.False(t, ok)
	_, present, _ := storage.Get(StorageKey)
	assert.False(t, present)

	h.m.Init()
	assert.Equal(t, BannerOpen, h.m.State())
}

func TestLoadPurgesExpired(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Decide(AllGranted, model.SourceAcceptAll)

	h.now = testNow.Add(MaxAge + time.Minute)
	_, ok := h.m.Load()
	assert.False(t, ok)
	_, present, _ := h.storage.Get(StorageKey)
	assert.False(t, present)
}

func TestLoadIgnoresMalformedValue(t *testing.T) {
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(StorageKey, "{not json"))

	h := newHarness(t, storage)
	_, ok := h.m.Load()
	assert.False(t, ok)
	raw, present, _ := storage.Get(StorageKey)
	assert.True(t, present)
	assert.Equal(t, "{not json", raw)
}

func TestDenyDeletesTrackingCookies(t *testing.T) {
	h := newHarness(t, nil)
	h.jar.Set("_ga", "GA1.1", ".example.com", "/", false)
	h.jar.Set("_gid", "GA1.2", "", "/servizi", false)
	h.jar.Set("_fbp", "fb.1", "www.example.com", "/servizi/automazioni", true)
	h.jar.Set("_gcl_au", "1.1", "example.com", "/", false)
	h.jar.Set("fr_lang", "it", "", "/", false)
	h.m.Init()

	rec, err := h.m.Handle(ActionDeny, Preferences{Analytics: true, Marketing: true})
	require.NoError(t, err)
	assert.Equal(t, DefaultPreferences, rec.Preferences)
	assert.Equal(t, model.SourceRejectAll, rec.Source)

	left := h.jar.Cookies()
	require.Len(t, left, 1)
	assert.Equal(t, "fr_lang", left[0].Name)
	assert.False(t, h.pixel.Loaded())
}

func TestRevokeAfterGrant(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Init()
	_, err := h.m.Handle(ActionAccept, Preferences{})
	require.NoError(t, err)

	h.jar.Set("_fbc", "fb.2", ".example.com", "/", true)
	rec, err := h.m.Handle(ActionDismiss, Preferences{})
	require.NoError(t, err)
	assert.Equal(t, model.SourceCloseX, rec.Source)

	cmds := h.pixel.Commands()
	require.NotEmpty(t, cmds)
	last := cmds[len(cmds)-1]
	assert.Equal(t, "consent", last.Name)
	assert.Equal(t, []any{"revoke"}, last.Args)
	assert.Empty(t, h.jar.Cookies())
}

func TestCustomizeThenSaveSelected(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Init()

	rec, err := h.m.Handle(ActionCustomize, Preferences{})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.True(t, h.m.EditorOpen())
	assert.Equal(t, BannerOpen, h.m.State())
	assert.Equal(t, DefaultPreferences, h.m.EditorPreferences())

	rec, err = h.m.Handle(ActionSaveSelected, Preferences{Analytics: true})
	require.NoError(t, err)
	assert.Equal(t, Preferences{Necessary: true, Analytics: true}, rec.Preferences)
	assert.Equal(t, model.SourceSavePreferences, rec.Source)
	assert.False(t, h.m.EditorOpen())
	assert.Equal(t, Decided, h.m.State())
	assert.False(t, h.pixel.Loaded())

	assert.Equal(t, rec.Preferences, h.m.OpenPreferences())
	assert.True(t, h.m.EditorOpen())
}

func TestUnknownAction(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Init()

	_, err := h.m.Handle("maybe", Preferences{})
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.Equal(t, BannerOpen, h.m.State())
}

func TestStorageWriteFailureStillApplies(t *testing.T) {
	storage := NewMemoryStorage()
	storage.FailWrites = true
	h := newHarness(t, storage)
	h.m.Init()

	rec, err := h.m.Handle(ActionAccept, Preferences{})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.True(t, h.pixel.Loaded())
	assert.Equal(t, AllGranted, h.m.EditorPreferences())
}

func TestDecisionIsReported(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Init()
	rec, err := h.m.Handle(ActionAccept, Preferences{})
	require.NoError(t, err)

	require.Len(t, h.reporter.events, 1)
	ev := h.reporter.events[0]
	assert.Equal(t, rec.ID, ev.ConsentID)
	assert.Equal(t, DefaultVersion, ev.ConsentVersion)
	assert.Equal(t, DefaultVersion, ev.PolicyVersion)
	assert.Equal(t, "banner_accept_all", ev.Source)
	assert.Equal(t, "2026-03-10T09:00:00.000Z", ev.UpdatedAt)
	assert.Equal(t, "/servizi/automazioni", ev.PagePath)
	assert.True(t, ev.Preferences.Marketing)
}

func TestNoReportWithoutEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.m.cfg.ConsentLogEndpoint = ""

	h.m.Decide(AllGranted, model.SourceAcceptAll)
	assert.Empty(t, h.reporter.events)
}

func TestTrackCustomEventIsGated(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Init()

	h.m.TrackCustomEvent("cta_click", map[string]any{"label": "preventivo"})
	assert.Zero(t, h.count("event", "cta_click"))

	_, err := h.m.Handle(ActionAccept, Preferences{})
	require.NoError(t, err)
	h.m.TrackCustomEvent("cta_click", map[string]any{"label": "preventivo"})
	assert.Equal(t, 1, h.count("event", "cta_click"))

	custom := 0
	for _, c := range h.pixel.Commands() {
		if c.Name == "trackCustom" {
			custom++
		}
	}
	assert.Equal(t, 1, custom)

	// Storage that rejects writes: the in-session decision still gates events.
	storage := NewMemoryStorage()
	storage.FailWrites = true
	broken := newHarness(t, storage)
	broken.m.Init()
	_, err = broken.m.Handle(ActionSaveSelected, Preferences{Analytics: true})
	require.NoError(t, err)
	_, stored, _ := storage.Get(StorageKey)
	require.False(t, stored)

	broken.m.TrackCustomEvent("whatsapp_click", nil)
	assert.Equal(t, 1, broken.count("event", "whatsapp_click"))
	for _, c := range broken.pixel.Commands() {
		assert.NotEqual(t, "trackCustom", c.Name)
	}
}
