package consent

import (
	"time"

	"github.com/frlabs/sitegate/internal/model"
	json "github.com/goccy/go-json"
)

const (
	StorageKey   = "fr_cookie_consent_v1"
	IDStorageKey = "fr_cookie_consent_id"

	// DefaultVersion is the cookie policy revision records are written under.
	DefaultVersion = "2026-02-16"

	MaxAge = 180 * 24 * time.Hour
)

// isoMillis matches Date.prototype.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

type (
	Preferences = model.ConsentPreferences
	Source      = model.ConsentSource
)

// DefaultPreferences is the state before any decision: only necessary cookies.
var DefaultPreferences = Preferences{Necessary: true}

// AllGranted is what "accept all" stores.
var AllGranted = Preferences{Necessary: true, Analytics: true, Marketing: true}

// Record is one persisted consent decision. A zero ExpiresAt means the
// stored value was missing or unreadable.
type Record struct {
	ID          string
	Version     string
	UpdatedAt   time.Time
	ExpiresAt   time.Time
	Source      Source
	Preferences Preferences
}

// Expired reports whether r is past its validity window at now.
func (r *Record) Expired(now time.Time) bool {
	if !r.ExpiresAt.IsZero() {
		return now.After(r.ExpiresAt)
	}
	if r.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(r.UpdatedAt) > MaxAge
}

type recordWire struct {
	ID          string       `json:"id"`
	Version     string       `json:"version"`
	UpdatedAt   string       `json:"updatedAt"`
	ExpiresAt   string       `json:"expiresAt"`
	Source      Source       `json:"source"`
	Preferences *Preferences `json:"preferences"`
}

func encodeRecord(r *Record) (string, error) {
	prefs := r.Preferences.Normalized()
	w := recordWire{
		ID:          r.ID,
		Version:     r.Version,
		UpdatedAt:   formatISO(r.UpdatedAt),
		ExpiresAt:   formatISO(r.ExpiresAt),
		Source:      r.Source,
		Preferences: &prefs,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeRecord returns false for malformed JSON or a value without
// preferences.
func decodeRecord(raw string) (*Record, bool) {
	var w recordWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil || w.Preferences == nil {
		return nil, false
	}
	r := &Record{
		ID:          w.ID,
		Version:     w.Version,
		Source:      w.Source,
		Preferences: w.Preferences.Normalized(),
	}
	r.UpdatedAt, _ = model.ParseISODate(w.UpdatedAt)
	r.ExpiresAt, _ = model.ParseISODate(w.ExpiresAt)
	return r, true
}

func formatISO(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(isoMillis)
}
