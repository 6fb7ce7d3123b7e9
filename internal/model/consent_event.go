package model

import (
	"bytes"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ConsentSource tells which banner control produced a decision.
type ConsentSource string

const (
	SourceAcceptAll       ConsentSource = "banner_accept_all"
	SourceRejectAll       ConsentSource = "banner_reject_all"
	SourceCloseX          ConsentSource = "banner_close_x"
	SourceSavePreferences ConsentSource = "banner_save_preferences"
	SourceUnknown         ConsentSource = "unknown"
)

// ConsentPreferences holds the per-category choices. Necessary is always true.
type ConsentPreferences struct {
	Necessary bool `json:"necessary"`
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}

// Normalized returns a copy with Necessary forced on.
func (p ConsentPreferences) Normalized() ConsentPreferences {
	p.Necessary = true
	return p
}

// ConsentLogEvent is the evidence snapshot the browser posts to the consent
// log endpoint.
type ConsentLogEvent struct {
	ConsentID      string             `json:"consent_id"`
	ConsentVersion string             `json:"consent_version"`
	PolicyVersion  string             `json:"policy_version,omitempty"`
	Source         string             `json:"source,omitempty"`
	UpdatedAt      string             `json:"updated_at"`
	ExpiresAt      string             `json:"expires_at"`
	Preferences    ConsentPreferences `json:"preferences"`
	PageURL        string             `json:"page_url,omitempty"`
	PagePath       string             `json:"page_path,omitempty"`
	Referrer       string             `json:"referrer,omitempty"`
	UserAgent      string             `json:"user_agent,omitempty"`
}

// ConsentEvidence is what the server keeps for one accepted event: the
// client snapshot plus request context.
type ConsentEvidence struct {
	Event      ConsentLogEvent `json:"event"`
	IP         string          `json:"ip"`
	UserAgent  string          `json:"ua"`
	ReceivedAt time.Time       `json:"received_at"`
}

// ErrInvalidPayload is returned for JSON that is well formed but not an object.
var ErrInvalidPayload = &ValidationError{Message: "Payload JSON non valido"}

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type consentLogWire struct {
	ConsentID      json.RawMessage `json:"consent_id"`
	ConsentVersion json.RawMessage `json:"consent_version"`
	PolicyVersion  json.RawMessage `json:"policy_version"`
	Source         json.RawMessage `json:"source"`
	UpdatedAt      json.RawMessage `json:"updated_at"`
	ExpiresAt      json.RawMessage `json:"expires_at"`
	Preferences    json.RawMessage `json:"preferences"`
	PageURL        json.RawMessage `json:"page_url"`
	PagePath       json.RawMessage `json:"page_path"`
	Referrer       json.RawMessage `json:"referrer"`
	UserAgent      json.RawMessage `json:"user_agent"`
}

type preferencesWire struct {
	Necessary json.RawMessage `json:"necessary"`
	Analytics json.RawMessage `json:"analytics"`
	Marketing json.RawMessage `json:"marketing"`
}

// ParseConsentLogEvent validates raw, which must already be syntactically
// valid JSON, and returns the typed event. Checks run in a fixed order and
// the first failure is reported.
func ParseConsentLogEvent(raw []byte) (*ConsentLogEvent, error) {
	if !isJSONObject(raw) {
		return nil, ErrInvalidPayload
	}
	var w consentLogWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, ErrInvalidPayload
	}

	ev := &ConsentLogEvent{}
	var ok bool
	if ev.ConsentID, ok = jsonString(w.ConsentID); !ok || strings.TrimSpace(ev.ConsentID) == "" {
		return nil, &ValidationError{Field: "consent_id", Message: "consent_id mancante"}
	}
	if ev.ConsentVersion, ok = jsonString(w.ConsentVersion); !ok || strings.TrimSpace(ev.ConsentVersion) == "" {
		return nil, &ValidationError{Field: "consent_version", Message: "consent_version mancante"}
	}
	if !isJSONObject(w.Preferences) {
		return nil, &ValidationError{Field: "preferences", Message: "preferences mancanti"}
	}
	var pw preferencesWire
	if err := json.Unmarshal(w.Preferences, &pw); err != nil {
		return nil, &ValidationError{Field: "preferences", Message: "preferences mancanti"}
	}
	if ev.Preferences.Analytics, ok = jsonBool(pw.Analytics); !ok {
		return nil, &ValidationError{Field: "preferences.analytics", Message: "preferences.analytics deve essere boolean"}
	}
	if ev.Preferences.Marketing, ok = jsonBool(pw.Marketing); !ok {
		return nil, &ValidationError{Field: "preferences.marketing", Message: "preferences.marketing deve essere boolean"}
	}
	ev.Preferences.Necessary, _ = jsonBool(pw.Necessary)

	if ev.UpdatedAt, ok = jsonString(w.UpdatedAt); !ok || !IsISODate(ev.UpdatedAt) {
		return nil, &ValidationError{Field: "updated_at", Message: "updated_at non valido"}
	}
	if ev.ExpiresAt, ok = jsonString(w.ExpiresAt); !ok || !IsISODate(ev.ExpiresAt) {
		return nil, &ValidationError{Field: "expires_at", Message: "expires_at non valido"}
	}

	// Optional free text; non-string values are ignored.
	ev.PolicyVersion, _ = jsonString(w.PolicyVersion)
	ev.Source, _ = jsonString(w.Source)
	ev.PageURL, _ = jsonString(w.PageURL)
	ev.PagePath, _ = jsonString(w.PagePath)
	ev.Referrer, _ = jsonString(w.Referrer)
	ev.UserAgent, _ = jsonString(w.UserAgent)
	return ev, nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISODate accepts the ISO-8601 shapes browsers produce with
// Date.prototype.toISOString and plain calendar dates.
func ParseISODate(s string) (time.Time, bool) {
	if len(s) < 10 {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func IsISODate(s string) bool {
	_, ok := ParseISODate(s)
	return ok
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func jsonString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

func jsonBool(raw json.RawMessage) (bool, bool) {
	switch string(bytes.TrimSpace(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}
