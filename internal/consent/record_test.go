package consent

import (
	"strings"
	"testing"
	"time"

	"github.com/frlabs/sitegate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEncodingUsesStorageKeys(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	rec := &Record{
		ID:          "c-1",
		Version:     DefaultVersion,
		UpdatedAt:   at,
		ExpiresAt:   at.Add(MaxAge),
		Source:      model.SourceAcceptAll,
		Preferences: Preferences{Analytics: true},
	}

	raw, err := encodeRecord(rec)
	require.NoError(t, err)
	assert.Contains(t, raw, `"updatedAt":"2026-03-01T10:30:00.000Z"`)
	assert.Contains(t, raw, `"expiresAt":"2026-08-28T10:30:00.000Z"`)
	assert.Contains(t, raw, `"necessary":true`)

	got, ok := decodeRecord(raw)
	require.True(t, ok)
	assert.Equal(t, "c-1", got.ID)
	assert.True(t, got.UpdatedAt.Equal(at))
	assert.True(t, got.Preferences.Analytics)
	assert.False(t, got.Preferences.Marketing)
}

func TestDecodeRecordRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "{", "[]", `{"id":"x","version":"v"}`} {
		_, ok := decodeRecord(raw)
		assert.False(t, ok, raw)
	}
}

func TestRecordExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	fresh := &Record{UpdatedAt: now.Add(-24 * time.Hour), ExpiresAt: now.Add(24 * time.Hour)}
	assert.False(t, fresh.Expired(now))

	past := &Record{UpdatedAt: now.Add(-MaxAge - time.Hour), ExpiresAt: now.Add(-time.Hour)}
	assert.True(t, past.Expired(now))

	// Without expiresAt the age of updatedAt decides.
	noExpiry := &Record{UpdatedAt: now.Add(-MaxAge - time.Minute)}
	assert.True(t, noExpiry.Expired(now))
	assert.False(t, (&Record{UpdatedAt: now.Add(-time.Hour)}).Expired(now))

	assert.True(t, (&Record{}).Expired(now))
}

func TestFormatISO(t *testing.T) {
	assert.Equal(t, "", formatISO(time.Time{}))
	loc := time.FixedZone("CET", 3600)
	got := formatISO(time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, loc))
	assert.Equal(t, "2026-01-02T02:04:05.006Z", got)
	assert.True(t, strings.HasSuffix(got, "Z"))
}
