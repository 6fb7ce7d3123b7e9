package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaServiceDailyLimit(t *testing.T) {
	q := NewQuotaService(NewMemoryQuotaStore(), 2, "")
	day := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return day }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := q.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := q.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = q.Allow(ctx, "5.6.7.8")
	assert.True(t, ok)

	day = day.Add(2 * time.Hour)
	ok, _ = q.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
}

func TestQuotaServiceDisabled(t *testing.T) {
	q := NewQuotaService(NewMemoryQuotaStore(), 0, "")
	for i := 0; i < 10; i++ {
		ok, err := q.Allow(context.Background(), "ip")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	var nilQuota *QuotaService
	ok, err := nilQuota.Allow(context.Background(), "ip")
	assert.NoError(t, err)
	assert.True(t, ok)
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func TestQuotaServiceStoreErrorAllows(t *testing.T) {
	q := NewQuotaService(failingStore{}, 1, "")
	ok, err := q.Allow(context.Background(), "ip")
	assert.Error(t, err)
	assert.True(t, ok)
}
