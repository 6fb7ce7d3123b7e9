package service

import (
	"context"
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// QuotaStore counts hits per key inside a fixed window.
type QuotaStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// MemoryQuotaStore keeps counters in process memory. Counters expire with
// their window.
type MemoryQuotaStore struct {
	cache *cache.Cache
}

func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{cache: cache.New(24*time.Hour, time.Hour)}
}

func (m *MemoryQuotaStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	if err := m.cache.Add(key, int64(1), window); err == nil {
		return 1, nil
	}
	return m.cache.IncrementInt64(key, 1)
}

// QuotaService caps chat questions per client per UTC day.
type QuotaService struct {
	store  QuotaStore
	limit  int64
	prefix string
	now    func() time.Time
}

func NewQuotaService(store QuotaStore, dailyLimit int, prefix string) *QuotaService {
	if prefix == "" {
		prefix = "chat_quota"
	}
	return &QuotaService{
		store:  store,
		limit:  int64(dailyLimit),
		prefix: prefix,
		now:    time.Now,
	}
}

// Allow records one question for clientID and reports whether it is within
// the daily limit. A zero limit disables the check.
func (q *QuotaService) Allow(ctx context.Context, clientID string) (bool, error) {
	if q == nil || q.limit <= 0 || q.store == nil {
		return true, nil
	}
	day := q.now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("%s:%s:%s", q.prefix, clientID, day)
	n, err := q.store.Increment(ctx, key, 48*time.Hour)
	if err != nil {
		return true, err
	}
	return n <= q.limit, nil
}
