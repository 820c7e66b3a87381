package cache

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"github.com/spaolacci/murmur3"

	"github.com/carepoint/policygate/internal/observability"
	"github.com/carepoint/policygate/internal/ruleengine"
)

// lockStripes is the number of mutexes guarding read-modify-write cycles.
// Keys hash onto a stripe, so unrelated clients rarely contend.
const lockStripes = 256

type window struct {
	count int64
	start time.Time
}

// MemoryCounterStore keeps rate-limit windows in process memory using the
// S3-FIFO cache from 'otter'. Entries expire on their own TTL.
type MemoryCounterStore struct {
	store otter.CacheWithVariableTTL[string, window]
	locks [lockStripes]sync.Mutex
}

var _ ruleengine.CounterStore = (*MemoryCounterStore)(nil)

// NewMemoryCounterStore creates a store holding at most capacity windows.
func NewMemoryCounterStore(capacity int) (*MemoryCounterStore, error) {
	store, err := otter.MustBuilder[string, window](capacity).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, err
	}

	return &MemoryCounterStore{store: store}, nil
}

// Hit implements ruleengine.CounterStore.
func (s *MemoryCounterStore) Hit(_ context.Context, key string, now time.Time, size time.Duration) (ruleengine.WindowCounter, error) {
	mu := &s.locks[murmur3.Sum32([]byte(key))%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	w, ok := s.store.Get(key)
	if !ok || now.Sub(w.start) > size {
		w = window{start: now}
	}
	w.count++
	s.store.Set(key, w, ruleengine.CounterTTL(size))

	return ruleengine.WindowCounter{Count: w.count, WindowStart: w.start}, nil
}

// Len returns the number of live windows.
func (s *MemoryCounterStore) Len() int {
	return s.store.Size()
}

// RunMetricsCollector reports the number of live windows every interval until ctx is done.
func (s *MemoryCounterStore) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.MemoryCounterKeys.Set(float64(s.store.Size()))
		}
	}
}

// Close stops the cache's background goroutines.
func (s *MemoryCounterStore) Close() {
	s.store.Close()
}
