package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore keeps the latest window per key in process memory. It is for
// development and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]Window
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]Window)}
}

func memoryKey(ip, endpoint string) string {
	return endpoint + "|" + ip
}

func (s *MemoryStore) LatestWindow(ctx context.Context, ip, endpoint string, since time.Time) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[memoryKey(ip, endpoint)]
	if !ok || w.Start.Before(since) {
		return Window{}, false, nil
	}
	return w, true, nil
}

func (s *MemoryStore) CreateWindow(ctx context.Context, ip, endpoint string, start time.Time, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	w := Window{ID: s.nextID, Count: 1, Start: start}
	s.windows[memoryKey(ip, endpoint)] = w
	return w, nil
}

func (s *MemoryStore) IncrementWindow(ctx context.Context, ip, endpoint string, w Window, max int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(ip, endpoint)
	current, ok := s.windows[key]
	if !ok || current.ID != w.ID || current.Count >= max {
		return current.Count, false, nil
	}
	current.Count++
	s.windows[key] = current
	return current.Count, true, nil
}

// Prune drops windows that started before cutoff.
func (s *MemoryStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if w.Start.Before(cutoff) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// RunCleanup prunes windows older than maxAge every interval until ctx ends.
func (s *MemoryStore) RunCleanup(ctx context.Context, interval, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Prune(now.Add(-maxAge)); n > 0 {
				logger.Debug("pruned rate limit windows", "count", n)
			}
		}
	}
}

var _ Store = (*MemoryStore)(nil)
