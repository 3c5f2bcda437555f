package genstore

import (
	"context"
	"sync"
	"time"
)

type localEpoch struct {
	Epoch    uint64
	BumpedAt time.Time
}

// LocalGenStore keeps epochs in-process.
// With cleanupInterval and retention > 0 a background loop prunes kinds that
// were not invalidated for longer than retention. Pick a retention well above
// the parking TTL: a pruned kind reads as epoch 0 again.
type LocalGenStore struct {
	mu     sync.RWMutex
	epochs map[string]localEpoch
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{epochs: make(map[string]localEpoch)}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *LocalGenStore) Snapshot(_ context.Context, kind string) (uint64, error) {
	s.mu.RLock()
	e := s.epochs[kind]
	s.mu.RUnlock()
	return e.Epoch, nil
}

// SnapshotMany reads every kind under a single read lock.
func (s *LocalGenStore) SnapshotMany(_ context.Context, kinds []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(kinds))
	s.mu.RLock()
	for _, k := range kinds {
		out[k] = s.epochs[k].Epoch
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, kind string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.epochs[kind]
	e.Epoch++
	e.BumpedAt = now
	s.epochs[kind] = e
	s.mu.Unlock()
	return e.Epoch, nil
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.epochs {
		if e.BumpedAt.Before(cutoff) {
			delete(s.epochs, k)
		}
	}
	s.mu.Unlock()
}

// Close stops the cleanup loop. Safe to call more than once.
func (s *LocalGenStore) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh == nil {
			return
		}
		s.ticker.Stop()
		close(s.stopCh)
		s.wg.Wait()
	})
	return nil
}
