package asynchook

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache"
)

type recorder struct {
	querycache.NopHooks
	mu      sync.Mutex
	evicted []string
	block   chan struct{}
}

func (r *recorder) EntityEvicted(e, reason string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.evicted = append(r.evicted, e+":"+reason)
	r.mu.Unlock()
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 1, 16)
	h.EntityEvicted("posts/p1", "deleted")
	h.EntityEvicted("posts/p2", "not_found")
	h.Close()

	require.Equal(t, []string{"posts/p1:deleted", "posts/p2:not_found"}, rec.evicted)
}

func TestFullQueueDropsEvents(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	h := New(rec, 1, 1)

	h.EntityEvicted("posts/p1", "deleted") // taken by the worker, blocks
	require.Eventually(t, func() bool { return len(h.q) == 0 }, time.Second, time.Millisecond)
	h.EntityEvicted("posts/p2", "deleted") // queued
	h.EntityEvicted("posts/p3", "deleted") // dropped

	require.Equal(t, uint64(1), h.Dropped())
	close(rec.block)
	h.Close()
	require.Len(t, rec.evicted, 2)
}

func TestEventsAfterCloseAreIgnored(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 2, 4)
	h.Close()
	h.Close()
	h.EntityEvicted("posts/p1", "deleted")
	require.Empty(t, rec.evicted)
}
