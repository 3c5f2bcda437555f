package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	c "github.com/unkn0wn-root/querycache/codec"
	gen "github.com/unkn0wn-root/querycache/genstore"
	pr "github.com/unkn0wn-root/querycache/provider"
)

// ErrClosed is returned by operations on a closed Engine.
var ErrClosed = errors.New("querycache: engine closed")

// DataSource is the backing API. Implementations return *Error (or errors
// Classify understands) so the engine can tell network, validation, auth,
// not-found and conflict failures apart.
type DataSource interface {
	// FetchPage returns one raw page. The raw value is handed to the
	// normalizer registered for kind. cursor is nil for the first page and
	// otherwise passed back verbatim.
	FetchPage(ctx context.Context, kind string, params map[string]string, cursor *string) (raw any, err error)

	// WriteMutation performs one write and returns the server's canonical
	// fields for the entity (may be nil).
	WriteMutation(ctx context.Context, kind, id, op string, payload any) (persisted map[string]any, err error)
}

// SessionRefresher renews credentials after an auth failure.
type SessionRefresher interface {
	Refresh(ctx context.Context) error
}

// Normalizer turns one raw data source response into items + next cursor.
// Raw shapes differ per resource kind; register one normalizer per kind.
type Normalizer func(raw any) (PageResult, error)

// Options tune the engine. Only DataSource is required.
type Options struct {
	DataSource  DataSource
	Normalizers map[string]Normalizer // kind -> normalizer; unknown kinds expect PageResult
	// ItemKinds maps a list kind to the kind of entity it lists, e.g.
	// "bookmarks" -> "posts". Items a normalizer leaves without a kind get
	// the mapped kind, or the list's own kind when unmapped.
	ItemKinds map[string]string
	Session     SessionRefresher      // nil => auth errors surface immediately

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// Namespace prefixes parking keys; "" => "querycache".
	Namespace string
	// GenStore holds kind invalidation epochs. nil => LocalGenStore.
	GenStore gen.GenStore
	// Parking receives idle-evicted queries. nil disables parking.
	Parking      pr.Provider
	ParkingCodec c.Codec[ParkedQuery] // nil => codec.JSON
	ParkTTL      time.Duration        // 0 => 10m

	FetchTimeout time.Duration // 0 => 15s, independent of transport timeouts
	WriteTimeout time.Duration // 0 => 30s
	AuthRetries  int           // 0 => 1; negative disables refresh-and-retry

	QueryIdleTTL  time.Duration // unsubscribed queries unused this long are evicted; 0 => 5m
	SweepInterval time.Duration // 0 => 1m; negative disables the background sweep

	// RefetchOnInvalidate refetches subscribed queries in the background
	// after a kind-level invalidation.
	RefetchOnInvalidate bool

	// Clock is used for idle accounting. nil => time.Now.
	Clock func() time.Time
}

// Engine is one application's query cache. Construct it once with New and
// share it by reference; it is safe for concurrent use.
type Engine struct {
	src       DataSource
	session   SessionRefresher
	log       Logger
	hooks     Hooks
	gen       gen.GenStore
	parking   pr.Provider
	parkCodec c.Codec[ParkedQuery]
	ns        string

	fetchTimeout        time.Duration
	writeTimeout        time.Duration
	authRetries         int
	idleTTL             time.Duration
	parkTTL             time.Duration
	refetchOnInvalidate bool
	now                 func() time.Time

	mu          sync.Mutex
	closed      bool
	normalizers map[string]Normalizer
	itemKinds   map[string]string
	queries     map[string]*queryState
	entities    map[Ref]record
	refs        map[Ref]map[string]struct{} // entity -> query keys projecting it
	pending     map[Ref]*pendingChain
	deleted     map[Ref]uint64 // confirmed deletions, kept while writes are in flight
	writing     int
	dirty       map[string]struct{}
	publishSeq  map[string]uint64
	seq         uint64
	listeners   map[uint64]listener
	nextListen  uint64

	stopCh    chan struct{}
	ticker    *time.Ticker
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) (*Engine, error) {
	if opts.DataSource == nil {
		return nil, fmt.Errorf("querycache: data source is required")
	}

	e := &Engine{
		src:                 opts.DataSource,
		session:             opts.Session,
		parking:             opts.Parking,
		refetchOnInvalidate: opts.RefetchOnInvalidate,
		normalizers:         make(map[string]Normalizer, len(opts.Normalizers)),
		itemKinds:           make(map[string]string, len(opts.ItemKinds)),
		queries:             make(map[string]*queryState),
		entities:            make(map[Ref]record),
		refs:                make(map[Ref]map[string]struct{}),
		pending:             make(map[Ref]*pendingChain),
		deleted:             make(map[Ref]uint64),
		dirty:               make(map[string]struct{}),
		publishSeq:          make(map[string]uint64),
		listeners:           make(map[uint64]listener),
	}
	for kind, n := range opts.Normalizers {
		if n == nil {
			return nil, fmt.Errorf("querycache: nil normalizer for kind %q", kind)
		}
		e.normalizers[kind] = n
	}

	for list, kind := range opts.ItemKinds {
		if kind == "" {
			return nil, fmt.Errorf("querycache: empty item kind for list %q", list)
		}
		e.itemKinds[list] = kind
	}

	// defaults
	e.log = opts.Logger
	if e.log == nil {
		e.log = NopLogger{}
	}
	e.hooks = opts.Hooks
	if e.hooks == nil {
		e.hooks = NopHooks{}
	}
	e.ns = coalesce(opts.Namespace, defaultNamespace)
	e.fetchTimeout = coalesce(opts.FetchTimeout, defaultFetchTimeout)
	e.writeTimeout = coalesce(opts.WriteTimeout, defaultWriteTimeout)
	e.authRetries = coalesce(opts.AuthRetries, defaultAuthRetries)
	if e.authRetries < 0 {
		e.authRetries = 0
	}
	e.idleTTL = coalesce(opts.QueryIdleTTL, defaultQueryIdleTTL)
	e.parkTTL = coalesce(opts.ParkTTL, defaultParkTTL)
	e.now = opts.Clock
	if e.now == nil {
		e.now = time.Now
	}

	if opts.ParkingCodec != nil {
		e.parkCodec = opts.ParkingCodec
	} else {
		e.parkCodec = c.JSON[ParkedQuery]{}
	}

	if opts.GenStore != nil {
		e.gen = opts.GenStore
	} else {
		e.gen = gen.NewLocalGenStore(defaultEpochSweep, defaultEpochRetain)
	}

	if sweep := coalesce(opts.SweepInterval, defaultSweepInterval); sweep > 0 {
		e.ticker = time.NewTicker(sweep)
		e.stopCh = make(chan struct{})
		e.wg.Add(1)
		go e.sweepLoop()
	}
	return e, nil
}

// RegisterNormalizer sets the normalizer for one resource kind, replacing
// any previous one.
func (e *Engine) RegisterNormalizer(kind string, n Normalizer) {
	if n == nil {
		panic("querycache: nil normalizer")
	}
	e.mu.Lock()
	e.normalizers[kind] = n
	e.mu.Unlock()
}

// Close stops background work, closes every subscription, then closes the
// epoch store (best effort) and the parking provider. Later calls return the
// first call's result.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		for _, st := range e.queries {
			for sub := range st.subs {
				sub.closeLocked()
			}
			st.subs = nil
		}
		e.mu.Unlock()

		if e.stopCh != nil {
			e.ticker.Stop()
			close(e.stopCh)
		}
		e.wg.Wait()

		if e.gen != nil {
			_ = e.gen.Close(ctx)
		}
		if e.parking != nil {
			e.closeErr = e.parking.Close(ctx)
		}
	})
	return e.closeErr
}

func (e *Engine) normalizerLocked(kind string) Normalizer {
	if n, ok := e.normalizers[kind]; ok {
		return n
	}
	return passthrough
}

func (e *Engine) itemKindLocked(listKind string) string {
	if k, ok := e.itemKinds[listKind]; ok {
		return k
	}
	return listKind
}

func passthrough(raw any) (PageResult, error) {
	switch v := raw.(type) {
	case PageResult:
		return v, nil
	case *PageResult:
		if v != nil {
			return *v, nil
		}
	}
	return PageResult{}, fmt.Errorf("no normalizer registered for raw %T", raw)
}
