package signature

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/allaspectsdev/sigproxy/internal/store"
	"github.com/allaspectsdev/sigproxy/internal/tracing"
)

// DurableTier is the narrow interface the Store needs from the durable
// (SQLite) layer. Defined here, not in package store, so this package
// never imports store's concrete row types beyond what it uses — the same
// adapter-boundary idiom the teacher used for its cache/fingerprint
// adapters.
type DurableTier interface {
	PutSignature(row store.SignatureRow) error
	GetSignatureByIndex(table, key string) (*store.SignatureRow, error)
	RecentSignature(windowSeconds int64) (*store.SignatureRow, error)
	SignaturesByBaseToolID(prefix string) ([]store.SignatureRow, error)
}

const (
	// shardCount is the number of hot-tier shards (spec.md section 9:
	// "a sharded map ... avoids writer starvation under heavy read load").
	shardCount = 32

	// hotTierCapacity is the default total hot-tier capacity (spec.md 4.A).
	hotTierCapacity = 10000

	// writeQueueCapacity is the bounded write-behind channel size
	// (spec.md section 5).
	writeQueueCapacity = 1024

	// flushBatchSize / flushInterval bound how long a durable write can be
	// delayed (spec.md 4.A: "batches up to 64 records or every 500 ms").
	flushBatchSize = 64
	flushInterval  = 500 * time.Millisecond

	// durableOpTimeout bounds a synchronous durable-tier read on hot-tier
	// miss (spec.md section 5).
	durableOpTimeout = 250 * time.Millisecond
)

// TTLPolicy resolves the signature TTL for a client kind (spec.md 3.2).
type TTLPolicy interface {
	TTLFor(clientKind string) time.Duration
}

// Stats mirrors spec.md 4.A's stats() operation.
type Stats struct {
	HotHits       int64
	HotMisses     int64
	DurableHits   int64
	DurableMisses int64
	QueueDepth    int64
	DroppedWrites int64
	Evictions     int64
}

type hotEntry struct {
	record *Record
}

// shard is one independently-locked slice of the hot tier.
type shard struct {
	mu    sync.RWMutex
	index map[IndexKind]*lru.Cache[string, *hotEntry]
}

func newShard(capacity int) *shard {
	s := &shard{index: make(map[IndexKind]*lru.Cache[string, *hotEntry])}
	for _, kind := range allKinds {
		c, err := lru.New[string, *hotEntry](capacity)
		if err != nil {
			// Only fails for capacity <= 0, which callers never pass.
			panic(fmt.Sprintf("signature: building shard LRU: %v", err))
		}
		s.index[kind] = c
	}
	return s
}

var allKinds = []IndexKind{KindText, KindPrefix, KindSuffix, KindLastN, KindSession, KindTool}

// Store is the two-tier Signature Store (spec.md 4.A): a sharded in-memory
// hot tier backed by an LRU per index kind per shard, and a durable SQLite
// tier reached synchronously on a hot-tier miss and updated asynchronously
// through a bounded write queue. It is always constructed and held by its
// owner (the dispatcher); it is never package-global state (spec.md
// section 9).
type Store struct {
	shards  [shardCount]*shard
	durable DurableTier
	ttl     TTLPolicy

	writeCh chan pendingWrite
	stopCh  chan struct{}
	doneCh  chan struct{}

	statsMu sync.Mutex
	stats   Stats

	metrics storeMetrics
}

// storeMetrics holds the OpenTelemetry counters mirroring Stats (SPEC_FULL.md
// 4.A). Any nil counter (creation failed, or no MeterProvider registered) is
// skipped on record — these are an observability add-on, never a dependency
// of the request path.
type storeMetrics struct {
	hotHits       metric.Int64Counter
	hotMisses     metric.Int64Counter
	durableHits   metric.Int64Counter
	durableMisses metric.Int64Counter
	droppedWrites metric.Int64Counter
}

func newStoreMetrics() storeMetrics {
	meter := tracing.Meter()
	var m storeMetrics
	var err error
	if m.hotHits, err = meter.Int64Counter("sigproxy.signature_store.hot_hits"); err != nil {
		log.Warn().Err(err).Msg("signature store: creating hot_hits counter")
	}
	if m.hotMisses, err = meter.Int64Counter("sigproxy.signature_store.hot_misses"); err != nil {
		log.Warn().Err(err).Msg("signature store: creating hot_misses counter")
	}
	if m.durableHits, err = meter.Int64Counter("sigproxy.signature_store.durable_hits"); err != nil {
		log.Warn().Err(err).Msg("signature store: creating durable_hits counter")
	}
	if m.durableMisses, err = meter.Int64Counter("sigproxy.signature_store.durable_misses"); err != nil {
		log.Warn().Err(err).Msg("signature store: creating durable_misses counter")
	}
	if m.droppedWrites, err = meter.Int64Counter("sigproxy.signature_store.dropped_writes"); err != nil {
		log.Warn().Err(err).Msg("signature store: creating dropped_writes counter")
	}
	return m
}

type pendingWrite struct {
	record *Record
	keys   map[IndexKind]string
}

// NewStore builds a Store. capacity is the total hot-tier entry budget,
// spread evenly across shardCount shards; durable may be nil for a
// memory-only store (used in unit tests of the recovery engine).
func NewStore(capacity int, durable DurableTier, ttl TTLPolicy) *Store {
	if capacity <= 0 {
		capacity = hotTierCapacity
	}
	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}

	s := &Store{
		durable: durable,
		ttl:     ttl,
		writeCh: make(chan pendingWrite, writeQueueCapacity),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		metrics: newStoreMetrics(),
	}
	for i := range s.shards {
		s.shards[i] = newShard(perShard)
	}
	go s.flushLoop()
	return s
}

// Close stops the background flush loop, flushing anything already queued.
func (s *Store) Close() {
	close(s.stopCh)
	<-s.doneCh
}

func shardFor(key string) int {
	if len(key) == 0 {
		return 0
	}
	return int(key[0]) % shardCount
}

// Put inserts record under every index key in keys, in both tiers
// (spec.md 4.A put()). The hot tier is updated synchronously; the durable
// tier write is enqueued for the background batch flusher.
func (s *Store) Put(record *Record, keys map[IndexKind]string) {
	for kind, key := range keys {
		sh := s.shards[shardFor(key)]
		sh.mu.Lock()
		sh.index[kind].Add(key, &hotEntry{record: record.clone()})
		sh.mu.Unlock()
	}

	select {
	case s.writeCh <- pendingWrite{record: record.clone(), keys: keys}:
	default:
		// Queue full: drop the oldest pending write to make room, then
		// retry once. If that also fails (e.g. another writer raced us),
		// count the write as dropped and move on — the request path must
		// never block (spec.md section 9).
		select {
		case <-s.writeCh:
			s.incDropped()
		default:
		}
		select {
		case s.writeCh <- pendingWrite{record: record.clone(), keys: keys}:
		default:
			s.incDropped()
		}
	}
}

func (s *Store) incDropped() {
	s.statsMu.Lock()
	s.stats.DroppedWrites++
	s.statsMu.Unlock()
	if s.metrics.droppedWrites != nil {
		s.metrics.droppedWrites.Add(context.Background(), 1)
	}
}

// GetBy performs a point lookup for kind/key (spec.md 4.A get_by()). It
// checks the hot tier first; on miss it consults the durable tier
// synchronously with a short timeout and promotes a hit back into the hot
// tier. Expired-for-this-client records are treated as a miss (Open
// Question 1, DESIGN.md: enforced at read time).
func (s *Store) GetBy(kind IndexKind, key string, clientKind string) (*Record, bool) {
	sh := s.shards[shardFor(key)]
	sh.mu.RLock()
	entry, ok := sh.index[kind].Get(key)
	sh.mu.RUnlock()

	if ok {
		if s.expired(entry.record, clientKind) {
			s.incHotMiss()
		} else {
			s.incHotHit()
			return entry.record.clone(), true
		}
	} else {
		s.incHotMiss()
	}

	if s.durable == nil {
		s.incDurableMiss()
		return nil, false
	}

	type result struct {
		row *store.SignatureRow
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		row, err := s.durable.GetSignatureByIndex(string(kind), key)
		resCh <- result{row, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			s.incDurableMiss()
			return nil, false
		}
		rec := recordFromRow(res.row)
		if s.expired(rec, clientKind) {
			s.incDurableMiss()
			return nil, false
		}
		s.incDurableHit()
		sh.mu.Lock()
		sh.index[kind].Add(key, &hotEntry{record: rec})
		sh.mu.Unlock()
		return rec.clone(), true
	case <-time.After(durableOpTimeout):
		s.incDurableMiss()
		return nil, false
	}
}

// RecentWithin is spec.md 4.A recent_within(): last-resort fallback
// returning the newest record created within window, regardless of index.
func (s *Store) RecentWithin(window time.Duration) (*Record, bool) {
	if s.durable == nil {
		return nil, false
	}
	row, err := s.durable.RecentSignature(int64(window.Seconds()))
	if err != nil {
		return nil, false
	}
	return recordFromRow(row), true
}

// RecordsByBaseToolID returns every durable record sharing a base tool id
// prefix, newest first, for the tool-fuzzy recovery layer.
func (s *Store) RecordsByBaseToolID(prefix string) []*Record {
	if s.durable == nil {
		return nil
	}
	rows, err := s.durable.SignaturesByBaseToolID(prefix)
	if err != nil {
		return nil
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		out = append(out, recordFromRow(&rows[i]))
	}
	return out
}

func (s *Store) expired(r *Record, clientKind string) bool {
	if s.ttl == nil {
		return false
	}
	ttl := s.ttl.TTLFor(clientKind)
	if ttl <= 0 {
		return false
	}
	return time.Since(r.CreatedAt) > ttl
}

// Stats returns a snapshot of counters (spec.md 4.A stats()).
func (s *Store) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats
	st.QueueDepth = int64(len(s.writeCh))
	return st
}

func (s *Store) incHotHit() {
	s.statsMu.Lock()
	s.stats.HotHits++
	s.statsMu.Unlock()
	if s.metrics.hotHits != nil {
		s.metrics.hotHits.Add(context.Background(), 1)
	}
}

func (s *Store) incHotMiss() {
	s.statsMu.Lock()
	s.stats.HotMisses++
	s.statsMu.Unlock()
	if s.metrics.hotMisses != nil {
		s.metrics.hotMisses.Add(context.Background(), 1)
	}
}

func (s *Store) incDurableHit() {
	s.statsMu.Lock()
	s.stats.DurableHits++
	s.statsMu.Unlock()
	if s.metrics.durableHits != nil {
		s.metrics.durableHits.Add(context.Background(), 1)
	}
}

func (s *Store) incDurableMiss() {
	s.statsMu.Lock()
	s.stats.DurableMisses++
	s.statsMu.Unlock()
	if s.metrics.durableMisses != nil {
		s.metrics.durableMisses.Add(context.Background(), 1)
	}
}

// flushLoop batches pending writes and flushes them to the durable tier.
// Failures are logged and dropped; they never propagate to the request
// path (spec.md 4.A failure semantics).
func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]pendingWrite, 0, flushBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if s.durable != nil {
			for _, w := range batch {
				if err := s.durable.PutSignature(toRow(w)); err != nil {
					log.Warn().Err(err).Str("component", "signature_store").Msg("durable write failed, dropping")
				}
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-s.stopCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case w := <-s.writeCh:
					batch = append(batch, w)
					if len(batch) >= flushBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case w := <-s.writeCh:
			batch = append(batch, w)
			if len(batch) >= flushBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func toRow(w pendingWrite) store.SignatureRow {
	keys := make(map[string]string, len(w.keys))
	for k, v := range w.keys {
		keys[string(k)] = v
	}
	return store.SignatureRow{
		ID:         w.record.ID,
		Signature:  w.record.Signature,
		Text:       w.record.Text,
		ClientKind: w.record.ClientKind,
		CreatedAt:  w.record.CreatedAt.Unix(),
		LastAccess: w.record.LastAccess.Unix(),
		IndexKeys:  keys,
	}
}

func recordFromRow(row *store.SignatureRow) *Record {
	return &Record{
		ID:         row.ID,
		Signature:  row.Signature,
		Text:       row.Text,
		ClientKind: row.ClientKind,
		CreatedAt:  time.Unix(row.CreatedAt, 0),
		LastAccess: time.Unix(row.LastAccess, 0),
	}
}

// BuildKeys computes every applicable index key for a thinking block
// (spec.md 3.2), given the current request's user-message history and an
// optional adjacent tool-use id.
func BuildKeys(text string, userMessages []string, toolUseID string) map[IndexKind]string {
	keys := map[IndexKind]string{
		KindText:   PrimaryKey(text),
		KindPrefix: PrefixKey(text),
		KindSuffix: SuffixKey(text),
		KindLastN:  LastNLinesKey(text),
	}
	if sk := SessionKeys(userMessages); len(sk) > 0 {
		// The most specific (last-3) session key is the canonical index
		// entry; recovery separately probes all three levels by recomputing
		// them from the candidate history, so only one needs to be stored
		// per put() (spec.md 4.A stores "a" session_key per record).
		keys[KindSession] = sk[0]
	}
	if toolUseID != "" {
		keys[KindTool] = toolUseID
	}
	return keys
}

// NewRecordID returns a fresh opaque record id. Exported so callers (the
// translator, on SignatureDelta) can build the record before calling Put.
func NewRecordID() string {
	return uuid.NewString()
}
