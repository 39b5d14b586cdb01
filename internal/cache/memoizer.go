package cache

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetSentinel/internal/model"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

const defaultMaxEntries = 64

// ComputeFunc produces a report for a packet collection.
type ComputeFunc func(ctx context.Context, packets []model.PacketRecord) (*model.Report, error)

type entry struct {
	mu      sync.Mutex
	done    atomic.Bool
	report  *model.Report
	created time.Time
	// refs counts callers inside Report for this entry. Guarded by the
	// map shard lock: only touched from Upsert and RemoveCb callbacks.
	refs int
}

// Memoizer serves reports keyed by a content fingerprint of the packets. At
// most one computation per fingerprint runs at a time; concurrent callers
// with the same packets wait for it and share the result.
type Memoizer struct {
	compute    ComputeFunc
	entries    cmap.ConcurrentMap[string, *entry]
	maxEntries int
	logger     *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoizer wraps compute. maxEntries <= 0 uses the default bound.
func NewMemoizer(compute ComputeFunc, maxEntries int, logger *zap.Logger) *Memoizer {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memoizer{
		compute:    compute,
		entries:    cmap.New[*entry](),
		maxEntries: maxEntries,
		logger:     logger.Named("cache"),
	}
}

// Fingerprint hashes every field of every packet with FNV-64a.
func Fingerprint(packets []model.PacketRecord) string {
	h := fnv.New64a()
	var buf [8]byte
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	writeStr := func(s string) {
		writeInt(int64(len(s)))
		h.Write([]byte(s))
	}

	writeInt(int64(len(packets)))
	for i := range packets {
		p := &packets[i]
		writeInt(p.FrameNumber)
		writeInt(p.Timestamp.UnixNano())
		writeStr(p.SrcIP)
		writeStr(p.DstIP)
		writeInt(int64(p.SrcPort))
		writeInt(int64(p.DstPort))
		writeStr(p.Protocol)
		writeStr(p.AppProtocol)
		writeInt(int64(p.Length))
		writeStr(p.Info)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Report returns the cached report for packets, computing it on first use.
// Failed computations are not cached.
func (m *Memoizer) Report(ctx context.Context, packets []model.PacketRecord) (*model.Report, error) {
	key := Fingerprint(packets)
	e := m.entries.Upsert(key, nil, func(exist bool, inMap *entry, _ *entry) *entry {
		if !exist {
			inMap = &entry{created: time.Now()}
		}
		inMap.refs++
		return inMap
	})
	defer m.release(key, e)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done.Load() {
		m.hits.Add(1)
		return e.report, nil
	}

	m.misses.Add(1)
	report, err := m.compute(ctx, packets)
	if err != nil {
		return nil, err
	}
	e.report = report
	e.done.Store(true)
	m.evict(key)
	return report, nil
}

// release drops the caller's reference. The last caller out of an entry
// whose computation failed removes it, so failures never occupy the cache.
func (m *Memoizer) release(key string, e *entry) {
	m.entries.RemoveCb(key, func(_ string, v *entry, exists bool) bool {
		if !exists || v != e {
			return false
		}
		v.refs--
		return v.refs == 0 && !v.done.Load()
	})
}

// evict drops the oldest completed entries above the bound, keeping keep.
// Entries still computing are never evicted, so a fingerprint cannot be
// computed twice at once.
func (m *Memoizer) evict(keep string) {
	for m.entries.Count() > m.maxEntries {
		var (
			oldestKey string
			oldest    *entry
		)
		for item := range m.entries.IterBuffered() {
			if item.Key == keep || !item.Val.done.Load() {
				continue
			}
			if oldest == nil || item.Val.created.Before(oldest.created) {
				oldestKey, oldest = item.Key, item.Val
			}
		}
		if oldest == nil {
			return
		}
		m.entries.RemoveCb(oldestKey, func(_ string, v *entry, exists bool) bool {
			return exists && v == oldest
		})
		m.logger.Debug("evicted cached report", zap.String("fingerprint", oldestKey))
	}
}

// Len is the number of cached fingerprints.
func (m *Memoizer) Len() int { return m.entries.Count() }

// Stats returns the hit and miss counters.
func (m *Memoizer) Stats() (hits, misses int64) {
	return m.hits.Load(), m.misses.Load()
}
