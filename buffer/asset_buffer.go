package buffer

import (
	"sync"

	"tokenflow/models"
)

// AssetBuffer holds the bounded history of one asset: a FIFO tail of
// snapshot records and a FIFO window of candle records. Appends evict the
// oldest entry once a sequence is at capacity. Records are immutable once
// appended; readers always get a copy so an append can never be observed
// half-done.
type AssetBuffer struct {
	mu        sync.RWMutex
	snapshots []models.SnapshotRecord
	candles   []models.CandleRecord
	snapCap   int
	candleCap int
	lastSeen  float64
}

func NewAssetBuffer(snapshotDepth, candleDepth int) *AssetBuffer {
	return &AssetBuffer{
		snapshots: make([]models.SnapshotRecord, 0, snapshotDepth),
		candles:   make([]models.CandleRecord, 0, candleDepth),
		snapCap:   snapshotDepth,
		candleCap: candleDepth,
	}
}

func (b *AssetBuffer) AppendSnapshot(rec models.SnapshotRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.snapshots) >= b.snapCap {
		copy(b.snapshots, b.snapshots[1:])
		b.snapshots = b.snapshots[:len(b.snapshots)-1]
	}
	b.snapshots = append(b.snapshots, rec)
	b.lastSeen = rec.Timestamp
}

func (b *AssetBuffer) AppendCandle(rec models.CandleRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.candles) >= b.candleCap {
		copy(b.candles, b.candles[1:])
		b.candles = b.candles[:len(b.candles)-1]
	}
	b.candles = append(b.candles, rec)
	b.lastSeen = rec.Timestamp
}

// Snapshots returns a copy of the snapshot history, oldest first.
func (b *AssetBuffer) Snapshots() []models.SnapshotRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.SnapshotRecord, len(b.snapshots))
	copy(out, b.snapshots)
	return out
}

// Candles returns a copy of the candle window, oldest first.
func (b *AssetBuffer) Candles() []models.CandleRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.CandleRecord, len(b.candles))
	copy(out, b.candles)
	return out
}

// LastCandle returns the most recent candle, if any.
func (b *AssetBuffer) LastCandle() (models.CandleRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.candles) == 0 {
		return models.CandleRecord{}, false
	}
	return b.candles[len(b.candles)-1], true
}

// LastSnapshot returns the most recent snapshot record, if any.
func (b *AssetBuffer) LastSnapshot() (models.SnapshotRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.snapshots) == 0 {
		return models.SnapshotRecord{}, false
	}
	return b.snapshots[len(b.snapshots)-1], true
}

// LastSeen is the timestamp of the most recent record of either kind.
func (b *AssetBuffer) LastSeen() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeen
}

func (b *AssetBuffer) counts() (snapshots, candles int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.snapshots), len(b.candles)
}
