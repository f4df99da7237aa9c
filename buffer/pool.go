package buffer

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	appconfig "tokenflow/config"
	"tokenflow/logger"
	"tokenflow/models"
	"tokenflow/normalize"
)

// Pool maps asset ids to their AssetBuffer, creating buffers lazily on the
// first observed record. It is the single owner of the inbound channel end:
// Drain is the only place records cross from the transport boundary into
// buffer state.
type Pool struct {
	config  *appconfig.Config
	inbound <-chan models.InboundRecord
	mu      sync.RWMutex
	buffers map[string]*AssetBuffer
	log     *logger.Log
	now     func() float64

	// Metrics
	recordsIngested int64
	recordsDropped  int64
}

// Summary is a light per-asset view for logs and debugging. Downstream
// computation never reads it.
type Summary struct {
	LastSnapshot  *models.SnapshotRecord
	LastCandle    *models.CandleRecord
	SnapshotCount int
	CandleCount   int
	LastSeen      float64
}

// Stats aggregates pool-wide counts.
type Stats struct {
	ActiveAssets    int
	SnapshotRecords int
	CandleRecords   int
	RecordsIngested int64
	RecordsDropped  int64
}

func NewPool(cfg *appconfig.Config, inbound <-chan models.InboundRecord) *Pool {
	log := logger.GetLogger()

	p := &Pool{
		config:  cfg,
		inbound: inbound,
		buffers: make(map[string]*AssetBuffer),
		log:     log,
		now:     func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}

	log.WithComponent("pool").WithFields(logger.Fields{
		"snapshot_depth": cfg.Buffers.SnapshotDepth,
		"candle_depth":   cfg.Buffers.CandleDepth,
	}).Info("buffer pool initialized")

	return p
}

// Buffer returns the buffer for an asset, if one has been created.
func (p *Pool) Buffer(asset string) (*AssetBuffer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.buffers[asset]
	return b, ok
}

// Assets returns the ids of every asset that has a buffer.
func (p *Pool) Assets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.buffers))
	for asset := range p.buffers {
		out = append(out, asset)
	}
	return out
}

func (p *Pool) bufferFor(asset string) *AssetBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buffers[asset]
	if !ok {
		b = NewAssetBuffer(p.config.Buffers.SnapshotDepth, p.config.Buffers.CandleDepth)
		p.buffers[asset] = b
	}
	return b
}

// Ingest routes one inbound record by its type discriminator. Records with
// no asset id are dropped, as are records with an unknown type: both are
// expected in an evolving upstream schema and are not errors.
func (p *Pool) Ingest(rec models.InboundRecord) {
	if rec.Asset == "" {
		atomic.AddInt64(&p.recordsDropped, 1)
		return
	}

	switch strings.ToLower(strings.TrimSpace(rec.Type)) {
	case models.RecordTypeSnapshot:
		p.IngestSnapshot(rec.Asset, rec)
	case models.RecordTypeCandle:
		p.IngestCandle(rec.Asset, rec)
	default:
		atomic.AddInt64(&p.recordsDropped, 1)
	}
}

// IngestSnapshot normalizes every numeric field of a snapshot event and
// appends it to the asset's buffer. A missing timestamp falls back to the
// current time.
func (p *Pool) IngestSnapshot(asset string, rec models.InboundRecord) {
	ts := rec.Timestamp
	if ts == 0 {
		ts = p.now()
	}
	venue := normalize.Venue(rec.Venue)

	snap := models.SnapshotRecord{
		Timestamp:       ts,
		Asset:           asset,
		OpenInterest:    normalize.Float(rec.Fields["openInterest"], 0),
		Volume:          normalize.Float(rec.Fields["volume"], 0),
		Trades8h:        normalize.Float(rec.Fields["trades8h"], 0),
		OIChange4h:      normalize.Float(rec.Fields["oiChange4h"], 0),
		CoinChange24h:   normalize.Float(rec.Fields["coinChange24h"], 0),
		Notifications8h: normalize.Float(rec.Fields["notificationsCount8h"], 0),
		VenueBinance:    venue.Binance,
		VenueBybit:      venue.Bybit,
	}

	p.bufferFor(asset).AppendSnapshot(snap)
	atomic.AddInt64(&p.recordsIngested, 1)
	logger.IncrementSnapshotIngest()
}

// IngestCandle coerces every non-meta field of a candle event to float and
// appends it. Unknown numeric fields pass through into Extra under their
// upstream names.
func (p *Pool) IngestCandle(asset string, rec models.InboundRecord) {
	ts := rec.Timestamp
	if ts == 0 {
		ts = p.now()
	}

	candle := models.CandleRecord{
		Timestamp: ts,
		Asset:     asset,
	}
	for key, val := range rec.Fields {
		f := normalize.Float(val, 0)
		switch key {
		case "open":
			candle.Open = f
		case "high":
			candle.High = f
		case "low":
			candle.Low = f
		case "close":
			candle.Close = f
		case "volume":
			candle.Volume = f
		default:
			if candle.Extra == nil {
				candle.Extra = make(map[string]float64)
			}
			candle.Extra[key] = f
		}
	}

	p.bufferFor(asset).AppendCandle(candle)
	atomic.AddInt64(&p.recordsIngested, 1)
	logger.IncrementCandleIngest()
}

// Drain pulls up to max pending records from the inbound channel and ingests
// each one. It never blocks: an empty channel yields zero. Returns the
// number of records consumed.
func (p *Pool) Drain(max int) int {
	n := 0
	for n < max {
		select {
		case rec, ok := <-p.inbound:
			if !ok {
				return n
			}
			p.Ingest(rec)
			n++
		default:
			return n
		}
	}
	return n
}

// LastCandleTime returns the timestamp of the latest candle for an asset.
// The second return is false when no candle has arrived yet.
func (p *Pool) LastCandleTime(asset string) (float64, bool) {
	b, ok := p.Buffer(asset)
	if !ok {
		return 0, false
	}
	last, ok := b.LastCandle()
	if !ok {
		return 0, false
	}
	return last.Timestamp, true
}

// WaitForNewerCandle blocks cooperatively until at least minNew of the given
// assets have a candle strictly newer than their baseline in since (assets
// absent from since count any candle as new). Each pass drains the inbound
// channel, so the decision cadence locks to candle arrival rather than
// wall-clock ticking. Once an asset satisfies the condition it is fixed in
// the result and not re-checked. The call always returns by timeout with
// whatever subset is satisfied, possibly none; an empty result is a normal
// outcome, not an error.
func (p *Pool) WaitForNewerCandle(assets []string, since map[string]float64, timeout, pollInterval time.Duration, minNew int) map[string]float64 {
	if minNew < 1 {
		minNew = 1
	}
	deadline := time.Now().Add(timeout)
	got := make(map[string]float64)

	for {
		p.Drain(p.config.Pool.DrainBatch)

		for _, asset := range assets {
			if _, done := got[asset]; done {
				continue
			}
			cur, ok := p.LastCandleTime(asset)
			if !ok {
				continue
			}
			baseline, hasBaseline := since[asset]
			if !hasBaseline || cur > baseline {
				got[asset] = cur
			}
		}

		if len(got) >= minNew {
			return got
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return got
		}
		if remaining < pollInterval {
			time.Sleep(remaining)
		} else {
			time.Sleep(pollInterval)
		}
	}
}

// LastClosePrices returns the latest candle close per asset, 0.0 for assets
// with no candle yet. This is the price lookup contract used by the
// execution layer.
func (p *Pool) LastClosePrices(assets []string) map[string]float64 {
	out := make(map[string]float64, len(assets))
	for _, asset := range assets {
		px := 0.0
		if b, ok := p.Buffer(asset); ok {
			if last, ok := b.LastCandle(); ok {
				px = last.Close
			}
		}
		out[asset] = px
	}
	return out
}

// SnapshotSummary returns the light observability view for one asset, or
// false when the asset has no buffer.
func (p *Pool) SnapshotSummary(asset string) (Summary, bool) {
	b, ok := p.Buffer(asset)
	if !ok {
		return Summary{}, false
	}

	s := Summary{LastSeen: b.LastSeen()}
	s.SnapshotCount, s.CandleCount = b.counts()
	if snap, ok := b.LastSnapshot(); ok {
		s.LastSnapshot = &snap
	}
	if candle, ok := b.LastCandle(); ok {
		s.LastCandle = &candle
	}
	return s, true
}

// GetStats aggregates counts across all buffers.
func (p *Pool) GetStats() Stats {
	p.mu.RLock()
	buffers := make([]*AssetBuffer, 0, len(p.buffers))
	for _, b := range p.buffers {
		buffers = append(buffers, b)
	}
	p.mu.RUnlock()

	stats := Stats{
		ActiveAssets:    len(buffers),
		RecordsIngested: atomic.LoadInt64(&p.recordsIngested),
		RecordsDropped:  atomic.LoadInt64(&p.recordsDropped),
	}
	for _, b := range buffers {
		snaps, candles := b.counts()
		stats.SnapshotRecords += snaps
		stats.CandleRecords += candles
	}
	return stats
}

// LogStats emits the pool heartbeat.
func (p *Pool) LogStats() {
	stats := p.GetStats()
	p.log.WithComponent("pool").WithFields(logger.Fields{
		"active_assets":    stats.ActiveAssets,
		"snapshot_records": stats.SnapshotRecords,
		"candle_records":   stats.CandleRecords,
		"records_ingested": stats.RecordsIngested,
		"records_dropped":  stats.RecordsDropped,
	}).Info("pool statistics")
}
