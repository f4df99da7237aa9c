package buffer

import (
	"testing"
	"time"

	appconfig "tokenflow/config"
	"tokenflow/logger"
	"tokenflow/models"
)

func poolConfig() *appconfig.Config {
	return &appconfig.Config{
		Buffers: appconfig.BuffersConfig{SnapshotDepth: 10, CandleDepth: 72},
		Pool: appconfig.PoolConfig{
			DrainBatch:    100,
			PollInterval:  time.Millisecond,
			WaitTimeout:   time.Second,
			MinNewCandles: 1,
		},
	}
}

func candleRecord(asset string, ts, close float64) models.InboundRecord {
	return models.InboundRecord{
		Type:      models.RecordTypeCandle,
		Asset:     asset,
		Timestamp: ts,
		Fields:    map[string]interface{}{"close": close, "open": close, "high": close, "low": close, "volume": 1.0},
	}
}

func TestIngestRoutesByType(t *testing.T) {
	p := NewPool(poolConfig(), nil)

	p.Ingest(models.InboundRecord{
		Type:      models.RecordTypeSnapshot,
		Asset:     "PEPE",
		Venue:     "binance",
		Timestamp: 100,
		Fields:    map[string]interface{}{"openInterest": "1,5", "volume": 2.0},
	})
	p.Ingest(candleRecord("PEPE", 200, 0.001))

	b, ok := p.Buffer("PEPE")
	if !ok {
		t.Fatalf("buffer not created")
	}
	snaps := b.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("snapshot count = %d", len(snaps))
	}
	if snaps[0].OpenInterest != 1.5 {
		t.Errorf("openInterest = %v, want 1.5 (comma decimal)", snaps[0].OpenInterest)
	}
	if snaps[0].VenueBinance != 1.0 || snaps[0].VenueBybit != 0.0 {
		t.Errorf("venue indicator wrong: %+v", snaps[0])
	}
	if got, ok := p.LastCandleTime("PEPE"); !ok || got != 200 {
		t.Errorf("last candle time = %v ok=%v", got, ok)
	}
}

func TestIngestCountsAcceptedRecordsOnce(t *testing.T) {
	snapsBefore, candlesBefore := logger.IngestCounts()
	p := NewPool(poolConfig(), nil)

	p.Ingest(models.InboundRecord{
		Type:      models.RecordTypeSnapshot,
		Asset:     "PEPE",
		Venue:     "binance",
		Timestamp: 100,
		Fields:    map[string]interface{}{"volume": 2.0},
	})
	p.Ingest(candleRecord("PEPE", 200, 0.001))
	p.Ingest(models.InboundRecord{Type: models.RecordTypeCandle}) // dropped, no asset

	snaps, candles := logger.IngestCounts()
	if snaps-snapsBefore != 1 {
		t.Errorf("snapshot ingest count delta = %d, want 1", snaps-snapsBefore)
	}
	if candles-candlesBefore != 1 {
		t.Errorf("candle ingest count delta = %d, want 1", candles-candlesBefore)
	}
}

func TestIngestDropsUnaddressableRecords(t *testing.T) {
	p := NewPool(poolConfig(), nil)

	p.Ingest(models.InboundRecord{Type: models.RecordTypeCandle})            // no asset
	p.Ingest(models.InboundRecord{Type: "liquidation", Asset: "PEPE"})       // unknown type
	p.Ingest(models.InboundRecord{Type: " KLINE ", Asset: "PEPE", Fields: map[string]interface{}{"close": 1.0}})

	stats := p.GetStats()
	if stats.RecordsDropped != 2 {
		t.Errorf("records dropped = %d, want 2", stats.RecordsDropped)
	}
	// Type matching is case- and whitespace-insensitive.
	if stats.CandleRecords != 1 {
		t.Errorf("candle records = %d, want 1", stats.CandleRecords)
	}
}

func TestIngestSnapshotTimestampFallback(t *testing.T) {
	p := NewPool(poolConfig(), nil)
	p.now = func() float64 { return 12345 }

	p.Ingest(models.InboundRecord{Type: models.RecordTypeSnapshot, Asset: "PEPE"})

	b, _ := p.Buffer("PEPE")
	snaps := b.Snapshots()
	if snaps[0].Timestamp != 12345 {
		t.Errorf("timestamp fallback = %v, want 12345", snaps[0].Timestamp)
	}
}

func TestIngestCandleExtraFields(t *testing.T) {
	p := NewPool(poolConfig(), nil)

	p.Ingest(models.InboundRecord{
		Type:      models.RecordTypeCandle,
		Asset:     "PEPE",
		Timestamp: 1,
		Fields: map[string]interface{}{
			"close": "1.25",
			"MA99":  "1,10",
			"vwap":  1.2,
		},
	})

	b, _ := p.Buffer("PEPE")
	last, _ := b.LastCandle()
	if last.Close != 1.25 {
		t.Errorf("close = %v", last.Close)
	}
	if last.Ref("MA99") != 1.10 {
		t.Errorf("MA99 = %v, want 1.10", last.Ref("MA99"))
	}
	if last.Ref("vwap") != 1.2 {
		t.Errorf("vwap = %v", last.Ref("vwap"))
	}
}

func TestDrainConsumesUpToMax(t *testing.T) {
	inbound := make(chan models.InboundRecord, 10)
	p := NewPool(poolConfig(), inbound)

	for i := 0; i < 5; i++ {
		inbound <- candleRecord("PEPE", float64(i+1), 1.0)
	}

	if n := p.Drain(3); n != 3 {
		t.Errorf("drain(3) = %d", n)
	}
	if n := p.Drain(100); n != 2 {
		t.Errorf("second drain = %d, want 2", n)
	}
	if n := p.Drain(100); n != 0 {
		t.Errorf("empty drain = %d, want 0", n)
	}
}

func TestWaitForNewerCandleTimeoutZero(t *testing.T) {
	inbound := make(chan models.InboundRecord, 1)
	p := NewPool(poolConfig(), inbound)

	start := time.Now()
	got := p.WaitForNewerCandle([]string{"PEPE"}, nil, 0, time.Millisecond, 1)
	if len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("wait with zero timeout blocked for %v", elapsed)
	}
}

func TestWaitForNewerCandleSeesArrival(t *testing.T) {
	inbound := make(chan models.InboundRecord, 10)
	p := NewPool(poolConfig(), inbound)

	p.Ingest(candleRecord("PEPE", 100, 1.0))

	go func() {
		time.Sleep(10 * time.Millisecond)
		inbound <- candleRecord("PEPE", 200, 1.1)
	}()

	since := map[string]float64{"PEPE": 100}
	got := p.WaitForNewerCandle([]string{"PEPE"}, since, time.Second, time.Millisecond, 1)
	if ts, ok := got["PEPE"]; !ok || ts != 200 {
		t.Fatalf("wait result = %v, want PEPE:200", got)
	}
}

func TestWaitForNewerCandlePartialResult(t *testing.T) {
	inbound := make(chan models.InboundRecord, 10)
	p := NewPool(poolConfig(), inbound)

	p.Ingest(candleRecord("A", 50, 1.0))

	// B never arrives; asking for two new candles must still return by
	// timeout with only A satisfied.
	got := p.WaitForNewerCandle([]string{"A", "B"}, nil, 20*time.Millisecond, time.Millisecond, 2)
	if len(got) != 1 {
		t.Fatalf("partial result = %v, want only A", got)
	}
	if got["A"] != 50 {
		t.Errorf("A timestamp = %v", got["A"])
	}
}

func TestLastClosePrices(t *testing.T) {
	p := NewPool(poolConfig(), nil)
	p.Ingest(candleRecord("A", 1, 2.5))

	prices := p.LastClosePrices([]string{"A", "B"})
	if prices["A"] != 2.5 {
		t.Errorf("price A = %v", prices["A"])
	}
	if prices["B"] != 0.0 {
		t.Errorf("price for unseen asset = %v, want 0", prices["B"])
	}
}

func TestSnapshotSummary(t *testing.T) {
	p := NewPool(poolConfig(), nil)

	if _, ok := p.SnapshotSummary("NOPE"); ok {
		t.Fatalf("summary for unseen asset should be absent")
	}

	p.Ingest(models.InboundRecord{Type: models.RecordTypeSnapshot, Asset: "A", Timestamp: 10})
	p.Ingest(candleRecord("A", 20, 1.0))

	s, ok := p.SnapshotSummary("A")
	if !ok {
		t.Fatalf("summary missing")
	}
	if s.SnapshotCount != 1 || s.CandleCount != 1 {
		t.Errorf("counts = %d/%d", s.SnapshotCount, s.CandleCount)
	}
	if s.LastSeen != 20 {
		t.Errorf("last seen = %v", s.LastSeen)
	}
	if s.LastSnapshot == nil || s.LastCandle == nil {
		t.Errorf("summary records missing: %+v", s)
	}
}
