package features

import (
	"math"
	"testing"
	"time"

	"tokenflow/buffer"
	appconfig "tokenflow/config"
	"tokenflow/models"
)

func testPool() *buffer.Pool {
	cfg := &appconfig.Config{
		Buffers: appconfig.BuffersConfig{SnapshotDepth: 10, CandleDepth: 72},
		Pool: appconfig.PoolConfig{
			DrainBatch:    100,
			PollInterval:  time.Millisecond,
			MinNewCandles: 1,
		},
	}
	return buffer.NewPool(cfg, nil)
}

func candle(ts, close, volume float64) models.CandleRecord {
	return models.CandleRecord{
		Timestamp: ts,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    volume,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestVectorLengthIsStable(t *testing.T) {
	buf := buffer.NewAssetBuffer(10, 72)

	// Empty, partially filled, and overfull buffers all yield Dim.
	for i := 0; i < 100; i++ {
		if got := len(Vector(buf, 0)); got != Dim {
			t.Fatalf("vector length = %d at %d records, want %d", got, i, Dim)
		}
		buf.AppendSnapshot(models.SnapshotRecord{Timestamp: float64(i)})
		buf.AppendCandle(candle(float64(i), 1.0+float64(i), 10))
	}
	if Dim != 109 {
		t.Fatalf("Dim = %d, want 109", Dim)
	}
}

func TestSnapshotSequenceLeftPadding(t *testing.T) {
	buf := buffer.NewAssetBuffer(10, 72)
	buf.AppendSnapshot(models.SnapshotRecord{
		Timestamp:    600,
		OpenInterest: 5,
		VenueBinance: 1,
	})

	now := 600.0 + 120.0 // two minutes later
	vec := SnapshotSequence(buf, now)
	if len(vec) != SnapshotTotal {
		t.Fatalf("length = %d", len(vec))
	}

	// First nine slots are zero padding.
	for i := 0; i < SnapshotTotal-SnapshotFeatures; i++ {
		if vec[i] != 0 {
			t.Fatalf("padding slot %d = %v, want 0", i, vec[i])
		}
	}

	last := vec[SnapshotTotal-SnapshotFeatures:]
	if last[0] != 5 {
		t.Errorf("openInterest = %v", last[0])
	}
	if last[6] != 1 || last[7] != 0 {
		t.Errorf("venue indicators = %v/%v", last[6], last[7])
	}
	if !almostEqual(last[8], 2.0) {
		t.Errorf("age minutes = %v, want 2", last[8])
	}
}

func TestSnapshotAgeNeverNegative(t *testing.T) {
	buf := buffer.NewAssetBuffer(10, 72)
	buf.AppendSnapshot(models.SnapshotRecord{Timestamp: 1000})

	vec := SnapshotSequence(buf, 500) // reference before the record
	if age := vec[SnapshotTotal-1]; age != 0 {
		t.Errorf("age = %v, want clamp to 0", age)
	}
}

func TestCandleFeaturesEmptyWindow(t *testing.T) {
	buf := buffer.NewAssetBuffer(10, 72)
	vec := CandleWindowFeatures(buf)
	if len(vec) != CandleFeatures {
		t.Fatalf("length = %d", len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Errorf("feature %d = %v, want 0 for empty window", i, v)
		}
	}
}

func TestCandleReturnsOverHorizons(t *testing.T) {
	buf := buffer.NewAssetBuffer(10, 72)
	// Four candles with closes 1.0, 1.1, 1.2, 1.32
	for _, c := range []float64{1.0, 1.1, 1.2, 1.32} {
		buf.AppendCandle(candle(0, c, 10))
	}

	vec := CandleWindowFeatures(buf)
	// Layout: [0:5]=OHLCV, [5]=spread, [6:11]=returns for h=1,3,12,36,72
	r1 := vec[6]
	r3 := vec[7]
	if !almostEqual(r1, 1.32/1.2-1) {
		t.Errorf("r1 = %v, want %v", r1, 1.32/1.2-1)
	}
	if !almostEqual(r3, 1.32/1.0-1) {
		t.Errorf("r3 = %v, want %v", r3, 1.32/1.0-1)
	}
	// Horizons longer than the history stay 0.
	for i := 8; i < 11; i++ {
		if vec[i] != 0 {
			t.Errorf("return[%d] = %v, want 0 with 4 candles", i, vec[i])
		}
	}
}

func TestCandleSpreadAndZeroClose(t *testing.T) {
	buf := buffer.NewAssetBuffer(10, 72)
	buf.AppendCandle(models.CandleRecord{High: 12, Low: 8, Close: 10, Volume: 1})

	vec := CandleWindowFeatures(buf)
	if !almostEqual(vec[5], 0.4) {
		t.Errorf("spread = %v, want 0.4", vec[5])
	}

	zero := buffer.NewAssetBuffer(10, 72)
	zero.AppendCandle(models.CandleRecord{High: 12, Low: 8, Close: 0})
	if v := CandleWindowFeatures(zero)[5]; v != 0 {
		t.Errorf("spread with zero close = %v, want 0", v)
	}
}

func TestCandleVolatility(t *testing.T) {
	buf := buffer.NewAssetBuffer(10, 72)
	// Constant closes: log-returns all zero, so both vol features are 0.
	for i := 0; i < 40; i++ {
		buf.AppendCandle(candle(float64(i), 5.0, 10))
	}
	vec := CandleWindowFeatures(buf)
	if vec[11] != 0 || vec[12] != 0 {
		t.Errorf("volatility of constant series = %v/%v, want 0", vec[11], vec[12])
	}

	// A single candle has no returns at all.
	one := buffer.NewAssetBuffer(10, 72)
	one.AppendCandle(candle(0, 5, 10))
	vec = CandleWindowFeatures(one)
	if vec[11] != 0 || vec[12] != 0 {
		t.Errorf("volatility with one candle = %v/%v, want 0", vec[11], vec[12])
	}

	// Alternating closes produce strictly positive volatility.
	alt := buffer.NewAssetBuffer(10, 72)
	for i := 0; i < 40; i++ {
		px := 5.0
		if i%2 == 0 {
			px = 6.0
		}
		alt.AppendCandle(candle(float64(i), px, 10))
	}
	vec = CandleWindowFeatures(alt)
	if vec[11] <= 0 || vec[12] <= 0 {
		t.Errorf("volatility of alternating series = %v/%v, want > 0", vec[11], vec[12])
	}
}

func TestRelativeVolume(t *testing.T) {
	buf := buffer.NewAssetBuffer(10, 72)
	for i := 0; i < 11; i++ {
		buf.AppendCandle(candle(float64(i), 1, 10))
	}
	buf.AppendCandle(candle(11, 1, 20))

	vec := CandleWindowFeatures(buf)
	// Trailing 12 volumes: eleven 10s and one 20, mean = 130/12.
	want := 20.0/(130.0/12.0) - 1.0
	if !almostEqual(vec[13], want) {
		t.Errorf("relative volume = %v, want %v", vec[13], want)
	}

	// All-zero volume degrades to 0 rather than dividing by zero.
	zero := buffer.NewAssetBuffer(10, 72)
	zero.AppendCandle(candle(0, 1, 0))
	if v := CandleWindowFeatures(zero)[13]; v != 0 {
		t.Errorf("relative volume with zero mean = %v, want 0", v)
	}
}

func TestDistanceToReferences(t *testing.T) {
	buf := buffer.NewAssetBuffer(10, 72)
	buf.AppendCandle(models.CandleRecord{
		Close:  110,
		Volume: 1,
		Extra:  map[string]float64{"MA99": 100, "vwap": 120},
	})

	vec := CandleWindowFeatures(buf)
	// Layout tail: [14:19] = MA99, MA163, MA200, MA360, vwap
	if !almostEqual(vec[14], 0.1) {
		t.Errorf("dist MA99 = %v, want 0.1", vec[14])
	}
	if vec[15] != 0 || vec[16] != 0 || vec[17] != 0 {
		t.Errorf("absent references should be 0: %v", vec[14:19])
	}
	if !almostEqual(vec[18], (110.0-120.0)/120.0) {
		t.Errorf("dist vwap = %v", vec[18])
	}
}

func TestBatchSkipsUnknownAssets(t *testing.T) {
	pool := testPool()
	pool.Ingest(models.InboundRecord{
		Type:      models.RecordTypeCandle,
		Asset:     "A",
		Timestamp: 1,
		Fields:    map[string]interface{}{"close": 1.0},
	})

	matrix, used := Batch(pool, []string{"A", "B"}, 1)
	if len(matrix) != 1 || len(used) != 1 || used[0] != "A" {
		t.Fatalf("batch = %d rows, used %v", len(matrix), used)
	}
	if len(matrix[0]) != Dim {
		t.Errorf("row length = %d", len(matrix[0]))
	}

	empty, usedNone := Batch(pool, []string{"X", "Y"}, 1)
	if len(empty) != 0 || len(usedNone) != 0 {
		t.Errorf("expected empty batch, got %d rows used %v", len(empty), usedNone)
	}
	if empty == nil {
		t.Errorf("empty batch should be non-nil")
	}
}
