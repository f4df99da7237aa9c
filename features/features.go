package features

import (
	"math"

	"tokenflow/buffer"
)

// Feature layout. The vector shape is a hard contract for any downstream
// consumer: it never changes with the amount of history in a buffer.
const (
	SnapshotSeqLen   = 10
	SnapshotFeatures = 9
	SnapshotTotal    = SnapshotSeqLen * SnapshotFeatures

	CandleWindow   = 72
	CandleFeatures = 19

	Dim = SnapshotTotal + CandleFeatures
)

// Horizons, in candles back, for the simple-return features.
var returnHorizons = [5]int{1, 3, 12, 36, 72}

// Named reference fields the candle feed may attach; the distance-to-
// reference features read them by upstream name.
var referenceFields = [5]string{"MA99", "MA163", "MA200", "MA360", "vwap"}

const logClamp = 1e-12

// SnapshotSequence flattens the most recent snapshot records into a
// SnapshotTotal-length vector: per record the six numeric fields, the two
// venue indicators and the age in minutes relative to now. Fewer than
// SnapshotSeqLen records are left-padded with zero slots so the freshest
// record always sits in the rightmost slot.
func SnapshotSequence(buf *buffer.AssetBuffer, now float64) []float64 {
	out := make([]float64, SnapshotTotal)

	snaps := buf.Snapshots()
	if len(snaps) > SnapshotSeqLen {
		snaps = snaps[len(snaps)-SnapshotSeqLen:]
	}
	start := SnapshotSeqLen - len(snaps)

	for i, snap := range snaps {
		ts := snap.Timestamp
		if ts == 0 {
			ts = now
		}
		ageMin := (now - ts) / 60.0
		if ageMin < 0 {
			ageMin = 0
		}

		base := (start + i) * SnapshotFeatures
		out[base+0] = snap.OpenInterest
		out[base+1] = snap.Volume
		out[base+2] = snap.Trades8h
		out[base+3] = snap.OIChange4h
		out[base+4] = snap.CoinChange24h
		out[base+5] = snap.Notifications8h
		out[base+6] = snap.VenueBinance
		out[base+7] = snap.VenueBybit
		out[base+8] = ageMin
	}

	return out
}

// CandleWindowFeatures compresses the candle window into CandleFeatures
// scalars: last OHLCV, intrabar spread, simple returns over fixed horizons,
// realized volatility of log-returns, relative volume, and distance to each
// named reference field. Every branch degrades to 0 when the window is too
// short or a denominator is zero.
func CandleWindowFeatures(buf *buffer.AssetBuffer) []float64 {
	out := make([]float64, 0, CandleFeatures)

	candles := buf.Candles()
	if len(candles) == 0 {
		return make([]float64, CandleFeatures)
	}
	if len(candles) > CandleWindow {
		candles = candles[len(candles)-CandleWindow:]
	}

	n := len(candles)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	last := candles[n-1]

	// Last OHLCV
	out = append(out, last.Open, last.High, last.Low, last.Close, last.Volume)

	// Intrabar spread
	spread := 0.0
	if last.Close != 0 {
		spread = (last.High - last.Low) / last.Close
	}
	out = append(out, spread)

	// Simple returns over horizons
	for _, h := range returnHorizons {
		r := 0.0
		if n > h && closes[n-1-h] != 0 {
			r = closes[n-1]/closes[n-1-h] - 1.0
		}
		out = append(out, r)
	}

	// Realized volatility of log-returns
	out = append(out, logReturnStd(closes, 12), logReturnStd(closes, 36))

	// Relative volume against the trailing-12 mean
	out = append(out, relativeVolume(volumes))

	// Distance to reference fields
	for _, field := range referenceFields {
		d := 0.0
		if ref := last.Ref(field); ref != 0 && last.Close != 0 {
			d = (last.Close - ref) / ref
		}
		out = append(out, d)
	}

	return out
}

// logReturnStd is the population standard deviation of log-returns over the
// trailing n candles (fewer when the window is short), 0 with fewer than two
// closes.
func logReturnStd(closes []float64, n int) float64 {
	if len(closes) < 2 {
		return 0
	}
	window := closes
	if len(window) > n+1 {
		window = window[len(window)-(n+1):]
	}

	logs := make([]float64, len(window))
	for i, c := range window {
		logs[i] = math.Log(math.Max(c, logClamp))
	}

	returns := make([]float64, len(logs)-1)
	mean := 0.0
	for i := 1; i < len(logs); i++ {
		returns[i-1] = logs[i] - logs[i-1]
		mean += returns[i-1]
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance)
}

func relativeVolume(volumes []float64) float64 {
	if len(volumes) == 0 {
		return 0
	}
	window := volumes
	if len(window) > 12 {
		window = window[len(window)-12:]
	}

	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))

	if mean <= 0 {
		return 0
	}
	return volumes[len(volumes)-1]/mean - 1.0
}

// Vector builds the full feature vector for one asset buffer. The result
// always has exactly Dim entries; any drift is clipped or zero-padded.
func Vector(buf *buffer.AssetBuffer, now float64) []float64 {
	out := append(SnapshotSequence(buf, now), CandleWindowFeatures(buf)...)

	if len(out) > Dim {
		out = out[:Dim]
	}
	for len(out) < Dim {
		out = append(out, 0)
	}
	return out
}

// Batch stacks feature vectors for the requested assets. Assets without a
// buffer are skipped, not zero-filled, and omitted from the used list. When
// nothing qualifies the matrix is empty but non-nil.
func Batch(pool *buffer.Pool, assets []string, now float64) ([][]float64, []string) {
	matrix := make([][]float64, 0, len(assets))
	used := make([]string, 0, len(assets))

	for _, asset := range assets {
		buf, ok := pool.Buffer(asset)
		if !ok {
			continue
		}
		matrix = append(matrix, Vector(buf, now))
		used = append(used, asset)
	}

	return matrix, used
}
