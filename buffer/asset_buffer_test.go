package buffer

import (
	"fmt"
	"testing"

	"tokenflow/models"
)

func TestSnapshotFIFOEviction(t *testing.T) {
	b := NewAssetBuffer(10, 72)

	for i := 0; i < 15; i++ {
		b.AppendSnapshot(models.SnapshotRecord{Timestamp: float64(i), Asset: "X"})
	}

	snaps := b.Snapshots()
	if len(snaps) != 10 {
		t.Fatalf("snapshot count = %d, want 10", len(snaps))
	}
	// Survivors are the last 10, oldest first.
	for i, s := range snaps {
		if want := float64(i + 5); s.Timestamp != want {
			t.Errorf("snapshot[%d].Timestamp = %v, want %v", i, s.Timestamp, want)
		}
	}
}

func TestCandleFIFOEviction(t *testing.T) {
	b := NewAssetBuffer(10, 72)

	for i := 0; i < 80; i++ {
		b.AppendCandle(models.CandleRecord{Timestamp: float64(i), Asset: "X", Close: float64(i)})
	}

	candles := b.Candles()
	if len(candles) != 72 {
		t.Fatalf("candle count = %d, want 72", len(candles))
	}
	if candles[0].Timestamp != 8 || candles[71].Timestamp != 79 {
		t.Errorf("window = [%v..%v], want [8..79]", candles[0].Timestamp, candles[71].Timestamp)
	}

	last, ok := b.LastCandle()
	if !ok || last.Close != 79 {
		t.Errorf("last candle = %+v ok=%v", last, ok)
	}
}

func TestLastSeenTracksEitherKind(t *testing.T) {
	b := NewAssetBuffer(10, 72)

	b.AppendSnapshot(models.SnapshotRecord{Timestamp: 100})
	if b.LastSeen() != 100 {
		t.Errorf("last seen = %v, want 100", b.LastSeen())
	}
	b.AppendCandle(models.CandleRecord{Timestamp: 250})
	if b.LastSeen() != 250 {
		t.Errorf("last seen = %v, want 250", b.LastSeen())
	}
}

func TestReadersGetCopies(t *testing.T) {
	b := NewAssetBuffer(10, 72)
	b.AppendCandle(models.CandleRecord{Timestamp: 1, Close: 5})

	candles := b.Candles()
	candles[0].Close = 999

	again := b.Candles()
	if again[0].Close != 5 {
		t.Errorf("buffer state mutated through a reader copy")
	}
}

func TestConcurrentAppendAndRead(t *testing.T) {
	b := NewAssetBuffer(10, 72)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.AppendCandle(models.CandleRecord{Timestamp: float64(i)})
		}
	}()

	for i := 0; i < 1000; i++ {
		candles := b.Candles()
		if len(candles) > 72 {
			t.Errorf("capacity exceeded: %d", len(candles))
			break
		}
	}
	<-done

	if got := fmt.Sprint(len(b.Candles())); got != "72" {
		t.Errorf("final candle count = %s, want 72", got)
	}
}
