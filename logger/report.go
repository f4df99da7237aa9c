package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsIngest    int64
	errorsExec      int64
	warnsIngest     int64
	warnsExec       int64
	snapshotIngests int64
	candleIngests   int64
	journalWrites   int64
	channels        sync.Map // map[string]*channelStat
)

func isIngestComponent(component string) bool {
	return strings.Contains(component, "feed") ||
		strings.Contains(component, "pool") ||
		strings.Contains(component, "channel")
}

func recordWarn(component string) {
	if isIngestComponent(component) {
		atomic.AddInt64(&warnsIngest, 1)
	} else if strings.Contains(component, "portfolio") || strings.Contains(component, "journal") {
		atomic.AddInt64(&warnsExec, 1)
	}
}

func recordError(component string) {
	if isIngestComponent(component) {
		atomic.AddInt64(&errorsIngest, 1)
	} else if strings.Contains(component, "portfolio") || strings.Contains(component, "journal") {
		atomic.AddInt64(&errorsExec, 1)
	}
}

// IncrementSnapshotIngest records one accepted snapshot record.
func IncrementSnapshotIngest() {
	atomic.AddInt64(&snapshotIngests, 1)
	recordChannel("snapshot_ingest", 0)
}

// IncrementCandleIngest records one accepted candle record.
func IncrementCandleIngest() {
	atomic.AddInt64(&candleIngests, 1)
	recordChannel("candle_ingest", 0)
}

// IngestCounts reports the accepted snapshot and candle totals since
// process start.
func IngestCounts() (snapshots, candles int64) {
	return atomic.LoadInt64(&snapshotIngests), atomic.LoadInt64(&candleIngests)
}

// IncrementJournalWrite records one journal object written, with its size.
func IncrementJournalWrite(size int64) {
	atomic.AddInt64(&journalWrites, 1)
	recordChannel("journal_write", int(size))
}

// RecordChannelMessage attributes one message of the given size to a named
// channel for the periodic runtime report.
func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// ResetErrorCount zeroes the error counters. Intended for tests.
func ResetErrorCount() {
	atomic.StoreInt64(&errorsIngest, 0)
	atomic.StoreInt64(&errorsExec, 0)
}

// StartReport begins periodic logging of system and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_ingest":    atomic.LoadInt64(&errorsIngest),
		"errors_exec":      atomic.LoadInt64(&errorsExec),
		"warns_ingest":     atomic.LoadInt64(&warnsIngest),
		"warns_exec":       atomic.LoadInt64(&warnsExec),
		"snapshot_ingests": atomic.LoadInt64(&snapshotIngests),
		"candle_ingests":   atomic.LoadInt64(&candleIngests),
		"journal_writes":   atomic.LoadInt64(&journalWrites),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"disk_mb":          int64(diskStats.Used) / 1024 / 1024,
		"channels":         channelData,
		"net_bytes_sent":   int64(bytesSent),
		"net_bytes_recv":   int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsIngest"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsIngest)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsExec"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsExec)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsIngest"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsIngest)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsExec"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsExec)))},
		cwtypes.MetricDatum{MetricName: aws.String("SnapshotIngests"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&snapshotIngests)))},
		cwtypes.MetricDatum{MetricName: aws.String("CandleIngests"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&candleIngests)))},
		cwtypes.MetricDatum{MetricName: aws.String("JournalWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&journalWrites)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
