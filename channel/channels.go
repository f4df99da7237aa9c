package channel

import (
	"context"
	"sync"
	"time"

	"tokenflow/logger"
	"tokenflow/models"
)

type Stats struct {
	RecordsSent    int64
	RecordsDropped int64
}

// Channels owns the buffered inbound record channel between the transport
// feeds and the buffer pool. Feeds publish with a non-blocking send; a full
// channel drops the record and counts the drop rather than stalling a feed.
type Channels struct {
	Inbound chan models.InboundRecord

	stats               Stats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(inboundBufferSize int) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		Inbound: make(chan models.InboundRecord, inboundBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"inbound_buffer_size": inboundBufferSize,
	}).Info("channels initialized")

	return c
}

// Publish offers a record to the inbound channel without blocking. It
// reports whether the record was accepted.
func (c *Channels) Publish(rec models.InboundRecord) bool {
	select {
	case c.Inbound <- rec:
		c.statsMutex.Lock()
		c.stats.RecordsSent++
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("inbound", 1)
		return true
	default:
		c.statsMutex.Lock()
		c.stats.RecordsDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats(c.log)
			}
		}
	}()
}

func (c *Channels) logChannelStats(log *logger.Log) {
	stats := c.GetStats()

	log.WithComponent("channels").WithFields(logger.Fields{
		"records_sent":        stats.RecordsSent,
		"records_dropped":     stats.RecordsDropped,
		"inbound_channel_len": len(c.Inbound),
		"inbound_channel_cap": cap(c.Inbound),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	close(c.Inbound)

	c.log.WithComponent("channels").Info("inbound channel closed")
}

func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
