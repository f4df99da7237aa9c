package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	"tokenflow/channel"
	appconfig "tokenflow/config"
	"tokenflow/logger"
	"tokenflow/models"
	"tokenflow/normalize"
)

// BinanceFeed subscribes to Binance futures kline streams and publishes one
// candle record per closed kline to the inbound channel.
type BinanceFeed struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
}

func NewBinanceFeed(cfg *appconfig.Config, ch *channel.Channels) *BinanceFeed {
	return &BinanceFeed{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  cfg.Source.Binance.Symbols,
	}
}

// Start opens one kline stream per configured symbol.
func (f *BinanceFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("binance feed already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	log := f.log.WithComponent("binance_feed").WithFields(logger.Fields{"operation": "Start"})

	cfg := f.config.Source.Binance
	if !cfg.Enabled {
		log.Warn("binance kline source is disabled")
		return fmt.Errorf("binance kline source is disabled")
	}
	if len(f.symbols) == 0 {
		return fmt.Errorf("binance kline source has no symbols")
	}

	log.WithFields(logger.Fields{
		"symbols":  f.symbols,
		"interval": cfg.Interval,
	}).Info("starting binance feed")

	for _, symbol := range f.symbols {
		f.wg.Add(1)
		go f.streamKlines(symbol, cfg.Interval)
	}

	log.Info("binance feed started successfully")
	return nil
}

// Stop signals all stream workers and waits for them to finish.
func (f *BinanceFeed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("binance_feed").Info("stopping binance feed")
	f.wg.Wait()
	f.log.WithComponent("binance_feed").Info("binance feed stopped")
}

// streamKlines keeps one symbol's subscription alive, resubscribing after the
// upstream connection drops.
func (f *BinanceFeed) streamKlines(symbol, interval string) {
	defer f.wg.Done()

	log := f.log.WithComponent("binance_feed").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "kline_stream",
	})

	handler := func(event *futures.WsKlineEvent) {
		if event == nil || !event.Kline.IsFinal {
			return
		}
		rec := klineRecord(symbol, event.Kline)
		if !f.channels.Publish(rec) && f.ctx.Err() == nil {
			log.Warn("inbound channel full, dropping candle")
		}
	}
	errHandler := func(err error) {
		log.WithError(err).Warn("kline stream error")
	}

	for {
		doneC, stopC, err := futures.WsKlineServe(symbol, interval, handler, errHandler)
		if err != nil {
			log.WithError(err).Warn("kline subscription failed")
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		log.Info("kline stream connected")

		select {
		case <-f.ctx.Done():
			close(stopC)
			<-doneC
			log.Info("worker stopped due to context cancellation")
			return
		case <-doneC:
			log.Warn("kline stream closed, reconnecting")
		}
	}
}

// klineRecord converts one closed kline into an inbound candle record. The
// timestamp is the kline close time in epoch seconds; OHLCV stay as upstream
// strings since ingestion coerces them.
func klineRecord(symbol string, k futures.WsKline) models.InboundRecord {
	return models.InboundRecord{
		Type:      models.RecordTypeCandle,
		Asset:     strings.ToUpper(symbol),
		Venue:     normalize.VenueBinance,
		Timestamp: float64(k.EndTime) / 1000.0,
		Fields: map[string]interface{}{
			"open":   k.Open,
			"high":   k.High,
			"low":    k.Low,
			"close":  k.Close,
			"volume": k.Volume,
			"trades": float64(k.TradeNum),
		},
	}
}
