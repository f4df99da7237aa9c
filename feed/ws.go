package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tokenflow/channel"
	appconfig "tokenflow/config"
	"tokenflow/logger"
	"tokenflow/models"
)

// WSFeed consumes a websocket stream of JSON records. Each text frame is one
// object carrying the type/token/exchange/ts envelope plus payload fields;
// frames that do not decode to an object are dropped.
type WSFeed struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	dial     func(ctx context.Context, url string) (*websocket.Conn, error)
}

func NewWSFeed(cfg *appconfig.Config, ch *channel.Channels) *WSFeed {
	return &WSFeed{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// Start connects to the configured websocket endpoint.
func (f *WSFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("ws feed already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	cfg := f.config.Source.WS
	log := f.log.WithComponent("ws_feed").WithFields(logger.Fields{"operation": "Start"})

	if !cfg.Enabled {
		log.Warn("websocket source is disabled")
		return fmt.Errorf("websocket source is disabled")
	}
	if cfg.URL == "" {
		return fmt.Errorf("websocket source has no url")
	}

	log.WithFields(logger.Fields{"url": cfg.URL}).Info("starting ws feed")

	f.wg.Add(1)
	go f.stream(cfg.URL)

	return nil
}

// Stop terminates the stream worker and waits for it.
func (f *WSFeed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("ws_feed").Info("stopping ws feed")
	f.wg.Wait()
	f.log.WithComponent("ws_feed").Info("ws feed stopped")
}

func (f *WSFeed) stream(url string) {
	defer f.wg.Done()

	log := f.log.WithComponent("ws_feed").WithFields(logger.Fields{
		"url":    url,
		"worker": "record_stream",
	})

	for {
		if f.ctx.Err() != nil {
			return
		}

		conn, err := f.dial(f.ctx, url)
		if err != nil {
			log.WithError(err).Warn("websocket dial failed")
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		log.Info("websocket connected")
		f.readLoop(conn, log)
		conn.Close()

		if f.ctx.Err() != nil {
			log.Info("worker stopped due to context cancellation")
			return
		}
		log.Warn("websocket closed, reconnecting")
	}
}

// readLoop drains frames until the connection breaks or the context ends.
// The connection is closed from a watcher goroutine on cancellation so the
// blocking read returns promptly.
func (f *WSFeed) readLoop(conn *websocket.Conn, log *logger.Entry) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-f.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() == nil {
				log.WithError(err).Warn("websocket read failed")
			}
			return
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(payload, &raw); err != nil {
			log.WithError(err).Warn("dropping undecodable frame")
			continue
		}

		// Ingest counters are the pool's business: the feed only delivers.
		rec := models.FromMap(raw)
		if !f.channels.Publish(rec) && f.ctx.Err() == nil {
			log.Warn("inbound channel full, dropping record")
		}
	}
}
