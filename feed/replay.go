package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/time/rate"

	"tokenflow/channel"
	appconfig "tokenflow/config"
	"tokenflow/logger"
	"tokenflow/models"
)

// ReplayFeed replays a JSON-lines capture through the inbound channel at a
// configurable pace, for offline simulation runs against recorded history.
type ReplayFeed struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewReplayFeed(cfg *appconfig.Config, ch *channel.Channels) *ReplayFeed {
	return &ReplayFeed{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start begins replaying the configured capture file.
func (f *ReplayFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("replay feed already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	cfg := f.config.Source.Replay
	log := f.log.WithComponent("replay_feed").WithFields(logger.Fields{"operation": "Start"})

	if !cfg.Enabled {
		log.Warn("replay source is disabled")
		return fmt.Errorf("replay source is disabled")
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return fmt.Errorf("replay capture %s: %w", cfg.Path, err)
	}

	log.WithFields(logger.Fields{
		"path":               cfg.Path,
		"records_per_second": cfg.RecordsPerSecond,
		"loop":               cfg.Loop,
	}).Info("starting replay feed")

	f.wg.Add(1)
	go f.replay(cfg)

	return nil
}

// Stop waits for the replay worker to finish.
func (f *ReplayFeed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("replay_feed").Info("stopping replay feed")
	f.wg.Wait()
	f.log.WithComponent("replay_feed").Info("replay feed stopped")
}

func (f *ReplayFeed) replay(cfg appconfig.ReplaySourceConfig) {
	defer f.wg.Done()

	log := f.log.WithComponent("replay_feed").WithFields(logger.Fields{
		"path":   cfg.Path,
		"worker": "replay",
	})

	var limiter *rate.Limiter
	if cfg.RecordsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RecordsPerSecond), 1)
	}

	for {
		published, err := f.replayFile(cfg.Path, limiter, log)
		if err != nil {
			log.WithError(err).Error("replay pass failed")
			return
		}
		log.WithFields(logger.Fields{"records": published}).Info("replay pass complete")

		if !cfg.Loop || f.ctx.Err() != nil {
			return
		}
	}
}

// replayFile runs one pass over the capture, returning how many records it
// published. Undecodable lines are skipped, not fatal.
func (f *ReplayFeed) replayFile(path string, limiter *rate.Limiter, log *logger.Entry) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	published := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if f.ctx.Err() != nil {
			return published, nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(line, &raw); err != nil {
			log.WithError(err).Warn("skipping undecodable line")
			continue
		}

		if limiter != nil {
			if err := limiter.Wait(f.ctx); err != nil {
				return published, nil
			}
		}

		rec := models.FromMap(raw)
		if f.channels.Publish(rec) {
			published++
		} else {
			log.Warn("inbound channel full, dropping record")
		}
	}

	return published, scanner.Err()
}
