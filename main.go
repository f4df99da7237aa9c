package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tokenflow/buffer"
	"tokenflow/channel"
	"tokenflow/config"
	"tokenflow/feed"
	"tokenflow/logger"
	"tokenflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tokenflow.Name,
		"version": cfg.Tokenflow.Version,
	}).Info("starting tokenflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.IsProductionLike(config.AppEnvironment()) {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Logging.Namespace, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(cfg.Channels.InboundBuffer)
	defer channels.Close()

	channels.StartMetricsReporting(ctx)

	pool := buffer.NewPool(cfg, channels.Inbound)

	var binanceFeed *feed.BinanceFeed
	var wsFeed *feed.WSFeed
	var replayFeed *feed.ReplayFeed

	if cfg.Source.Binance.Enabled {
		binanceFeed = feed.NewBinanceFeed(cfg, channels)
	}
	if cfg.Source.WS.Enabled {
		wsFeed = feed.NewWSFeed(cfg, channels)
	}
	if cfg.Source.Replay.Enabled {
		replayFeed = feed.NewReplayFeed(cfg, channels)
	}
	if binanceFeed == nil && wsFeed == nil && replayFeed == nil {
		log.WithComponent("main").Warn("no record sources enabled")
	}

	var journal *writer.Journal
	if cfg.Journal.Enabled {
		journal, err = writer.NewJournal(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create journal")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("journal disabled; step reports are not persisted")
	}

	var wg sync.WaitGroup

	// Pump inbound records into the pool.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-channels.Inbound:
				if !ok {
					return
				}
				pool.Ingest(rec)
			}
		}
	}()

	if binanceFeed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := binanceFeed.Start(ctx); err != nil {
				log.WithError(err).Warn("binance feed failed to start")
			}
		}()
	}
	if wsFeed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := wsFeed.Start(ctx); err != nil {
				log.WithError(err).Warn("ws feed failed to start")
			}
		}()
	}
	if replayFeed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := replayFeed.Start(ctx); err != nil {
				log.WithError(err).Warn("replay feed failed to start")
			}
		}()
	}

	if journal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := journal.Start(ctx); err != nil {
				log.WithError(err).Warn("journal failed to start")
			}
		}()
	}

	// Periodic pool stats
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pool.LogStats()
			}
		}
	}()

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if journal != nil {
		log.Info("stopping journal")
		journal.Stop()
	}
	if replayFeed != nil {
		log.Info("stopping replay feed")
		replayFeed.Stop()
	}
	if wsFeed != nil {
		log.Info("stopping ws feed")
		wsFeed.Stop()
	}
	if binanceFeed != nil {
		log.Info("stopping binance feed")
		binanceFeed.Stop()
	}

	pool.LogStats()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("tokenflow stopped")
}
