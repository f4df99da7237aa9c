package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tokenflow TokenflowConfig `yaml:"tokenflow"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Buffers   BuffersConfig   `yaml:"buffers"`
	Pool      PoolConfig      `yaml:"pool"`
	Execution ExecutionConfig `yaml:"execution"`
	Source    SourceConfig    `yaml:"source"`
	Journal   JournalConfig   `yaml:"journal"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TokenflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	InboundBuffer int `yaml:"inbound_buffer"`
}

// BuffersConfig bounds the per-asset history. Snapshot events are rare so a
// short tail is enough; the candle window has to cover the longest feature
// horizon (72 bars).
type BuffersConfig struct {
	SnapshotDepth int `yaml:"snapshot_depth"`
	CandleDepth   int `yaml:"candle_depth"`
}

type PoolConfig struct {
	DrainBatch    int           `yaml:"drain_batch"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	MinNewCandles int           `yaml:"min_new_candles"`
}

// ExecutionConfig carries the cost and risk model of the portfolio
// simulator. Fee and slippage are in basis points of traded notional.
type ExecutionConfig struct {
	StartCash   float64 `yaml:"start_cash"`
	FeeBps      float64 `yaml:"fee_bps"`
	SlippageBps float64 `yaml:"slippage_bps"`
	StopLossPct float64 `yaml:"stop_loss_pct"`
	RiskPerStep float64 `yaml:"risk_per_step"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
	WS      WSSourceConfig      `yaml:"ws"`
	Replay  ReplaySourceConfig  `yaml:"replay"`
}

type BinanceSourceConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Symbols  []string `yaml:"symbols"`
	Interval string   `yaml:"interval"`
}

type WSSourceConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type ReplaySourceConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Path             string  `yaml:"path"`
	RecordsPerSecond float64 `yaml:"records_per_second"`
	Loop             bool    `yaml:"loop"`
}

type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Directory     string        `yaml:"directory"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

// defaults mirrors the values the original system ran with; a config file
// only has to name what it wants to change.
func defaults() Config {
	return Config{
		Channels: ChannelsConfig{InboundBuffer: 1024},
		Buffers:  BuffersConfig{SnapshotDepth: 10, CandleDepth: 72},
		Pool: PoolConfig{
			DrainBatch:    1000,
			PollInterval:  100 * time.Millisecond,
			WaitTimeout:   30 * time.Second,
			MinNewCandles: 1,
		},
		Execution: ExecutionConfig{
			StartCash:   10_000,
			FeeBps:      5,
			SlippageBps: 5,
			StopLossPct: 0.05,
			RiskPerStep: 0.01,
		},
		Journal: JournalConfig{
			BatchSize:     64,
			FlushInterval: 30 * time.Second,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Tokenflow.Name == "" {
		return fmt.Errorf("tokenflow.name is required")
	}

	if cfg.Tokenflow.Version == "" {
		return fmt.Errorf("tokenflow.version is required")
	}

	if cfg.Channels.InboundBuffer <= 0 {
		return fmt.Errorf("channels.inbound_buffer must be greater than 0")
	}

	if cfg.Buffers.SnapshotDepth <= 0 {
		return fmt.Errorf("buffers.snapshot_depth must be greater than 0")
	}
	if cfg.Buffers.CandleDepth <= 0 {
		return fmt.Errorf("buffers.candle_depth must be greater than 0")
	}

	if cfg.Pool.DrainBatch <= 0 {
		return fmt.Errorf("pool.drain_batch must be greater than 0")
	}
	if cfg.Pool.PollInterval <= 0 {
		return fmt.Errorf("pool.poll_interval must be greater than 0")
	}
	if cfg.Pool.MinNewCandles <= 0 {
		return fmt.Errorf("pool.min_new_candles must be greater than 0")
	}

	if cfg.Execution.StartCash <= 0 {
		return fmt.Errorf("execution.start_cash must be greater than 0")
	}
	if cfg.Execution.FeeBps < 0 {
		return fmt.Errorf("execution.fee_bps must not be negative")
	}
	if cfg.Execution.SlippageBps < 0 {
		return fmt.Errorf("execution.slippage_bps must not be negative")
	}
	if cfg.Execution.StopLossPct <= 0 || cfg.Execution.StopLossPct >= 1 {
		return fmt.Errorf("execution.stop_loss_pct must be in (0, 1)")
	}
	if cfg.Execution.RiskPerStep <= 0 || cfg.Execution.RiskPerStep > 1 {
		return fmt.Errorf("execution.risk_per_step must be in (0, 1]")
	}

	if cfg.Source.Replay.Enabled && cfg.Source.Replay.Path == "" {
		return fmt.Errorf("source.replay.path is required when replay is enabled")
	}
	if cfg.Source.WS.Enabled && cfg.Source.WS.URL == "" {
		return fmt.Errorf("source.ws.url is required when the ws source is enabled")
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.BatchSize <= 0 {
			return fmt.Errorf("journal.batch_size must be greater than 0")
		}
		if cfg.Journal.FlushInterval <= 0 {
			return fmt.Errorf("journal.flush_interval must be greater than 0")
		}
		if !cfg.Storage.S3.Enabled && cfg.Journal.Directory == "" {
			return fmt.Errorf("journal.directory is required when S3 is disabled")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
