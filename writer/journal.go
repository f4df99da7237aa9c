package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "tokenflow/config"
	"tokenflow/logger"
	"tokenflow/portfolio"
)

// JournalRow is the parquet layout of the execution journal: one row per
// trade-log line, denormalized with its step's header. A step that produced
// no trade logs still emits one header-only row so every step is journaled.
type JournalRow struct {
	ReportID    string  `parquet:"name=report_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp   int64   `parquet:"name=timestamp, type=INT64"`
	PrevEquity  float64 `parquet:"name=prev_equity, type=DOUBLE"`
	Equity      float64 `parquet:"name=equity, type=DOUBLE"`
	Cash        float64 `parquet:"name=cash, type=DOUBLE"`
	TradesCount int32   `parquet:"name=trades_count, type=INT32"`
	Asset       string  `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Action      string  `parquet:"name=action, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status      string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price       float64 `parquet:"name=price, type=DOUBLE"`
	Qty         float64 `parquet:"name=qty, type=DOUBLE"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writes.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}
func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// Journal persists execution step reports as parquet batches, to a local
// directory and optionally to S3. Reports accumulate in memory and flush
// when the batch fills or the interval elapses.
type Journal struct {
	config      *appconfig.Config
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	pending     []JournalRow
	flushTicker *time.Ticker
}

func NewJournal(cfg *appconfig.Config) (*Journal, error) {
	log := logger.GetLogger()

	j := &Journal{
		config: cfg,
		wg:     &sync.WaitGroup{},
		log:    log,
	}

	if cfg.Storage.S3.Enabled {
		client, err := newS3Client(cfg)
		if err != nil {
			return nil, err
		}
		j.s3Client = client
	}

	if cfg.Journal.Directory != "" {
		if err := os.MkdirAll(cfg.Journal.Directory, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	log.WithComponent("journal").WithFields(logger.Fields{
		"directory":      cfg.Journal.Directory,
		"batch_size":     cfg.Journal.BatchSize,
		"flush_interval": cfg.Journal.FlushInterval,
		"s3":             cfg.Storage.S3.Enabled,
	}).Info("journal initialized")

	return j, nil
}

func newS3Client(cfg *appconfig.Config) (*s3.Client, error) {
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	return s3.NewFromConfig(awsCfg), nil
}

// Start launches the interval flush worker.
func (j *Journal) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("journal already running")
	}
	j.running = true
	j.ctx = ctx
	j.mu.Unlock()

	j.flushTicker = time.NewTicker(j.config.Journal.FlushInterval)

	j.wg.Add(1)
	go j.flushWorker()

	j.log.WithComponent("journal").Info("journal started successfully")
	return nil
}

// Stop flushes whatever is pending and waits for the worker.
func (j *Journal) Stop() {
	j.mu.Lock()
	j.running = false
	j.mu.Unlock()

	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}

	j.log.WithComponent("journal").Info("stopping journal")
	j.wg.Wait()
	j.flush("shutdown")
	j.log.WithComponent("journal").Info("journal stopped")
}

// Append queues one step report for the next batch. A full batch flushes
// inline on the caller's goroutine.
func (j *Journal) Append(report *portfolio.StepReport) {
	if report == nil {
		return
	}

	rows := reportRows(report)

	j.mu.Lock()
	j.pending = append(j.pending, rows...)
	full := len(j.pending) >= j.config.Journal.BatchSize
	j.mu.Unlock()

	if full {
		j.flush("batch_full")
	}
}

// Pending reports the number of rows waiting for the next flush.
func (j *Journal) Pending() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.pending)
}

func reportRows(report *portfolio.StepReport) []JournalRow {
	header := JournalRow{
		ReportID:    report.ReportID,
		Timestamp:   report.Timestamp.UnixMilli(),
		PrevEquity:  report.PrevEquity,
		Equity:      report.Equity,
		Cash:        report.Cash,
		TradesCount: int32(report.TradesCount),
	}

	if len(report.Trades) == 0 {
		return []JournalRow{header}
	}

	rows := make([]JournalRow, 0, len(report.Trades))
	for _, trade := range report.Trades {
		row := header
		row.Asset = trade.Asset
		row.Action = trade.Action
		row.Status = trade.Status
		row.Price = trade.Price
		row.Qty = trade.Qty
		rows = append(rows, row)
	}
	return rows
}

func (j *Journal) flushWorker() {
	defer j.wg.Done()

	log := j.log.WithComponent("journal").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-j.ctx.Done():
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-j.flushTicker.C:
			j.flush("interval")
		}
	}
}

func (j *Journal) flush(reason string) {
	j.mu.Lock()
	rows := j.pending
	j.pending = nil
	j.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	log := j.log.WithComponent("journal").WithFields(logger.Fields{
		"rows":   len(rows),
		"reason": reason,
	})
	log.Info("flushing journal batch")

	data, err := createParquetBatch(rows)
	if err != nil {
		log.WithError(err).Error("failed to create parquet batch")
		return
	}

	name := fmt.Sprintf("journal_%s_%s.parquet",
		time.Now().UTC().Format("20060102150405"),
		uuid.New().String())

	if j.config.Journal.Directory != "" {
		path := filepath.Join(j.config.Journal.Directory, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.WithError(err).Error("failed to write journal file")
		} else {
			logger.IncrementJournalWrite(int64(len(data)))
			log.WithFields(logger.Fields{"path": path, "file_size": len(data)}).Info("journal batch written")
		}
	}

	if j.s3Client != nil {
		if err := j.uploadToS3(name, data); err != nil {
			log.WithError(err).
				WithEnv("S3_BUCKET").
				WithFields(logger.Fields{"bucket": j.config.Storage.S3.Bucket}).
				Error("failed to upload journal batch")
		} else {
			logger.IncrementJournalWrite(int64(len(data)))
		}
	}
}

func createParquetBatch(rows []JournalRow) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := pqwriter.NewParquetWriter(fw, new(JournalRow), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet batch: %w", err)
	}

	return fw.Bytes(), nil
}

func (j *Journal) uploadToS3(name string, data []byte) error {
	ts := time.Now().UTC()
	key := filepath.ToSlash(filepath.Join(
		j.config.Storage.S3.Prefix,
		fmt.Sprintf("%04d/%02d/%02d", ts.Year(), ts.Month(), ts.Day()),
		name,
	))

	input := &s3.PutObjectInput{
		Bucket:      aws.String(j.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	}

	ctx := context.WithoutCancel(j.ctx)
	if _, err := j.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", j.config.Storage.S3.Bucket, err)
	}
	return nil
}
