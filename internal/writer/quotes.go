package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
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

	"fundingarb/config"
	"fundingarb/internal/metrics"
	"fundingarb/internal/models"
	"fundingarb/logger"
)

const (
	defaultMaxBuffer = 5000
	uploadTimeout    = 2 * time.Minute
	uploadWorkers    = 2
)

type quoteRecord struct {
	CycleID       string  `parquet:"name=cycle_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Venue         string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol        string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	BaseCurrency  string  `parquet:"name=base_currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	Rate          float64 `parquet:"name=rate, type=DOUBLE"`
	APR           float64 `parquet:"name=apr, type=DOUBLE"`
	ReceivingSide string  `parquet:"name=receiving_side, type=BYTE_ARRAY, convertedtype=UTF8"`
	ObservedAt    int64   `parquet:"name=observed_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type quoteBatch struct {
	Venue     string
	Records   []quoteRecord
	Timestamp time.Time
	Reason    string
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// ObjectPutter is the part of the S3 client the archive needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client from the storage settings. Static keys are
// used when both are set, otherwise the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// QuoteArchive buffers every funding quote of each cycle report per venue
// and uploads the batches to S3 as parquet files.
type QuoteArchive struct {
	cfg     config.S3Config
	version string
	reports <-chan models.CycleReport
	client  ObjectPutter
	meta    *manifest

	ctx      context.Context
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	workers  sync.WaitGroup
	log      *logger.Log
	nowFunc  func() time.Time
	jobCh    chan quoteBatch
	mu       sync.Mutex
	buffer   map[string][]quoteRecord
	maxBuf   int
	running  bool
	uploaded int64
}

// NewQuoteArchive creates an archive fed by reports.
func NewQuoteArchive(cfg config.S3Config, version string, reports <-chan models.CycleReport, client ObjectPutter) (*QuoteArchive, error) {
	if reports == nil {
		return nil, fmt.Errorf("nil report channel provided")
	}
	if client == nil {
		return nil, fmt.Errorf("nil s3 client provided")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	maxBuf := cfg.MaxBuffer
	if maxBuf <= 0 {
		maxBuf = defaultMaxBuffer
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Minute
	}

	return &QuoteArchive{
		cfg:     cfg,
		version: version,
		reports: reports,
		client:  client,
		meta:    newManifest(strings.TrimSpace(cfg.Bucket), cfg.Prefix),
		log:     logger.GetLogger(),
		nowFunc: time.Now,
		jobCh:   make(chan quoteBatch, 64),
		buffer:  make(map[string][]quoteRecord),
		maxBuf:  maxBuf,
	}, nil
}

// Start launches the ingest, flush and upload goroutines.
func (a *QuoteArchive) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("quote archive already running")
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.log.WithComponent("quote_archive").WithFields(logger.Fields{
		"bucket":         a.cfg.Bucket,
		"prefix":         a.cfg.Prefix,
		"flush_interval": a.cfg.FlushInterval.String(),
		"max_buffer":     a.maxBuf,
	}).Info("starting quote archive")

	a.loops.Add(2)
	go a.ingest()
	go a.flushLoop()

	for i := 0; i < uploadWorkers; i++ {
		a.workers.Add(1)
		go a.uploadWorker()
	}
	return nil
}

// Stop flushes what is buffered, waits for pending uploads and returns.
func (a *QuoteArchive) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	a.cancel()
	a.loops.Wait()
	a.flushBuffers("shutdown")
	close(a.jobCh)
	a.workers.Wait()
	a.log.WithComponent("quote_archive").WithField("uploaded", a.uploaded).Info("quote archive stopped")
}

func (a *QuoteArchive) ingest() {
	defer a.loops.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case report, ok := <-a.reports:
			if !ok {
				return
			}
			a.addReport(report)
		}
	}
}

func (a *QuoteArchive) flushLoop() {
	defer a.loops.Done()
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flushBuffers("interval")
		}
	}
}

func (a *QuoteArchive) uploadWorker() {
	defer a.workers.Done()
	for batch := range a.jobCh {
		a.processBatch(batch)
	}
}

func (a *QuoteArchive) addReport(report models.CycleReport) {
	observed := report.StartedAt
	if observed.IsZero() {
		observed = a.nowFunc().UTC()
	}

	for _, vq := range report.Quotes {
		venueKey := strings.ToLower(vq.Venue)
		var full []quoteRecord

		a.mu.Lock()
		for _, q := range vq.Quotes {
			a.buffer[venueKey] = append(a.buffer[venueKey], quoteRecord{
				CycleID:       report.CycleID,
				Venue:         venueKey,
				Symbol:        q.Symbol,
				BaseCurrency:  q.BaseCurrency,
				Rate:          q.Rate,
				APR:           q.APR,
				ReceivingSide: q.ReceivingSide.String(),
				ObservedAt:    observed.UnixMilli(),
			})
		}
		if len(a.buffer[venueKey]) >= a.maxBuf {
			full = a.buffer[venueKey]
			delete(a.buffer, venueKey)
		}
		a.mu.Unlock()

		if len(full) > 0 {
			a.enqueue(venueKey, full, "max_buffer")
		}
	}
}

func (a *QuoteArchive) flushBuffers(reason string) {
	a.mu.Lock()
	buffers := a.buffer
	a.buffer = make(map[string][]quoteRecord)
	a.mu.Unlock()

	for venueKey, records := range buffers {
		if len(records) == 0 {
			continue
		}
		a.enqueue(venueKey, records, reason)
	}
}

// enqueue hands a batch to the upload workers, dropping it when they are
// saturated.
func (a *QuoteArchive) enqueue(venueKey string, records []quoteRecord, reason string) {
	batch := quoteBatch{Venue: venueKey, Records: records, Timestamp: a.nowFunc().UTC(), Reason: reason}
	select {
	case a.jobCh <- batch:
	default:
		metrics.EmitDropMetric(a.log, metrics.DropMetricQuoteArchive, venueKey)
		a.log.WithComponent("quote_archive").WithFields(logger.Fields{
			"venue":        venueKey,
			"record_count": len(records),
			"reason":       reason,
		}).Warn("upload queue full, dropping quote batch")
	}
}

func (a *QuoteArchive) processBatch(batch quoteBatch) {
	entry := a.log.WithComponent("quote_archive").WithFields(logger.Fields{
		"venue":        batch.Venue,
		"record_count": len(batch.Records),
		"reason":       batch.Reason,
	})

	start := time.Now()
	data, err := encodeParquet(batch.Records, a.cfg.Compression)
	if err != nil {
		entry.WithError(err).Error("failed to encode quote parquet")
		return
	}

	key := objectKey(a.cfg.Prefix, batch.Venue, batch.Timestamp)
	if err := a.upload(key, data); err != nil {
		entry.WithError(err).WithField("key", key).Error("failed to upload quote parquet")
		return
	}

	a.mu.Lock()
	a.uploaded += int64(len(batch.Records))
	a.mu.Unlock()

	df := dataFile{
		Path:        a.meta.objectPath(key),
		FileSize:    int64(len(data)),
		RecordCount: int64(len(batch.Records)),
		Partition: map[string]string{
			"venue": batch.Venue,
			"date":  batch.Timestamp.UTC().Format("2006-01-02"),
		},
	}
	if err := a.meta.commit(df, batch.Timestamp, a.upload); err != nil {
		entry.WithError(err).Warn("failed to update archive metadata")
	}

	metrics.EmitMetric(a.log, "quote_archive", "quote_records_uploaded", len(batch.Records), "counter", logger.Fields{"venue": batch.Venue})
	logger.LogPerformanceEntry(entry, "quote_archive", "upload", time.Since(start), logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	})
}

func (a *QuoteArchive) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        a.cfg.Compression,
			"fundingarb-version": a.version,
		},
	}
	if strings.HasSuffix(key, ".json") {
		input.ContentType = aws.String("application/json")
		input.Metadata = map[string]string{"fundingarb-version": a.version}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), uploadTimeout)
	defer cancel()
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// objectKey lays batches out as prefix/venue=<v>/date=<d>/<ts>_<uuid>.parquet.
func objectKey(prefix, venueName string, ts time.Time) string {
	ts = ts.UTC()
	filename := fmt.Sprintf("%s_%s.parquet", ts.Format("20060102150405"), uuid.NewString())
	return path.Join(
		strings.Trim(prefix, "/"),
		"venue="+strings.ToLower(venueName),
		"date="+ts.Format("2006-01-02"),
		filename,
	)
}

func encodeParquet(records []quoteRecord, compression string) ([]byte, error) {
	mem := newMemFile()
	pw, err := pqwriter.NewParquetWriter(mem, new(quoteRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(compression) {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write quote record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}
