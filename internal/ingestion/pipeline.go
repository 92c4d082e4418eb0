// Package ingestion runs the asynchronous document processing pipeline:
// extract -> chunk -> enrich -> embed-and-index in batches -> terminal
// status write. Each document is one task on a bounded worker pool, with at
// most one active task per document id.
package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enterprise-kb/backend/internal/chunker"
	"github.com/enterprise-kb/backend/internal/extract"
	"github.com/enterprise-kb/backend/internal/metrics"
	"github.com/enterprise-kb/backend/internal/storage/models"
	"github.com/enterprise-kb/backend/internal/vector"
	"github.com/enterprise-kb/backend/pkg/logger"
)

// DocumentStore is the slice of the state store the pipeline writes
// terminal statuses through.
type DocumentStore interface {
	MarkCompleted(id string, chunkCount int, processedAt time.Time) error
	MarkFailed(id, errorMessage string) error
}

type Embedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	Workers   int
	QueueSize int
	// BatchSize is the number of chunks embedded and indexed per batch.
	BatchSize int
}

type job struct {
	doc  *models.Document
	data []byte
}

type Pipeline struct {
	store      DocumentStore
	index      vector.Index
	embedder   Embedder
	extractors *extract.Registry
	chunker    *chunker.Chunker
	cfg        Config

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool

	jobs chan job
	wg   sync.WaitGroup
}

func NewPipeline(store DocumentStore, index vector.Index, embedder Embedder,
	extractors *extract.Registry, ch *chunker.Chunker, cfg Config) *Pipeline {

	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	p := &Pipeline{
		store:      store,
		index:      index,
		embedder:   embedder,
		extractors: extractors,
		chunker:    ch,
		cfg:        cfg,
		inflight:   make(map[string]struct{}),
		jobs:       make(chan job, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	logger.Info("Ingestion pipeline started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("batch_size", cfg.BatchSize),
	)

	return p
}

// Submit schedules a document for ingestion and returns without blocking
// the caller. The document must already be persisted in PROCESSING state.
// A document with an active run is rejected with ErrAlreadyProcessing; a
// saturated queue rejects with ErrIngestQueueFull (nothing is scheduled and
// the inflight claim is released).
func (p *Pipeline) Submit(doc *models.Document, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("ingestion pipeline is shut down")
	}
	if _, active := p.inflight[doc.ID]; active {
		return models.ErrAlreadyProcessing
	}

	// The send stays under the mutex: Stop flips closed under the same lock
	// before closing the channel, so a send can never race the close. The
	// send is non-blocking, so the lock is never held across a wait.
	select {
	case p.jobs <- job{doc: doc, data: data}:
		p.inflight[doc.ID] = struct{}{}
		logger.Info("Document queued for ingestion",
			zap.String("document_id", doc.ID),
			zap.String("filename", doc.Filename),
		)
		return nil
	default:
		return models.ErrIngestQueueFull
	}
}

// Stop drains queued jobs and waits for workers to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.process(j)
	}
}

// process always leaves the document in a terminal status: any error, and
// any panic from a processing stage, becomes FAILED with a message.
func (p *Pipeline) process(j job) {
	defer p.release(j.doc.ID)

	start := time.Now()
	ctx := context.Background()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic during processing: %v", r)
			}
		}()
		err = p.run(ctx, j)
	}()

	if err != nil {
		logger.Error("Document processing failed",
			zap.String("document_id", j.doc.ID),
			zap.Error(err),
		)
		if markErr := p.store.MarkFailed(j.doc.ID, err.Error()); markErr != nil {
			logger.Error("Failed to record FAILED status",
				zap.String("document_id", j.doc.ID),
				zap.Error(markErr),
			)
		}
		metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
		return
	}

	metrics.DocumentsProcessed.WithLabelValues("completed").Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
}

func (p *Pipeline) run(ctx context.Context, j job) error {
	doc := j.doc

	fileType := extract.FileType(doc.ContentType, doc.Filename)
	units, err := p.extractors.Extract(fileType, j.data)
	if err != nil {
		return &models.ProcessingError{Stage: "extract", Err: err}
	}

	texts := p.chunker.Split(units)
	logger.Info("Document chunked",
		zap.String("document_id", doc.ID),
		zap.Int("units", len(units)),
		zap.Int("chunks", len(texts)),
	)

	records := EnrichChunks(doc, texts)

	// Batches go to the index in chunk order. A failed batch aborts the
	// run but already-stored batches stay in the index; reprocessing may
	// therefore index some chunks twice (at-least-once indexing).
	totalBatches := (len(records) + p.cfg.BatchSize - 1) / p.cfg.BatchSize
	for i := 0; i < len(records); i += p.cfg.BatchSize {
		end := i + p.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]
		batchNum := i/p.cfg.BatchSize + 1

		texts := make([]string, len(batch))
		for k, record := range batch {
			texts[k] = record.Text
		}

		embeddings, err := p.embedder.GenerateBatchEmbeddings(ctx, texts)
		if err != nil {
			return &models.ProcessingError{
				Stage: fmt.Sprintf("embed batch %d/%d", batchNum, totalBatches),
				Err:   err,
			}
		}

		for k := range batch {
			batch[k].Embedding = embeddings[k]
		}

		if err := p.index.Insert(ctx, batch); err != nil {
			return &models.ProcessingError{
				Stage: fmt.Sprintf("index batch %d/%d", batchNum, totalBatches),
				Err:   err,
			}
		}

		metrics.ChunksIndexed.Add(float64(len(batch)))
		logger.Debug("Batch indexed",
			zap.String("document_id", doc.ID),
			zap.Int("batch", batchNum),
			zap.Int("total_batches", totalBatches),
			zap.Int("size", len(batch)),
		)
	}

	if err := p.store.MarkCompleted(doc.ID, len(records), time.Now()); err != nil {
		return &models.ProcessingError{Stage: "status update", Err: err}
	}

	logger.Info("Document processed",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(records)),
		zap.Int("batches", totalBatches),
	)

	return nil
}

func (p *Pipeline) release(docID string) {
	p.mu.Lock()
	delete(p.inflight, docID)
	p.mu.Unlock()
}
