package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EmbedRetrier recomputes missing embeddings out-of-band. Writes hand off
// here after a failed bounded synchronous attempt; the entry stays
// retrievable by keyword search until the retry lands.
type EmbedRetrier struct {
	store    *Store
	provider EmbeddingProvider
	logger   zerolog.Logger

	maxAttempts int
	baseDelay   time.Duration

	queue  chan pendingEmbed
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type pendingEmbed struct {
	memoryID string
	text     string
	attempt  int
}

// RetrierConfig holds retrier construction parameters.
type RetrierConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	QueueSize   int
	Logger      zerolog.Logger
}

// NewEmbedRetrier creates a stopped retrier; call Start to run the worker.
func NewEmbedRetrier(store *Store, provider EmbeddingProvider, cfg RetrierConfig) *EmbedRetrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &EmbedRetrier{
		store:       store,
		provider:    provider,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		queue:       make(chan pendingEmbed, cfg.QueueSize),
	}
}

// Start launches the background worker.
func (r *EmbedRetrier) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop drains nothing; in-flight work is abandoned. Pending embeddings are
// recomputable from the durable store on the next write or retry. The queue
// channel is never closed: the backoff path requeues concurrently with Stop,
// and enqueuing after Stop just fills the buffer until it drops.
func (r *EmbedRetrier) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Enqueue schedules an embedding recompute. Non-blocking: if the queue is
// full the item is dropped and will be caught by a later duplicate write.
func (r *EmbedRetrier) Enqueue(memoryID, text string) bool {
	select {
	case r.queue <- pendingEmbed{memoryID: memoryID, text: text}:
		return true
	default:
		r.logger.Warn().Str("memory_id", memoryID).Msg("Embed retry queue full, dropping")
		return false
	}
}

func (r *EmbedRetrier) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-r.queue:
			r.process(ctx, item)
		}
	}
}

func (r *EmbedRetrier) process(ctx context.Context, item pendingEmbed) {
	vec, err := r.provider.GenerateEmbedding(ctx, item.text)
	if err == nil {
		if err = r.store.UpsertEmbedding(ctx, item.memoryID, vec); err == nil {
			r.logger.Debug().Str("memory_id", item.memoryID).
				Int("attempt", item.attempt+1).Msg("Embedding recovered")
			return
		}
	}

	item.attempt++
	if item.attempt >= r.maxAttempts {
		r.logger.Error().Err(err).Str("memory_id", item.memoryID).
			Msg("Embedding retries exhausted")
		return
	}

	// Bounded exponential backoff before requeueing.
	delay := r.baseDelay << uint(item.attempt-1)
	r.logger.Warn().Err(err).Str("memory_id", item.memoryID).
		Int("attempt", item.attempt).Dur("backoff", delay).
		Msg("Embedding attempt failed, backing off")

	select {
	case <-ctx.Done():
	case <-time.After(delay):
		select {
		case r.queue <- item:
		default:
		}
	}
}
