package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"rentfeatures/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Chunk is a slice of listings processed as one unit. Index orders chunks
// when results are merged.
type Chunk struct {
	Index int
	Rows  []*models.Listing
}

// Handler processes one chunk.
type Handler func(ctx context.Context, chunk Chunk) error

// ChunkQueue is an in-memory queue of chunks drained by a pool of workers.
type ChunkQueue struct {
	items    chan Chunk
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
	logger   *logrus.Logger
	handlers []Handler
}

// NewChunkQueue creates a new chunk queue with the specified buffer size
func NewChunkQueue(bufferSize int, logger *logrus.Logger) *ChunkQueue {
	return &ChunkQueue{
		items:    make(chan Chunk, bufferSize),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]Handler, 0),
	}
}

// Push adds a chunk without blocking.
func (q *ChunkQueue) Push(chunk Chunk) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- chunk:
		q.logger.WithFields(logrus.Fields{
			"chunk": chunk.Index,
			"rows":  len(chunk.Rows),
		}).Debug("Pushed chunk to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// PushContext adds a chunk, waiting for buffer space until ctx is done.
func (q *ChunkQueue) PushContext(ctx context.Context, chunk Chunk) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- chunk:
		q.logger.WithFields(logrus.Fields{
			"chunk": chunk.Index,
			"rows":  len(chunk.Rows),
		}).Debug("Pushed chunk to queue")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe adds a handler that is called for each chunk
func (q *ChunkQueue) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches workers goroutines that drain the queue until it is closed
// and empty, or ctx is cancelled.
func (q *ChunkQueue) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.process(ctx, i)
	}
}

func (q *ChunkQueue) process(ctx context.Context, worker int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-q.items:
			if !ok {
				return
			}
			q.processChunk(ctx, worker, chunk)
		}
	}
}

// processChunk sends the chunk to all subscribed handlers
func (q *ChunkQueue) processChunk(ctx context.Context, worker int, chunk Chunk) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, chunk); err != nil {
			q.logger.WithError(err).WithFields(logrus.Fields{
				"worker": worker,
				"chunk":  chunk.Index,
			}).Error("Handler failed to process chunk")
		}
	}
}

// Close stops accepting chunks. Workers finish what is already queued.
func (q *ChunkQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.items)
	return nil
}

// Wait blocks until every worker has returned.
func (q *ChunkQueue) Wait() {
	q.wg.Wait()
}

// Len returns the current number of chunks in the queue
func (q *ChunkQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *ChunkQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
