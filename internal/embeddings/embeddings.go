package embeddings

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/metrics"
)

// Backend produces embeddings for a batch of texts.
type Backend interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Result represents the result of embedding generation
type Result struct {
	Content   string
	Embedding []float32
	Error     error
}

// work represents a unit of embedding work
type work struct {
	ctx     context.Context
	content string
	result  chan<- Result
}

// ErrQueueFull is returned when every worker is busy and the queue is full.
var ErrQueueFull = errors.New("embedding queue is full, try again later")

// Service manages embedding generation and caching
type Service struct {
	backend    Backend
	numWorkers int
	workQueue  chan work
	cache      sync.Map // content -> []float32
	wg         sync.WaitGroup
	closeOnce  sync.Once
	log        *slog.Logger
}

// NewService creates a new embedding service with the specified number of workers
func NewService(backend Backend, numWorkers int, logger *slog.Logger) *Service {
	if numWorkers <= 0 {
		numWorkers = 2
	}

	s := &Service{
		backend:    backend,
		numWorkers: numWorkers,
		workQueue:  make(chan work, 100),
		log:        logger.With("component", "embeddings"),
	}
	s.startWorkers()
	return s
}

func (s *Service) startWorkers() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for w := range s.workQueue {
				w.result <- s.generate(w.ctx, w.content)
			}
		}()
	}
}

func (s *Service) generate(ctx context.Context, content string) Result {
	if cached, ok := s.cache.Load(content); ok {
		return Result{Content: content, Embedding: cached.([]float32)}
	}

	vecs, err := s.backend.EmbedBatch(ctx, []string{content})
	if err == nil && len(vecs) != 1 {
		err = errors.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	metrics.InferenceCallsTotal.WithLabelValues("embeddings", metrics.Outcome(err)).Inc()
	if err != nil {
		return Result{Content: content, Error: err}
	}

	s.cache.Store(content, vecs[0])
	return Result{Content: content, Embedding: vecs[0]}
}

// GetEmbedding requests an embedding asynchronously. The channel receives
// exactly one Result.
func (s *Service) GetEmbedding(ctx context.Context, content string) <-chan Result {
	resultChan := make(chan Result, 1)

	select {
	case s.workQueue <- work{ctx: ctx, content: content, result: resultChan}:
	default:
		resultChan <- Result{Content: content, Error: ErrQueueFull}
	}
	return resultChan
}

// Embed returns the embedding for text, waiting for a worker.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("nothing to embed")
	}
	select {
	case r := <-s.GetEmbedding(ctx, text):
		return r.Embedding, r.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down the embedding service and waits for all workers to finish
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.workQueue) })
	s.wg.Wait()
}
