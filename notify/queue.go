package notify

import (
	"context"
	"sync"

	"clinicmsg/logger"
	"clinicmsg/metrics"
)

// Event is emitted after a message has been persisted.
type Event struct {
	ConversationID string
	MessageID      string
	SenderID       string
	Preview        string
	// Recipients excludes the sender and muted members.
	Recipients []string
}

type Handler interface {
	Handle(ctx context.Context, ev Event)
}

type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Queue runs post-send work on a fixed worker pool. Enqueue never blocks.
type Queue struct {
	events  chan Event
	handler Handler
	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewQueue(handler Handler, workers, size int) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		events:  make(chan Event, size),
		handler: handler,
		workers: workers,
	}
}

// Start launches the workers. They run until Close has drained the queue;
// ctx is handed to every handler, so cancelling it aborts in-flight work
// without stopping the workers.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for ev := range q.events {
		q.run(ctx, ev)
	}
}

func (q *Queue) run(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("conversationId", ev.ConversationID).Msg("panic in post-send handler")
		}
	}()
	q.handler.Handle(ctx, ev)
}

// Enqueue reports false when the event was dropped.
func (q *Queue) Enqueue(ev Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.NotifyDropped.Inc()
		logger.Warn().Str("conversationId", ev.ConversationID).Msg("notify queue closed, dropping event")
		return false
	}

	select {
	case q.events <- ev:
		return true
	default:
		metrics.NotifyDropped.Inc()
		logger.Warn().Str("conversationId", ev.ConversationID).Msg("notify queue full, dropping event")
		return false
	}
}

// Close stops accepting events and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
