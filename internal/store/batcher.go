package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultFlushSize and DefaultFlushInterval: flush at 1,000 items or
// every few seconds, whichever comes first.
const (
	DefaultFlushSize     = 1000
	DefaultFlushInterval = 2 * time.Second
)

// Batcher buffers Create calls for one high-volume collection
// ("events" or "logs") and flushes them in batches, so a burst of
// NodeEvents never blocks the Channel's dispatch loop on a database
// round trip. It is collection-agnostic: one Batcher instance serves
// whichever Store it is constructed with.
type Batcher struct {
	store      Store
	collection string
	flushSize  int
	flushEvery time.Duration

	items    chan Item
	shutdown chan struct{}
	done     chan struct{}
	log      zerolog.Logger
}

// NewBatcher creates a Batcher writing into collection via store.
// flushSize/flushEvery fall back to DefaultFlushSize/DefaultFlushInterval
// when <= 0.
func NewBatcher(store Store, collection string, flushSize int, flushEvery time.Duration, logger zerolog.Logger) *Batcher {
	if flushSize <= 0 {
		flushSize = DefaultFlushSize
	}
	if flushEvery <= 0 {
		flushEvery = DefaultFlushInterval
	}
	return &Batcher{
		store:      store,
		collection: collection,
		flushSize:  flushSize,
		flushEvery: flushEvery,
		items:      make(chan Item, flushSize*4),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		log:        logger.With().Str("collection", collection).Logger(),
	}
}

// Enqueue submits one item for batched persistence. Never blocks the
// caller: when the queue is full, the oldest queued item is dropped;
// durability for "events"/"logs" is best-effort.
func (b *Batcher) Enqueue(item Item) {
	select {
	case b.items <- item:
	default:
		select {
		case <-b.items:
		default:
		}
		select {
		case b.items <- item:
		default:
		}
	}
}

// Run drains the queue until ctx is cancelled or Stop is called,
// flushing at flushSize items or every flushEvery, whichever comes
// first. Call on its own goroutine.
func (b *Batcher) Run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.flushEvery)
	defer ticker.Stop()

	batch := make([]Item, 0, b.flushSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, it := range batch {
			if err := b.store.Create(ctx, b.collection, it); err != nil {
				b.log.Warn().Err(err).Msg("batcher: failed to persist item")
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-b.shutdown:
		drain:
			for {
				select {
				case it := <-b.items:
					batch = append(batch, it)
				default:
					break drain
				}
			}
			flush()
			return
		case it := <-b.items:
			batch = append(batch, it)
			if len(batch) >= b.flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Stop asserts the shutdown signal and waits for Run to flush and
// exit.
func (b *Batcher) Stop() {
	select {
	case <-b.shutdown:
	default:
		close(b.shutdown)
	}
	<-b.done
}
