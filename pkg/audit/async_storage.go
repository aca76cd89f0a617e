package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AsyncOptions tunes batching of AsyncStorage.
type AsyncOptions struct {
	BufferSize     int           // queued events before writes fall back to synchronous
	BatchSize      int           // events per StoreBatch call
	BatchTimeout   time.Duration // max wait for a partial batch
	StorageTimeout time.Duration // per batch write timeout
}

func (o AsyncOptions) withDefaults() AsyncOptions {
	if o.BufferSize <= 0 {
		o.BufferSize = 1000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 100 * time.Millisecond
	}
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = 5 * time.Second
	}
	return o
}

// AsyncStorage queues events and writes them in batches from a single
// background goroutine. Write failures are logged, never returned.
type AsyncStorage struct {
	next    Storage
	log     *slog.Logger
	opts    AsyncOptions
	events  chan Event
	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewAsyncStorage starts the batching worker. Call Close on shutdown.
func NewAsyncStorage(next Storage, log *slog.Logger, opts AsyncOptions) *AsyncStorage {
	if next == nil {
		panic("audit: storage cannot be nil")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	opts = opts.withDefaults()

	s := &AsyncStorage{
		next:   next,
		log:    log,
		opts:   opts,
		events: make(chan Event, opts.BufferSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// StoreBatch enqueues events. A full buffer degrades to a synchronous write
// so no event is dropped.
func (s *AsyncStorage) StoreBatch(ctx context.Context, events []Event) error {
	for i, e := range events {
		select {
		case <-s.done:
			return ErrStorageNotAvailable
		default:
		}
		select {
		case s.events <- e:
		default:
			return s.next.StoreBatch(ctx, events[i:])
		}
	}
	return nil
}

func (s *AsyncStorage) worker() {
	defer s.wg.Done()

	batch := make([]Event, 0, s.opts.BatchSize)
	ticker := time.NewTicker(s.opts.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// request contexts are long gone by now
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.StorageTimeout)
		defer cancel()

		if err := s.next.StoreBatch(ctx, batch); err != nil {
			s.log.Error("failed to write audit events",
				slog.Int("count", len(batch)),
				slog.Any("error", err),
			)
		}
		batch = make([]Event, 0, s.opts.BatchSize)
	}

	for {
		select {
		case e := <-s.events:
			batch = append(batch, e)
			if len(batch) >= s.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			for {
				select {
				case e := <-s.events:
					batch = append(batch, e)
					if len(batch) >= s.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops accepting events and flushes what is queued. Events still
// queued when ctx expires may be lost. Close is safe to call twice.
func (s *AsyncStorage) Close(ctx context.Context) error {
	s.stopped.Do(func() { close(s.done) })

	flushed := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(flushed)
	}()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
