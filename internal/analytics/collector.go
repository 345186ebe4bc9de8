// Package analytics publishes per-query diagnostics events to Kafka. Events
// buffer in memory and flush in batches, so the search path never blocks on
// the broker.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/searchplatform/search-reduce/pkg/kafka"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
)

// Collector batches query events and flushes them to Kafka when the buffer
// fills or the flush interval elapses. A nil producer turns Emit into a
// no-op, so the service runs without a broker.
type Collector struct {
	producer *kafka.Producer
	logger   *slog.Logger

	mu     sync.Mutex
	buffer []kafka.Event

	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
}

// NewCollector creates a collector on the given producer; producer may be nil.
func NewCollector(producer *kafka.Producer) *Collector {
	return &Collector{
		producer:      producer,
		logger:        slog.Default().With("component", "analytics-collector"),
		buffer:        make([]kafka.Event, 0, defaultBatchSize),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop; it returns immediately and the
// loop stops when ctx is cancelled, after one final flush.
func (c *Collector) Start(ctx context.Context) {
	if c.producer == nil {
		close(c.done)
		return
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Emit buffers one query event. The event's query id becomes the Kafka
// partition key, so retries of one query land on the same partition.
func (c *Collector) Emit(event QueryEvent) {
	if c.producer == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: event.QueryID, Value: event})
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()
	if full {
		go c.flush(context.Background())
	}
}

// Close waits for the flush loop to finish.
func (c *Collector) Close() {
	<-c.done
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.producer.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("event batch flush failed", "batch_size", len(batch), "error", err)
		return
	}
	c.logger.Debug("event batch flushed", "batch_size", len(batch))
}
