package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/techTenzen/Cricket/internal/metrics"
)

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
	publishTimeout   = 5 * time.Second
)

// Poller moves pending events from the store to the publisher. Delivery is
// at least once: an event published but not marked is sent again.
type Poller struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewPoller(store Store, publisher Publisher, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: defaultBatchSize,
		metrics:   m,
		logger:    logger.With("component", "outbox"),
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.InfoContext(ctx, "outbox poller started", "interval", p.interval)
	for {
		select {
		case <-ticker.C:
			p.processPending(ctx)
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "outbox poller stopped")
			return nil
		}
	}
}

// processPending publishes one batch and returns how many events were marked
// sent. A failed publish or mark ends the batch so events of one order keep
// their order on the topic.
func (p *Poller) processPending(ctx context.Context) int {
	events, err := p.store.PendingEvents(ctx, p.batchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "fetch pending events failed", "error", err)
		return 0
	}

	sent := 0
	for _, event := range events {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := p.publisher.Publish(pubCtx, event)
		cancel()
		if err != nil {
			p.metrics.OutboxResult("error")
			p.logger.WarnContext(ctx, "publish event failed",
				"event_id", event.EventID, "event_type", event.EventType, "error", err)
			return sent
		}
		p.metrics.OutboxResult("published")

		if err := p.store.MarkEventSent(ctx, event.ID); err != nil {
			p.logger.ErrorContext(ctx, "mark event sent failed", "id", event.ID, "error", err)
			return sent
		}
		sent++
	}
	return sent
}
