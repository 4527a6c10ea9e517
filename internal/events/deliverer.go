package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-reservations/internal/metrics"
)

// Deliverer polls the outbox and publishes each pending event. Delivery is at least once:
// an event whose acknowledgement fails is published again on a later pass.
type Deliverer struct {
	outbox    Outbox
	publisher Publisher
	logger    zerolog.Logger
	metrics   *metrics.OutboxMetrics
	batchSize int
	interval  time.Duration
	now       func() time.Time
}

func NewDeliverer(outbox Outbox, publisher Publisher, logger zerolog.Logger) *Deliverer {
	return &Deliverer{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger.With().Str("component", "outbox").Logger(),
		batchSize: 25,
		interval:  2 * time.Second,
		now:       time.Now,
	}
}

func (d *Deliverer) WithBatchSize(size int) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) WithMetrics(m *metrics.OutboxMetrics) *Deliverer {
	d.metrics = m
	return d
}

// Start drains on every tick until ctx is done.
func (d *Deliverer) Start(ctx context.Context) {
	if d.outbox == nil || d.publisher == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain runs one pass and returns how many events were published.
func (d *Deliverer) Drain(ctx context.Context) int {
	pending, err := d.outbox.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("outbox fetch failed")
		return 0
	}

	published := 0
	for _, ev := range pending {
		if err := d.publisher.Publish(ctx, ev); err != nil {
			d.metrics.Failed()
			d.logger.Error().Err(err).Str("event_id", ev.ID.String()).Str("type", string(ev.Type)).Msg("outbox delivery failed")
			if markErr := d.outbox.MarkFailed(ctx, ev.ID, err); markErr != nil {
				d.logger.Error().Err(markErr).Str("event_id", ev.ID.String()).Msg("failed to record outbox failure")
			}
			continue
		}
		published++
		d.metrics.Delivered(d.now().Sub(ev.OccurredAt))

		ok, err := d.outbox.MarkDelivered(ctx, ev.ID)
		switch {
		case err != nil:
			d.logger.Error().Err(err).Str("event_id", ev.ID.String()).Msg("failed to mark outbox delivered")
		case ok:
			d.logger.Debug().Str("event_id", ev.ID.String()).Str("type", string(ev.Type)).Msg("outbox delivered")
		}
	}
	return published
}
