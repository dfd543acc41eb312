package consumer

import (
	"context"
	"time"

	"msgstream/internal/broker"
	"msgstream/internal/constants"
	"msgstream/internal/feed"
	"msgstream/internal/logger"
	"msgstream/internal/messages"
	"msgstream/internal/moderation"
	"msgstream/pkg/logging"
	"msgstream/pkg/metrics"
)

// Processor applies one received message: clean the text, record it in the
// store and append it to the live feed.
type Processor struct {
	store      messages.Store
	buffer     *feed.RecentBuffer
	normalizer *moderation.Normalizer
	extractor  *messages.IdentityExtractor
	logger     logger.Logger
}

func NewProcessor(
	store messages.Store,
	buffer *feed.RecentBuffer,
	normalizer *moderation.Normalizer,
	extractor *messages.IdentityExtractor,
	log logger.Logger,
) *Processor {
	return &Processor{
		store:      store,
		buffer:     buffer,
		normalizer: normalizer,
		extractor:  extractor,
		logger:     log,
	}
}

// Apply records msg. A first delivery stamped with the persisted attribute
// was already written by the publish path and only reaches the feed; a bus
// redelivery of it is recorded like any other arrival.
func (p *Processor) Apply(ctx context.Context, msg broker.Message) error {
	start := time.Now()
	ctx = logging.WithBusMessageID(ctx, msg.ID)

	text, flagged := p.normalizer.Clean(string(msg.Data))

	attrs := make(map[string]string, len(msg.Attributes))
	persisted := false
	for k, v := range msg.Attributes {
		if k == constants.PersistedAttribute {
			persisted = true
			continue
		}
		attrs[k] = v
	}

	if !persisted || msg.Redelivered {
		clientID, source := p.extractor.Extract(attrs)
		if clientID != nil {
			ctx = logging.WithClientMessageID(ctx, *clientID)
		}

		res, err := p.store.Upsert(ctx, messages.NewMessage{
			ClientMessageID: clientID,
			BusMessageID:    msg.ID,
			Payload:         text,
			Source:          source,
			Attributes:      attrs,
		})
		if err != nil {
			metrics.ObserveIngestDuration(time.Since(start), "error")
			return err
		}

		if res.IsDuplicate {
			p.logger.InfowCtx(ctx, "Duplicate message recorded",
				"row_id", res.ID,
				"delivery_count", res.DeliveryCount,
			)
		}
	}

	evicted := p.buffer.Append(feed.Entry{
		Data:        text,
		Attributes:  attrs,
		MessageID:   msg.ID,
		PublishTime: msg.PublishTime,
	})
	metrics.SetFeedSize(p.buffer.Len(), evicted)

	p.logger.DebugwCtx(ctx, "Message applied",
		"flagged", flagged,
		"persisted_by_publisher", persisted,
		"redelivered", msg.Redelivered,
	)
	metrics.ObserveIngestDuration(time.Since(start), "success")
	return nil
}
