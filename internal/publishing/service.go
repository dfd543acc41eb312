// Package publishing implements the publish-and-persist path behind
// POST /publish.
package publishing

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"msgstream/internal/broker"
	"msgstream/internal/config"
	"msgstream/internal/constants"
	"msgstream/internal/logger"
	"msgstream/internal/messages"
	"msgstream/internal/moderation"
	apperrors "msgstream/pkg/errors"
	"msgstream/pkg/logging"
	"msgstream/pkg/metrics"
	"msgstream/pkg/tracing"
)

type PublishRequest struct {
	Text       string
	Attributes map[string]string
}

// PublishResult describes what was sent and, when the row was written here,
// what the store recorded. RowID is nil when persistence is left to the
// consumer.
type PublishResult struct {
	Flagged         bool
	BusMessageID    string
	ClientMessageID *string
	RowID           *int64
	IsDuplicate     bool
	Data            string
}

type Service struct {
	bus            broker.Publisher
	store          messages.Store
	normalizer     *moderation.Normalizer
	extractor      *messages.IdentityExtractor
	persist        bool
	publishTimeout time.Duration
	logger         logger.Logger
}

func NewService(
	bus broker.Publisher,
	store messages.Store,
	normalizer *moderation.Normalizer,
	cfg config.PublishConfig,
	publishTimeout time.Duration,
	log logger.Logger,
) *Service {
	if publishTimeout <= 0 {
		publishTimeout = constants.DefaultPublishTimeout
	}
	return &Service{
		bus:            bus,
		store:          store,
		normalizer:     normalizer,
		extractor:      messages.NewIdentityExtractor(cfg.IDAttributes, cfg.SourceAttributes),
		persist:        cfg.PersistOnPublish,
		publishTimeout: publishTimeout,
		logger:         log.Named("publishing"),
	}
}

// Publish cleans the text, sends it to the bus and, when configured, records
// it. A store failure after a successful publish is a partial failure that
// still carries the bus id; it is never retried here.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		metrics.IncPublishRequest("invalid")
		return PublishResult{}, apperrors.Validationf("message text must not be empty").WithDetail("field", "data")
	}

	cleaned, flagged := s.normalizer.Clean(text)

	attrs := make(map[string]string, len(req.Attributes)+1)
	for k, v := range req.Attributes {
		if k == constants.PersistedAttribute {
			continue
		}
		attrs[k] = v
	}
	if err := messages.ValidateAttributes(attrs); err != nil {
		metrics.IncPublishRequest("invalid")
		return PublishResult{}, err
	}

	clientID, source := s.extractor.Extract(attrs)
	if clientID != nil {
		ctx = logging.WithClientMessageID(ctx, *clientID)
	}

	outgoing := attrs
	if s.persist {
		outgoing = make(map[string]string, len(attrs)+1)
		for k, v := range attrs {
			outgoing[k] = v
		}
		outgoing[constants.PersistedAttribute] = "true"
	}

	busID, err := s.publish(ctx, []byte(cleaned), outgoing)
	if err != nil {
		metrics.IncPublishRequest("bus_error")
		s.logger.ErrorwCtx(ctx, "Failed to publish message", "error", err)
		return PublishResult{}, apperrors.ErrBus.WithCause(err)
	}
	ctx = logging.WithBusMessageID(ctx, busID)

	result := PublishResult{
		Flagged:         flagged,
		BusMessageID:    busID,
		ClientMessageID: clientID,
		Data:            cleaned,
	}

	if !s.persist {
		metrics.IncPublishRequest("published")
		return result, nil
	}

	res, err := s.store.Upsert(ctx, messages.NewMessage{
		ClientMessageID: clientID,
		BusMessageID:    busID,
		Payload:         cleaned,
		Source:          source,
		Attributes:      attrs,
	})
	if err != nil {
		metrics.IncPublishRequest("partial_failure")
		s.logger.ErrorwCtx(ctx, "Message published but not recorded", "error", err)
		return result, apperrors.ErrPartialFailure.
			WithCause(err).
			WithDetail("pubsubMessageId", busID)
	}

	result.RowID = &res.ID
	result.IsDuplicate = res.IsDuplicate
	metrics.IncPublishRequest("persisted")

	s.logger.InfowCtx(ctx, "Message published",
		"row_id", res.ID,
		"is_duplicate", res.IsDuplicate,
		"flagged", flagged,
	)
	return result, nil
}

func (s *Service) publish(ctx context.Context, data []byte, attrs map[string]string) (id string, err error) {
	ctx, span := tracing.StartProducerSpan(ctx, s.busName(),
		attribute.Int("messaging.message.body.size", len(data)),
	)
	defer func() {
		span.SetAttributes(attribute.String("messaging.message.id", id))
		tracing.EndSpan(span, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	return s.bus.Publish(ctx, data, attrs)
}

func (s *Service) busName() string {
	if named, ok := s.bus.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "unknown"
}
