package publishing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgstream/internal/broker"
	"msgstream/internal/config"
	"msgstream/internal/constants"
	"msgstream/internal/logger"
	"msgstream/internal/messages"
	"msgstream/internal/moderation"
	apperrors "msgstream/pkg/errors"
)

type stubStore struct {
	calls []messages.NewMessage
	err   error
	seen  map[string]bool
}

func (s *stubStore) Upsert(ctx context.Context, msg messages.NewMessage) (messages.UpsertResult, error) {
	if s.err != nil {
		return messages.UpsertResult{}, s.err
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	s.calls = append(s.calls, msg)
	res := messages.UpsertResult{ID: int64(len(s.calls)), DeliveryCount: 1}
	if msg.ClientMessageID != nil {
		res.IsDuplicate = s.seen[*msg.ClientMessageID]
		s.seen[*msg.ClientMessageID] = true
	}
	return res, nil
}

func (s *stubStore) Query(ctx context.Context, filter messages.Filter, page, pageSize int) (messages.Page, error) {
	return messages.Page{}, nil
}

type failingPublisher struct {
	err error
}

func (p failingPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	return "", p.err
}

type blockingPublisher struct{}

func (blockingPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func publishConfig(persist bool) config.PublishConfig {
	return config.PublishConfig{
		IDAttributes:     []string{"messageId", "message_id"},
		SourceAttributes: []string{"source"},
		PersistOnPublish: persist,
	}
}

func newService(pub broker.Publisher, store messages.Store, persist bool) *Service {
	return NewService(pub, store, moderation.NewNormalizer(moderation.Options{}), publishConfig(persist), time.Second, logger.NopLogger())
}

func receiveOne(t *testing.T, bus *broker.MemoryBus) *broker.Delivery {
	t.Helper()
	sub, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	got, err := sub.Receive(context.Background(), 1, time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0]
}

func TestPublish_PersistsAndStampsAttribute(t *testing.T) {
	bus := broker.NewMemoryBus(4)
	store := &stubStore{}
	svc := newService(bus, store, true)

	res, err := svc.Publish(context.Background(), PublishRequest{
		Text:       "  what the fuck  ",
		Attributes: map[string]string{"messageId": "X", "source": "web"},
	})
	require.NoError(t, err)

	assert.True(t, res.Flagged)
	assert.Equal(t, "what the ****", res.Data)
	assert.NotEmpty(t, res.BusMessageID)
	require.NotNil(t, res.ClientMessageID)
	assert.Equal(t, "X", *res.ClientMessageID)
	require.NotNil(t, res.RowID)
	assert.False(t, res.IsDuplicate)

	require.Len(t, store.calls, 1)
	assert.Equal(t, res.BusMessageID, store.calls[0].BusMessageID)
	assert.Equal(t, "web", store.calls[0].Source)
	assert.NotContains(t, store.calls[0].Attributes, constants.PersistedAttribute)

	d := receiveOne(t, bus)
	assert.Equal(t, "what the ****", string(d.Data))
	assert.Equal(t, "true", d.Attributes[constants.PersistedAttribute])
	assert.Equal(t, res.BusMessageID, d.ID)
}

func TestPublish_SecondPublishIsDuplicate(t *testing.T) {
	svc := newService(broker.NewMemoryBus(4), &stubStore{}, true)
	req := PublishRequest{Text: "hello", Attributes: map[string]string{"message_id": "X"}}

	first, err := svc.Publish(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Publish(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, first.IsDuplicate)
	assert.True(t, second.IsDuplicate)
}

func TestPublish_WithoutPersistence(t *testing.T) {
	bus := broker.NewMemoryBus(4)
	store := &stubStore{}
	svc := newService(bus, store, false)

	res, err := svc.Publish(context.Background(), PublishRequest{Text: "hi", Attributes: map[string]string{
		constants.PersistedAttribute: "spoofed",
	}})
	require.NoError(t, err)
	assert.Nil(t, res.RowID)
	assert.Empty(t, store.calls)

	d := receiveOne(t, bus)
	assert.NotContains(t, d.Attributes, constants.PersistedAttribute)
}

func TestPublish_Validation(t *testing.T) {
	svc := newService(broker.NewMemoryBus(4), &stubStore{}, true)

	tests := []struct {
		name string
		req  PublishRequest
	}{
		{"empty", PublishRequest{Text: ""}},
		{"whitespace", PublishRequest{Text: " \t\n "}},
		{"empty attribute key", PublishRequest{Text: "hi", Attributes: map[string]string{"": "v"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Publish(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestPublish_BusFailure(t *testing.T) {
	store := &stubStore{}
	svc := newService(failingPublisher{err: errors.New("broker down")}, store, true)

	_, err := svc.Publish(context.Background(), PublishRequest{Text: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.IsBus(err))
	assert.Empty(t, store.calls)
}

func TestPublish_BusTimeout(t *testing.T) {
	svc := NewService(blockingPublisher{}, &stubStore{}, moderation.NewNormalizer(moderation.Options{}),
		publishConfig(true), 20*time.Millisecond, logger.NopLogger())

	_, err := svc.Publish(context.Background(), PublishRequest{Text: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.IsBus(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublish_PartialFailureCarriesBusID(t *testing.T) {
	svc := newService(broker.NewMemoryBus(4), &stubStore{err: apperrors.ErrStorage.WithCause(errors.New("db down"))}, true)

	res, err := svc.Publish(context.Background(), PublishRequest{Text: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.IsPartialFailure(err))
	assert.NotEmpty(t, res.BusMessageID)

	body := apperrors.ToErrorResponse(err)
	assert.Equal(t, "PARTIAL_FAILURE", body["error_code"])
	assert.Equal(t, res.BusMessageID, body["details"].(map[string]interface{})["pubsubMessageId"])
}
