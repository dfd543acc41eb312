package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgstream/internal/broker"
	"msgstream/internal/config"
	"msgstream/internal/constants"
	"msgstream/internal/consumer"
	"msgstream/internal/feed"
	"msgstream/internal/logger"
	"msgstream/internal/messages"
	"msgstream/internal/moderation"
	"msgstream/internal/publishing"
	"msgstream/internal/testinfra"
	"msgstream/pkg/health"
)

const messageWaitTimeout = 10 * time.Second

type pipeline struct {
	router   *gin.Engine
	consumer *consumer.Consumer
}

func startPipeline(t *testing.T, strategy string) *pipeline {
	t.Helper()
	return startPipelineWith(t, strategy, false, nil)
}

// startPipelineWith lets wrap stand between the bus and the consumer.
func startPipelineWith(t *testing.T, strategy string, persist bool, wrap func(broker.Subscriber) broker.Subscriber) *pipeline {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testinfra.Postgres(t)
	store := messages.NewPostgresStore(db, 5*time.Second)
	bus := broker.NewMemoryBus(64)
	t.Cleanup(func() { bus.Close() })

	buffer := feed.NewRecentBuffer(50)
	normalizer := moderation.NewNormalizer(moderation.Options{})
	pubCfg := config.PublishConfig{
		IDAttributes:     []string{"messageId"},
		SourceAttributes: []string{"source"},
		PersistOnPublish: persist,
	}
	extractor := messages.NewIdentityExtractor(pubCfg.IDAttributes, pubCfg.SourceAttributes)

	log := logger.NopLogger()
	publisher := publishing.NewService(bus, store, normalizer, pubCfg, time.Second, log)
	proc := consumer.NewProcessor(store, buffer, normalizer, extractor, log)
	var sub broker.Subscriber = bus
	if wrap != nil {
		sub = wrap(bus)
	}
	c := consumer.New(sub, proc, config.ConsumerConfig{
		Enabled:        true,
		Strategy:       strategy,
		Workers:        2,
		QueueSize:      16,
		MaxBatch:       10,
		ReceiveTimeout: 50 * time.Millisecond,
		EmptyBackoff:   10 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	registry := health.NewCheckerRegistry()
	registry.Register(health.NewPostgreSQLChecker(db))
	registry.Register(consumer.NewHealthChecker(c))

	router := gin.New()
	NewHandler(publisher, store, buffer, nil, registry, log).RegisterRoutes(router)
	return &pipeline{router: router, consumer: c}
}

func (p *pipeline) request(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	p.router.ServeHTTP(w, req)
	return w
}

// tryQuery is safe to call from assert.Eventually conditions.
func (p *pipeline) tryQuery(t *testing.T, target string) (messages.Page, bool) {
	w := p.request(t, http.MethodGet, target, "")
	var page messages.Page
	if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &page) != nil {
		return page, false
	}
	return page, true
}

func (p *pipeline) query(t *testing.T, target string) messages.Page {
	t.Helper()
	page, ok := p.tryQuery(t, target)
	require.True(t, ok, "query %s failed", target)
	return page
}

func TestPipelineEndToEnd(t *testing.T) {
	for _, strategy := range []string{constants.StrategyPush, constants.StrategyPoll} {
		t.Run(strategy, func(t *testing.T) {
			p := startPipeline(t, strategy)

			body := `{"data":"what the  hell","attributes":{"messageId":"e2e-1","source":"ui"}}`
			w := p.request(t, http.MethodPost, "/publish", body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var resp PublishResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.True(t, resp.Flagged)
			assert.Equal(t, "what the ****", resp.Data)
			assert.Nil(t, resp.RowID)

			require.Eventually(t, func() bool {
				page, ok := p.tryQuery(t, "/api/messages?messageId=e2e-1")
				return ok && page.Total == 1
			}, messageWaitTimeout, 50*time.Millisecond)

			// same client id again: one row, flagged duplicate
			w = p.request(t, http.MethodPost, "/publish", body)
			require.Equal(t, http.StatusOK, w.Code)

			require.Eventually(t, func() bool {
				page, ok := p.tryQuery(t, "/api/messages?messageId=e2e-1")
				return ok && len(page.Items) == 1 && page.Items[0].DeliveryCount == 2
			}, messageWaitTimeout, 50*time.Millisecond)

			page := p.query(t, "/api/messages?messageId=e2e-1")
			require.Len(t, page.Items, 1)
			assert.True(t, page.Items[0].IsDuplicate)
			assert.Equal(t, "what the ****", page.Items[0].Payload)
			require.NotNil(t, page.Items[0].Source)
			assert.Equal(t, "ui", *page.Items[0].Source)

			assert.Zero(t, p.query(t, "/api/messages?is_duplicate=false").Total)

			assert.Eventually(t, func() bool {
				w := p.request(t, http.MethodGet, "/messages", "")
				var entries []feed.Entry
				return json.Unmarshal(w.Body.Bytes(), &entries) == nil && len(entries) == 2
			}, messageWaitTimeout, 50*time.Millisecond)

			w = p.request(t, http.MethodGet, "/health", "")
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

// nackFirstDelivery hands every first delivery back to the bus unprocessed,
// as a consumer that crashed before acking would.
type nackFirstDelivery struct {
	broker.Subscriber
}

func (n nackFirstDelivery) Subscribe(ctx context.Context) (broker.Subscription, error) {
	sub, err := n.Subscriber.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return nackFirstSubscription{Subscription: sub}, nil
}

type nackFirstSubscription struct {
	broker.Subscription
}

func (s nackFirstSubscription) Stream(ctx context.Context, handler broker.Handler) error {
	return s.Subscription.Stream(ctx, func(ctx context.Context, d *broker.Delivery) {
		if !d.Redelivered {
			_ = d.Nack(ctx)
			return
		}
		handler(ctx, d)
	})
}

func (s nackFirstSubscription) Receive(ctx context.Context, max int, timeout time.Duration) ([]*broker.Delivery, error) {
	batch, err := s.Subscription.Receive(ctx, max, timeout)
	out := batch[:0]
	for _, d := range batch {
		if !d.Redelivered {
			_ = d.Nack(ctx)
			continue
		}
		out = append(out, d)
	}
	return out, err
}

func TestPipelineRedeliveryOfPublishedMessageIsFlagged(t *testing.T) {
	for _, strategy := range []string{constants.StrategyPush, constants.StrategyPoll} {
		t.Run(strategy, func(t *testing.T) {
			p := startPipelineWith(t, strategy, true, func(bus broker.Subscriber) broker.Subscriber {
				return nackFirstDelivery{Subscriber: bus}
			})

			body := `{"data":"hello","attributes":{"messageId":"redelivered-1"}}`
			w := p.request(t, http.MethodPost, "/publish", body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var resp PublishResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.RowID)

			require.Eventually(t, func() bool {
				page, ok := p.tryQuery(t, "/api/messages?messageId=redelivered-1")
				return ok && len(page.Items) == 1 && page.Items[0].DeliveryCount == 2
			}, messageWaitTimeout, 50*time.Millisecond)

			page := p.query(t, "/api/messages?messageId=redelivered-1")
			require.Len(t, page.Items, 1)
			assert.True(t, page.Items[0].IsDuplicate)
			assert.Equal(t, "hello", page.Items[0].Payload)
		})
	}
}
