package broker

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"

	"msgstream/internal/config"
	"msgstream/internal/constants"
)

func TestKafkaHeaders_RoundTrip(t *testing.T) {
	headers := encodeKafkaHeaders("id-1", 2, map[string]string{
		"source":                  "web",
		constants.AttemptHeader:   "99",
		constants.MessageIDHeader: "spoofed",
		"traceparent":             "00-abc-def-01",
	})

	msg, attempt, _ := decodeKafkaMessage(kafka.Message{
		Topic:   "app-messages",
		Value:   []byte("payload"),
		Headers: headers,
		Time:    time.Unix(1700000000, 0),
	})

	assert.Equal(t, "id-1", msg.ID)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, map[string]string{"source": "web"}, msg.Attributes)
	assert.Equal(t, "payload", string(msg.Data))
}

func TestDecodeKafkaMessage_Fallbacks(t *testing.T) {
	msg, attempt, trace := decodeKafkaMessage(kafka.Message{
		Topic:     "app-messages",
		Partition: 3,
		Offset:    42,
		Value:     []byte("x"),
		Headers: []kafka.Header{
			{Key: constants.AttemptHeader, Value: []byte("garbage")},
			{Key: "traceparent", Value: []byte("00-abc-def-01")},
		},
	})

	assert.Equal(t, "app-messages/3/42", msg.ID)
	assert.Equal(t, 1, attempt)
	assert.False(t, msg.PublishTime.IsZero())
	assert.Equal(t, "00-abc-def-01", trace["traceparent"])
	assert.Empty(t, msg.Attributes)
}

func TestRedeliveryRoute(t *testing.T) {
	withDLQ := config.KafkaConfig{Topic: "app-messages", DLQTopic: "app-messages-dlq", MaxDeliveries: 3}
	withoutDLQ := config.KafkaConfig{Topic: "app-messages", MaxDeliveries: 3}

	tests := []struct {
		name      string
		cfg       config.KafkaConfig
		attempt   int
		wantTopic string
		wantRoute route
	}{
		{"first failure retries", withDLQ, 1, "app-messages", routeRetry},
		{"below max retries", withDLQ, 2, "app-messages", routeRetry},
		{"max reached goes to dlq", withDLQ, 3, "app-messages-dlq", routeDLQ},
		{"max reached without dlq drops", withoutDLQ, 3, "", routeDrop},
		{"zero max never retries", config.KafkaConfig{Topic: "t"}, 1, "", routeDrop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, r := redeliveryRoute(tt.cfg, tt.attempt)
			assert.Equal(t, tt.wantTopic, topic)
			assert.Equal(t, tt.wantRoute, r)
		})
	}
}

func kafkaAt(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "app-messages", Partition: partition, Offset: offset}
}

func offsetsOf(msgs []kafka.Message) map[int]int64 {
	out := make(map[int]int64, len(msgs))
	for _, m := range msgs {
		out[m.Partition] = m.Offset
	}
	return out
}

func TestOffsetWatermark_HoldsCommitBehindUnsettledOffset(t *testing.T) {
	w := newOffsetWatermark()
	w.track(kafkaAt(0, 4))
	w.track(kafkaAt(0, 5))
	w.track(kafkaAt(0, 6))

	// 5 finishes while 4 is still in flight
	assert.Empty(t, w.settle(kafkaAt(0, 5)))
	assert.Equal(t, 3, w.inflight())

	assert.Equal(t, map[int]int64{0: 5}, offsetsOf(w.settle(kafkaAt(0, 4))))
	assert.Equal(t, 1, w.inflight())

	assert.Equal(t, map[int]int64{0: 6}, offsetsOf(w.settle(kafkaAt(0, 6))))
	assert.Zero(t, w.inflight())
}

func TestOffsetWatermark_PartitionsAreIndependent(t *testing.T) {
	w := newOffsetWatermark()
	w.track(kafkaAt(0, 10))
	w.track(kafkaAt(1, 20))
	w.track(kafkaAt(1, 21))
	w.track(kafkaAt(0, 11))

	got := offsetsOf(w.settle(kafkaAt(1, 20), kafkaAt(0, 11)))
	assert.Equal(t, map[int]int64{1: 20}, got)

	got = offsetsOf(w.settle(kafkaAt(0, 10), kafkaAt(1, 21)))
	assert.Equal(t, map[int]int64{0: 11, 1: 21}, got)
	assert.Zero(t, w.inflight())
}

func TestOffsetWatermark_IgnoresUntrackedAndRepeatedSettles(t *testing.T) {
	w := newOffsetWatermark()
	w.track(kafkaAt(0, 1))

	assert.Empty(t, w.settle(kafkaAt(0, 99)))
	assert.Len(t, w.settle(kafkaAt(0, 1)), 1)
	assert.Empty(t, w.settle(kafkaAt(0, 1)))
}

func TestDecodeKafkaMessage_RedeliveredFromAttempt(t *testing.T) {
	first, _, _ := decodeKafkaMessage(kafka.Message{Headers: encodeKafkaHeaders("id", 1, nil)})
	assert.False(t, first.Redelivered)

	retried, _, _ := decodeKafkaMessage(kafka.Message{Headers: encodeKafkaHeaders("id", 2, nil)})
	assert.True(t, retried.Redelivered)
}
