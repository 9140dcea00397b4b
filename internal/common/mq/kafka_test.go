package mq

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToKafkaMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &Message{ID: "m-1", Key: "test1", Body: []byte(`{"to":"ops"}`), Timestamp: ts}
	msg.SetHeader("event", "challenge.completed")

	km := toKafkaMessage("roulette.notifications", msg)

	assert.Equal(t, "roulette.notifications", km.Topic)
	assert.Equal(t, []byte("test1"), km.Key, "explicit key wins over id")
	assert.Equal(t, ts, km.Time)
	headers := map[string]string{}
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "challenge.completed", headers["event"])
	assert.Equal(t, "m-1", headers[headerID])
	assert.Equal(t, ts.Format(time.RFC3339Nano), headers[headerTimestamp])
}

func TestToKafkaMessage_DefaultsKeyAndTimestamp(t *testing.T) {
	msg := NewMessage([]byte("x"))
	msg.Timestamp = time.Time{}

	km := toKafkaMessage("t", msg)
	assert.Equal(t, []byte(msg.ID), km.Key)
	assert.False(t, km.Time.IsZero())
}

func TestNewKafkaProducer_Config(t *testing.T) {
	_, err := NewKafkaProducer(KafkaConfig{})
	assert.Error(t, err)

	_, err = NewKafkaProducer(KafkaConfig{Brokers: []string{"localhost:9092"}, Compression: "brotli"})
	assert.Error(t, err)

	p, err := NewKafkaProducer(KafkaConfig{Brokers: []string{"localhost:9092"}, Compression: "snappy"})
	require.NoError(t, err)
	assert.Equal(t, kafka.RequireOne, p.writer.RequiredAcks)
	assert.Equal(t, 100, p.writer.BatchSize)
	assert.NoError(t, p.Close())
}
