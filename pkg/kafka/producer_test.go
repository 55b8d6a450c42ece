package kafka

import (
	"context"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	key     []byte
	value   []byte
	headers map[string]string
	err     error
}

func (c *capturePublisher) Publish(_ context.Context, key, value []byte, headers map[string]string) error {
	c.key, c.value, c.headers = key, value, headers
	return c.err
}

func (c *capturePublisher) Close(context.Context) error { return nil }

func TestPublishJSON(t *testing.T) {
	p := &capturePublisher{}
	err := PublishJSON(context.Background(), p, "media.accepted", "m-1", map[string]string{"status": "processing"})
	require.NoError(t, err)

	assert.Equal(t, []byte("m-1"), p.key)
	assert.JSONEq(t, `{"status":"processing"}`, string(p.value))
	assert.Equal(t, "media.accepted", p.headers["event_type"])
}

func TestPublishJSONErrors(t *testing.T) {
	p := &capturePublisher{err: errors.New("broker down")}
	err := PublishJSON(context.Background(), p, "media.rejected", "m-2", struct{}{})
	assert.ErrorContains(t, err, "publish media.rejected")

	err = PublishJSON(context.Background(), p, "media.rejected", "m-2", make(chan int))
	assert.ErrorContains(t, err, "marshal media.rejected")
}

func TestMessageCarriesHeaders(t *testing.T) {
	msg := Message([]byte("k"), []byte("v"), map[string]string{"event_type": "media.accepted"})
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("media.accepted"), msg.Headers[0].Value)
	assert.False(t, msg.Time.IsZero())
}

func TestCompressionFromString(t *testing.T) {
	assert.Equal(t, kafkago.Zstd, CompressionFromString("ZSTD"))
	assert.Equal(t, kafkago.Gzip, CompressionFromString("gzip"))
	assert.Equal(t, kafkago.Snappy, CompressionFromString("bogus"))
}
