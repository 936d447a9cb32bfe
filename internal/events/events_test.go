package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_KeysByImport(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w)
	conf := 93
	ev := Event{
		Type:             MovementSuggested,
		ImportID:         "imp-1",
		MovementID:       "mov-1",
		LedgerMovementID: "42",
		Confidence:       &conf,
		OccurredAt:       time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "imp-1", string(w.msgs[0].Key))
	assert.Equal(t, "movement.suggested", string(w.msgs[0].Headers[0].Value))

	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, ev, got)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

type countingPublisher struct {
	n   int
	err error
}

func (c *countingPublisher) Publish(context.Context, Event) error {
	c.n++
	return c.err
}

func (c *countingPublisher) Close() error { return nil }

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &countingPublisher{}
	b := &countingPublisher{err: boom}
	c := &countingPublisher{}

	err := Multi{a, b, c}.Publish(context.Background(), Event{Type: ImportCreated})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
	assert.Equal(t, 1, c.n)

	assert.NoError(t, Multi{a}.Publish(context.Background(), Event{}))
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
