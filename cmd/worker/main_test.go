package main

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/studytree-ai/internal/generation"
	"github.com/suPer8Hu/studytree-ai/internal/store/rabbitmq"
	"go.uber.org/zap/zaptest"
)

type ackRecorder struct {
	acked    int
	nacked   int
	requeued bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }
func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}
func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}

type fakeReplayer struct {
	verdict generation.ReplayVerdict
	err     error
	got     string
}

func (f *fakeReplayer) ReplayPublish(_ context.Context, requestID string, _ int) (generation.ReplayVerdict, error) {
	f.got = requestID
	return f.verdict, f.err
}

type fakeScheduler struct {
	ids   []string
	delay time.Duration
	err   error
}

func (f *fakeScheduler) EnqueueRetry(_ context.Context, requestID string, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, requestID)
	f.delay = delay
	return nil
}

func delivery(t *testing.T, ack *ackRecorder, requestID string) amqp.Delivery {
	t.Helper()
	msg, err := rabbitmq.NewPublishing(requestID, 0)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: msg.Body}
}

func TestHandleDelivery_Done(t *testing.T) {
	ack := &ackRecorder{}
	r := &fakeReplayer{verdict: generation.ReplayDone}
	s := &fakeScheduler{}

	handleDelivery(context.Background(), delivery(t, ack, "req-1"), r, s, 5, time.Second, zaptest.NewLogger(t))

	assert.Equal(t, "req-1", r.got)
	assert.Equal(t, 1, ack.acked)
	assert.Zero(t, ack.nacked)
	assert.Empty(t, s.ids)
}

func TestHandleDelivery_RetrySchedulesDelayedCopy(t *testing.T) {
	ack := &ackRecorder{}
	r := &fakeReplayer{verdict: generation.ReplayRetry, err: errors.New("store 503")}
	s := &fakeScheduler{}

	handleDelivery(context.Background(), delivery(t, ack, "req-1"), r, s, 5, 30*time.Second, zaptest.NewLogger(t))

	assert.Equal(t, []string{"req-1"}, s.ids)
	assert.Equal(t, 30*time.Second, s.delay)
	assert.Equal(t, 1, ack.acked)
}

func TestHandleDelivery_RetrySchedulingFailsRequeues(t *testing.T) {
	ack := &ackRecorder{}
	r := &fakeReplayer{verdict: generation.ReplayRetry, err: errors.New("store 503")}
	s := &fakeScheduler{err: errors.New("channel closed")}

	handleDelivery(context.Background(), delivery(t, ack, "req-1"), r, s, 5, time.Second, zaptest.NewLogger(t))

	assert.Zero(t, ack.acked)
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeued)
}

func TestHandleDelivery_GiveUpDeadLetters(t *testing.T) {
	ack := &ackRecorder{}
	r := &fakeReplayer{verdict: generation.ReplayGiveUp, err: errors.New("exhausted")}

	handleDelivery(context.Background(), delivery(t, ack, "req-1"), r, &fakeScheduler{}, 5, time.Second, zaptest.NewLogger(t))

	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeued)
}

func TestHandleDelivery_BadMessage(t *testing.T) {
	ack := &ackRecorder{}
	r := &fakeReplayer{}

	d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("{")}
	handleDelivery(context.Background(), d, r, &fakeScheduler{}, 5, time.Second, zaptest.NewLogger(t))

	assert.Empty(t, r.got)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeued)
}
