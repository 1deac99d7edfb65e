package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
	"github.com/jwalitptl/notification-dispatcher/internal/service/notifier"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
	"github.com/jwalitptl/notification-dispatcher/pkg/metrics"
)

type published struct {
	channel string
	message interface{}
	ctxErr  error
}

type fakeBroker struct {
	mu         sync.Mutex
	in         chan []byte
	published  []published
	publishErr error
	subErr     error
	notify     chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{in: make(chan []byte, 10), notify: make(chan struct{}, 10)}
}

func (b *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{channel: channel, message: message, ctxErr: ctx.Err()})
	b.notify <- struct{}{}
	return b.publishErr
}

func (b *fakeBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	if b.subErr != nil {
		return nil, b.subErr
	}
	return b.in, nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) last() published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[len(b.published)-1]
}

type stubNotifier struct {
	channel model.ChannelType
	calls   int
}

func (s *stubNotifier) Channel() model.ChannelType           { return s.channel }
func (s *stubNotifier) SetupChannel(context.Context) error   { return nil }
func (s *stubNotifier) DestroyChannel(context.Context) error { return nil }
func (s *stubNotifier) Dispatch(_ context.Context, in *model.DispatchInput) *model.ChannelResponse {
	s.calls++
	return &model.ChannelResponse{Channel: s.channel, Status: model.StatusSuccess, Identity: in.Identity}
}

func newConsumer(b *fakeBroker, notifiers ...notifier.ChannelNotifier) *DispatchConsumer {
	return NewDispatchConsumer(b, notifier.NewRegistry(notifiers...), DispatchConsumerConfig{
		DispatchTopic: "notifications.dispatch",
		HistoryTopic:  "notifications.history",
	}, logger.Nop(), metrics.NewNop())
}

func jobBytes(t *testing.T, job DispatchJob) []byte {
	raw, err := json.Marshal(job)
	require.NoError(t, err)
	return raw
}

func waitPublish(t *testing.T, b *fakeBroker) {
	t.Helper()
	select {
	case <-b.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for history publish")
	}
}

func TestDispatchConsumer_PublishesHistory(t *testing.T) {
	b := newFakeBroker()
	sms := &stubNotifier{channel: model.ChannelSMS}
	c := newConsumer(b, sms)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	b.in <- jobBytes(t, DispatchJob{
		JobID: "job-1",
		Input: model.DispatchInput{
			Identity: model.Identity{UserID: "U1"},
			Config:   model.NotificationConfig{Enabled: true, Channel: model.ChannelSMS, Addresses: []string{"+15550001"}},
		},
	})
	waitPublish(t, b)

	got := b.last()
	assert.Equal(t, "notifications.history", got.channel)
	record, ok := got.message.(HistoryRecord)
	require.True(t, ok)
	assert.Equal(t, "job-1", record.JobID)
	assert.Equal(t, model.StatusSuccess, record.Response.Status)
	assert.Equal(t, 1, sms.calls)

	cancel()
	assert.NoError(t, <-done)
}

func TestDispatchConsumer_UnknownChannel(t *testing.T) {
	b := newFakeBroker()
	c := newConsumer(b)

	c.handle(context.Background(), jobBytes(t, DispatchJob{
		Input: model.DispatchInput{Config: model.NotificationConfig{Channel: model.ChannelAPNS}},
	}))
	waitPublish(t, b)

	record := b.last().message.(HistoryRecord)
	assert.NotEmpty(t, record.JobID)
	assert.Equal(t, model.StatusFailure, record.Response.Status)
}

func TestDispatchConsumer_MalformedJobIsDropped(t *testing.T) {
	b := newFakeBroker()
	c := newConsumer(b, &stubNotifier{channel: model.ChannelSMS})

	c.handle(context.Background(), []byte("{not json"))
	assert.Empty(t, b.published)
}

func TestDispatchConsumer_PublishErrorDoesNotStop(t *testing.T) {
	b := newFakeBroker()
	b.publishErr = errors.New("circuit breaker is open")
	sms := &stubNotifier{channel: model.ChannelSMS}
	c := newConsumer(b, sms)

	raw := jobBytes(t, DispatchJob{Input: model.DispatchInput{Config: model.NotificationConfig{Channel: model.ChannelSMS}}})
	c.handle(context.Background(), raw)
	c.handle(context.Background(), raw)
	assert.Equal(t, 2, sms.calls)
}

func TestDispatchConsumer_SubscribeError(t *testing.T) {
	b := newFakeBroker()
	b.subErr = errors.New("redis down")
	assert.Error(t, newConsumer(b).Start(context.Background()))
}

// blockingNotifier holds Dispatch until release is closed and records
// whether its context was cancelled meanwhile.
type blockingNotifier struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (b *blockingNotifier) Channel() model.ChannelType           { return model.ChannelGCM }
func (b *blockingNotifier) SetupChannel(context.Context) error   { return nil }
func (b *blockingNotifier) DestroyChannel(context.Context) error { return nil }
func (b *blockingNotifier) Dispatch(ctx context.Context, in *model.DispatchInput) *model.ChannelResponse {
	close(b.started)
	<-b.release
	b.ctxErr = ctx.Err()
	status := model.StatusSuccess
	if b.ctxErr != nil {
		status = model.StatusFailure
	}
	return &model.ChannelResponse{Channel: model.ChannelGCM, Status: status, Identity: in.Identity}
}

func TestDispatchConsumer_ShutdownLetsInFlightJobFinish(t *testing.T) {
	b := newFakeBroker()
	push := &blockingNotifier{started: make(chan struct{}), release: make(chan struct{})}
	c := newConsumer(b, push)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	b.in <- jobBytes(t, DispatchJob{
		JobID: "job-inflight",
		Input: model.DispatchInput{Config: model.NotificationConfig{Enabled: true, Channel: model.ChannelGCM}},
	})

	select {
	case <-push.started:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch never started")
	}
	cancel()
	close(push.release)
	waitPublish(t, b)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}

	assert.NoError(t, push.ctxErr)
	last := b.last()
	assert.NoError(t, last.ctxErr)
	record := last.message.(HistoryRecord)
	assert.Equal(t, "job-inflight", record.JobID)
	assert.Equal(t, model.StatusSuccess, record.Response.Status)
}
