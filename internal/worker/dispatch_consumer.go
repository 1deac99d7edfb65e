package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
	"github.com/jwalitptl/notification-dispatcher/internal/service/notifier"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
	"github.com/jwalitptl/notification-dispatcher/pkg/messaging"
	"github.com/jwalitptl/notification-dispatcher/pkg/metrics"
)

// DispatchJob is one notification/channel pair handed over by the caller.
type DispatchJob struct {
	JobID string              `json:"job_id"`
	Input model.DispatchInput `json:"input"`
}

// HistoryRecord is published for the history layer after every job.
type HistoryRecord struct {
	JobID    string                 `json:"job_id"`
	Response *model.ChannelResponse `json:"response"`
}

type NotifierLookup interface {
	Get(channel model.ChannelType) (notifier.ChannelNotifier, bool)
}

type DispatchConsumerConfig struct {
	DispatchTopic string
	HistoryTopic  string
}

type DispatchConsumer struct {
	broker    messaging.Broker
	notifiers NotifierLookup
	config    DispatchConsumerConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewDispatchConsumer(
	broker messaging.Broker,
	notifiers NotifierLookup,
	config DispatchConsumerConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *DispatchConsumer {
	if config.DispatchTopic == "" || config.HistoryTopic == "" {
		panic("DispatchTopic and HistoryTopic must be set")
	}

	return &DispatchConsumer{
		broker:    broker,
		notifiers: notifiers,
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

// Start consumes jobs until ctx is cancelled or the subscription closes.
// Cancelling ctx stops intake only; a job already taken runs to completion
// and its history record is still published.
func (c *DispatchConsumer) Start(ctx context.Context) error {
	msgs, err := c.broker.Subscribe(ctx, c.config.DispatchTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.config.DispatchTopic, err)
	}

	c.logger.Info("Starting dispatch consumer", "topic", c.config.DispatchTopic)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Shutting down dispatch consumer")
			return nil
		case raw, ok := <-msgs:
			if !ok {
				c.logger.Warn("Dispatch subscription closed")
				return nil
			}
			c.handle(context.WithoutCancel(ctx), raw)
		}
	}
}

func (c *DispatchConsumer) handle(ctx context.Context, raw []byte) {
	var job DispatchJob
	if err := json.Unmarshal(raw, &job); err != nil {
		c.metrics.JobsConsumed.WithLabelValues("invalid").Inc()
		c.logger.Error(err, "Discarding malformed dispatch job")
		return
	}
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	resp := c.dispatch(ctx, &job)
	c.metrics.JobsConsumed.WithLabelValues(string(resp.Status)).Inc()

	record := HistoryRecord{JobID: job.JobID, Response: resp}
	if err := c.broker.Publish(ctx, c.config.HistoryTopic, record); err != nil {
		c.metrics.JobsConsumed.WithLabelValues("publish_error").Inc()
		c.logger.Error(err, "Failed to publish dispatch history",
			"job_id", job.JobID,
			"user_id", job.Input.Identity.UserID,
			"status", string(resp.Status))
	}
}

func (c *DispatchConsumer) dispatch(ctx context.Context, job *DispatchJob) *model.ChannelResponse {
	channel := job.Input.Config.Channel
	n, ok := c.notifiers.Get(channel)
	if !ok {
		c.logger.Warn("No notifier for channel", "job_id", job.JobID, "channel", string(channel))
		return &model.ChannelResponse{
			Channel:        channel,
			DeliveryStatus: map[string]model.DeliveryStatus{},
			Status:         model.StatusFailure,
			Template:       job.Input.Message,
			Identity:       job.Input.Identity,
			Error:          fmt.Sprintf("no notifier registered for channel %q", channel),
			CreatedAt:      time.Now().UTC(),
		}
	}
	return n.Dispatch(ctx, &job.Input)
}
