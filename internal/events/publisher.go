// Package events publishes job outcomes to NSQ for the notification and
// reporting services.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"maxxit/apps/worker/internal/middleware"
)

// Producer is satisfied by *nsq.Producer.
type Producer interface {
	Publish(topic string, body []byte) error
}

type Outcome struct {
	Kind          string    `json:"kind"`
	JobID         string    `json:"jobId"`
	Action        string    `json:"action"`
	Reason        string    `json:"reason,omitempty"`
	Category      string    `json:"category,omitempty"`
	Venue         string    `json:"venue,omitempty"`
	Partial       bool      `json:"partial,omitempty"`
	TxHash        string    `json:"txHash,omitempty"`
	WorkerID      string    `json:"workerId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	At            time.Time `json:"at"`
}

type Publisher struct {
	producer Producer
	now      func() time.Time
}

// NewPublisher wraps producer. A nil producer gives a publisher that drops
// every event.
func NewPublisher(producer Producer) *Publisher {
	return &Publisher{producer: producer, now: time.Now}
}

func Noop() *Publisher {
	return NewPublisher(nil)
}

// Emit publishes o on topic. Failures are logged and never returned: a lost
// event must not change the job's outcome.
func (p *Publisher) Emit(ctx context.Context, topic string, o Outcome) {
	if p == nil || p.producer == nil {
		return
	}
	if o.At.IsZero() {
		o.At = p.now().UTC()
	}
	if o.WorkerID == "" {
		o.WorkerID = middleware.GetWorkerID(ctx)
	}
	if o.CorrelationID == "" {
		o.CorrelationID = middleware.GetCorrelationID(ctx)
	}

	body, err := json.Marshal(o)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal outcome event", "error", err)
		return
	}
	if err := p.producer.Publish(topic, body); err != nil {
		slog.WarnContext(ctx, "failed to publish outcome event", "topic", topic, "job_id", o.JobID, "error", err)
	}
}
