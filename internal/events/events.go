// Package events pushes import lifecycle notifications to a message queue.
// The HTTP API's poll endpoints remain the contract; this channel is an
// optional enhancement for consumers that prefer push over refetch.
package events

import (
	"context"
	"time"
)

// EventType identifies what happened to a job.
type EventType string

const (
	EventJobStatus      EventType = "job_status"
	EventBatchCompleted EventType = "batch_completed"
)

// Event is one import lifecycle notification.
type Event struct {
	Type       EventType `json:"type"`
	JobID      uint      `json:"job_id"`
	Status     string    `json:"status"`
	BatchIndex *int      `json:"batch_index,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher discards all events. Used when the push channel is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, ev Event) error { return nil }
func (NopPublisher) Close() error                                { return nil }
