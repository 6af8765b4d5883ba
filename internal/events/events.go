// Package events publishes alert lifecycle notifications for downstream
// consumers such as a price evaluator.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeAlertCreated = "alert.created"
	TypeAlertDeleted = "alert.deleted"
)

// AlertEvent is the message body of a lifecycle event.
type AlertEvent struct {
	Type        string    `json:"type"`
	AlertID     int64     `json:"alert_id"`
	OwnerID     string    `json:"owner_id"`
	TargetPrice float64   `json:"target_price,omitempty"`
	Status      string    `json:"status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher sends lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event AlertEvent) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, AlertEvent) error { return nil }
