// Package journal
package journal

import (
	"context"
	"time"
)

// Event represents a journaled engine event.
type Event struct {
	ID          int64
	Time        time.Time
	Type        string // e.g., "entry", "add", "exit", "summary", "error"
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
