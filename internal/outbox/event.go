// Package outbox relays events written next to business rows to a broker.
package outbox

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one outbox row. Payload is already JSON.
type Event struct {
	ID          int64           `json:"id"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store is implemented by repositories that write outbox rows in the same
// transaction as the change they describe.
type Store interface {
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventSent(ctx context.Context, id int64) error
}

// Publisher delivers one event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
