package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techTenzen/Cricket/internal/domain"
	"github.com/techTenzen/Cricket/internal/outbox"
)

// Event types written to the outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// Event is the payload published for every order change.
type Event struct {
	EventID        string             `json:"event_id"`
	EventType      string             `json:"event_type"`
	OrderID        string             `json:"order_id"`
	UserID         string             `json:"user_id"`
	Status         domain.OrderStatus `json:"status"`
	PreviousStatus domain.OrderStatus `json:"previous_status,omitempty"`
	TotalAmount    decimal.Decimal    `json:"total_amount"`
	Items          []domain.OrderItem `json:"items"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

func newEvent(eventType string, o *domain.Order, previous domain.OrderStatus) (outbox.Event, error) {
	e := Event{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		OrderID:        o.ID,
		UserID:         o.UserID,
		Status:         o.Status,
		PreviousStatus: previous,
		TotalAmount:    o.TotalAmount,
		Items:          o.Items,
		OccurredAt:     o.UpdatedAt,
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return outbox.Event{}, fmt.Errorf("marshal order event: %w", err)
	}
	return outbox.Event{
		EventID:     e.EventID,
		AggregateID: o.ID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   o.UpdatedAt,
	}, nil
}
