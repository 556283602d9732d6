package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a committed ledger change
type EventType string

const (
	EventCreated EventType = "transaction.created"
	EventUpdated EventType = "transaction.updated"
	EventDeleted EventType = "transaction.deleted"
)

// Event describes a committed ledger operation
type Event struct {
	Type          EventType       `json:"type"`
	TransactionID uint            `json:"transaction_id"`
	UserID        uint            `json:"user_id"`
	Delta         decimal.Decimal `json:"delta"`
	Balance       decimal.Decimal `json:"balance"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewEvent builds the event for a committed result
func NewEvent(typ EventType, res *Result, delta decimal.Decimal, at time.Time) Event {
	return Event{
		Type:          typ,
		TransactionID: res.Transaction.ID,
		UserID:        res.User.ID,
		Delta:         delta,
		Balance:       res.User.Balance,
		OccurredAt:    at.UTC(),
	}
}

// Publisher is notified after an operation commits. Errors are logged and never undo the operation.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
