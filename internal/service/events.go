package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/fjod/go_cart/order-intake/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartPaidEvent is published once per successful checkout.
type CartPaidEvent struct {
	EventID  string          `json:"event_id"`
	CartID   int64           `json:"cart_id"`
	Customer string          `json:"customer"`
	Total    decimal.Decimal `json:"total"`
	PaidAt   time.Time       `json:"paid_at"`
	Lines    []domain.Line   `json:"lines"`
}

func newCartPaidOutboxEvent(cart *domain.Cart) (*repository.OutboxEvent, error) {
	ev := CartPaidEvent{
		EventID:  uuid.NewString(),
		CartID:   cart.ID,
		Customer: cart.Customer,
		Total:    cart.Total,
		PaidAt:   *cart.PaymentDate,
		Lines:    cart.Lines,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cart paid event: %w", err)
	}

	return &repository.OutboxEvent{
		EventID:     ev.EventID,
		AggregateID: cart.Customer,
		EventType:   repository.EventCartPaid,
		Payload:     payload,
		CreatedAt:   ev.PaidAt,
	}, nil
}
