// Package notify is the best-effort side channel for customer notifications.
// Delivery failures are logged and never reach the operation that triggered
// them.
package notify

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventOrderCreated   EventType = "ORDER_CREATED"
	EventOrderPaid      EventType = "ORDER_PAID"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
)

type Event struct {
	Type          EventType
	OrderID       uuid.UUID
	OrderNumber   string
	CustomerEmail string
	CustomerName  string
	Total         int64
	Reason        string
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the log. It stands in for a mail sender.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event Event) error {
	log.Info().
		Str("event", string(event.Type)).
		Stringer("order_id", event.OrderID).
		Str("order_number", event.OrderNumber).
		Str("customer_email", event.CustomerEmail).
		Int64("total", event.Total).
		Msg("notify: customer notification")
	return nil
}

// Async delivers through next on its own goroutine with a bounded timeout,
// detached from the caller's context.
type Async struct {
	next    Notifier
	timeout time.Duration
}

func NewAsync(next Notifier, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{next: next, timeout: timeout}
}

func (a *Async) Notify(_ context.Context, event Event) error {
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic_value", p).Str("event", string(event.Type)).Msg("notify: panic while sending notification")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if err := a.next.Notify(ctx, event); err != nil {
			log.Error().Err(err).
				Str("event", string(event.Type)).
				Stringer("order_id", event.OrderID).
				Msg("notify: failed to send notification")
		}
	}()
	return nil
}
