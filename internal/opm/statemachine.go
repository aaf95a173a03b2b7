package opm

import (
	"fmt"
	"time"
)

var allowedTransitions = map[string]map[string]bool{
	StatusPendingSubmit: {
		StatusSubmitted: true,
	},
	StatusSubmitted: {
		StatusAccepted:    true,
		StatusRejected:    true,
		StatusReconciling: true,
	},
	StatusAccepted: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCanceled:        true,
		StatusReconciling:     true,
	},
	StatusPartiallyFilled: {
		StatusFilled:      true,
		StatusCanceled:    true,
		StatusReconciling: true,
	},
	StatusReconciling: {
		StatusAccepted:        true,
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusRejected:        true,
	},
	// FILLED, REJECTED, CANCELED are sinks.
}

// IllegalTransitionError reports a disallowed order status move. It is
// fatal to the attempt, never to the process.
type IllegalTransitionError struct {
	OrderID string
	From    string
	To      string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s", e.OrderID, e.From, e.To)
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to string) bool {
	return allowedTransitions[from][to]
}

// TransitionOrderStatus moves the order to next, stamping LastUpdatedAt.
func TransitionOrderStatus(order *OrderAggregate, next string, now time.Time) error {
	if !CanTransition(order.Status, next) {
		return &IllegalTransitionError{OrderID: order.ID, From: order.Status, To: next}
	}
	order.Status = next
	order.LastUpdatedAt = now
	return nil
}
