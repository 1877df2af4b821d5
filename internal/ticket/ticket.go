// Package ticket implements the fare record lifecycle
// (UNUSED → IN_USE → COMPLETED) and refunds of unused tickets.
package ticket

import (
	"errors"
	"fmt"

	"github.com/atmx/transit-fare/internal/model"
)

var (
	// ErrIllegalTransition is returned for any move the lifecycle forbids.
	ErrIllegalTransition = errors.New("ticket: illegal status transition")

	// ErrNotRefundable is returned when refunding a ticket that has been used.
	ErrNotRefundable = errors.New("ticket: only unused tickets can be refunded")
)

// CanTransition reports whether a ticket may move from one status to another.
// Only UNUSED → IN_USE (entry) and IN_USE → COMPLETED (exit) are legal.
func CanTransition(from, to model.TicketStatus) bool {
	switch from {
	case model.StatusUnused:
		return to == model.StatusInUse
	case model.StatusInUse:
		return to == model.StatusCompleted
	case model.StatusCompleted:
		return false
	}
	return false
}

// Advance moves t to the given status. On error t is left unchanged.
func Advance(t *model.Ticket, to model.TicketStatus) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, t.Status, to)
	}
	t.Status = to
	return nil
}
