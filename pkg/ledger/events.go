package ledger

import "time"

// EventType names a committed reservation transition.
type EventType string

const (
	EventReservationCreated     EventType = "reservation.created"
	EventReservationRescheduled EventType = "reservation.rescheduled"
	EventReservationCancelled   EventType = "reservation.cancelled"
	EventReservationPaid        EventType = "reservation.paid"
)

// String returns the event name.
func (eventType EventType) String() string {
	return string(eventType)
}

// ReservationEvent is published after the transaction that produced it commits.
type ReservationEvent struct {
	Type        EventType
	Reservation Reservation
	Payment     *Payment
	OccurredAt  time.Time
}
