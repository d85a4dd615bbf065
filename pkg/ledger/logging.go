package ledger

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing reservation operation.
type OperationLog struct {
	Operation     string
	CustomerID    CustomerID
	ReservationID ReservationID
	SpotID        SpotID
	Window        Window
	Amount        AmountCents
	Status        string
	Error         error
}

// EventPublisher receives committed reservation events (payment notifier, receipt renderer).
type EventPublisher interface {
	PublishReservationEvent(ctx context.Context, event ReservationEvent) error
}

// VehicleOwnershipChecker answers whether a vehicle belongs to a customer.
type VehicleOwnershipChecker interface {
	VehicleBelongsTo(ctx context.Context, vehicleID VehicleID, customerID CustomerID) (bool, error)
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEventPublisher wires a publisher notified after each committed write.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithLocation sets the time zone used for same-day checks and "today" counts.
func WithLocation(location *time.Location) ServiceOption {
	return func(service *Service) {
		if location != nil {
			service.location = location
		}
	}
}

// WithExclusiveSpots rejects bookings on spots whose stored flag is already
// Reserved, even when the requested window is free.
func WithExclusiveSpots() ServiceOption {
	return func(service *Service) {
		service.exclusiveSpots = true
	}
}

// WithVehicleOwnershipChecker enables vehicle ownership verification on create.
func WithVehicleOwnershipChecker(checker VehicleOwnershipChecker) ServiceOption {
	return func(service *Service) {
		service.vehicleOwnership = checker
	}
}

// WithIDGenerator overrides how reservation and payment ids are minted.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}
