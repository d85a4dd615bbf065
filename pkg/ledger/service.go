package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service is the reservation ledger: the sole writer of reservation, payment
// and spot-flag state.
type Service struct {
	store            Store
	nowFn            func() time.Time
	location         *time.Location
	logger           OperationLogger
	publisher        EventPublisher
	vehicleOwnership VehicleOwnershipChecker
	exclusiveSpots   bool
	newID            func() string
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:    store,
		nowFn:    now,
		location: time.UTC,
		newID:    uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Location returns the time zone used for calendar-day rules.
func (service *Service) Location() *time.Location {
	return service.location
}

// Quote prices window under ratePlan after the same structural checks a booking gets.
func (service *Service) Quote(window Window, ratePlan VehicleRatePlan) (AmountCents, error) {
	window = NewWindow(window.Start, window.End)
	if err := ratePlan.Plan.Validate(); err != nil {
		return 0, err
	}
	if err := ValidateWindow(window, service.now(), service.location); err != nil {
		return 0, WindowError{Err: err, Window: window}
	}
	return Price(window, ratePlan.Plan), nil
}

// CreateReservation books spotID for window. The spot row is locked before the
// overlap check and held until commit, so concurrent bookings of the same spot
// serialize on it.
func (service *Service) CreateReservation(ctx context.Context, spotID SpotID, customerID CustomerID, vehicleID VehicleID, window Window, ratePlan VehicleRatePlan) (Reservation, error) {
	window = NewWindow(window.Start, window.End)
	var created Reservation
	operationError := service.validateCreate(ctx, spotID, customerID, vehicleID, window, ratePlan)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			spot, err := transactionStore.LockSpot(ctx, spotID)
			if err != nil {
				return err
			}
			active, err := transactionStore.ListActiveReservations(ctx, []SpotID{spotID}, time.Time{})
			if err != nil {
				return err
			}
			if conflicting, found := conflictingReservation(active, window, ReservationID{}); found {
				return WindowError{Err: ErrWindowConflict, SpotID: spotID, Window: window, Conflicting: conflicting.ID}
			}
			if service.exclusiveSpots && spot.Flag == SpotFlagReserved {
				return WindowError{Err: ErrSpotUnavailable, SpotID: spotID, Window: window}
			}
			reservationID, err := NewReservationID(service.newID())
			if err != nil {
				return err
			}
			now := service.now()
			reservation := Reservation{
				ID:          reservationID,
				SpotID:      spotID,
				CustomerID:  customerID,
				VehicleID:   vehicleID,
				VehicleType: ratePlan.VehicleType,
				Window:      window,
				Status:      ReservationStatusActive,
				Plan:        ratePlan.Plan,
				Duration:    window.Duration(),
				Amount:      Price(window, ratePlan.Plan),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := transactionStore.CreateReservation(ctx, reservation); err != nil {
				return err
			}
			if spot.Flag != SpotFlagReserved {
				if err := transactionStore.SetSpotFlag(ctx, spotID, SpotFlagReserved); err != nil {
					return err
				}
			}
			created = reservation
			return nil
		})
	}
	if operationError != nil {
		created = Reservation{}
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationCreate,
		CustomerID:    customerID,
		ReservationID: created.ID,
		SpotID:        spotID,
		Window:        window,
		Amount:        created.Amount,
		Error:         operationError,
	})
	if operationError != nil {
		return Reservation{}, operationError
	}
	service.publish(ctx, EventReservationCreated, created, nil)
	return created, nil
}

// UpdateReservationWindow reschedules an active reservation on the same spot.
// Only the window changes; vehicle and status are kept and the spot flag is recomputed.
func (service *Service) UpdateReservationWindow(ctx context.Context, reservationID ReservationID, customerID CustomerID, window Window) (Reservation, error) {
	window = NewWindow(window.Start, window.End)
	var updated Reservation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reservation, err := loadOwnedReservation(ctx, transactionStore, reservationID, customerID)
		if err != nil {
			return err
		}
		if reservation.Status != ReservationStatusActive {
			return fmt.Errorf("%w: reservation %s is %s", ErrAlreadyFinalized, reservationID.String(), reservation.Status)
		}
		now := service.now()
		if err := ValidateWindow(window, now, service.location); err != nil {
			return WindowError{Err: err, SpotID: reservation.SpotID, Window: window}
		}
		spot, err := transactionStore.LockSpot(ctx, reservation.SpotID)
		if err != nil {
			return err
		}
		active, err := transactionStore.ListActiveReservations(ctx, []SpotID{reservation.SpotID}, time.Time{})
		if err != nil {
			return err
		}
		if conflicting, found := conflictingReservation(active, window, reservation.ID); found {
			return WindowError{Err: ErrWindowConflict, SpotID: reservation.SpotID, Window: window, Conflicting: conflicting.ID}
		}
		reservation.Window = window
		reservation.Duration = window.Duration()
		reservation.Amount = Price(window, reservation.Plan)
		reservation.UpdatedAt = now
		if err := transactionStore.UpdateReservation(ctx, reservation, ReservationStatusActive); err != nil {
			return err
		}
		if err := refreshSpotFlag(ctx, transactionStore, spot, now); err != nil {
			return err
		}
		updated = reservation
		return nil
	})
	if operationError != nil {
		updated = Reservation{}
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationUpdate,
		CustomerID:    customerID,
		ReservationID: reservationID,
		SpotID:        updated.SpotID,
		Window:        window,
		Amount:        updated.Amount,
		Error:         operationError,
	})
	if operationError != nil {
		return Reservation{}, operationError
	}
	service.publish(ctx, EventReservationRescheduled, updated, nil)
	return updated, nil
}

func (service *Service) validateCreate(ctx context.Context, spotID SpotID, customerID CustomerID, vehicleID VehicleID, window Window, ratePlan VehicleRatePlan) error {
	if spotID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidSpotID)
	}
	if customerID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	if vehicleID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidVehicleID)
	}
	if err := ratePlan.Plan.Validate(); err != nil {
		return err
	}
	if err := ValidateWindow(window, service.now(), service.location); err != nil {
		return WindowError{Err: err, SpotID: spotID, Window: window}
	}
	if service.vehicleOwnership != nil {
		owned, err := service.vehicleOwnership.VehicleBelongsTo(ctx, vehicleID, customerID)
		if err != nil {
			return err
		}
		if !owned {
			return fmt.Errorf("%w: vehicle %s", ErrVehicleNotOwned, vehicleID.String())
		}
	}
	return nil
}

// loadOwnedReservation hides reservations of other customers behind ErrReservationNotFound.
func loadOwnedReservation(ctx context.Context, store Store, reservationID ReservationID, customerID CustomerID) (Reservation, error) {
	reservation, err := store.GetReservation(ctx, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	if reservation.CustomerID != customerID {
		return Reservation{}, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID.String())
	}
	return reservation, nil
}

func conflictingReservation(reservations []Reservation, candidate Window, excluded ReservationID) (Reservation, bool) {
	for _, reservation := range reservations {
		if reservation.Status != ReservationStatusActive || reservation.ID == excluded {
			continue
		}
		if Overlaps([]Window{reservation.Window}, candidate) {
			return reservation, true
		}
	}
	return Reservation{}, false
}

// refreshSpotFlag recomputes the stored flag of a locked spot from its remaining active reservations.
func refreshSpotFlag(ctx context.Context, transactionStore Store, spot Spot, now time.Time) error {
	active, err := transactionStore.ListActiveReservations(ctx, []SpotID{spot.ID}, now)
	if err != nil {
		return err
	}
	flag := resolveFlag(active, now)
	if flag == spot.Flag {
		return nil
	}
	return transactionStore.SetSpotFlag(ctx, spot.ID, flag)
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// publish notifies the event publisher. The transaction has already committed,
// so failures are logged and not returned.
func (service *Service) publish(ctx context.Context, eventType EventType, reservation Reservation, payment *Payment) {
	if service.publisher == nil {
		return
	}
	event := ReservationEvent{
		Type:        eventType,
		Reservation: reservation,
		Payment:     payment,
		OccurredAt:  service.now(),
	}
	if err := service.publisher.PublishReservationEvent(ctx, event); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:     operationPublish,
			CustomerID:    reservation.CustomerID,
			ReservationID: reservation.ID,
			SpotID:        reservation.SpotID,
			Window:        reservation.Window,
			Amount:        reservation.Amount,
			Error:         WrapError(operationPublish, eventType.String(), "failed", err),
		})
	}
}
