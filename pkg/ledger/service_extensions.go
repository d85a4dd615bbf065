package ledger

import (
	"context"
	"fmt"
	"time"
)

// CancelReservation moves an active reservation to Cancelled and frees the spot
// unless another active reservation still holds it. It returns the cancelled record.
func (service *Service) CancelReservation(ctx context.Context, reservationID ReservationID, customerID CustomerID) (Reservation, error) {
	var cancelled Reservation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reservation, err := loadOwnedReservation(ctx, transactionStore, reservationID, customerID)
		if err != nil {
			return err
		}
		if reservation.Status != ReservationStatusActive {
			return fmt.Errorf("%w: reservation %s is %s", ErrAlreadyFinalized, reservationID.String(), reservation.Status)
		}
		spot, err := transactionStore.LockSpot(ctx, reservation.SpotID)
		if err != nil {
			return err
		}
		now := service.now()
		reservation.Status = ReservationStatusCancelled
		reservation.UpdatedAt = now
		if err := transactionStore.UpdateReservation(ctx, reservation, ReservationStatusActive); err != nil {
			return err
		}
		if err := refreshSpotFlag(ctx, transactionStore, spot, now); err != nil {
			return err
		}
		cancelled = reservation
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationCancel,
		CustomerID:    customerID,
		ReservationID: reservationID,
		SpotID:        cancelled.SpotID,
		Window:        cancelled.Window,
		Amount:        cancelled.Amount,
		Error:         operationError,
	})
	if operationError != nil {
		return Reservation{}, operationError
	}
	service.publish(ctx, EventReservationCancelled, cancelled, nil)
	return cancelled, nil
}

// PayReservation settles an active reservation in full, completing it. It
// returns the payment together with the completed reservation.
func (service *Service) PayReservation(ctx context.Context, reservationID ReservationID, customerID CustomerID, request PaymentRequest) (Payment, Reservation, error) {
	var (
		paid    Reservation
		payment Payment
	)
	operationError := validatePaymentRequest(request)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			reservation, err := loadOwnedReservation(ctx, transactionStore, reservationID, customerID)
			if err != nil {
				return err
			}
			if reservation.HasPayment() || reservation.Status == ReservationStatusCompleted {
				return fmt.Errorf("%w: reservation %s", ErrAlreadyPaid, reservationID.String())
			}
			if reservation.Status != ReservationStatusActive {
				return fmt.Errorf("%w: reservation %s is %s", ErrAlreadyFinalized, reservationID.String(), reservation.Status)
			}
			due, discountAmount := applyDiscount(reservation.Amount, request.Discount)
			if request.Amount != due {
				return fmt.Errorf("%w: amount %d does not match amount due %d", ErrInvalidPayment, request.Amount, due)
			}
			spot, err := transactionStore.LockSpot(ctx, reservation.SpotID)
			if err != nil {
				return err
			}
			paymentID, err := NewPaymentID(service.newID())
			if err != nil {
				return err
			}
			now := service.now()
			record := Payment{
				ID:             paymentID,
				ReservationID:  reservation.ID,
				Amount:         due,
				OriginalAmount: reservation.Amount,
				DiscountAmount: discountAmount,
				Discount:       request.Discount,
				Method:         request.Method,
				Status:         PaymentStatusCompleted,
				ContactEmail:   request.ContactEmail,
				PaidAt:         now,
			}
			if err := transactionStore.CreatePayment(ctx, record); err != nil {
				return err
			}
			reservation.PaymentID = paymentID
			reservation.Status = ReservationStatusCompleted
			reservation.UpdatedAt = now
			if err := transactionStore.UpdateReservation(ctx, reservation, ReservationStatusActive); err != nil {
				return err
			}
			if err := refreshSpotFlag(ctx, transactionStore, spot, now); err != nil {
				return err
			}
			paid = reservation
			payment = record
			return nil
		})
	}
	if operationError != nil {
		paid, payment = Reservation{}, Payment{}
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationPay,
		CustomerID:    customerID,
		ReservationID: reservationID,
		SpotID:        paid.SpotID,
		Window:        paid.Window,
		Amount:        payment.Amount,
		Error:         operationError,
	})
	if operationError != nil {
		return Payment{}, Reservation{}, operationError
	}
	service.publish(ctx, EventReservationPaid, paid, &payment)
	return payment, paid, nil
}

// DeleteReservation is kept as an explicit operation so callers get a clear
// refusal: reservations are never physically removed.
func (service *Service) DeleteReservation(ctx context.Context, reservationID ReservationID, customerID CustomerID) error {
	operationError := fmt.Errorf("%w: reservation %s", ErrHardDeleteDisallowed, reservationID.String())
	service.logOperation(ctx, OperationLog{
		Operation:     operationDelete,
		CustomerID:    customerID,
		ReservationID: reservationID,
		Error:         operationError,
	})
	return operationError
}

// ListReservations lists a customer's reservations, newest window first.
func (service *Service) ListReservations(ctx context.Context, customerID CustomerID, query ReservationQuery) ([]Reservation, error) {
	if customerID.String() == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	limit, err := normalizeListLimit(query.Limit)
	if err != nil {
		return nil, err
	}
	criteria := ReservationCriteria{
		CustomerID: customerID,
		Before:     query.Before,
		Limit:      limit,
	}
	if !query.Before.IsZero() {
		criteria.BeforeID = query.BeforeID
	}
	switch query.Filter {
	case FilterAll, "":
	case FilterRecent:
		criteria.StartsFrom = service.now().Add(-RecentWindow)
	case FilterPending:
		criteria.Statuses = []ReservationStatus{ReservationStatusActive}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, query.Filter)
	}
	return service.store.ListReservations(ctx, criteria)
}

// ReconcileSpotFlags rewrites stored flags that drifted from the active
// reservation set, for example after a reservation's window ended unpaid.
// It returns the number of spots whose flag changed.
func (service *Service) ReconcileSpotFlags(ctx context.Context) (int, error) {
	views, err := service.store.ListSpots(ctx, SpotQuery{})
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, view := range views {
		spotID := view.Spot.ID
		var flipped bool
		err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			flipped = false
			spot, err := transactionStore.LockSpot(ctx, spotID)
			if err != nil {
				return err
			}
			now := service.now()
			active, err := transactionStore.ListActiveReservations(ctx, []SpotID{spotID}, now)
			if err != nil {
				return err
			}
			flag := resolveFlag(active, now)
			if flag == spot.Flag {
				return nil
			}
			flipped = true
			return transactionStore.SetSpotFlag(ctx, spotID, flag)
		})
		if err != nil {
			service.logOperation(ctx, OperationLog{Operation: operationReconcile, SpotID: spotID, Error: err})
			return changed, err
		}
		if flipped {
			changed++
			service.logOperation(ctx, OperationLog{Operation: operationReconcile, SpotID: spotID})
		}
	}
	return changed, nil
}

// RunFlagReconciler calls ReconcileSpotFlags every interval until ctx is done.
func (service *Service) RunFlagReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = service.ReconcileSpotFlags(ctx)
		}
	}
}

func validatePaymentRequest(request PaymentRequest) error {
	if request.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidPayment)
	}
	if _, err := ParsePaymentMethod(request.Method.String()); err != nil || request.Method == "" {
		return fmt.Errorf("%w: method %q", ErrInvalidPayment, request.Method)
	}
	if _, err := ParseDiscountType(request.Discount.String()); err != nil || request.Discount == "" {
		return fmt.Errorf("%w: discount %q", ErrInvalidPayment, request.Discount)
	}
	return nil
}

func normalizeListLimit(limit int) (int, error) {
	if limit <= 0 {
		return DefaultListLimit, nil
	}
	if limit > MaxListLimit {
		return 0, fmt.Errorf("%w: limit exceeds maximum: %d > %d", ErrInvalidFilter, limit, MaxListLimit)
	}
	return limit, nil
}
