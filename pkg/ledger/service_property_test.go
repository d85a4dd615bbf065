package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// TestRandomOperationsKeepLedgerConsistent drives random creates, reschedules,
// cancels, payments and clock advances followed by a reconcile against a simple
// model and checks after every step that active windows per spot never overlap
// and that stored flags follow the active set.
func TestRandomOperationsKeepLedgerConsistent(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	spotIDs := []SpotID{mustSpotID(test, "spot-1"), mustSpotID(test, "spot-2"), mustSpotID(test, "spot-3")}
	for index, spotID := range spotIDs {
		store.addSpot(test, spotID.String(), SpotName("A", index+1))
	}
	now := fixedNow
	service, err := NewService(store, func() time.Time { return now }, WithIDGenerator(sequentialIDs()))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	customerID := mustCustomerID(test, customerIDValue)
	vehicleID := mustVehicleID(test, vehicleIDValue)
	random := rand.New(rand.NewSource(42))
	ctx := context.Background()
	var created []ReservationID

	for step := 0; step < 400; step++ {
		switch operation := random.Intn(5); {
		case operation == 0 || len(created) == 0:
			spotID := spotIDs[random.Intn(len(spotIDs))]
			window := randomWindow(random)
			expectConflict := ValidateWindow(window, now, time.UTC) == nil && Overlaps(activeWindows(store, spotID, ReservationID{}), window)
			reservation, err := service.CreateReservation(ctx, spotID, customerID, vehicleID, window, carPlan())
			if expectConflict != errors.Is(err, ErrWindowConflict) {
				test.Fatalf("step %d: create %s on %s: conflict expected %v, got %v", step, window, spotID.String(), expectConflict, err)
			}
			if err == nil {
				created = append(created, reservation.ID)
			} else if !errors.Is(err, ErrWindowConflict) && !errors.Is(err, ErrCrossDayWindow) && !errors.Is(err, ErrPastWindow) {
				test.Fatalf("step %d: unexpected create error %v", step, err)
			}
		case operation == 1:
			reservationID := created[random.Intn(len(created))]
			before := store.mustReservation(test, reservationID)
			window := randomWindow(random)
			_, err := service.UpdateReservationWindow(ctx, reservationID, customerID, window)
			switch {
			case before.Status != ReservationStatusActive:
				if !errors.Is(err, ErrAlreadyFinalized) {
					test.Fatalf("step %d: expected finalized, got %v", step, err)
				}
			case ValidateWindow(window, now, time.UTC) != nil:
				if err == nil {
					test.Fatalf("step %d: expected window validation error", step)
				}
			case Overlaps(activeWindows(store, before.SpotID, reservationID), window):
				if !errors.Is(err, ErrWindowConflict) {
					test.Fatalf("step %d: expected conflict, got %v", step, err)
				}
			default:
				if err != nil {
					test.Fatalf("step %d: update: %v", step, err)
				}
			}
		case operation == 2:
			reservationID := created[random.Intn(len(created))]
			before := store.mustReservation(test, reservationID)
			_, err := service.CancelReservation(ctx, reservationID, customerID)
			if (before.Status == ReservationStatusActive) != (err == nil) {
				test.Fatalf("step %d: cancel of %s reservation returned %v", step, before.Status, err)
			}
		case operation == 3:
			reservationID := created[random.Intn(len(created))]
			before := store.mustReservation(test, reservationID)
			_, _, err := service.PayReservation(ctx, reservationID, customerID, PaymentRequest{Amount: before.Amount, Method: PaymentMethodCash, Discount: DiscountRegular})
			if (before.Status == ReservationStatusActive) != (err == nil) {
				test.Fatalf("step %d: pay of %s reservation returned %v", step, before.Status, err)
			}
		default:
			if now.Before(fixedNow.Add(12 * time.Hour)) {
				now = now.Add(30 * time.Minute)
			}
			if _, err := service.ReconcileSpotFlags(ctx); err != nil {
				test.Fatalf("step %d: reconcile: %v", step, err)
			}
		}
		assertLedgerConsistent(test, store, spotIDs, now)
	}
}

// TestConcurrentCreatesAdmitOneWinner races identical bookings of one spot.
func TestConcurrentCreatesAdmitOneWinner(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addSpot(test, spotIDValue, "A1")
	service := mustNewService(test, store)
	spotID := mustSpotID(test, spotIDValue)
	const workers = 16

	var (
		waitGroup sync.WaitGroup
		start     = make(chan struct{})
		results   = make(chan error, workers)
	)
	for worker := 0; worker < workers; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			<-start
			_, err := service.CreateReservation(context.Background(), spotID, mustCustomerID(test, customerIDValue), mustVehicleID(test, vehicleIDValue), windowAt(10, 12), carPlan())
			results <- err
		}()
	}
	close(start)
	waitGroup.Wait()
	close(results)

	winners := 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrWindowConflict):
		default:
			test.Fatalf("unexpected error %v", err)
		}
	}
	if winners != 1 {
		test.Fatalf("expected exactly one winner, got %d", winners)
	}
	assertLedgerConsistent(test, store, []SpotID{spotID}, fixedNow)
}

func activeWindows(store *stubStore, spotID SpotID, excluded ReservationID) []Window {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var windows []Window
	for _, reservation := range store.state.reservations {
		if reservation.SpotID == spotID && reservation.Status == ReservationStatusActive && reservation.ID != excluded {
			windows = append(windows, reservation.Window)
		}
	}
	return windows
}

func assertLedgerConsistent(test *testing.T, store *stubStore, spotIDs []SpotID, now time.Time) {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, spotID := range spotIDs {
		var active []Reservation
		for _, reservation := range store.state.reservations {
			if reservation.SpotID == spotID && reservation.Status == ReservationStatusActive {
				active = append(active, reservation)
			}
		}
		for left := 0; left < len(active); left++ {
			for right := left + 1; right < len(active); right++ {
				if active[left].Window.Intersects(active[right].Window) {
					test.Fatalf("spot %s: active reservations %s and %s overlap", spotID.String(), active[left].ID.String(), active[right].ID.String())
				}
			}
		}
		if want := resolveFlag(active, now); store.state.spots[spotID].Flag != want {
			test.Fatalf("spot %s: flag %s does not match active set (%s)", spotID.String(), store.state.spots[spotID].Flag, want)
		}
	}
	for _, reservation := range store.state.reservations {
		if reservation.Status == ReservationStatusCompleted {
			payment, ok := store.state.payments[reservation.PaymentID]
			if !ok || payment.ReservationID != reservation.ID || payment.Status != PaymentStatusCompleted {
				test.Fatalf("completed reservation %s has no matching payment", reservation.ID.String())
			}
		}
		if reservation.Amount != Price(reservation.Window, reservation.Plan) {
			test.Fatalf("reservation %s amount %d does not match its window", reservation.ID.String(), reservation.Amount)
		}
	}
}
