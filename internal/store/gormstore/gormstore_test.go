package gormstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/parkwise/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/parkwise/pkg/ledger"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var storeNow = time.Date(2030, time.March, 4, 8, 0, 0, 0, time.UTC)

func TestBootstrapInventoryIsIdempotent(test *testing.T) {
	store := openStore(test)
	service := newService(test, store)

	for run := 0; run < 2; run++ {
		summary, err := service.BootstrapInventory(context.Background(), ledger.DefaultInventoryLayout())
		if err != nil {
			test.Fatalf("bootstrap run %d: %v", run, err)
		}
		if summary.Spots != 90 {
			test.Fatalf("run %d: expected 90 spots, got %d", run, summary.Spots)
		}
	}
	views, err := store.ListSpots(context.Background(), ledger.SpotQuery{})
	if err != nil {
		test.Fatalf("list spots: %v", err)
	}
	if len(views) != 90 {
		test.Fatalf("expected 90 spot rows after two runs, got %d", len(views))
	}
	first, tenth, eleventh := views[0], views[9], views[10]
	if first.Location.SpotName != "A1" || tenth.Location.SpotName != "A10" || eleventh.Location.SpotName != "B1" {
		test.Fatalf("unexpected ordering: %s %s %s", first.Location.SpotName, tenth.Location.SpotName, eleventh.Location.SpotName)
	}
	if first.Location.FloorName != "1st Floor" || first.Spot.Flag != ledger.SpotFlagAvailable {
		test.Fatalf("unexpected first spot: %+v", first)
	}

	filtered, err := store.ListSpots(context.Background(), ledger.SpotQuery{FloorNumber: 2, BlockName: "C"})
	if err != nil {
		test.Fatalf("filtered list: %v", err)
	}
	if len(filtered) != 10 || filtered[0].Location.FloorNumber != 2 || filtered[0].Location.BlockName != "C" {
		test.Fatalf("unexpected filtered listing (%d rows)", len(filtered))
	}
}

func TestReservationLifecycle(test *testing.T) {
	store := openStore(test)
	service := newService(test, store)
	spot := bootstrapFirstSpot(test, service, store)
	customerID := mustCustomerID(test, "customer-1")
	vehicleID := mustVehicleID(test, "vehicle-1")
	ctx := context.Background()

	first, err := service.CreateReservation(ctx, spot.ID, customerID, vehicleID, windowAt(10, 12), carPlan())
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if _, err := service.CreateReservation(ctx, spot.ID, customerID, vehicleID, windowAt(11, 13), carPlan()); !errors.Is(err, ledger.ErrWindowConflict) {
		test.Fatalf("expected window conflict, got %v", err)
	}
	second, err := service.CreateReservation(ctx, spot.ID, customerID, vehicleID, windowAt(13, 23), carPlan())
	if err != nil {
		test.Fatalf("create second: %v", err)
	}
	if second.Amount != 7000 {
		test.Fatalf("expected 7000, got %d", second.Amount)
	}

	stored, err := store.GetReservation(ctx, first.ID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if !stored.Window.Start.Equal(first.Window.Start) || !stored.Window.End.Equal(first.Window.End) || stored.Plan != first.Plan || stored.VehicleType != ledger.VehicleCar || stored.Duration != 2*time.Hour {
		test.Fatalf("round trip mismatch: %+v vs %+v", stored, first)
	}

	if _, err := service.CancelReservation(ctx, first.ID, customerID); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	payment, _, err := service.PayReservation(ctx, second.ID, customerID, ledger.PaymentRequest{
		Amount:       5600,
		Method:       ledger.PaymentMethodCard,
		Discount:     ledger.DiscountSenior,
		ContactEmail: "driver@example.com",
	})
	if err != nil {
		test.Fatalf("pay: %v", err)
	}
	locked, err := store.LockSpot(ctx, spot.ID)
	if err != nil {
		test.Fatalf("lock spot: %v", err)
	}
	if locked.Flag != ledger.SpotFlagAvailable {
		test.Fatalf("expected flag to clear once nothing is active, got %s", locked.Flag)
	}

	receipt, err := service.Receipt(ctx, second.ID, customerID)
	if err != nil {
		test.Fatalf("receipt: %v", err)
	}
	if receipt.Payment == nil || receipt.Payment.ID != payment.ID || receipt.Payment.ContactEmail != "driver@example.com" || receipt.Payment.DiscountAmount != 1400 {
		test.Fatalf("unexpected receipt payment: %+v", receipt.Payment)
	}
	if receipt.Location.SpotName != "A1" || receipt.Reservation.Status != ledger.ReservationStatusCompleted {
		test.Fatalf("unexpected receipt: %+v", receipt)
	}

	listed, err := service.ListReservations(ctx, customerID, ledger.ReservationQuery{Filter: ledger.FilterAll})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != second.ID || listed[1].ID != first.ID {
		test.Fatalf("expected newest window first, got %d rows", len(listed))
	}
	pending, err := service.ListReservations(ctx, customerID, ledger.ReservationQuery{Filter: ledger.FilterPending})
	if err != nil || len(pending) != 0 {
		test.Fatalf("expected no pending reservations, got %d (%v)", len(pending), err)
	}
}

func TestListCursorKeepsTiedStarts(test *testing.T) {
	store := openStore(test)
	service := newService(test, store)
	if _, err := service.BootstrapInventory(context.Background(), ledger.DefaultInventoryLayout()); err != nil {
		test.Fatalf("bootstrap: %v", err)
	}
	views, err := store.ListSpots(context.Background(), ledger.SpotQuery{FloorNumber: 1, BlockName: "A"})
	if err != nil || len(views) < 2 {
		test.Fatalf("list spots: %v", err)
	}
	customerID := mustCustomerID(test, "customer-1")
	vehicleID := mustVehicleID(test, "vehicle-1")
	ctx := context.Background()
	for _, view := range views[:2] {
		if _, err := service.CreateReservation(ctx, view.Spot.ID, customerID, vehicleID, windowAt(10, 12), carPlan()); err != nil {
			test.Fatalf("create on %s: %v", view.Location.SpotName, err)
		}
	}

	var seen []ledger.ReservationID
	query := ledger.ReservationQuery{Limit: 1}
	for page := 0; page < 3; page++ {
		reservations, err := service.ListReservations(ctx, customerID, query)
		if err != nil {
			test.Fatalf("page %d: %v", page, err)
		}
		if len(reservations) == 0 {
			break
		}
		last := reservations[len(reservations)-1]
		seen = append(seen, last.ID)
		query.Before, query.BeforeID = last.Window.Start, last.ID
	}
	if len(seen) != 2 || seen[0] == seen[1] {
		test.Fatalf("expected both tied reservations across two pages, got %v", seen)
	}

	legacy, err := service.ListReservations(ctx, customerID, ledger.ReservationQuery{Before: windowAt(10, 12).Start})
	if err != nil || len(legacy) != 0 {
		test.Fatalf("expected a start-only cursor to exclude its own start, got %d rows (%v)", len(legacy), err)
	}
}

func TestRescheduleAfterReconcileMarksSpotReserved(test *testing.T) {
	store := openStore(test)
	now := storeNow
	var counter atomic.Int64
	service, err := ledger.NewService(store, func() time.Time { return now }, ledger.WithIDGenerator(func() string {
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", counter.Add(1))
	}))
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	spot := bootstrapFirstSpot(test, service, store)
	customerID := mustCustomerID(test, "customer-1")
	ctx := context.Background()

	reservation, err := service.CreateReservation(ctx, spot.ID, customerID, mustVehicleID(test, "vehicle-1"), windowAt(10, 12), carPlan())
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	now = storeNow.Truncate(24 * time.Hour).Add(13 * time.Hour)
	if _, err := service.ReconcileSpotFlags(ctx); err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if flag := spotFlag(test, store, spot.ID); flag != ledger.SpotFlagAvailable {
		test.Fatalf("expected the lapsed window to free the spot, got %s", flag)
	}
	if _, err := service.UpdateReservationWindow(ctx, reservation.ID, customerID, windowAt(14, 16)); err != nil {
		test.Fatalf("reschedule: %v", err)
	}
	if flag := spotFlag(test, store, spot.ID); flag != ledger.SpotFlagReserved {
		test.Fatalf("expected the rescheduled reservation to hold the spot, got %s", flag)
	}
}

func TestUpdateReservationRequiresExpectedStatus(test *testing.T) {
	store := openStore(test)
	service := newService(test, store)
	spot := bootstrapFirstSpot(test, service, store)
	customerID := mustCustomerID(test, "customer-1")
	reservation, err := service.CreateReservation(context.Background(), spot.ID, customerID, mustVehicleID(test, "vehicle-1"), windowAt(10, 12), carPlan())
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	reservation.Status = ledger.ReservationStatusCancelled
	err = store.UpdateReservation(context.Background(), reservation, ledger.ReservationStatusCompleted)
	if !errors.Is(err, ledger.ErrAlreadyFinalized) {
		test.Fatalf("expected status guard to reject the update, got %v", err)
	}
	if ledger.ClassOf(err) != ledger.ErrorClassState {
		test.Fatalf("expected state class, got %s", ledger.ClassOf(err))
	}
}

func TestDuplicatePaymentMapsToAlreadyPaid(test *testing.T) {
	store := openStore(test)
	service := newService(test, store)
	spot := bootstrapFirstSpot(test, service, store)
	customerID := mustCustomerID(test, "customer-1")
	reservation, err := service.CreateReservation(context.Background(), spot.ID, customerID, mustVehicleID(test, "vehicle-1"), windowAt(10, 12), carPlan())
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	payment := ledger.Payment{
		ID:            mustPaymentID(test, "payment-a"),
		ReservationID: reservation.ID,
		Amount:        reservation.Amount,
		Discount:      ledger.DiscountRegular,
		Method:        ledger.PaymentMethodCash,
		Status:        ledger.PaymentStatusCompleted,
		PaidAt:        storeNow,
	}
	if err := store.CreatePayment(context.Background(), payment); err != nil {
		test.Fatalf("first payment: %v", err)
	}
	payment.ID = mustPaymentID(test, "payment-b")
	if err := store.CreatePayment(context.Background(), payment); !errors.Is(err, ledger.ErrAlreadyPaid) {
		test.Fatalf("expected already paid, got %v", err)
	}
}

func TestMissingRowsMapToNotFound(test *testing.T) {
	store := openStore(test)
	ctx := context.Background()
	if _, err := store.LockSpot(ctx, mustSpotID(test, "missing")); !errors.Is(err, ledger.ErrSpotNotFound) {
		test.Fatalf("expected spot not found, got %v", err)
	}
	if _, err := store.GetReservation(ctx, mustReservationID(test, "missing")); !errors.Is(err, ledger.ErrReservationNotFound) {
		test.Fatalf("expected reservation not found, got %v", err)
	}
	if _, err := store.GetPayment(ctx, mustPaymentID(test, "missing")); !errors.Is(err, ledger.ErrPaymentNotFound) {
		test.Fatalf("expected payment not found, got %v", err)
	}
	if _, err := store.GetSpotLocation(ctx, mustSpotID(test, "missing")); !errors.Is(err, ledger.ErrSpotNotFound) {
		test.Fatalf("expected spot not found, got %v", err)
	}
	if err := store.SetSpotFlag(ctx, mustSpotID(test, "missing"), ledger.SpotFlagReserved); !errors.Is(err, ledger.ErrSpotNotFound) {
		test.Fatalf("expected spot not found, got %v", err)
	}
}

func TestConcurrentCreatesOnOneSpot(test *testing.T) {
	store := openStore(test)
	service := newService(test, store)
	spot := bootstrapFirstSpot(test, service, store)
	const workers = 8

	var (
		waitGroup sync.WaitGroup
		winners   atomic.Int32
		failures  = make(chan error, workers)
	)
	for worker := 0; worker < workers; worker++ {
		waitGroup.Add(1)
		go func(worker int) {
			defer waitGroup.Done()
			customerID, _ := ledger.NewCustomerID(fmt.Sprintf("customer-%d", worker))
			vehicleID, _ := ledger.NewVehicleID(fmt.Sprintf("vehicle-%d", worker))
			_, err := service.CreateReservation(context.Background(), spot.ID, customerID, vehicleID, windowAt(10, 12), carPlan())
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, ledger.ErrWindowConflict):
			default:
				failures <- err
			}
		}(worker)
	}
	waitGroup.Wait()
	close(failures)
	for err := range failures {
		test.Fatalf("unexpected error: %v", err)
	}
	if winners.Load() != 1 {
		test.Fatalf("expected one winner, got %d", winners.Load())
	}
	active, err := store.ListActiveReservations(context.Background(), []ledger.SpotID{spot.ID}, time.Time{})
	if err != nil {
		test.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		test.Fatalf("expected one active reservation, got %d", len(active))
	}
}

func TestDashboardCounts(test *testing.T) {
	store := openStore(test)
	service := newService(test, store)
	spot := bootstrapFirstSpot(test, service, store)
	customerID := mustCustomerID(test, "customer-1")
	if _, err := service.CreateReservation(context.Background(), spot.ID, customerID, mustVehicleID(test, "vehicle-1"), windowAt(8, 9), carPlan()); err != nil {
		test.Fatalf("create: %v", err)
	}
	stats, err := service.DashboardStats(context.Background())
	if err != nil {
		test.Fatalf("dashboard: %v", err)
	}
	if stats.TotalSpots != 90 || stats.AvailableSpots != 89 || stats.ActiveReservations != 1 || stats.ReservationsToday != 1 {
		test.Fatalf("unexpected stats %+v", stats)
	}
}

func openStore(test *testing.T) *gormstore.Store {
	test.Helper()
	database, err := gorm.Open(sqlite.Open(test.TempDir()+"/parkwise.db"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := gormstore.AutoMigrate(database); err != nil {
		test.Fatalf("auto migrate failed: %v", err)
	}
	return gormstore.New(database)
}

func newService(test *testing.T, store ledger.Store) *ledger.Service {
	test.Helper()
	var counter atomic.Int64
	service, err := ledger.NewService(store, func() time.Time { return storeNow }, ledger.WithIDGenerator(func() string {
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", counter.Add(1))
	}))
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func bootstrapFirstSpot(test *testing.T, service *ledger.Service, store *gormstore.Store) ledger.Spot {
	test.Helper()
	if _, err := service.BootstrapInventory(context.Background(), ledger.DefaultInventoryLayout()); err != nil {
		test.Fatalf("bootstrap: %v", err)
	}
	views, err := store.ListSpots(context.Background(), ledger.SpotQuery{FloorNumber: 1, BlockName: "A"})
	if err != nil || len(views) == 0 {
		test.Fatalf("list spots: %v", err)
	}
	return views[0].Spot
}

func spotFlag(test *testing.T, store *gormstore.Store, spotID ledger.SpotID) ledger.SpotFlag {
	test.Helper()
	views, err := store.ListSpots(context.Background(), ledger.SpotQuery{})
	if err != nil {
		test.Fatalf("list spots: %v", err)
	}
	for _, view := range views {
		if view.Spot.ID == spotID {
			return view.Spot.Flag
		}
	}
	test.Fatalf("spot %s not listed", spotID.String())
	return ""
}

func windowAt(startHour int, endHour int) ledger.Window {
	day := storeNow.Truncate(24 * time.Hour)
	return ledger.NewWindow(day.Add(time.Duration(startHour)*time.Hour), day.Add(time.Duration(endHour)*time.Hour))
}

func carPlan() ledger.VehicleRatePlan {
	plan, _ := ledger.DefaultRatePlans().Lookup(ledger.VehicleCar)
	return plan
}

func mustSpotID(test *testing.T, raw string) ledger.SpotID {
	test.Helper()
	value, err := ledger.NewSpotID(raw)
	if err != nil {
		test.Fatalf("spot id: %v", err)
	}
	return value
}

func mustCustomerID(test *testing.T, raw string) ledger.CustomerID {
	test.Helper()
	value, err := ledger.NewCustomerID(raw)
	if err != nil {
		test.Fatalf("customer id: %v", err)
	}
	return value
}

func mustVehicleID(test *testing.T, raw string) ledger.VehicleID {
	test.Helper()
	value, err := ledger.NewVehicleID(raw)
	if err != nil {
		test.Fatalf("vehicle id: %v", err)
	}
	return value
}

func mustReservationID(test *testing.T, raw string) ledger.ReservationID {
	test.Helper()
	value, err := ledger.NewReservationID(raw)
	if err != nil {
		test.Fatalf("reservation id: %v", err)
	}
	return value
}

func mustPaymentID(test *testing.T, raw string) ledger.PaymentID {
	test.Helper()
	value, err := ledger.NewPaymentID(raw)
	if err != nil {
		test.Fatalf("payment id: %v", err)
	}
	return value
}
