package grpcserver_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	parkwisev1 "github.com/MarkoPoloResearchLab/parkwise/api/parkwise/v1"
	"github.com/MarkoPoloResearchLab/parkwise/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/parkwise/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/parkwise/pkg/ledger"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	customerID      = "customer-1"
	otherCustomerID = "customer-2"
	vehicleID       = "vehicle-1"
)

var serverNow = time.Date(2030, time.March, 4, 8, 0, 0, 0, time.UTC)

func TestReservationLedgerOverGRPC(test *testing.T) {
	client, _ := startLedger(test, zap.NewNop())
	ctx := context.Background()

	spots, err := client.ListSpots(ctx, &parkwisev1.ListSpotsRequest{FloorNumber: 1, BlockName: "a"})
	if err != nil {
		test.Fatalf("list spots: %v", err)
	}
	if len(spots.Spots) != 10 || spots.Spots[0].Name != "A1" || spots.Spots[0].Status != "available" {
		test.Fatalf("unexpected spots %+v", spots.Spots)
	}
	spotID := spots.Spots[0].SpotId

	quote, err := client.QuoteReservation(ctx, &parkwisev1.QuoteReservationRequest{VehicleType: "car", StartUnixUtc: hourUnix(10), EndUnixUtc: hourUnix(12)})
	if err != nil {
		test.Fatalf("quote: %v", err)
	}
	if quote.AmountCents != 5000 || quote.DurationSeconds != 7200 || quote.BaseHours != 8 {
		test.Fatalf("unexpected quote %+v", quote)
	}

	created, err := client.CreateReservation(ctx, &parkwisev1.CreateReservationRequest{
		CustomerId: customerID, SpotId: spotID, VehicleId: vehicleID,
		StartUnixUtc: hourUnix(10), EndUnixUtc: hourUnix(12),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	reservation := created.Reservation
	if reservation.Status != "active" || reservation.AmountCents != 5000 || reservation.VehicleType != "car" || reservation.ControlNumber == "" {
		test.Fatalf("unexpected reservation %+v", reservation)
	}

	_, err = client.CreateReservation(ctx, &parkwisev1.CreateReservationRequest{
		CustomerId: otherCustomerID, SpotId: spotID, VehicleId: vehicleID,
		StartUnixUtc: hourUnix(11), EndUnixUtc: hourUnix(13),
	})
	expectStatus(test, err, codes.Aborted, "window_conflict")

	rescheduled, err := client.UpdateReservationWindow(ctx, &parkwisev1.UpdateReservationWindowRequest{
		CustomerId: customerID, ReservationId: reservation.ReservationId,
		StartUnixUtc: hourUnix(9), EndUnixUtc: hourUnix(19),
	})
	if err != nil {
		test.Fatalf("update window: %v", err)
	}
	if rescheduled.Reservation.AmountCents != 7000 || rescheduled.Reservation.StartUnixUtc != hourUnix(9) {
		test.Fatalf("unexpected reschedule %+v", rescheduled.Reservation)
	}

	_, err = client.PayReservation(ctx, &parkwisev1.PayReservationRequest{
		CustomerId: customerID, ReservationId: reservation.ReservationId, AmountCents: 7000, Discount: "student",
	})
	expectStatus(test, err, codes.InvalidArgument, "invalid_payment")

	paid, err := client.PayReservation(ctx, &parkwisev1.PayReservationRequest{
		CustomerId: customerID, ReservationId: reservation.ReservationId, AmountCents: 5600, Discount: "student", Method: "card",
	})
	if err != nil {
		test.Fatalf("pay: %v", err)
	}
	if paid.Payment.DiscountAmountCents != 1400 || paid.Payment.OriginalAmountCents != 7000 || paid.Reservation.Status != "completed" {
		test.Fatalf("unexpected payment %+v / %+v", paid.Payment, paid.Reservation)
	}

	_, err = client.PayReservation(ctx, &parkwisev1.PayReservationRequest{
		CustomerId: customerID, ReservationId: reservation.ReservationId, AmountCents: 5600, Discount: "student",
	})
	expectStatus(test, err, codes.FailedPrecondition, "already_paid")

	_, err = client.DeleteReservation(ctx, &parkwisev1.DeleteReservationRequest{CustomerId: customerID, ReservationId: reservation.ReservationId})
	expectStatus(test, err, codes.FailedPrecondition, "hard_delete_disallowed")

	_, err = client.CancelReservation(ctx, &parkwisev1.CancelReservationRequest{CustomerId: otherCustomerID, ReservationId: reservation.ReservationId})
	expectStatus(test, err, codes.NotFound, "reservation_not_found")

	receipt, err := client.GetReceipt(ctx, &parkwisev1.GetReceiptRequest{CustomerId: customerID, ReservationId: reservation.ReservationId})
	if err != nil {
		test.Fatalf("receipt: %v", err)
	}
	if receipt.Payment == nil || receipt.SpotName != "A1" || receipt.FloorName != "1st Floor" || receipt.ControlNumber != reservation.ControlNumber {
		test.Fatalf("unexpected receipt %+v", receipt)
	}

	listed, err := client.ListReservations(ctx, &parkwisev1.ListReservationsRequest{CustomerId: customerID, Filter: "pending"})
	if err != nil {
		test.Fatalf("list pending: %v", err)
	}
	if len(listed.Reservations) != 0 {
		test.Fatalf("expected no pending reservations, got %d", len(listed.Reservations))
	}
	listed, err = client.ListReservations(ctx, &parkwisev1.ListReservationsRequest{CustomerId: customerID})
	if err != nil {
		test.Fatalf("list all: %v", err)
	}
	if len(listed.Reservations) != 1 || listed.Reservations[0].Status != "completed" {
		test.Fatalf("unexpected listing %+v", listed.Reservations)
	}

	dashboard, err := client.GetDashboard(ctx, &parkwisev1.GetDashboardRequest{})
	if err != nil {
		test.Fatalf("dashboard: %v", err)
	}
	if dashboard.TotalSpots != 90 || dashboard.AvailableSpots != 90 || dashboard.ActiveReservations != 0 || dashboard.ReservationsToday != 1 {
		test.Fatalf("unexpected dashboard %+v", dashboard)
	}
}

func TestRequestValidationErrors(test *testing.T) {
	client, _ := startLedger(test, zap.NewNop())
	ctx := context.Background()

	testCases := []struct {
		name     string
		call     func() error
		code     codes.Code
		expected string
	}{
		{
			name: "missing customer",
			call: func() error {
				_, err := client.CreateReservation(ctx, &parkwisev1.CreateReservationRequest{SpotId: "spot", VehicleId: vehicleID})
				return err
			},
			code:     codes.InvalidArgument,
			expected: "invalid_customer_id",
		},
		{
			name: "unknown vehicle type",
			call: func() error {
				_, err := client.QuoteReservation(ctx, &parkwisev1.QuoteReservationRequest{VehicleType: "hovercraft", StartUnixUtc: hourUnix(10), EndUnixUtc: hourUnix(11)})
				return err
			},
			code:     codes.InvalidArgument,
			expected: "invalid_vehicle_type",
		},
		{
			name: "inverted window",
			call: func() error {
				_, err := client.QuoteReservation(ctx, &parkwisev1.QuoteReservationRequest{StartUnixUtc: hourUnix(12), EndUnixUtc: hourUnix(10)})
				return err
			},
			code:     codes.InvalidArgument,
			expected: "invalid_window",
		},
		{
			name: "past window",
			call: func() error {
				_, err := client.QuoteReservation(ctx, &parkwisev1.QuoteReservationRequest{StartUnixUtc: hourUnix(6), EndUnixUtc: hourUnix(7)})
				return err
			},
			code:     codes.InvalidArgument,
			expected: "past_window",
		},
		{
			name: "cross day window",
			call: func() error {
				_, err := client.QuoteReservation(ctx, &parkwisev1.QuoteReservationRequest{StartUnixUtc: hourUnix(22), EndUnixUtc: hourUnix(26)})
				return err
			},
			code:     codes.InvalidArgument,
			expected: "cross_day_window",
		},
		{
			name: "unknown spot",
			call: func() error {
				_, err := client.CreateReservation(ctx, &parkwisev1.CreateReservationRequest{
					CustomerId: customerID, SpotId: "00000000-0000-4000-8000-000000000000", VehicleId: vehicleID,
					StartUnixUtc: hourUnix(10), EndUnixUtc: hourUnix(11),
				})
				return err
			},
			code:     codes.NotFound,
			expected: "spot_not_found",
		},
		{
			name: "unknown filter",
			call: func() error {
				_, err := client.ListReservations(ctx, &parkwisev1.ListReservationsRequest{CustomerId: customerID, Filter: "someday"})
				return err
			},
			code:     codes.InvalidArgument,
			expected: "invalid_filter",
		},
		{
			name: "unknown payment method",
			call: func() error {
				_, err := client.PayReservation(ctx, &parkwisev1.PayReservationRequest{CustomerId: customerID, ReservationId: "res-1", Method: "barter"})
				return err
			},
			code:     codes.InvalidArgument,
			expected: "invalid_payment",
		},
	}

	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			expectStatus(test, testCase.call(), testCase.code, testCase.expected)
		})
	}
}

// locationOutageStore fails spot location reads once enabled.
type locationOutageStore struct {
	*gormstore.Store
	failing atomic.Bool
}

func (store *locationOutageStore) GetSpotLocation(ctx context.Context, spotID ledger.SpotID) (ledger.SpotLocation, error) {
	if store.failing.Load() {
		return ledger.SpotLocation{}, errors.New("location read unavailable")
	}
	return store.Store.GetSpotLocation(ctx, spotID)
}

func TestCommittedWritesDoNotDependOnReadBack(test *testing.T) {
	var outage *locationOutageStore
	client, _ := startLedgerWithStore(test, zap.NewNop(), func(store *gormstore.Store) ledger.Store {
		outage = &locationOutageStore{Store: store}
		return outage
	})
	ctx := context.Background()
	spots, err := client.ListSpots(ctx, &parkwisev1.ListSpotsRequest{FloorNumber: 1, BlockName: "A"})
	if err != nil || len(spots.Spots) < 2 {
		test.Fatalf("list spots: %v", err)
	}
	toPay, err := client.CreateReservation(ctx, &parkwisev1.CreateReservationRequest{
		CustomerId: customerID, SpotId: spots.Spots[0].SpotId, VehicleId: vehicleID,
		StartUnixUtc: hourUnix(10), EndUnixUtc: hourUnix(12),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	toCancel, err := client.CreateReservation(ctx, &parkwisev1.CreateReservationRequest{
		CustomerId: customerID, SpotId: spots.Spots[1].SpotId, VehicleId: vehicleID,
		StartUnixUtc: hourUnix(13), EndUnixUtc: hourUnix(14),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}

	outage.failing.Store(true)
	paid, err := client.PayReservation(ctx, &parkwisev1.PayReservationRequest{
		CustomerId: customerID, ReservationId: toPay.Reservation.ReservationId, AmountCents: 5000, Method: "cash",
	})
	if err != nil {
		test.Fatalf("pay: %v", err)
	}
	if paid.Reservation == nil || paid.Reservation.Status != "completed" || paid.Reservation.PaymentId != paid.Payment.PaymentId {
		test.Fatalf("unexpected paid reservation %+v", paid.Reservation)
	}
	cancelled, err := client.CancelReservation(ctx, &parkwisev1.CancelReservationRequest{CustomerId: customerID, ReservationId: toCancel.Reservation.ReservationId})
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if cancelled.Reservation == nil || cancelled.Reservation.Status != "cancelled" {
		test.Fatalf("unexpected cancelled reservation %+v", cancelled.Reservation)
	}
	_, err = client.GetReceipt(ctx, &parkwisev1.GetReceiptRequest{CustomerId: customerID, ReservationId: toPay.Reservation.ReservationId})
	if status.Code(err) == codes.OK {
		test.Fatalf("expected the receipt read to surface the outage")
	}
}

func TestListReservationsPagesTiedStartsWithLocations(test *testing.T) {
	client, _ := startLedger(test, zap.NewNop())
	ctx := context.Background()
	spots, err := client.ListSpots(ctx, &parkwisev1.ListSpotsRequest{FloorNumber: 2, BlockName: "B"})
	if err != nil || len(spots.Spots) < 2 {
		test.Fatalf("list spots: %v", err)
	}
	for _, spot := range spots.Spots[:2] {
		if _, err := client.CreateReservation(ctx, &parkwisev1.CreateReservationRequest{
			CustomerId: customerID, SpotId: spot.SpotId, VehicleId: vehicleID,
			StartUnixUtc: hourUnix(10), EndUnixUtc: hourUnix(12),
		}); err != nil {
			test.Fatalf("create on %s: %v", spot.Name, err)
		}
	}

	first, err := client.ListReservations(ctx, &parkwisev1.ListReservationsRequest{CustomerId: customerID, Limit: 1})
	if err != nil || len(first.Reservations) != 1 {
		test.Fatalf("first page: %v", err)
	}
	last := first.Reservations[0]
	if last.Location == nil || last.Location.BlockName != "B" || last.Location.FloorNumber != 2 || last.Location.SpotName == "" {
		test.Fatalf("expected listing to carry the spot location, got %+v", last.Location)
	}
	second, err := client.ListReservations(ctx, &parkwisev1.ListReservationsRequest{
		CustomerId: customerID, Limit: 1, BeforeUnixUtc: last.StartUnixUtc, BeforeReservationId: last.ReservationId,
	})
	if err != nil || len(second.Reservations) != 1 {
		test.Fatalf("second page: %v", err)
	}
	if second.Reservations[0].ReservationId == last.ReservationId || second.Reservations[0].StartUnixUtc != last.StartUnixUtc {
		test.Fatalf("expected the tied reservation on the second page, got %+v", second.Reservations[0])
	}
	third, err := client.ListReservations(ctx, &parkwisev1.ListReservationsRequest{
		CustomerId: customerID, Limit: 1, BeforeUnixUtc: last.StartUnixUtc, BeforeReservationId: second.Reservations[0].ReservationId,
	})
	if err != nil || len(third.Reservations) != 0 {
		test.Fatalf("expected the listing to end after both reservations, got %v (%v)", third, err)
	}
}

func TestUnaryLoggingInterceptor(test *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	client, _ := startLedger(test, zap.New(core))
	ctx := context.Background()

	if _, err := client.GetDashboard(ctx, &parkwisev1.GetDashboardRequest{}); err != nil {
		test.Fatalf("dashboard: %v", err)
	}
	_, err := client.CancelReservation(ctx, &parkwisev1.CancelReservationRequest{CustomerId: customerID, ReservationId: "missing"})
	expectStatus(test, err, codes.NotFound, "reservation_not_found")

	entries := observed.FilterMessage("grpc call").AllUntimed()
	if len(entries) != 2 {
		test.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	first, second := entries[0], entries[1]
	if first.Level != zapcore.InfoLevel || first.ContextMap()["method"] != parkwisev1.FullMethod("GetDashboard") {
		test.Fatalf("unexpected first entry %+v", first.ContextMap())
	}
	if second.Level != zapcore.WarnLevel || second.ContextMap()["error_code"] != "reservation_not_found" || second.ContextMap()["code"] != codes.NotFound.String() {
		test.Fatalf("unexpected second entry %+v", second.ContextMap())
	}
}

func startLedger(test *testing.T, zapLogger *zap.Logger) (parkwisev1.ReservationLedgerClient, *ledger.Service) {
	test.Helper()
	return startLedgerWithStore(test, zapLogger, func(store *gormstore.Store) ledger.Store { return store })
}

func startLedgerWithStore(test *testing.T, zapLogger *zap.Logger, wrap func(*gormstore.Store) ledger.Store) (parkwisev1.ReservationLedgerClient, *ledger.Service) {
	test.Helper()
	database, err := gorm.Open(sqlite.Open(test.TempDir()+"/ledger.db"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
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
		test.Fatalf("automigrate failed: %v", err)
	}
	service, err := ledger.NewService(wrap(gormstore.New(database)), func() time.Time { return serverNow })
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	if _, err := service.BootstrapInventory(context.Background(), ledger.DefaultInventoryLayout()); err != nil {
		test.Fatalf("bootstrap failed: %v", err)
	}

	listener := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLoggingInterceptor(zapLogger)))
	parkwisev1.RegisterReservationLedgerServer(grpcServer, grpcserver.NewReservationLedgerServer(service, nil))
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()
	test.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		test.Fatalf("grpc client: %v", err)
	}
	test.Cleanup(func() { _ = conn.Close() })
	return parkwisev1.NewReservationLedgerClient(conn), service
}

func expectStatus(test *testing.T, err error, code codes.Code, name string) {
	test.Helper()
	if status.Code(err) != code {
		test.Fatalf("expected %s, got %v", code, err)
	}
	if got := grpcserver.ErrorName(err); got != name {
		test.Fatalf("expected error code %q, got %q (%v)", name, got, err)
	}
}

func hourUnix(hour int) int64 {
	return serverNow.Truncate(24 * time.Hour).Add(time.Duration(hour) * time.Hour).Unix()
}
