package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	parkwisev1 "github.com/MarkoPoloResearchLab/parkwise/api/parkwise/v1"
	"github.com/MarkoPoloResearchLab/parkwise/pkg/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInvalidWindow        = "invalid_window"
	errorCrossDayWindow       = "cross_day_window"
	errorPastWindow           = "past_window"
	errorInvalidPayment       = "invalid_payment"
	errorInvalidRatePlan      = "invalid_rate_plan"
	errorInvalidFilter        = "invalid_filter"
	errorInvalidSpotID        = "invalid_spot_id"
	errorInvalidReservationID = "invalid_reservation_id"
	errorInvalidCustomerID    = "invalid_customer_id"
	errorInvalidVehicleID     = "invalid_vehicle_id"
	errorInvalidVehicleType   = "invalid_vehicle_type"
	errorVehicleNotOwned      = "vehicle_not_owned"
	errorSpotUnavailable      = "spot_unavailable"
	errorWindowConflict       = "window_conflict"
	errorSpotNotFound         = "spot_not_found"
	errorReservationNotFound  = "reservation_not_found"
	errorPaymentNotFound      = "payment_not_found"
	errorAlreadyFinalized     = "already_finalized"
	errorAlreadyPaid          = "already_paid"
	errorHardDeleteDisallowed = "hard_delete_disallowed"
	errorStoreUnavailable     = "store_unavailable"
	errorInternal             = "internal_error"
)

type errorMapping struct {
	sentinel error
	code     codes.Code
	name     string
}

var errorMappings = []errorMapping{
	{ledger.ErrInvalidSpotID, codes.InvalidArgument, errorInvalidSpotID},
	{ledger.ErrInvalidReservationID, codes.InvalidArgument, errorInvalidReservationID},
	{ledger.ErrInvalidCustomerID, codes.InvalidArgument, errorInvalidCustomerID},
	{ledger.ErrInvalidVehicleID, codes.InvalidArgument, errorInvalidVehicleID},
	{ledger.ErrInvalidVehicleType, codes.InvalidArgument, errorInvalidVehicleType},
	{ledger.ErrInvalidWindow, codes.InvalidArgument, errorInvalidWindow},
	{ledger.ErrCrossDayWindow, codes.InvalidArgument, errorCrossDayWindow},
	{ledger.ErrPastWindow, codes.InvalidArgument, errorPastWindow},
	{ledger.ErrInvalidPayment, codes.InvalidArgument, errorInvalidPayment},
	{ledger.ErrInvalidRatePlan, codes.InvalidArgument, errorInvalidRatePlan},
	{ledger.ErrInvalidFilter, codes.InvalidArgument, errorInvalidFilter},
	{ledger.ErrVehicleNotOwned, codes.PermissionDenied, errorVehicleNotOwned},
	{ledger.ErrSpotUnavailable, codes.Aborted, errorSpotUnavailable},
	{ledger.ErrWindowConflict, codes.Aborted, errorWindowConflict},
	{ledger.ErrSpotNotFound, codes.NotFound, errorSpotNotFound},
	{ledger.ErrReservationNotFound, codes.NotFound, errorReservationNotFound},
	{ledger.ErrPaymentNotFound, codes.NotFound, errorPaymentNotFound},
	{ledger.ErrAlreadyFinalized, codes.FailedPrecondition, errorAlreadyFinalized},
	{ledger.ErrAlreadyPaid, codes.FailedPrecondition, errorAlreadyPaid},
	{ledger.ErrHardDeleteDisallowed, codes.FailedPrecondition, errorHardDeleteDisallowed},
}

// ReservationLedgerServer exposes the reservation ledger over gRPC.
type ReservationLedgerServer struct {
	parkwisev1.UnimplementedReservationLedgerServer
	ledgerService *ledger.Service
	ratePlans     ledger.RatePlanBook
}

// NewReservationLedgerServer constructs a gRPC server for the ledger service.
// A nil ratePlans falls back to ledger.DefaultRatePlans.
func NewReservationLedgerServer(ledgerService *ledger.Service, ratePlans ledger.RatePlanBook) *ReservationLedgerServer {
	if len(ratePlans) == 0 {
		ratePlans = ledger.DefaultRatePlans()
	}
	return &ReservationLedgerServer{ledgerService: ledgerService, ratePlans: ratePlans}
}

func (server *ReservationLedgerServer) CreateReservation(ctx context.Context, request *parkwisev1.CreateReservationRequest) (*parkwisev1.ReservationResponse, error) {
	customerID, err := ledger.NewCustomerID(request.CustomerId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	spotID, err := ledger.NewSpotID(request.SpotId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	vehicleID, err := ledger.NewVehicleID(request.VehicleId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	ratePlan, err := server.lookupRatePlan(request.VehicleType)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservation, operationError := server.ledgerService.CreateReservation(ctx, spotID, customerID, vehicleID, windowFromUnix(request.StartUnixUtc, request.EndUnixUtc), ratePlan)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &parkwisev1.ReservationResponse{Reservation: toReservationMessage(reservation)}, nil
}

func (server *ReservationLedgerServer) UpdateReservationWindow(ctx context.Context, request *parkwisev1.UpdateReservationWindowRequest) (*parkwisev1.ReservationResponse, error) {
	customerID, err := ledger.NewCustomerID(request.CustomerId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservationID, err := ledger.NewReservationID(request.ReservationId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservation, operationError := server.ledgerService.UpdateReservationWindow(ctx, reservationID, customerID, windowFromUnix(request.StartUnixUtc, request.EndUnixUtc))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &parkwisev1.ReservationResponse{Reservation: toReservationMessage(reservation)}, nil
}

func (server *ReservationLedgerServer) CancelReservation(ctx context.Context, request *parkwisev1.CancelReservationRequest) (*parkwisev1.ReservationResponse, error) {
	customerID, err := ledger.NewCustomerID(request.CustomerId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservationID, err := ledger.NewReservationID(request.ReservationId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	cancelled, operationError := server.ledgerService.CancelReservation(ctx, reservationID, customerID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &parkwisev1.ReservationResponse{Reservation: toReservationMessage(cancelled)}, nil
}

func (server *ReservationLedgerServer) DeleteReservation(ctx context.Context, request *parkwisev1.DeleteReservationRequest) (*parkwisev1.Empty, error) {
	customerID, err := ledger.NewCustomerID(request.CustomerId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservationID, err := ledger.NewReservationID(request.ReservationId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if operationError := server.ledgerService.DeleteReservation(ctx, reservationID, customerID); operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &parkwisev1.Empty{}, nil
}

func (server *ReservationLedgerServer) PayReservation(ctx context.Context, request *parkwisev1.PayReservationRequest) (*parkwisev1.PaymentResponse, error) {
	customerID, err := ledger.NewCustomerID(request.CustomerId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservationID, err := ledger.NewReservationID(request.ReservationId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	method, err := ledger.ParsePaymentMethod(request.Method)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	discount, err := ledger.ParseDiscountType(request.Discount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	payment, paid, operationError := server.ledgerService.PayReservation(ctx, reservationID, customerID, ledger.PaymentRequest{
		Amount:       ledger.AmountCents(request.AmountCents),
		Method:       method,
		Discount:     discount,
		ContactEmail: strings.TrimSpace(request.ContactEmail),
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &parkwisev1.PaymentResponse{Payment: toPaymentMessage(payment), Reservation: toReservationMessage(paid)}, nil
}

func (server *ReservationLedgerServer) ListReservations(ctx context.Context, request *parkwisev1.ListReservationsRequest) (*parkwisev1.ListReservationsResponse, error) {
	customerID, err := ledger.NewCustomerID(request.CustomerId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	filter, err := ledger.ParseReservationFilter(request.Filter)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	query := ledger.ReservationQuery{Filter: filter, Limit: int(request.Limit)}
	if request.BeforeUnixUtc > 0 {
		query.Before = time.Unix(request.BeforeUnixUtc, 0).UTC()
	}
	if strings.TrimSpace(request.BeforeReservationId) != "" {
		query.BeforeID, err = ledger.NewReservationID(request.BeforeReservationId)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	reservations, operationError := server.ledgerService.ListReservations(ctx, customerID, query)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	spotIDs := make([]ledger.SpotID, 0, len(reservations))
	for _, reservation := range reservations {
		spotIDs = append(spotIDs, reservation.SpotID)
	}
	locations, operationError := server.ledgerService.SpotLocations(ctx, spotIDs)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &parkwisev1.ListReservationsResponse{Reservations: make([]*parkwisev1.Reservation, 0, len(reservations))}
	for _, reservation := range reservations {
		message := toReservationMessage(reservation)
		if location, ok := locations[reservation.SpotID]; ok {
			message.Location = toSpotLocationMessage(location)
		}
		response.Reservations = append(response.Reservations, message)
	}
	return response, nil
}

func (server *ReservationLedgerServer) GetReceipt(ctx context.Context, request *parkwisev1.GetReceiptRequest) (*parkwisev1.Receipt, error) {
	customerID, err := ledger.NewCustomerID(request.CustomerId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservationID, err := ledger.NewReservationID(request.ReservationId)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	receipt, operationError := server.ledgerService.Receipt(ctx, reservationID, customerID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &parkwisev1.Receipt{
		Reservation:   toReservationMessage(receipt.Reservation),
		SpotName:      receipt.Location.SpotName,
		BlockName:     receipt.Location.BlockName,
		FloorName:     receipt.Location.FloorName,
		FloorNumber:   int32(receipt.Location.FloorNumber),
		ControlNumber: receipt.ControlNumber,
	}
	if receipt.Payment != nil {
		response.Payment = toPaymentMessage(*receipt.Payment)
	}
	return response, nil
}

func (server *ReservationLedgerServer) ListSpots(ctx context.Context, request *parkwisev1.ListSpotsRequest) (*parkwisev1.ListSpotsResponse, error) {
	views, operationError := server.ledgerService.ListSpots(ctx, ledger.SpotQuery{
		FloorNumber: int(request.FloorNumber),
		BlockName:   strings.ToUpper(strings.TrimSpace(request.BlockName)),
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &parkwisev1.ListSpotsResponse{Spots: make([]*parkwisev1.Spot, 0, len(views))}
	for _, view := range views {
		response.Spots = append(response.Spots, &parkwisev1.Spot{
			SpotId:      view.Spot.ID.String(),
			Name:        view.Location.SpotName,
			BlockName:   view.Location.BlockName,
			FloorName:   view.Location.FloorName,
			FloorNumber: int32(view.Location.FloorNumber),
			Flag:        view.Spot.Flag.String(),
			Status:      view.Status.String(),
		})
	}
	return response, nil
}

func (server *ReservationLedgerServer) GetDashboard(ctx context.Context, _ *parkwisev1.GetDashboardRequest) (*parkwisev1.Dashboard, error) {
	stats, operationError := server.ledgerService.DashboardStats(ctx)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &parkwisev1.Dashboard{
		ReservationsToday:  stats.ReservationsToday,
		ActiveReservations: stats.ActiveReservations,
		AvailableSpots:     stats.AvailableSpots,
		TotalSpots:         stats.TotalSpots,
	}, nil
}

func (server *ReservationLedgerServer) QuoteReservation(_ context.Context, request *parkwisev1.QuoteReservationRequest) (*parkwisev1.Quote, error) {
	ratePlan, err := server.lookupRatePlan(request.VehicleType)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	window := windowFromUnix(request.StartUnixUtc, request.EndUnixUtc)
	amount, operationError := server.ledgerService.Quote(window, ratePlan)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &parkwisev1.Quote{
		AmountCents:     amount.Int64(),
		DurationSeconds: int64(window.Duration() / time.Second),
		VehicleType:     ratePlan.VehicleType.String(),
		BaseHours:       int32(ratePlan.Plan.BaseHours),
		BaseRateCents:   ratePlan.Plan.BaseRate.Int64(),
		HourlyRateCents: ratePlan.Plan.HourlyRate.Int64(),
	}, nil
}

// lookupRatePlan resolves the plan for a vehicle type; an empty type means car.
func (server *ReservationLedgerServer) lookupRatePlan(rawVehicleType string) (ledger.VehicleRatePlan, error) {
	if strings.TrimSpace(rawVehicleType) == "" {
		return server.ratePlans.Lookup(ledger.VehicleCar)
	}
	vehicleType, err := ledger.ParseVehicleType(rawVehicleType)
	if err != nil {
		return ledger.VehicleRatePlan{}, err
	}
	return server.ratePlans.Lookup(vehicleType)
}

func windowFromUnix(startUnix int64, endUnix int64) ledger.Window {
	return ledger.NewWindow(time.Unix(startUnix, 0).UTC(), time.Unix(endUnix, 0).UTC())
}

func toReservationMessage(reservation ledger.Reservation) *parkwisev1.Reservation {
	return &parkwisev1.Reservation{
		ReservationId:   reservation.ID.String(),
		SpotId:          reservation.SpotID.String(),
		CustomerId:      reservation.CustomerID.String(),
		VehicleId:       reservation.VehicleID.String(),
		VehicleType:     reservation.VehicleType.String(),
		StartUnixUtc:    reservation.Window.Start.Unix(),
		EndUnixUtc:      reservation.Window.End.Unix(),
		Status:          reservation.Status.String(),
		DurationSeconds: int64(reservation.Duration / time.Second),
		AmountCents:     reservation.Amount.Int64(),
		BaseHours:       int32(reservation.Plan.BaseHours),
		BaseRateCents:   reservation.Plan.BaseRate.Int64(),
		HourlyRateCents: reservation.Plan.HourlyRate.Int64(),
		PaymentId:       reservation.PaymentID.String(),
		ControlNumber:   reservation.ControlNumber(),
		CreatedUnixUtc:  reservation.CreatedAt.Unix(),
		UpdatedUnixUtc:  reservation.UpdatedAt.Unix(),
	}
}

func toSpotLocationMessage(location ledger.SpotLocation) *parkwisev1.SpotLocation {
	return &parkwisev1.SpotLocation{
		SpotName:    location.SpotName,
		BlockName:   location.BlockName,
		FloorName:   location.FloorName,
		FloorNumber: int32(location.FloorNumber),
	}
}

func toPaymentMessage(payment ledger.Payment) *parkwisev1.Payment {
	return &parkwisev1.Payment{
		PaymentId:           payment.ID.String(),
		ReservationId:       payment.ReservationID.String(),
		AmountCents:         payment.Amount.Int64(),
		OriginalAmountCents: payment.OriginalAmount.Int64(),
		DiscountAmountCents: payment.DiscountAmount.Int64(),
		Discount:            payment.Discount.String(),
		Method:              payment.Method.String(),
		Status:              payment.Status.String(),
		ContactEmail:        payment.ContactEmail,
		PaidUnixUtc:         payment.PaidAt.Unix(),
	}
}

// mapToGRPCError renders err as "<stable_code>: <detail>" under the matching gRPC code.
func mapToGRPCError(source error) error {
	if source == nil {
		return nil
	}
	for _, mapping := range errorMappings {
		if errors.Is(source, mapping.sentinel) {
			return status.Error(mapping.code, fmt.Sprintf("%s: %s", mapping.name, source.Error()))
		}
	}
	if ledger.ClassOf(source) == ledger.ErrorClassStore {
		return status.Error(codes.Unavailable, errorStoreUnavailable)
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	if errors.Is(source, context.Canceled) {
		return status.Error(codes.Canceled, source.Error())
	}
	return status.Error(codes.Internal, errorInternal)
}

// ErrorName extracts the stable code from a status message produced by mapToGRPCError.
func ErrorName(err error) string {
	statusInfo, ok := status.FromError(err)
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(statusInfo.Message(), ":")
	return strings.TrimSpace(name)
}
