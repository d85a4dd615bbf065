package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AmountCents is an integer currency in cents.
type AmountCents int64

// Int64 returns the raw cent value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// FloorID identifies a floor.
type FloorID struct {
	value string
}

// BlockID identifies a block on a floor.
type BlockID struct {
	value string
}

// SpotID identifies a parking spot.
type SpotID struct {
	value string
}

// ReservationID identifies a reservation.
type ReservationID struct {
	value string
}

// PaymentID identifies a payment.
type PaymentID struct {
	value string
}

// CustomerID is the authenticated principal supplied by the auth gateway.
type CustomerID struct {
	value string
}

// VehicleID is supplied by the vehicle registry.
type VehicleID struct {
	value string
}

func normalizeIdentifier(raw string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", sentinel)
	}
	return trimmed, nil
}

// NewFloorID validates and normalizes a floor id.
func NewFloorID(raw string) (FloorID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidFloorID)
	return FloorID{value: value}, err
}

// String returns the normalized identifier.
func (id FloorID) String() string {
	return id.value
}

// NewBlockID validates and normalizes a block id.
func NewBlockID(raw string) (BlockID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidBlockID)
	return BlockID{value: value}, err
}

// String returns the normalized identifier.
func (id BlockID) String() string {
	return id.value
}

// NewSpotID validates and normalizes a spot id.
func NewSpotID(raw string) (SpotID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidSpotID)
	return SpotID{value: value}, err
}

// String returns the normalized identifier.
func (id SpotID) String() string {
	return id.value
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidReservationID)
	return ReservationID{value: value}, err
}

// String returns the normalized identifier.
func (id ReservationID) String() string {
	return id.value
}

// NewPaymentID validates and normalizes a payment id.
func NewPaymentID(raw string) (PaymentID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidPaymentID)
	return PaymentID{value: value}, err
}

// String returns the normalized identifier.
func (id PaymentID) String() string {
	return id.value
}

// NewCustomerID validates and normalizes a customer id.
func NewCustomerID(raw string) (CustomerID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidCustomerID)
	return CustomerID{value: value}, err
}

// String returns the normalized identifier.
func (id CustomerID) String() string {
	return id.value
}

// NewVehicleID validates and normalizes a vehicle id.
func NewVehicleID(raw string) (VehicleID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidVehicleID)
	return VehicleID{value: value}, err
}

// String returns the normalized identifier.
func (id VehicleID) String() string {
	return id.value
}

// SpotFlag is the two-valued status stored on a spot.
type SpotFlag string

const (
	SpotFlagAvailable SpotFlag = "available"
	SpotFlagReserved  SpotFlag = "reserved"
)

// ParseSpotFlag validates a stored flag.
func ParseSpotFlag(raw string) (SpotFlag, error) {
	switch SpotFlag(strings.ToLower(strings.TrimSpace(raw))) {
	case SpotFlagAvailable:
		return SpotFlagAvailable, nil
	case SpotFlagReserved:
		return SpotFlagReserved, nil
	default:
		return "", fmt.Errorf("%w: spot flag %q", ErrInvalidStoredValue, raw)
	}
}

// String returns the flag value.
func (flag SpotFlag) String() string {
	return string(flag)
}

// SpotStatus is the derived three-valued status shown to customers.
type SpotStatus string

const (
	SpotStatusAvailable SpotStatus = "available"
	SpotStatusReserved  SpotStatus = "reserved"
	SpotStatusOccupied  SpotStatus = "occupied"
)

// String returns the status value.
func (status SpotStatus) String() string {
	return string(status)
}

// ReservationStatus defines the reservation lifecycle.
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusCompleted ReservationStatus = "completed"
)

// ParseReservationStatus validates a stored reservation status.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	switch ReservationStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case ReservationStatusActive:
		return ReservationStatusActive, nil
	case ReservationStatusCancelled:
		return ReservationStatusCancelled, nil
	case ReservationStatusCompleted:
		return ReservationStatusCompleted, nil
	default:
		return "", fmt.Errorf("%w: reservation status %q", ErrInvalidStoredValue, raw)
	}
}

// String returns the status value.
func (status ReservationStatus) String() string {
	return string(status)
}

// IsTerminal reports whether no further transition is possible.
func (status ReservationStatus) IsTerminal() bool {
	return status == ReservationStatusCancelled || status == ReservationStatusCompleted
}

// PaymentStatus defines the payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
)

// ParsePaymentStatus validates a stored payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentStatusPending:
		return PaymentStatusPending, nil
	case PaymentStatusCompleted:
		return PaymentStatusCompleted, nil
	default:
		return "", fmt.Errorf("%w: payment status %q", ErrInvalidStoredValue, raw)
	}
}

// String returns the status value.
func (status PaymentStatus) String() string {
	return string(status)
}

// PaymentMethod is how the customer settled a reservation.
type PaymentMethod string

const (
	PaymentMethodCash    PaymentMethod = "cash"
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodEWallet PaymentMethod = "ewallet"
)

// ParsePaymentMethod normalizes a method; empty input defaults to cash.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return PaymentMethodCash, nil
	}
	switch PaymentMethod(normalized) {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodEWallet:
		return PaymentMethod(normalized), nil
	default:
		return "", fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, raw)
	}
}

// String returns the method value.
func (method PaymentMethod) String() string {
	return string(method)
}

// DiscountType selects a payment discount.
type DiscountType string

const (
	DiscountRegular DiscountType = "regular"
	DiscountStudent DiscountType = "student"
	DiscountSenior  DiscountType = "senior"
)

// ParseDiscountType normalizes a discount; empty input means regular.
func ParseDiscountType(raw string) (DiscountType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return DiscountRegular, nil
	}
	switch DiscountType(normalized) {
	case DiscountRegular, DiscountStudent, DiscountSenior:
		return DiscountType(normalized), nil
	default:
		return "", fmt.Errorf("%w: unknown discount %q", ErrInvalidPayment, raw)
	}
}

// String returns the discount value.
func (discount DiscountType) String() string {
	return string(discount)
}

// VehicleType selects the rate plan a reservation is priced with.
type VehicleType string

const (
	VehicleCar        VehicleType = "car"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleBike       VehicleType = "bike"
	VehicleVan        VehicleType = "van"
	VehicleTruck      VehicleType = "truck"
)

// ParseVehicleType normalizes a vehicle type.
func ParseVehicleType(raw string) (VehicleType, error) {
	normalized := VehicleType(strings.ToLower(strings.TrimSpace(raw)))
	switch normalized {
	case VehicleCar, VehicleMotorcycle, VehicleBike, VehicleVan, VehicleTruck:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVehicleType, raw)
	}
}

// String returns the vehicle type value.
func (vehicleType VehicleType) String() string {
	return string(vehicleType)
}

// Floor is a level of the parking structure.
type Floor struct {
	ID     FloorID
	Number int
	Name   string
}

// Block groups spots on a floor.
type Block struct {
	ID       BlockID
	FloorID  FloorID
	Name     string
	Capacity int
}

// Spot is the unit of inventory.
type Spot struct {
	ID      SpotID
	BlockID BlockID
	Name    string
	Flag    SpotFlag
}

// SpotLocation carries the display names of a spot's block and floor.
type SpotLocation struct {
	SpotName    string
	BlockName   string
	FloorName   string
	FloorNumber int
}

// SpotView is a spot annotated with its location and derived status.
type SpotView struct {
	Spot     Spot
	Location SpotLocation
	Status   SpotStatus
}

// Reservation is a customer's hold on a spot for a window.
type Reservation struct {
	ID          ReservationID
	SpotID      SpotID
	CustomerID  CustomerID
	VehicleID   VehicleID
	VehicleType VehicleType
	Window      Window
	Status      ReservationStatus
	Plan        RatePlan
	Duration    time.Duration
	Amount      AmountCents
	PaymentID   PaymentID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasPayment reports whether a payment is linked.
func (reservation Reservation) HasPayment() bool {
	return reservation.PaymentID.String() != ""
}

// ControlNumber renders the customer-facing reference printed on receipts.
func (reservation Reservation) ControlNumber() string {
	return formatControlNumber(reservation.ID)
}

func formatControlNumber(reservationID ReservationID) string {
	compact := strings.ToUpper(strings.ReplaceAll(reservationID.String(), "-", ""))
	if len(compact) > controlNumberLength {
		compact = compact[:controlNumberLength]
	}
	return controlNumberPrefix + strings.Repeat("0", controlNumberLength-len(compact)) + compact
}

// PaymentRequest is the caller-supplied settlement.
type PaymentRequest struct {
	Amount       AmountCents
	Method       PaymentMethod
	Discount     DiscountType
	ContactEmail string
}

// Payment settles a reservation.
type Payment struct {
	ID             PaymentID
	ReservationID  ReservationID
	Amount         AmountCents
	OriginalAmount AmountCents
	DiscountAmount AmountCents
	Discount       DiscountType
	Method         PaymentMethod
	Status         PaymentStatus
	ContactEmail   string
	PaidAt         time.Time
}

// ReservationFilter selects reservations for listing.
type ReservationFilter string

const (
	FilterAll     ReservationFilter = "all"
	FilterRecent  ReservationFilter = "recent"
	FilterPending ReservationFilter = "pending"
)

// ParseReservationFilter normalizes a filter; empty input means all.
func ParseReservationFilter(raw string) (ReservationFilter, error) {
	normalized := ReservationFilter(strings.ToLower(strings.TrimSpace(raw)))
	switch normalized {
	case "":
		return FilterAll, nil
	case FilterAll, FilterRecent, FilterPending:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, raw)
	}
}

// ReservationQuery is the caller-facing listing request. Before and BeforeID
// are the start and id of the last row of the previous page; reservations
// sharing that start are continued by id. A zero BeforeID compares by start only.
type ReservationQuery struct {
	Filter   ReservationFilter
	Before   time.Time
	BeforeID ReservationID
	Limit    int
}

// ReservationCriteria is the store-level listing predicate.
type ReservationCriteria struct {
	CustomerID CustomerID
	StartsFrom time.Time
	Statuses   []ReservationStatus
	Before     time.Time
	BeforeID   ReservationID
	Limit      int
}

// SpotQuery narrows a spot listing; zero values match everything.
type SpotQuery struct {
	FloorNumber int
	BlockName   string
}

// DashboardStats aggregates the current ledger state.
type DashboardStats struct {
	ReservationsToday  int64
	ActiveReservations int64
	AvailableSpots     int64
	TotalSpots         int64
}

// Receipt is the read projection consumed by the receipt renderer.
type Receipt struct {
	Reservation   Reservation
	Payment       *Payment
	Location      SpotLocation
	ControlNumber string
}

// Store is the persistence contract used by Service. Implementations must make
// LockSpot hold a row lock until the surrounding transaction ends.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	LockSpot(ctx context.Context, spotID SpotID) (Spot, error)
	SetSpotFlag(ctx context.Context, spotID SpotID, flag SpotFlag) error
	ListSpots(ctx context.Context, query SpotQuery) ([]SpotView, error)
	GetSpotLocation(ctx context.Context, spotID SpotID) (SpotLocation, error)

	CreateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, reservationID ReservationID) (Reservation, error)
	UpdateReservation(ctx context.Context, reservation Reservation, expected ReservationStatus) error
	ListActiveReservations(ctx context.Context, spotIDs []SpotID, endingAfter time.Time) ([]Reservation, error)
	ListReservations(ctx context.Context, criteria ReservationCriteria) ([]Reservation, error)
	CountReservationsStarting(ctx context.Context, from time.Time, to time.Time) (int64, error)
	CountActiveReservations(ctx context.Context) (int64, error)

	CreatePayment(ctx context.Context, payment Payment) error
	GetPayment(ctx context.Context, paymentID PaymentID) (Payment, error)

	EnsureFloor(ctx context.Context, floor Floor) (Floor, error)
	EnsureBlock(ctx context.Context, block Block) (Block, error)
	EnsureSpot(ctx context.Context, spot Spot) (Spot, error)
}
