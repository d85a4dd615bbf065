package parkwisev1

// Empty is returned by calls with no payload.
type Empty struct{}

// Reservation is the wire form of a reservation. Times are unix seconds UTC.
type Reservation struct {
	ReservationId   string `json:"reservation_id"`
	SpotId          string `json:"spot_id"`
	CustomerId      string `json:"customer_id"`
	VehicleId       string `json:"vehicle_id"`
	VehicleType     string `json:"vehicle_type"`
	StartUnixUtc    int64  `json:"start_unix_utc"`
	EndUnixUtc      int64  `json:"end_unix_utc"`
	Status          string `json:"status"`
	DurationSeconds int64  `json:"duration_seconds"`
	AmountCents     int64  `json:"amount_cents"`
	BaseHours       int32  `json:"base_hours"`
	BaseRateCents   int64  `json:"base_rate_cents"`
	HourlyRateCents int64  `json:"hourly_rate_cents"`
	PaymentId       string `json:"payment_id,omitempty"`
	ControlNumber   string `json:"control_number"`
	CreatedUnixUtc  int64  `json:"created_unix_utc"`
	UpdatedUnixUtc  int64  `json:"updated_unix_utc"`

	// Location is filled on listings.
	Location *SpotLocation `json:"location,omitempty"`
}

// SpotLocation names where a spot sits.
type SpotLocation struct {
	SpotName    string `json:"spot_name"`
	BlockName   string `json:"block_name"`
	FloorName   string `json:"floor_name"`
	FloorNumber int32  `json:"floor_number"`
}

// Payment is the wire form of a settled payment.
type Payment struct {
	PaymentId           string `json:"payment_id"`
	ReservationId       string `json:"reservation_id"`
	AmountCents         int64  `json:"amount_cents"`
	OriginalAmountCents int64  `json:"original_amount_cents"`
	DiscountAmountCents int64  `json:"discount_amount_cents"`
	Discount            string `json:"discount"`
	Method              string `json:"method"`
	Status              string `json:"status"`
	ContactEmail        string `json:"contact_email,omitempty"`
	PaidUnixUtc         int64  `json:"paid_unix_utc"`
}

// Spot is a spot with its location and derived status.
type Spot struct {
	SpotId      string `json:"spot_id"`
	Name        string `json:"name"`
	BlockName   string `json:"block_name"`
	FloorName   string `json:"floor_name"`
	FloorNumber int32  `json:"floor_number"`
	Flag        string `json:"flag"`
	Status      string `json:"status"`
}

type CreateReservationRequest struct {
	CustomerId   string `json:"customer_id"`
	SpotId       string `json:"spot_id"`
	VehicleId    string `json:"vehicle_id"`
	VehicleType  string `json:"vehicle_type"`
	StartUnixUtc int64  `json:"start_unix_utc"`
	EndUnixUtc   int64  `json:"end_unix_utc"`
}

type UpdateReservationWindowRequest struct {
	CustomerId    string `json:"customer_id"`
	ReservationId string `json:"reservation_id"`
	StartUnixUtc  int64  `json:"start_unix_utc"`
	EndUnixUtc    int64  `json:"end_unix_utc"`
}

type ReservationResponse struct {
	Reservation *Reservation `json:"reservation"`
}

type CancelReservationRequest struct {
	CustomerId    string `json:"customer_id"`
	ReservationId string `json:"reservation_id"`
}

type DeleteReservationRequest struct {
	CustomerId    string `json:"customer_id"`
	ReservationId string `json:"reservation_id"`
}

type PayReservationRequest struct {
	CustomerId    string `json:"customer_id"`
	ReservationId string `json:"reservation_id"`
	AmountCents   int64  `json:"amount_cents"`
	Method        string `json:"method"`
	Discount      string `json:"discount"`
	ContactEmail  string `json:"contact_email,omitempty"`
}

type PaymentResponse struct {
	Payment     *Payment     `json:"payment"`
	Reservation *Reservation `json:"reservation"`
}

// ListReservationsRequest pages newest first. BeforeUnixUtc and
// BeforeReservationId carry the start and id of the previous page's last row.
type ListReservationsRequest struct {
	CustomerId          string `json:"customer_id"`
	Filter              string `json:"filter"`
	BeforeUnixUtc       int64  `json:"before_unix_utc"`
	BeforeReservationId string `json:"before_reservation_id,omitempty"`
	Limit               int32  `json:"limit"`
}

type ListReservationsResponse struct {
	Reservations []*Reservation `json:"reservations"`
}

type GetReceiptRequest struct {
	CustomerId    string `json:"customer_id"`
	ReservationId string `json:"reservation_id"`
}

// Receipt is the read projection consumed by receipt rendering.
type Receipt struct {
	Reservation   *Reservation `json:"reservation"`
	Payment       *Payment     `json:"payment,omitempty"`
	SpotName      string       `json:"spot_name"`
	BlockName     string       `json:"block_name"`
	FloorName     string       `json:"floor_name"`
	FloorNumber   int32        `json:"floor_number"`
	ControlNumber string       `json:"control_number"`
}

type ListSpotsRequest struct {
	FloorNumber int32  `json:"floor_number"`
	BlockName   string `json:"block_name"`
}

type ListSpotsResponse struct {
	Spots []*Spot `json:"spots"`
}

type GetDashboardRequest struct{}

type Dashboard struct {
	ReservationsToday  int64 `json:"reservations_today"`
	ActiveReservations int64 `json:"active_reservations"`
	AvailableSpots     int64 `json:"available_spots"`
	TotalSpots         int64 `json:"total_spots"`
}

type QuoteReservationRequest struct {
	VehicleType  string `json:"vehicle_type"`
	StartUnixUtc int64  `json:"start_unix_utc"`
	EndUnixUtc   int64  `json:"end_unix_utc"`
}

type Quote struct {
	AmountCents     int64  `json:"amount_cents"`
	DurationSeconds int64  `json:"duration_seconds"`
	VehicleType     string `json:"vehicle_type"`
	BaseHours       int32  `json:"base_hours"`
	BaseRateCents   int64  `json:"base_rate_cents"`
	HourlyRateCents int64  `json:"hourly_rate_cents"`
}
