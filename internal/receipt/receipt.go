package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
)

const (
	// DefaultSize is the edge length in pixels of rendered QR codes.
	DefaultSize = 256
	minimumSize = 64
	timeLayout  = "2006-01-02 15:04"
)

var errEmptyControlNumber = errors.New("receipt has no control number")

// Document is everything printed on a customer receipt.
type Document struct {
	ControlNumber string    `json:"control_number"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	ReservationID string    `json:"reservation_id"`
	Status        string    `json:"status"`
	SpotName      string    `json:"spot_name"`
	BlockName     string    `json:"block_name"`
	FloorName     string    `json:"floor_name"`
	VehicleID     string    `json:"vehicle_id"`
	VehicleType   string    `json:"vehicle_type"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	DurationHours float64   `json:"duration_hours"`
	AmountCents   int64     `json:"amount_cents"`
	Paid          bool      `json:"paid"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	Discount      string    `json:"discount,omitempty"`
	DiscountCents int64     `json:"discount_cents,omitempty"`
	PaidCents     int64     `json:"paid_cents,omitempty"`
	PaidAt        time.Time `json:"paid_at"`
}

// Payload is the text encoded into the receipt QR code. Times are rendered in location.
func (document Document) Payload(location *time.Location) string {
	if location == nil {
		location = time.UTC
	}
	lines := []string{
		document.ControlNumber,
		fmt.Sprintf("Spot %s, Block %s, %s", document.SpotName, document.BlockName, document.FloorName),
		fmt.Sprintf("%s - %s", document.StartAt.In(location).Format(timeLayout), document.EndAt.In(location).Format("15:04")),
		fmt.Sprintf("Amount %s", FormatCents(document.AmountCents)),
		fmt.Sprintf("Status %s", document.Status),
	}
	if document.Paid {
		lines = append(lines, fmt.Sprintf("Paid %s by %s", FormatCents(document.PaidCents), document.PaymentMethod))
	}
	return strings.Join(lines, "\n")
}

// FormatCents renders an amount as "123.45".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// Renderer draws receipt QR codes.
type Renderer struct {
	size     int
	location *time.Location
}

// NewRenderer returns a renderer producing size×size PNGs; sizes below 64 use DefaultSize.
func NewRenderer(size int, location *time.Location) *Renderer {
	if size < minimumSize {
		size = DefaultSize
	}
	if location == nil {
		location = time.UTC
	}
	return &Renderer{size: size, location: location}
}

// Size returns the configured edge length.
func (renderer *Renderer) Size() int {
	return renderer.size
}

// PNG encodes the document payload as a QR code image.
func (renderer *Renderer) PNG(document Document) ([]byte, error) {
	if strings.TrimSpace(document.ControlNumber) == "" {
		return nil, errEmptyControlNumber
	}
	code, err := qrcode.New(document.Payload(renderer.location), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	image, err := code.PNG(renderer.size)
	if err != nil {
		return nil, fmt.Errorf("qr png: %w", err)
	}
	return image, nil
}
