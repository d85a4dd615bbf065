package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Floor represents the floors table.
type Floor struct {
	FloorID   string    `gorm:"type:uuid;primaryKey"`
	Number    int       `gorm:"not null;uniqueIndex:uniq_floors_number"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Floor) TableName() string { return "floors" }

func (floor *Floor) BeforeCreate(tx *gorm.DB) error {
	if floor.FloorID == "" {
		floor.FloorID = uuid.NewString()
	}
	return nil
}

// Block represents the blocks table.
type Block struct {
	BlockID   string    `gorm:"type:uuid;primaryKey"`
	FloorID   string    `gorm:"type:uuid;not null;uniqueIndex:uniq_blocks_floor_name,priority:1"`
	Name      string    `gorm:"not null;uniqueIndex:uniq_blocks_floor_name,priority:2"`
	Capacity  int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Block) TableName() string { return "blocks" }

func (block *Block) BeforeCreate(tx *gorm.DB) error {
	if block.BlockID == "" {
		block.BlockID = uuid.NewString()
	}
	return nil
}

// Spot represents the spots table. Flag is the stored availability hint.
type Spot struct {
	SpotID    string    `gorm:"type:uuid;primaryKey"`
	BlockID   string    `gorm:"type:uuid;not null;uniqueIndex:uniq_spots_block_name,priority:1"`
	Name      string    `gorm:"not null;uniqueIndex:uniq_spots_block_name,priority:2"`
	Flag      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Spot) TableName() string { return "spots" }

func (spot *Spot) BeforeCreate(tx *gorm.DB) error {
	if spot.SpotID == "" {
		spot.SpotID = uuid.NewString()
	}
	return nil
}

// Reservation mirrors the reservations table. The rate plan is snapshotted so
// reschedules reprice with the plan the booking was made under.
type Reservation struct {
	ReservationID   string    `gorm:"primaryKey"`
	SpotID          string    `gorm:"type:uuid;not null;index:idx_reservations_spot_status,priority:1"`
	Status          string    `gorm:"not null;index:idx_reservations_spot_status,priority:2"`
	CustomerID      string    `gorm:"not null;index:idx_reservations_customer_start,priority:1"`
	StartAt         time.Time `gorm:"not null;index:idx_reservations_customer_start,priority:2"`
	EndAt           time.Time `gorm:"not null"`
	VehicleID       string    `gorm:"not null"`
	VehicleType     string    `gorm:"not null"`
	BaseHours       int       `gorm:"not null"`
	BaseRateCents   int64     `gorm:"not null"`
	HourlyRateCents int64     `gorm:"not null"`
	DurationSeconds int64     `gorm:"not null"`
	AmountCents     int64     `gorm:"not null"`
	PaymentID       *string   `gorm:""`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

// Payment mirrors the payments table. One payment per reservation.
type Payment struct {
	PaymentID           string         `gorm:"primaryKey"`
	ReservationID       string         `gorm:"not null;uniqueIndex:uniq_payments_reservation"`
	AmountCents         int64          `gorm:"not null"`
	OriginalAmountCents int64          `gorm:"not null"`
	DiscountAmountCents int64          `gorm:"not null"`
	Discount            string         `gorm:"not null"`
	Method              string         `gorm:"not null"`
	Status              string         `gorm:"not null"`
	Details             datatypes.JSON `gorm:"type:jsonb;not null"`
	PaidAt              time.Time      `gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// Models lists every table in migration order.
func Models() []interface{} {
	return []interface{}{&Floor{}, &Block{}, &Spot{}, &Reservation{}, &Payment{}}
}
