package ledger

import (
	"fmt"
	"time"
)

// RatePlan is the two-tier tariff: a flat rate covering BaseHours, then an
// hourly rate for every started hour beyond it.
type RatePlan struct {
	BaseHours  int
	BaseRate   AmountCents
	HourlyRate AmountCents
}

// Validate rejects plans that cannot price a window.
func (plan RatePlan) Validate() error {
	if plan.BaseHours < 0 {
		return fmt.Errorf("%w: base hours must not be negative", ErrInvalidRatePlan)
	}
	if plan.BaseRate < 0 || plan.HourlyRate < 0 {
		return fmt.Errorf("%w: rates must not be negative", ErrInvalidRatePlan)
	}
	return nil
}

// Price computes the amount due for window under plan.
func Price(window Window, plan RatePlan) AmountCents {
	return priceDuration(window.Duration(), plan)
}

func priceDuration(duration time.Duration, plan RatePlan) AmountCents {
	excess := duration - time.Duration(plan.BaseHours)*time.Hour
	if excess <= 0 {
		return plan.BaseRate
	}
	startedHours := int64((excess + time.Hour - 1) / time.Hour)
	return plan.BaseRate + AmountCents(startedHours)*plan.HourlyRate
}

// DefaultRatePlans returns the built-in tariff per vehicle type.
func DefaultRatePlans() RatePlanBook {
	return RatePlanBook{
		VehicleCar:        {BaseHours: DefaultBaseHours, BaseRate: 5000, HourlyRate: 1000},
		VehicleMotorcycle: {BaseHours: DefaultBaseHours, BaseRate: 3000, HourlyRate: 500},
		VehicleBike:       {BaseHours: DefaultBaseHours, BaseRate: 2000, HourlyRate: 300},
		VehicleVan:        {BaseHours: DefaultBaseHours, BaseRate: 7000, HourlyRate: 1500},
		VehicleTruck:      {BaseHours: DefaultBaseHours, BaseRate: 9000, HourlyRate: 2000},
	}
}

// applyDiscount returns the amount due and the discount granted.
func applyDiscount(amount AmountCents, discount DiscountType) (AmountCents, AmountCents) {
	switch discount {
	case DiscountStudent, DiscountSenior:
		discountAmount := amount * discountPercent / 100
		return amount - discountAmount, discountAmount
	default:
		return amount, 0
	}
}

// VehicleRatePlan binds the plan a reservation is priced with to the vehicle type it was chosen for.
type VehicleRatePlan struct {
	VehicleType VehicleType
	Plan        RatePlan
}

// RatePlanBook resolves vehicle types to plans.
type RatePlanBook map[VehicleType]RatePlan

// Lookup returns the plan for vehicleType.
func (book RatePlanBook) Lookup(vehicleType VehicleType) (VehicleRatePlan, error) {
	plan, ok := book[vehicleType]
	if !ok {
		return VehicleRatePlan{}, fmt.Errorf("%w: no rate plan for %q", ErrInvalidVehicleType, vehicleType)
	}
	return VehicleRatePlan{VehicleType: vehicleType, Plan: plan}, nil
}

// Validate checks every plan in the book.
func (book RatePlanBook) Validate() error {
	if len(book) == 0 {
		return fmt.Errorf("%w: no rate plans configured", ErrInvalidRatePlan)
	}
	for vehicleType, plan := range book {
		if _, err := ParseVehicleType(vehicleType.String()); err != nil {
			return err
		}
		if err := plan.Validate(); err != nil {
			return fmt.Errorf("%s: %w", vehicleType, err)
		}
	}
	return nil
}
