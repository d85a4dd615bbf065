package ledger

import (
	"context"
	"time"
)

// ListSpots returns the spots matching query annotated with their derived status.
// Reads take no locks and may trail a concurrent commit.
func (service *Service) ListSpots(ctx context.Context, query SpotQuery) ([]SpotView, error) {
	views, err := service.store.ListSpots(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return views, nil
	}
	spotIDs := make([]SpotID, 0, len(views))
	for _, view := range views {
		spotIDs = append(spotIDs, view.Spot.ID)
	}
	now := service.now()
	active, err := service.store.ListActiveReservations(ctx, spotIDs, now)
	if err != nil {
		return nil, err
	}
	bySpot := make(map[SpotID][]Reservation, len(views))
	for _, reservation := range active {
		bySpot[reservation.SpotID] = append(bySpot[reservation.SpotID], reservation)
	}
	for index := range views {
		views[index].Status = ResolveStatus(views[index].Spot, bySpot[views[index].Spot.ID], now)
	}
	return views, nil
}

// DashboardStats counts today's reservations, active reservations and spots
// currently resolved as available.
func (service *Service) DashboardStats(ctx context.Context) (DashboardStats, error) {
	dayStart, dayEnd := service.dayBounds(service.now())
	today, err := service.store.CountReservationsStarting(ctx, dayStart, dayEnd)
	if err != nil {
		return DashboardStats{}, err
	}
	active, err := service.store.CountActiveReservations(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	views, err := service.ListSpots(ctx, SpotQuery{})
	if err != nil {
		return DashboardStats{}, err
	}
	stats := DashboardStats{
		ReservationsToday:  today,
		ActiveReservations: active,
		TotalSpots:         int64(len(views)),
	}
	for _, view := range views {
		if view.Status == SpotStatusAvailable {
			stats.AvailableSpots++
		}
	}
	return stats, nil
}

// SpotLocations resolves floor, block and spot names for a listing page.
// Each distinct spot is read once.
func (service *Service) SpotLocations(ctx context.Context, spotIDs []SpotID) (map[SpotID]SpotLocation, error) {
	locations := make(map[SpotID]SpotLocation, len(spotIDs))
	for _, spotID := range spotIDs {
		if _, seen := locations[spotID]; seen {
			continue
		}
		location, err := service.store.GetSpotLocation(ctx, spotID)
		if err != nil {
			return nil, err
		}
		locations[spotID] = location
	}
	return locations, nil
}

// Receipt builds the receipt projection of a customer's reservation.
func (service *Service) Receipt(ctx context.Context, reservationID ReservationID, customerID CustomerID) (Receipt, error) {
	reservation, err := loadOwnedReservation(ctx, service.store, reservationID, customerID)
	if err != nil {
		return Receipt{}, err
	}
	location, err := service.store.GetSpotLocation(ctx, reservation.SpotID)
	if err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{
		Reservation:   reservation,
		Location:      location,
		ControlNumber: reservation.ControlNumber(),
	}
	if reservation.HasPayment() {
		payment, err := service.store.GetPayment(ctx, reservation.PaymentID)
		if err != nil {
			return Receipt{}, err
		}
		receipt.Payment = &payment
	}
	return receipt, nil
}

func (service *Service) dayBounds(instant time.Time) (time.Time, time.Time) {
	year, month, day := instant.In(service.location).Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, service.location)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}
