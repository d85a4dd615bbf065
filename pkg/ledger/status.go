package ledger

import "time"

// ResolveStatus derives the display status of spot at now. Only Active
// reservations are considered; the stored flag is never consulted for
// Occupied, which exists only as a derived value.
func ResolveStatus(spot Spot, reservations []Reservation, now time.Time) SpotStatus {
	horizon := now.Add(StatusHorizon)
	upcoming := false
	for _, reservation := range reservations {
		if reservation.Status != ReservationStatusActive || reservation.SpotID != spot.ID {
			continue
		}
		if reservation.Window.Contains(now) {
			return SpotStatusOccupied
		}
		if reservation.Window.Start.After(now) && !reservation.Window.Start.After(horizon) {
			upcoming = true
		}
	}
	if upcoming {
		return SpotStatusReserved
	}
	return SpotStatusAvailable
}

// resolveFlag computes the stored flag implied by the active reservations of a spot.
func resolveFlag(reservations []Reservation, now time.Time) SpotFlag {
	for _, reservation := range reservations {
		if reservation.Status == ReservationStatusActive && reservation.Window.End.After(now) {
			return SpotFlagReserved
		}
	}
	return SpotFlagAvailable
}
