package ledger

import (
	"testing"
	"time"
)

func TestResolveStatus(test *testing.T) {
	test.Parallel()
	spot := Spot{ID: SpotID{value: spotIDValue}, Flag: SpotFlagReserved}
	other := SpotID{value: otherSpotIDValue}
	active := func(spotID SpotID, window Window) Reservation {
		return Reservation{SpotID: spotID, Window: window, Status: ReservationStatusActive}
	}
	testCases := []struct {
		name         string
		reservations []Reservation
		expected     SpotStatus
	}{
		{name: "no reservations", expected: SpotStatusAvailable},
		{name: "window contains now", reservations: []Reservation{active(spot.ID, windowAt(7, 9))}, expected: SpotStatusOccupied},
		{name: "window starting now", reservations: []Reservation{active(spot.ID, windowAt(8, 9))}, expected: SpotStatusOccupied},
		{name: "window ended at now", reservations: []Reservation{active(spot.ID, windowAt(6, 8))}, expected: SpotStatusAvailable},
		{name: "upcoming today", reservations: []Reservation{active(spot.ID, windowAt(15, 16))}, expected: SpotStatusReserved},
		{
			name:         "exactly at horizon",
			reservations: []Reservation{active(spot.ID, NewWindow(fixedNow.Add(StatusHorizon), fixedNow.Add(StatusHorizon+time.Hour)))},
			expected:     SpotStatusReserved,
		},
		{
			name:         "beyond horizon",
			reservations: []Reservation{active(spot.ID, NewWindow(fixedNow.Add(StatusHorizon+time.Second), fixedNow.Add(StatusHorizon+time.Hour)))},
			expected:     SpotStatusAvailable,
		},
		{
			name:         "occupied wins over upcoming",
			reservations: []Reservation{active(spot.ID, windowAt(15, 16)), active(spot.ID, windowAt(7, 9))},
			expected:     SpotStatusOccupied,
		},
		{
			name:         "cancelled ignored",
			reservations: []Reservation{{SpotID: spot.ID, Window: windowAt(7, 9), Status: ReservationStatusCancelled}},
			expected:     SpotStatusAvailable,
		},
		{
			name:         "completed ignored",
			reservations: []Reservation{{SpotID: spot.ID, Window: windowAt(7, 9), Status: ReservationStatusCompleted}},
			expected:     SpotStatusAvailable,
		},
		{name: "other spot ignored", reservations: []Reservation{active(other, windowAt(7, 9))}, expected: SpotStatusAvailable},
	}
	for _, testCase := range testCases {
		if got := ResolveStatus(spot, testCase.reservations, fixedNow); got != testCase.expected {
			test.Fatalf("%s: expected %s, got %s", testCase.name, testCase.expected, got)
		}
	}
}

func TestResolveFlag(test *testing.T) {
	test.Parallel()
	ended := Reservation{Window: windowAt(5, 8), Status: ReservationStatusActive}
	running := Reservation{Window: windowAt(7, 9), Status: ReservationStatusActive}
	cancelled := Reservation{Window: windowAt(10, 11), Status: ReservationStatusCancelled}
	if flag := resolveFlag([]Reservation{ended, cancelled}, fixedNow); flag != SpotFlagAvailable {
		test.Fatalf("expected available, got %s", flag)
	}
	if flag := resolveFlag([]Reservation{ended, running}, fixedNow); flag != SpotFlagReserved {
		test.Fatalf("expected reserved, got %s", flag)
	}
}
