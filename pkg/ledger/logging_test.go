package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) snapshot() []OperationLog {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	return append([]OperationLog(nil), logger.entries...)
}

type recorderPublisher struct {
	mutex  sync.Mutex
	err    error
	events []ReservationEvent
}

func (publisher *recorderPublisher) PublishReservationEvent(_ context.Context, event ReservationEvent) error {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	if publisher.err != nil {
		return publisher.err
	}
	publisher.events = append(publisher.events, event)
	return nil
}

func TestServiceLogsCreateOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addSpot(test, spotIDValue, "A1")
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	customerID := mustCustomerID(test, customerIDValue)
	reservation := mustCreate(test, service, mustSpotID(test, spotIDValue), customerID, windowAt(10, 12))

	entries := logger.snapshot()
	if len(entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Operation != operationCreate || entry.CustomerID != customerID || entry.ReservationID != reservation.ID || entry.Amount != reservation.Amount {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addSpot(test, spotIDValue, "A1")
	store.createReservationError = errors.New("boom")
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	_, err := service.CreateReservation(context.Background(), mustSpotID(test, spotIDValue), mustCustomerID(test, customerIDValue), mustVehicleID(test, vehicleIDValue), windowAt(10, 12), carPlan())
	if err == nil {
		test.Fatalf("expected error")
	}
	entries := logger.snapshot()
	if len(entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].Status != operationStatusError || entries[0].Error == nil {
		test.Fatalf("expected error status, got %+v", entries[0])
	}
	if entries[0].ReservationID.String() != "" {
		test.Fatalf("expected no reservation id on a failed create, got %s", entries[0].ReservationID.String())
	}
}

func TestServicePublishesCommittedEvents(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addSpot(test, spotIDValue, "A1")
	publisher := &recorderPublisher{}
	service := mustNewService(test, store, WithEventPublisher(publisher))
	customerID := mustCustomerID(test, customerIDValue)
	ctx := context.Background()

	reservation := mustCreate(test, service, mustSpotID(test, spotIDValue), customerID, windowAt(10, 12))
	if _, err := service.UpdateReservationWindow(ctx, reservation.ID, customerID, windowAt(11, 13)); err != nil {
		test.Fatalf("update: %v", err)
	}
	if _, _, err := service.PayReservation(ctx, reservation.ID, customerID, PaymentRequest{Amount: reservation.Amount, Method: PaymentMethodCash, Discount: DiscountRegular}); err != nil {
		test.Fatalf("pay: %v", err)
	}
	second := mustCreate(test, service, mustSpotID(test, spotIDValue), customerID, windowAt(15, 16))
	if _, err := service.CancelReservation(ctx, second.ID, customerID); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	// rejected writes publish nothing
	if _, err := service.CancelReservation(ctx, second.ID, customerID); err == nil {
		test.Fatalf("expected second cancel to fail")
	}

	want := []EventType{EventReservationCreated, EventReservationRescheduled, EventReservationPaid, EventReservationCreated, EventReservationCancelled}
	if len(publisher.events) != len(want) {
		test.Fatalf("expected %d events, got %d", len(want), len(publisher.events))
	}
	for index, event := range publisher.events {
		if event.Type != want[index] {
			test.Fatalf("event %d: expected %s, got %s", index, want[index], event.Type)
		}
		if !event.OccurredAt.Equal(fixedNow) {
			test.Fatalf("event %d: unexpected timestamp %s", index, event.OccurredAt)
		}
	}
	paid := publisher.events[2]
	if paid.Payment == nil || paid.Payment.Amount != reservation.Amount || paid.Reservation.Status != ReservationStatusCompleted {
		test.Fatalf("unexpected paid event: %+v", paid)
	}
}

func TestPublisherFailureIsLoggedNotReturned(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addSpot(test, spotIDValue, "A1")
	logger := &recorderLogger{}
	publisher := &recorderPublisher{err: errors.New("broker down")}
	service := mustNewService(test, store, WithOperationLogger(logger), WithEventPublisher(publisher))

	reservation := mustCreate(test, service, mustSpotID(test, spotIDValue), mustCustomerID(test, customerIDValue), windowAt(10, 12))
	if store.mustReservation(test, reservation.ID).Status != ReservationStatusActive {
		test.Fatalf("expected committed reservation")
	}
	entries := logger.snapshot()
	if len(entries) != 2 {
		test.Fatalf("expected create and publish entries, got %d", len(entries))
	}
	publishEntry := entries[1]
	if publishEntry.Operation != operationPublish || publishEntry.Status != operationStatusError {
		test.Fatalf("unexpected publish entry: %+v", publishEntry)
	}
	var operationError OperationError
	if !errors.As(publishEntry.Error, &operationError) || operationError.Subject() != EventReservationCreated.String() {
		test.Fatalf("expected wrapped publish error, got %v", publishEntry.Error)
	}
}

func TestWithLocationDrivesCalendarDay(test *testing.T) {
	test.Parallel()
	location := time.FixedZone("UTC+10", 10*60*60)
	store := newStubStore(test)
	store.addSpot(test, spotIDValue, "A1")
	service := mustNewService(test, store, WithLocation(location))
	if service.Location() != location {
		test.Fatalf("expected configured location")
	}
	// 12:00-15:00 UTC is 22:00-01:00 local
	_, err := service.CreateReservation(context.Background(), mustSpotID(test, spotIDValue), mustCustomerID(test, customerIDValue), mustVehicleID(test, vehicleIDValue), windowAt(12, 15), carPlan())
	if !errors.Is(err, ErrCrossDayWindow) {
		test.Fatalf("expected cross day in the configured location, got %v", err)
	}
	if _, err := service.CreateReservation(context.Background(), mustSpotID(test, spotIDValue), mustCustomerID(test, customerIDValue), mustVehicleID(test, vehicleIDValue), windowAt(10, 13), carPlan()); err != nil {
		test.Fatalf("same local day: %v", err)
	}
}

func TestNewServiceRejectsMissingDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, time.Now); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for nil clock, got %v", err)
	}
}
