package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestBootstrapInventoryIsIdempotent(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	layout := DefaultInventoryLayout()

	first, err := service.BootstrapInventory(context.Background(), layout)
	if err != nil {
		test.Fatalf("first bootstrap: %v", err)
	}
	expected := InventorySummary{Floors: 3, Blocks: 9, Spots: 90}
	if first != expected {
		test.Fatalf("expected %+v, got %+v", expected, first)
	}
	second, err := service.BootstrapInventory(context.Background(), layout)
	if err != nil {
		test.Fatalf("second bootstrap: %v", err)
	}
	if second != expected {
		test.Fatalf("expected %+v on rerun, got %+v", expected, second)
	}
	if len(store.state.spots) != 90 || len(store.state.blocks) != 9 || len(store.state.floors) != 3 {
		test.Fatalf("expected rerun to insert nothing, got %d spots %d blocks %d floors", len(store.state.spots), len(store.state.blocks), len(store.state.floors))
	}
	for _, spot := range store.state.spots {
		if spot.Flag != SpotFlagAvailable {
			test.Fatalf("expected new spots to start available, got %s", spot.Flag)
		}
	}
	for _, entry := range logger.snapshot() {
		if entry.Operation != operationBootstrap || entry.Status != operationStatusOK {
			test.Fatalf("unexpected log entry %+v", entry)
		}
	}
}

func TestBootstrapInventoryRejectsInvalidLayouts(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		layout InventoryLayout
	}{
		{name: "empty", layout: InventoryLayout{}},
		{name: "zero floor", layout: InventoryLayout{Floors: []FloorLayout{{Number: 0, Name: "Ground", Blocks: []BlockLayout{{Name: "A", Capacity: 1}}}}}},
		{name: "duplicate floor", layout: InventoryLayout{Floors: []FloorLayout{
			{Number: 1, Name: "1st Floor", Blocks: []BlockLayout{{Name: "A", Capacity: 1}}},
			{Number: 1, Name: "1st Floor", Blocks: []BlockLayout{{Name: "B", Capacity: 1}}},
		}}},
		{name: "unnamed floor", layout: InventoryLayout{Floors: []FloorLayout{{Number: 1, Blocks: []BlockLayout{{Name: "A", Capacity: 1}}}}}},
		{name: "no blocks", layout: InventoryLayout{Floors: []FloorLayout{{Number: 1, Name: "1st Floor"}}}},
		{name: "duplicate block", layout: InventoryLayout{Floors: []FloorLayout{{Number: 1, Name: "1st Floor", Blocks: []BlockLayout{{Name: "A", Capacity: 1}, {Name: " A ", Capacity: 2}}}}}},
		{name: "zero capacity", layout: InventoryLayout{Floors: []FloorLayout{{Number: 1, Name: "1st Floor", Blocks: []BlockLayout{{Name: "A", Capacity: 0}}}}}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			service := mustNewService(test, store)
			_, err := service.BootstrapInventory(context.Background(), testCase.layout)
			if !errors.Is(err, ErrInvalidLayout) {
				test.Fatalf("expected invalid layout, got %v", err)
			}
			if len(store.state.floors) != 0 {
				test.Fatalf("expected no rows for an invalid layout")
			}
		})
	}
}

func TestBootstrapInventoryRollsBackOnFailure(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	failing := &failingEnsureStore{stubStore: store, failAfter: 5}
	failingService, err := NewService(failing, service.nowFn)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	if _, err := failingService.BootstrapInventory(context.Background(), DefaultInventoryLayout()); !errors.Is(err, errStoreFailure) {
		test.Fatalf("expected store failure, got %v", err)
	}
	if len(store.state.spots) != 0 || len(store.state.floors) != 0 {
		test.Fatalf("expected partial bootstrap to roll back, got %d spots", len(store.state.spots))
	}
}

func TestFloorName(test *testing.T) {
	test.Parallel()
	expected := map[int]string{
		1:   "1st Floor",
		2:   "2nd Floor",
		3:   "3rd Floor",
		4:   "4th Floor",
		11:  "11th Floor",
		12:  "12th Floor",
		13:  "13th Floor",
		21:  "21st Floor",
		112: "112th Floor",
	}
	for number, want := range expected {
		if got := FloorName(number); got != want {
			test.Fatalf("floor %d: expected %q, got %q", number, want, got)
		}
	}
	if SpotName("B", 7) != "B7" {
		test.Fatalf("unexpected spot name %q", SpotName("B", 7))
	}
}

// failingEnsureStore fails EnsureSpot after a number of successful calls.
type failingEnsureStore struct {
	*stubStore
	failAfter int
	calls     int
}

func (store *failingEnsureStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.stubStore.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		nested := &failingEnsureStore{stubStore: txStore.(*stubStore), failAfter: store.failAfter}
		return fn(ctx, nested)
	})
}

func (store *failingEnsureStore) EnsureSpot(ctx context.Context, spot Spot) (Spot, error) {
	store.calls++
	if store.calls > store.failAfter {
		return Spot{}, errStoreFailure
	}
	return store.stubStore.EnsureSpot(ctx, spot)
}
