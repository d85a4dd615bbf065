package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultFloorCount    = 3
	defaultBlockCapacity = 10
)

var defaultBlockNames = []string{"A", "B", "C"}

// InventoryLayout is the fixed floor, block and spot hierarchy.
type InventoryLayout struct {
	Floors []FloorLayout
}

// FloorLayout describes one floor.
type FloorLayout struct {
	Number int
	Name   string
	Blocks []BlockLayout
}

// BlockLayout describes one block; spots are named Name+1 .. Name+Capacity.
type BlockLayout struct {
	Name     string
	Capacity int
}

// InventorySummary counts the rows present after a bootstrap run.
type InventorySummary struct {
	Floors int
	Blocks int
	Spots  int
}

// DefaultInventoryLayout returns three floors with blocks A, B and C of ten spots each.
func DefaultInventoryLayout() InventoryLayout {
	layout := InventoryLayout{}
	for number := 1; number <= defaultFloorCount; number++ {
		floor := FloorLayout{Number: number, Name: FloorName(number)}
		for _, blockName := range defaultBlockNames {
			floor.Blocks = append(floor.Blocks, BlockLayout{Name: blockName, Capacity: defaultBlockCapacity})
		}
		layout.Floors = append(layout.Floors, floor)
	}
	return layout
}

// FloorName renders the display name of a floor ("1st Floor", "12th Floor").
func FloorName(number int) string {
	suffix := "th"
	switch {
	case number%100 >= 11 && number%100 <= 13:
	case number%10 == 1:
		suffix = "st"
	case number%10 == 2:
		suffix = "nd"
	case number%10 == 3:
		suffix = "rd"
	}
	return strconv.Itoa(number) + suffix + " Floor"
}

// SpotName renders the name of the n-th spot of a block.
func SpotName(blockName string, number int) string {
	return blockName + strconv.Itoa(number)
}

// Validate rejects empty layouts and duplicate floors, blocks or capacities below one.
func (layout InventoryLayout) Validate() error {
	if len(layout.Floors) == 0 {
		return fmt.Errorf("%w: no floors", ErrInvalidLayout)
	}
	floorNumbers := make(map[int]struct{}, len(layout.Floors))
	for _, floor := range layout.Floors {
		if floor.Number <= 0 {
			return fmt.Errorf("%w: floor number %d", ErrInvalidLayout, floor.Number)
		}
		if _, exists := floorNumbers[floor.Number]; exists {
			return fmt.Errorf("%w: duplicate floor %d", ErrInvalidLayout, floor.Number)
		}
		floorNumbers[floor.Number] = struct{}{}
		if strings.TrimSpace(floor.Name) == "" {
			return fmt.Errorf("%w: floor %d has no name", ErrInvalidLayout, floor.Number)
		}
		if len(floor.Blocks) == 0 {
			return fmt.Errorf("%w: floor %d has no blocks", ErrInvalidLayout, floor.Number)
		}
		blockNames := make(map[string]struct{}, len(floor.Blocks))
		for _, block := range floor.Blocks {
			name := strings.TrimSpace(block.Name)
			if name == "" {
				return fmt.Errorf("%w: floor %d has an unnamed block", ErrInvalidLayout, floor.Number)
			}
			if _, exists := blockNames[name]; exists {
				return fmt.Errorf("%w: duplicate block %s on floor %d", ErrInvalidLayout, name, floor.Number)
			}
			blockNames[name] = struct{}{}
			if block.Capacity <= 0 {
				return fmt.Errorf("%w: block %s on floor %d has capacity %d", ErrInvalidLayout, name, floor.Number, block.Capacity)
			}
		}
	}
	return nil
}

// BootstrapInventory inserts every floor, block and spot of layout that is not
// already present. Running it again is a no-op. Errors are meant to abort start-up.
func (service *Service) BootstrapInventory(ctx context.Context, layout InventoryLayout) (InventorySummary, error) {
	var summary InventorySummary
	operationError := layout.Validate()
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			summary = InventorySummary{}
			for _, floorLayout := range layout.Floors {
				floor, err := transactionStore.EnsureFloor(ctx, Floor{Number: floorLayout.Number, Name: floorLayout.Name})
				if err != nil {
					return err
				}
				summary.Floors++
				for _, blockLayout := range floorLayout.Blocks {
					block, err := transactionStore.EnsureBlock(ctx, Block{
						FloorID:  floor.ID,
						Name:     strings.TrimSpace(blockLayout.Name),
						Capacity: blockLayout.Capacity,
					})
					if err != nil {
						return err
					}
					summary.Blocks++
					for number := 1; number <= blockLayout.Capacity; number++ {
						if _, err := transactionStore.EnsureSpot(ctx, Spot{
							BlockID: block.ID,
							Name:    SpotName(block.Name, number),
							Flag:    SpotFlagAvailable,
						}); err != nil {
							return err
						}
						summary.Spots++
					}
				}
			}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationBootstrap,
		Error:     operationError,
	})
	if operationError != nil {
		return InventorySummary{}, WrapError("service", "inventory", "bootstrap", operationError)
	}
	return summary, nil
}
