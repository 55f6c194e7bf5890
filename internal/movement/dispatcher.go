package movement

import (
	"context"
	"fmt"
	"log"

	"github.com/locomotiv/locomotiv_core/internal/models"
)

// Dispatcher starts idle trains on the predefined routes.
//
// Pairing is positional: the first route goes to the first idle train, the second
// route to the second, and so on. It does not look at train type, priority or
// capacity; it is a placeholder, not an assignment optimizer.
type Dispatcher struct {
	engine *Engine
	fleet  Fleet
}

// NewDispatcher creates a dispatcher feeding engine from fleet
func NewDispatcher(engine *Engine, fleet Fleet) *Dispatcher {
	return &Dispatcher{engine: engine, fleet: fleet}
}

// StartAllWithRoutes dispatches every route onto an idle train and returns how many
// trains actually started. Trains that are moving or already sit on a block are skipped.
func (d *Dispatcher) StartAllWithRoutes(ctx context.Context) (int, error) {
	routes, err := d.fleet.GetAllRoutes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load routes: %w", err)
	}

	trains, err := d.fleet.GetAllTrains(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load trains: %w", err)
	}

	onBlocks, err := d.fleet.GetTrainsCurrentlyOnBlocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load trains on blocks: %w", err)
	}

	idle := idleTrains(trains, onBlocks, d.engine.IsActive)

	started := 0
	for i := range routes {
		if i >= len(idle) {
			break
		}
		train := idle[i]
		route := routes[i]

		if err := d.engine.StartMovement(ctx, &train, &route); err != nil {
			log.Printf("movement: route %d not dispatched to train %d: %v", route.ID, train.ID, err)
			continue
		}
		started++
	}

	log.Printf("movement: dispatched %d trains (%d routes, %d idle trains)", started, len(routes), len(idle))
	return started, nil
}

// idleTrains keeps the trains, in order, that are neither on a block nor active
func idleTrains(trains, onBlocks []models.Train, isActive func(int64) bool) []models.Train {
	busy := make(map[int64]bool, len(onBlocks))
	for _, t := range onBlocks {
		busy[t.ID] = true
	}

	idle := make([]models.Train, 0, len(trains))
	for _, t := range trains {
		if busy[t.ID] || isActive(t.ID) {
			continue
		}
		idle = append(idle, t)
	}
	return idle
}
