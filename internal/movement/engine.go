// Package movement advances dispatched trains block by block along predefined routes.
//
// Each tick moves every active train exactly one block:
//
//  1. the train releases the block it occupies,
//  2. the cursor moves to the next block of the route,
//  3. past the last block the train arrives: it is parked at the route's end station
//     (in the station proper when there is room, otherwise in the assigned set) and
//     its movement state is dropped,
//  4. otherwise it occupies the new block and its marker follows.
package movement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/locomotiv/locomotiv_core/internal/models"
)

// Engine owns the set of moving trains. All entry points are serialized by mu.
type Engine struct {
	mu        sync.Mutex
	yard      Yard
	markers   MarkerSink
	scheduler *Scheduler
	active    map[int64]*MovementState
}

// NewEngine creates an engine whose scheduler ticks until ctx is cancelled.
// A nil markers discards marker notifications; a nil cfg is loaded from the environment.
func NewEngine(ctx context.Context, yard Yard, markers MarkerSink, cfg *Config) *Engine {
	if cfg == nil {
		cfg = LoadConfigFromEnv()
	}
	if markers == nil {
		markers = noopSink{}
	}

	e := &Engine{
		yard:    yard,
		markers: markers,
		active:  make(map[int64]*MovementState),
	}
	e.scheduler = NewScheduler(ctx, cfg.TickInterval, e.scheduledTick)
	return e
}

// Scheduler returns the periodic timer driving Tick
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// StartMovement places train on the first block of route and starts the scheduler.
// Invalid or unresolvable requests leave the engine unchanged and return the reason.
func (e *Engine) StartMovement(ctx context.Context, train *models.Train, route *models.Route) error {
	if train == nil || route == nil {
		return ErrInvalidDispatch
	}
	if len(route.BlockIDs) == 0 {
		return ErrEmptyRoute
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.active[train.ID]; ok {
		return ErrAlreadyMoving
	}

	blocks, err := e.yard.ResolveBlocksForRoute(ctx, route.BlockIDs)
	if err != nil {
		log.Printf("movement: resolving route %d for train %d: %v", route.ID, train.ID, err)
		return fmt.Errorf("%w: %w", ErrUnresolvedRoute, err)
	}
	if len(blocks) == 0 {
		return ErrUnresolvedRoute
	}
	if len(blocks) < len(route.BlockIDs) {
		log.Printf("movement: route %d resolved %d of %d blocks", route.ID, len(blocks), len(route.BlockIDs))
	}

	// Departure
	if err := e.yard.RemoveTrainFromAllStations(ctx, train.ID); err != nil {
		log.Printf("movement: removing train %d from stations: %v", train.ID, err)
	}
	// a parked train may still hold a block loaded from storage
	if err := e.yard.ReleaseTrainBlocks(ctx, train.ID); err != nil {
		log.Printf("movement: releasing blocks of train %d: %v", train.ID, err)
	}

	state := newMovementState(*train, blocks, *route)
	e.active[train.ID] = state
	e.enter(ctx, state)

	e.scheduler.Start()

	log.Printf("movement: train %d started on route %d (%d blocks)", train.ID, route.ID, len(blocks))
	return nil
}

// Tick advances every active train by one block and returns the trains that arrived.
// The scheduler is stopped once no train is left moving.
func (e *Engine) Tick(ctx context.Context) []Arrival {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick(ctx)
}

// scheduledTick runs a scheduler tick. ctx belongs to the run that fired it; the tick
// is dropped when that run was stopped while the tick waited for mu.
func (e *Engine) scheduledTick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	e.tick(ctx)
}

func (e *Engine) tick(ctx context.Context) []Arrival {
	var arrivals []Arrival
	for _, state := range e.active {
		e.release(ctx, state)

		if state.advance() {
			arrivals = append(arrivals, e.arrive(ctx, state))
			continue
		}
		e.enter(ctx, state)
	}

	for _, a := range arrivals {
		delete(e.active, a.TrainID)
	}

	if len(e.active) == 0 {
		e.scheduler.Stop()
	}

	return arrivals
}

// StopAll drops every movement state and halts the scheduler.
// Each stopped train releases the block it held and loses its marker.
func (e *Engine) StopAll(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, state := range e.active {
		e.release(ctx, state)
		state.IsMoving = false
		if err := e.yard.MoveTrain(ctx, id, state.Train, models.StateIdle); err != nil {
			log.Printf("movement: recording stop of train %d: %v", id, err)
		}
		e.markers.RemoveMarker(id)
	}

	if n := len(e.active); n > 0 {
		log.Printf("movement: stopped %d trains", n)
	}
	e.active = make(map[int64]*MovementState)
	e.scheduler.Stop()
}

// IsActive reports whether trainID currently has a movement state
func (e *Engine) IsActive(trainID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.active[trainID]
	return ok
}

// ActiveTrainIDs returns the ids of moving trains in ascending order
func (e *Engine) ActiveTrainIDs() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]int64, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns a view of every active movement ordered by train id
func (e *Engine) Snapshot() []MovementView {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]MovementView, 0, len(e.active))
	for _, state := range e.active {
		views = append(views, state.view())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].TrainID < views[j].TrainID })
	return views
}

// enter puts the train on its current block
func (e *Engine) enter(ctx context.Context, state *MovementState) {
	block := state.CurrentBlock()
	id := state.Train.ID

	if err := e.yard.OccupyBlock(ctx, block.ID, id); err != nil {
		log.Printf("movement: train %d occupying block %d: %v", id, block.ID, err)
	}

	state.Train.Latitude, state.Train.Longitude = block.Coordinates()
	state.Train.State = models.StateInTransit
	if err := e.yard.MoveTrain(ctx, id, block, models.StateInTransit); err != nil {
		log.Printf("movement: moving train %d: %v", id, err)
	}

	e.markers.UpsertMarker(id, block)
}

// release frees the block the train currently holds
func (e *Engine) release(ctx context.Context, state *MovementState) {
	block := state.CurrentBlock()
	if err := e.yard.ReleaseBlock(ctx, block.ID, state.Train.ID); err != nil {
		log.Printf("movement: train %d releasing block %d: %v", state.Train.ID, block.ID, err)
	}
}

// arrive parks a train that ran past its last block
func (e *Engine) arrive(ctx context.Context, state *MovementState) Arrival {
	state.IsMoving = false
	id := state.Train.ID
	arrival := Arrival{TrainID: id, RouteID: state.Route.ID}
	next := models.StateIdle

	if stationID := state.Route.EndStationID; stationID != nil {
		station, err := e.yard.FindStationByID(ctx, *stationID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			log.Printf("movement: train %d arrived but end station %d does not exist", id, *stationID)
		case err != nil:
			log.Printf("movement: looking up end station %d: %v", *stationID, err)
		default:
			inStation := station.HasRoom()
			if err := e.yard.AddTrainToStation(ctx, station.ID, id, inStation); err != nil {
				log.Printf("movement: parking train %d at station %d: %v", id, station.ID, err)
				break
			}
			sid := station.ID
			arrival.StationID = &sid
			arrival.InStation = inStation
			if inStation {
				next = models.StateInStation
			} else {
				next = models.StateProgrammed
			}
		}
	}

	state.Train.State = next
	if err := e.yard.MoveTrain(ctx, id, state.Train, next); err != nil {
		log.Printf("movement: recording arrival of train %d: %v", id, err)
	}
	e.markers.RemoveMarker(id)

	log.Printf("movement: train %d completed route %d", id, state.Route.ID)
	return arrival
}
