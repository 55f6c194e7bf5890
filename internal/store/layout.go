package store

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/locomotiv/locomotiv_core/internal/models"
)

// Source provides a complete yard snapshot, typically from Postgres
type Source interface {
	LoadLayout(ctx context.Context) (*models.Layout, error)
}

// Persister writes station membership changes back to durable storage
type Persister interface {
	SaveStationMembership(ctx context.Context, stationID, trainID int64, inStation bool) error
	DeleteStationMembership(ctx context.Context, stationID, trainID int64) error
	DeleteTrainMemberships(ctx context.Context, trainID int64) error
}

// Layout holds the yard in memory: stations, trains, blocks and routes.
// It implements movement.Yard and movement.Fleet. Lookups return copies.
type Layout struct {
	mu        sync.RWMutex
	stations  map[int64]*models.Station
	trains    map[int64]*models.Train
	blocks    map[int64]*models.Block
	routes    []models.Route
	order     order
	persister Persister
	loaded    bool
}

// order remembers load order so listings are stable
type order struct {
	stations []int64
	trains   []int64
	blocks   []int64
}

// NewLayout returns an empty layout
func NewLayout() *Layout {
	return &Layout{
		stations: make(map[int64]*models.Station),
		trains:   make(map[int64]*models.Train),
		blocks:   make(map[int64]*models.Block),
	}
}

// SetPersister enables write-through of station membership changes
func (l *Layout) SetPersister(p Persister) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.persister = p
}

// LoadFrom replaces the layout with a snapshot read from src
func (l *Layout) LoadFrom(ctx context.Context, src Source) error {
	startTime := time.Now()
	log.Println("Loading yard layout into memory...")

	snapshot, err := src.LoadLayout(ctx)
	if err != nil {
		return fmt.Errorf("failed to load layout: %w", err)
	}

	l.Load(snapshot)

	log.Printf("Layout loaded in %v (%d stations, %d trains, %d blocks, %d routes)",
		time.Since(startTime), len(snapshot.Stations), len(snapshot.Trains), len(snapshot.Blocks), len(snapshot.Routes))
	return nil
}

// Load swaps in the given snapshot. Block occupants are resolved against the
// snapshot's trains; unknown occupants are dropped.
func (l *Layout) Load(snapshot *models.Layout) {
	stations := make(map[int64]*models.Station, len(snapshot.Stations))
	trains := make(map[int64]*models.Train, len(snapshot.Trains))
	blocks := make(map[int64]*models.Block, len(snapshot.Blocks))
	var ord order

	for _, s := range snapshot.Stations {
		s := cloneStation(s)
		stations[s.ID] = &s
		ord.stations = append(ord.stations, s.ID)
	}

	for _, t := range snapshot.Trains {
		trains[t.ID] = &t
		ord.trains = append(ord.trains, t.ID)
	}

	for _, b := range snapshot.Blocks {
		b.Points = slices.Clone(b.Points)
		if b.CurrentTrain != nil {
			b.CurrentTrain = trains[b.CurrentTrain.ID]
		}
		blocks[b.ID] = &b
		ord.blocks = append(ord.blocks, b.ID)
	}

	routes := make([]models.Route, 0, len(snapshot.Routes))
	for _, r := range snapshot.Routes {
		routes = append(routes, cloneRoute(r))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.stations = stations
	l.trains = trains
	l.blocks = blocks
	l.routes = routes
	l.order = ord
	l.loaded = true
}

// IsLoaded returns true if a snapshot has been loaded
func (l *Layout) IsLoaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Stats returns layout statistics
func (l *Layout) Stats() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	occupied := 0
	for _, b := range l.blocks {
		if b.CurrentTrain != nil {
			occupied++
		}
	}

	return map[string]int{
		"stations":        len(l.stations),
		"trains":          len(l.trains),
		"blocks":          len(l.blocks),
		"occupied_blocks": occupied,
		"routes":          len(l.routes),
	}
}

// ResolveBlocksForRoute returns the blocks for ids in order, dropping unknown ids
func (l *Layout) ResolveBlocksForRoute(ctx context.Context, ids []int64) ([]models.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	blocks := make([]models.Block, 0, len(ids))
	for _, id := range ids {
		b, ok := l.blocks[id]
		if !ok {
			continue
		}
		blocks = append(blocks, cloneBlock(b))
	}
	return blocks, nil
}

// OccupyBlock makes trainID the occupant of blockID
func (l *Layout) OccupyBlock(ctx context.Context, blockID, trainID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.blocks[blockID]
	if !ok {
		return fmt.Errorf("block %d: %w", blockID, models.ErrNotFound)
	}
	t, ok := l.trains[trainID]
	if !ok {
		return fmt.Errorf("train %d: %w", trainID, models.ErrNotFound)
	}

	if b.CurrentTrain != nil && b.CurrentTrain.ID != trainID {
		log.Printf("Warning: block %d taken over by train %d from train %d", blockID, trainID, b.CurrentTrain.ID)
	}
	b.CurrentTrain = t
	return nil
}

// ReleaseBlock clears blockID if trainID occupies it
func (l *Layout) ReleaseBlock(ctx context.Context, blockID, trainID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.blocks[blockID]
	if !ok {
		return fmt.Errorf("block %d: %w", blockID, models.ErrNotFound)
	}
	if b.CurrentTrain != nil && b.CurrentTrain.ID == trainID {
		b.CurrentTrain = nil
	}
	return nil
}

// ReleaseTrainBlocks clears every block trainID occupies
func (l *Layout) ReleaseTrainBlocks(ctx context.Context, trainID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, b := range l.blocks {
		if b.CurrentTrain != nil && b.CurrentTrain.ID == trainID {
			b.CurrentTrain = nil
		}
	}
	return nil
}

// MoveTrain records a train's display position and state
func (l *Layout) MoveTrain(ctx context.Context, trainID int64, at models.Positioned, state models.TrainState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.trains[trainID]
	if !ok {
		return fmt.Errorf("train %d: %w", trainID, models.ErrNotFound)
	}
	t.Latitude, t.Longitude = at.Coordinates()
	t.State = state
	return nil
}

// FindStationByID returns a copy of the station
func (l *Layout) FindStationByID(ctx context.Context, id int64) (*models.Station, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.stations[id]
	if !ok {
		return nil, fmt.Errorf("station %d: %w", id, models.ErrNotFound)
	}
	station := cloneStation(*s)
	return &station, nil
}

// AddTrainToStation parks a train at a station. With inStation the train joins the
// station proper and leaves the assigned set; otherwise it joins the assigned set.
func (l *Layout) AddTrainToStation(ctx context.Context, stationID, trainID int64, inStation bool) error {
	l.mu.Lock()
	s, ok := l.stations[stationID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("station %d: %w", stationID, models.ErrNotFound)
	}
	if _, ok := l.trains[trainID]; !ok {
		l.mu.Unlock()
		return fmt.Errorf("train %d: %w", trainID, models.ErrNotFound)
	}

	if inStation {
		s.TrainsInStation = addID(s.TrainsInStation, trainID)
		s.Trains = removeID(s.Trains, trainID)
	} else {
		s.Trains = addID(s.Trains, trainID)
		s.TrainsInStation = removeID(s.TrainsInStation, trainID)
	}
	p := l.persister
	l.mu.Unlock()

	if p != nil {
		if err := p.SaveStationMembership(ctx, stationID, trainID, inStation); err != nil {
			log.Printf("Warning: failed to persist train %d at station %d: %v", trainID, stationID, err)
		}
	}
	return nil
}

// RemoveTrainFromStation takes a train out of the station proper and back into the
// station's assigned set. A train that is only assigned is dropped from the station.
// It reports whether the train left the station proper, and returns ErrNotFound when
// the train is in neither set.
func (l *Layout) RemoveTrainFromStation(ctx context.Context, stationID, trainID int64) (bool, error) {
	l.mu.Lock()
	s, ok := l.stations[stationID]
	if !ok {
		l.mu.Unlock()
		return false, fmt.Errorf("station %d: %w", stationID, models.ErrNotFound)
	}

	wasInStation := slices.Contains(s.TrainsInStation, trainID)
	switch {
	case wasInStation:
		s.TrainsInStation = removeID(s.TrainsInStation, trainID)
		s.Trains = addID(s.Trains, trainID)
	case slices.Contains(s.Trains, trainID):
		s.Trains = removeID(s.Trains, trainID)
	default:
		l.mu.Unlock()
		return false, fmt.Errorf("train %d at station %d: %w", trainID, stationID, models.ErrNotFound)
	}
	p := l.persister
	l.mu.Unlock()

	if p == nil {
		return wasInStation, nil
	}

	var err error
	if wasInStation {
		err = p.SaveStationMembership(ctx, stationID, trainID, false)
	} else {
		err = p.DeleteStationMembership(ctx, stationID, trainID)
	}
	if err != nil {
		log.Printf("Warning: failed to persist removal of train %d from station %d: %v", trainID, stationID, err)
	}
	return wasInStation, nil
}

// RemoveTrainFromAllStations drops a train from every station set. Idempotent.
func (l *Layout) RemoveTrainFromAllStations(ctx context.Context, trainID int64) error {
	l.mu.Lock()
	for _, s := range l.stations {
		s.Trains = removeID(s.Trains, trainID)
		s.TrainsInStation = removeID(s.TrainsInStation, trainID)
	}
	p := l.persister
	l.mu.Unlock()

	if p != nil {
		if err := p.DeleteTrainMemberships(ctx, trainID); err != nil {
			log.Printf("Warning: failed to persist departure of train %d: %v", trainID, err)
		}
	}
	return nil
}

// GetAllRoutes returns routes in load order
func (l *Layout) GetAllRoutes(ctx context.Context) ([]models.Route, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	routes := make([]models.Route, 0, len(l.routes))
	for _, r := range l.routes {
		routes = append(routes, cloneRoute(r))
	}
	return routes, nil
}

// FindRouteByID returns a copy of the route
func (l *Layout) FindRouteByID(ctx context.Context, id int64) (*models.Route, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, r := range l.routes {
		if r.ID == id {
			route := cloneRoute(r)
			return &route, nil
		}
	}
	return nil, fmt.Errorf("route %d: %w", id, models.ErrNotFound)
}

// GetAllTrains returns trains in load order
func (l *Layout) GetAllTrains(ctx context.Context) ([]models.Train, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	trains := make([]models.Train, 0, len(l.order.trains))
	for _, id := range l.order.trains {
		trains = append(trains, *l.trains[id])
	}
	return trains, nil
}

// FindTrainByID returns a copy of the train
func (l *Layout) FindTrainByID(ctx context.Context, id int64) (*models.Train, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, ok := l.trains[id]
	if !ok {
		return nil, fmt.Errorf("train %d: %w", id, models.ErrNotFound)
	}
	train := *t
	return &train, nil
}

// GetTrainsCurrentlyOnBlocks returns each train that occupies at least one block
func (l *Layout) GetTrainsCurrentlyOnBlocks(ctx context.Context) ([]models.Train, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[int64]bool)
	var trains []models.Train
	for _, id := range l.order.blocks {
		t := l.blocks[id].CurrentTrain
		if t == nil || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		trains = append(trains, *t)
	}
	return trains, nil
}

// GetAllStations returns stations in load order
func (l *Layout) GetAllStations(ctx context.Context) ([]models.Station, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stations := make([]models.Station, 0, len(l.order.stations))
	for _, id := range l.order.stations {
		stations = append(stations, cloneStation(*l.stations[id]))
	}
	return stations, nil
}

// GetAllBlocks returns blocks in load order with their current occupants
func (l *Layout) GetAllBlocks(ctx context.Context) ([]models.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	blocks := make([]models.Block, 0, len(l.order.blocks))
	for _, id := range l.order.blocks {
		blocks = append(blocks, cloneBlock(l.blocks[id]))
	}
	return blocks, nil
}

func cloneStation(s models.Station) models.Station {
	s.Trains = append([]int64{}, s.Trains...)
	s.TrainsInStation = append([]int64{}, s.TrainsInStation...)
	return s
}

func cloneBlock(b *models.Block) models.Block {
	c := *b
	c.Points = slices.Clone(b.Points)
	if b.CurrentTrain != nil {
		t := *b.CurrentTrain
		c.CurrentTrain = &t
	}
	return c
}

func cloneRoute(r models.Route) models.Route {
	r.BlockIDs = slices.Clone(r.BlockIDs)
	if r.StartStationID != nil {
		id := *r.StartStationID
		r.StartStationID = &id
	}
	if r.EndStationID != nil {
		id := *r.EndStationID
		r.EndStationID = &id
	}
	return r
}

func addID(ids []int64, id int64) []int64 {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func removeID(ids []int64, id int64) []int64 {
	return slices.DeleteFunc(ids, func(v int64) bool { return v == id })
}
