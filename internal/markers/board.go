// Package markers tracks where moving trains are drawn on the map.
package markers

import (
	"sort"
	"sync"
	"time"

	"github.com/locomotiv/locomotiv_core/internal/models"
)

// Marker is the map pin of one moving train
type Marker struct {
	TrainID   int64     `json:"train_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sink receives marker changes
type Sink interface {
	UpsertMarker(trainID int64, at models.Positioned)
	RemoveMarker(trainID int64)
}

// Board keeps the current marker of every moving train in memory
type Board struct {
	mu      sync.RWMutex
	markers map[int64]Marker
	now     func() time.Time
}

// NewBoard returns an empty board
func NewBoard() *Board {
	return &Board{
		markers: make(map[int64]Marker),
		now:     time.Now,
	}
}

// UpsertMarker creates the train's marker or moves it
func (b *Board) UpsertMarker(trainID int64, at models.Positioned) {
	lat, lon := at.Coordinates()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.markers[trainID] = Marker{TrainID: trainID, Lat: lat, Lon: lon, UpdatedAt: b.now()}
}

// RemoveMarker deletes the train's marker if present
func (b *Board) RemoveMarker(trainID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.markers, trainID)
}

// Get returns the marker of a train
func (b *Board) Get(trainID int64) (Marker, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.markers[trainID]
	return m, ok
}

// List returns all markers ordered by train id
func (b *Board) List() []Marker {
	b.mu.RLock()
	defer b.mu.RUnlock()

	list := make([]Marker, 0, len(b.markers))
	for _, m := range b.markers {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TrainID < list[j].TrainID })
	return list
}

// Len returns the number of markers
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.markers)
}

// Fanout forwards every change to each of its sinks in order
type Fanout []Sink

// UpsertMarker implements Sink
func (f Fanout) UpsertMarker(trainID int64, at models.Positioned) {
	for _, s := range f {
		s.UpsertMarker(trainID, at)
	}
}

// RemoveMarker implements Sink
func (f Fanout) RemoveMarker(trainID int64) {
	for _, s := range f {
		s.RemoveMarker(trainID)
	}
}
