package models

import "errors"

// ErrNotFound is returned by lookups when no record matches the identifier
var ErrNotFound = errors.New("not found")

// TrainType represents the service a train is used for
type TrainType string

const (
	TrainMaintenance TrainType = "MAINTENANCE"
	TrainMerchandise TrainType = "MERCHANDISE"
	TrainPassenger   TrainType = "PASSENGER"
	TrainExpress     TrainType = "EXPRESS"
)

// PriorityLevel represents the dispatch priority of a train
type PriorityLevel string

const (
	PriorityLow      PriorityLevel = "LOW"
	PriorityMedium   PriorityLevel = "MEDIUM"
	PriorityHigh     PriorityLevel = "HIGH"
	PriorityCritical PriorityLevel = "CRITICAL"
)

// TrainState represents where a train is in its operating cycle
type TrainState string

const (
	StateIdle       TrainState = "IDLE"
	StateProgrammed TrainState = "PROGRAMMED"
	StateInTransit  TrainState = "IN_TRANSIT"
	StateInStation  TrainState = "IN_STATION"
)

// StationType distinguishes full stations from simple track points
type StationType string

const (
	StationTypeStation StationType = "STATION"
	StationTypePoint   StationType = "POINT"
)

// Positioned is anything that can be placed on the map
type Positioned interface {
	Coordinates() (lat, lon float64)
}

// Train represents a train known to the yard
type Train struct {
	ID        int64         `json:"id"`
	Type      TrainType     `json:"type"`
	Speed     float64       `json:"speed"`
	Priority  PriorityLevel `json:"priority"`
	Capacity  int           `json:"capacity"`
	State     TrainState    `json:"state"`
	Latitude  float64       `json:"lat"`
	Longitude float64       `json:"lon"`
}

// Coordinates implements Positioned
func (t Train) Coordinates() (lat, lon float64) {
	return t.Latitude, t.Longitude
}

// Station represents a station or track point with its two train sets.
// Trains holds assigned (waiting) trains and TrainsInStation holds trains physically
// present; the two sets are disjoint.
type Station struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	Latitude        float64     `json:"lat"`
	Longitude       float64     `json:"lon"`
	Capacity        int         `json:"capacity"`
	Type            StationType `json:"type"`
	Trains          []int64     `json:"trains"`
	TrainsInStation []int64     `json:"trains_in_station"`
}

// Coordinates implements Positioned
func (s Station) Coordinates() (lat, lon float64) {
	return s.Latitude, s.Longitude
}

// HasRoom reports whether another train fits in the station proper
func (s Station) HasRoom() bool {
	return len(s.TrainsInStation) < s.Capacity
}

// BlockPoint is one end of a track block
type BlockPoint struct {
	ID        int64   `json:"id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Coordinates implements Positioned
func (p BlockPoint) Coordinates() (lat, lon float64) {
	return p.Latitude, p.Longitude
}

// Block is an atomic segment of track that holds at most one train
type Block struct {
	ID           int64        `json:"id"`
	Latitude     float64      `json:"lat"`
	Longitude    float64      `json:"lon"`
	LengthM      int          `json:"length_meters"`
	Points       []BlockPoint `json:"points,omitempty"`
	CurrentTrain *Train       `json:"current_train,omitempty"`
}

// Coordinates implements Positioned
func (b Block) Coordinates() (lat, lon float64) {
	return b.Latitude, b.Longitude
}

// Route is a predefined, ordered list of blocks a train traverses.
// BlockIDs may repeat a block to represent re-traversal.
type Route struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	BlockIDs       []int64 `json:"block_ids"`
	StartStationID *int64  `json:"start_station_id,omitempty"`
	EndStationID   *int64  `json:"end_station_id,omitempty"`
}

// Layout is a complete snapshot of the yard as loaded from storage or fixtures
type Layout struct {
	Stations []Station
	Trains   []Train
	Points   []BlockPoint
	Blocks   []Block
	Routes   []Route
}

// OperatorKey is an active API key of a yard operator
type OperatorKey struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	RateLimitPerSecond int    `json:"rate_limit_per_second"`
}
