package movement

import (
	"math"

	"github.com/locomotiv/locomotiv_core/internal/models"
)

// MovementState is the engine's record of one train's progress along a route.
// While the state is active, 0 <= CurrentBlockIndex < len(Blocks).
type MovementState struct {
	Train             models.Train
	Blocks            []models.Block
	CurrentBlockIndex int
	IsMoving          bool
	Route             models.Route
}

func newMovementState(train models.Train, blocks []models.Block, route models.Route) *MovementState {
	return &MovementState{
		Train:             train,
		Blocks:            blocks,
		CurrentBlockIndex: 0,
		IsMoving:          true,
		Route:             route,
	}
}

// CurrentBlock returns the block the train occupies
func (s *MovementState) CurrentBlock() models.Block {
	return s.Blocks[s.CurrentBlockIndex]
}

// advance moves the cursor one block forward and reports whether the route is exhausted
func (s *MovementState) advance() bool {
	s.CurrentBlockIndex++
	return s.CurrentBlockIndex >= len(s.Blocks)
}

// Progress returns the fraction of the route's blocks reached so far, in [0, 1]
func (s *MovementState) Progress() float64 {
	if len(s.Blocks) == 0 {
		return 0
	}
	progress := float64(s.CurrentBlockIndex+1) / float64(len(s.Blocks))
	return math.Max(0, math.Min(1, progress))
}

// Arrival describes a train that completed its route during a tick
type Arrival struct {
	TrainID   int64  `json:"train_id"`
	RouteID   int64  `json:"route_id"`
	StationID *int64 `json:"station_id,omitempty"`
	InStation bool   `json:"in_station"`
}

// MovementView is a read-only snapshot of an active movement
type MovementView struct {
	TrainID    int64   `json:"train_id"`
	RouteID    int64   `json:"route_id"`
	RouteName  string  `json:"route_name"`
	BlockID    int64   `json:"block_id"`
	BlockIndex int     `json:"block_index"`
	BlockCount int     `json:"block_count"`
	Progress   float64 `json:"progress"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

func (s *MovementState) view() MovementView {
	block := s.CurrentBlock()
	return MovementView{
		TrainID:    s.Train.ID,
		RouteID:    s.Route.ID,
		RouteName:  s.Route.Name,
		BlockID:    block.ID,
		BlockIndex: s.CurrentBlockIndex,
		BlockCount: len(s.Blocks),
		Progress:   s.Progress(),
		Lat:        s.Train.Latitude,
		Lon:        s.Train.Longitude,
	}
}
