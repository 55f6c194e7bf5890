package movement

import (
	"context"
	"errors"

	"github.com/locomotiv/locomotiv_core/internal/models"
)

// Reasons a dispatch request was ignored. The engine state is left untouched in
// every case; callers that only care about the side effects may discard them.
var (
	ErrInvalidDispatch = errors.New("dispatch requires a train and a route")
	ErrEmptyRoute      = errors.New("route has no blocks")
	ErrUnresolvedRoute = errors.New("route resolved to no blocks")
	ErrAlreadyMoving   = errors.New("train is already moving")
)

// Yard is the track and station data the engine reads and updates
type Yard interface {
	// ResolveBlocksForRoute returns the blocks for ids in the given order.
	// Unknown ids are dropped; repeated ids yield repeated blocks.
	ResolveBlocksForRoute(ctx context.Context, ids []int64) ([]models.Block, error)

	// OccupyBlock makes trainID the occupant of blockID
	OccupyBlock(ctx context.Context, blockID, trainID int64) error

	// ReleaseBlock clears blockID if trainID is its occupant
	ReleaseBlock(ctx context.Context, blockID, trainID int64) error

	// ReleaseTrainBlocks clears every block trainID occupies
	ReleaseTrainBlocks(ctx context.Context, trainID int64) error

	// MoveTrain records the display position and state of a train
	MoveTrain(ctx context.Context, trainID int64, at models.Positioned, state models.TrainState) error

	RemoveTrainFromAllStations(ctx context.Context, trainID int64) error
	FindStationByID(ctx context.Context, id int64) (*models.Station, error)
	AddTrainToStation(ctx context.Context, stationID, trainID int64, inStation bool) error
}

// Fleet lists what the dispatcher can pair up
type Fleet interface {
	GetAllRoutes(ctx context.Context) ([]models.Route, error)
	GetAllTrains(ctx context.Context) ([]models.Train, error)
	GetTrainsCurrentlyOnBlocks(ctx context.Context) ([]models.Train, error)
}

// MarkerSink receives map marker changes for moving trains
type MarkerSink interface {
	UpsertMarker(trainID int64, at models.Positioned)
	RemoveMarker(trainID int64)
}

type noopSink struct{}

func (noopSink) UpsertMarker(int64, models.Positioned) {}
func (noopSink) RemoveMarker(int64)                    {}
