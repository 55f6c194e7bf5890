package api

import (
	"context"
	"errors"
	"log"
	"slices"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/locomotiv/locomotiv_core/internal/markers"
	"github.com/locomotiv/locomotiv_core/internal/models"
	"github.com/locomotiv/locomotiv_core/internal/movement"
	"github.com/locomotiv/locomotiv_core/internal/store"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// LockFunc takes the dispatch lock. The returned release frees it.
type LockFunc func(ctx context.Context) (release func(ctx context.Context) error, err error)

// ErrDispatchBusy is returned by a LockFunc when another dispatch is running
var ErrDispatchBusy = errors.New("dispatch already in progress")

// Handler serves the yard and movement endpoints
type Handler struct {
	layout     *store.Layout
	engine     *movement.Engine
	dispatcher *movement.Dispatcher
	board      *markers.Board

	// Optional
	Lock   LockFunc
	Checks map[string]HealthCheck
}

// NewHandler wires the handlers to a yard, its engine and the marker board
func NewHandler(layout *store.Layout, engine *movement.Engine, board *markers.Board) *Handler {
	return &Handler{
		layout:     layout,
		engine:     engine,
		dispatcher: movement.NewDispatcher(engine, layout),
		board:      board,
		Checks:     map[string]HealthCheck{},
	}
}

// Register mounts the /v1 endpoints on router
func (h *Handler) Register(router fiber.Router) {
	router.Get("/stations", h.Stations)
	router.Get("/stations/:id", h.Station)
	router.Post("/stations/:id/trains/:train_id", h.EnterStation)
	router.Delete("/stations/:id/trains/:train_id", h.DepartStation)
	router.Get("/blocks", h.Blocks)
	router.Get("/routes", h.Routes)
	router.Get("/trains", h.Trains)
	router.Get("/trains/:id", h.Train)
	router.Post("/trains/:id/start", h.StartTrain)
	router.Post("/dispatch", h.Dispatch)
	router.Post("/stop", h.Stop)
	router.Post("/tick", h.Tick)
	router.Get("/movements", h.Movements)
	router.Get("/markers", h.Markers)
	router.Get("/stats", h.Stats)
}

// Health handles the /health endpoint
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx := c.Context()

	checks := fiber.Map{}
	healthy := true
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	if !h.layout.IsLoaded() {
		checks["layout"] = "not loaded"
		healthy = false
	} else {
		checks["layout"] = "ok"
	}

	status := "healthy"
	httpStatus := fiber.StatusOK
	if !healthy {
		status = "unhealthy"
		httpStatus = fiber.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checks": checks,
	})
}

// Stations handles GET /v1/stations
func (h *Handler) Stations(c *fiber.Ctx) error {
	stations, err := h.layout.GetAllStations(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"stations": stations, "count": len(stations)})
}

// Station handles GET /v1/stations/:id
func (h *Handler) Station(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	station, err := h.layout.FindStationByID(c.Context(), id)
	if err != nil {
		return notFoundOr(err)
	}

	return c.JSON(fiber.Map{
		"station":  station,
		"has_room": station.HasRoom(),
	})
}

// DepartStation handles DELETE /v1/stations/:id/trains/:train_id.
// A train on a platform frees it and stays assigned to the station; an
// assigned train is dropped from the station.
func (h *Handler) DepartStation(c *fiber.Ctx) error {
	stationID, trainID, err := stationTrainIDs(c)
	if err != nil {
		return err
	}

	ctx := c.Context()
	if h.engine.IsActive(trainID) {
		return fiber.NewError(fiber.StatusConflict, movement.ErrAlreadyMoving.Error())
	}
	train, err := h.layout.FindTrainByID(ctx, trainID)
	if err != nil {
		return notFoundOr(err)
	}
	left, err := h.layout.RemoveTrainFromStation(ctx, stationID, trainID)
	if err != nil {
		return notFoundOr(err)
	}
	if left {
		if err := h.layout.MoveTrain(ctx, trainID, train, models.StateIdle); err != nil {
			return err
		}
	}

	station, err := h.layout.FindStationByID(ctx, stationID)
	if err != nil {
		return notFoundOr(err)
	}
	return c.JSON(fiber.Map{
		"station":  station,
		"has_room": station.HasRoom(),
	})
}

// EnterStation handles POST /v1/stations/:id/trains/:train_id.
// The train takes a platform and is parked at the station.
func (h *Handler) EnterStation(c *fiber.Ctx) error {
	stationID, trainID, err := stationTrainIDs(c)
	if err != nil {
		return err
	}

	ctx := c.Context()
	if h.engine.IsActive(trainID) {
		return fiber.NewError(fiber.StatusConflict, movement.ErrAlreadyMoving.Error())
	}
	if _, err := h.layout.FindTrainByID(ctx, trainID); err != nil {
		return notFoundOr(err)
	}
	station, err := h.layout.FindStationByID(ctx, stationID)
	if err != nil {
		return notFoundOr(err)
	}
	if slices.Contains(station.TrainsInStation, trainID) {
		return fiber.NewError(fiber.StatusConflict, "train is already in the station")
	}
	if !station.HasRoom() {
		return fiber.NewError(fiber.StatusConflict, "station is full")
	}

	if err := h.layout.RemoveTrainFromAllStations(ctx, trainID); err != nil {
		return err
	}
	if err := h.layout.ReleaseTrainBlocks(ctx, trainID); err != nil {
		return err
	}
	if err := h.layout.AddTrainToStation(ctx, stationID, trainID, true); err != nil {
		return notFoundOr(err)
	}
	if err := h.layout.MoveTrain(ctx, trainID, station, models.StateInStation); err != nil {
		return err
	}

	station, err = h.layout.FindStationByID(ctx, stationID)
	if err != nil {
		return notFoundOr(err)
	}
	return c.JSON(fiber.Map{
		"station":  station,
		"has_room": station.HasRoom(),
	})
}

// Blocks handles GET /v1/blocks
func (h *Handler) Blocks(c *fiber.Ctx) error {
	blocks, err := h.layout.GetAllBlocks(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"blocks": blocks, "count": len(blocks)})
}

// Routes handles GET /v1/routes
func (h *Handler) Routes(c *fiber.Ctx) error {
	routes, err := h.layout.GetAllRoutes(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"routes": routes, "count": len(routes)})
}

// Trains handles GET /v1/trains
func (h *Handler) Trains(c *fiber.Ctx) error {
	trains, err := h.layout.GetAllTrains(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"trains": trains, "count": len(trains)})
}

// Train handles GET /v1/trains/:id
func (h *Handler) Train(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	train, err := h.layout.FindTrainByID(c.Context(), id)
	if err != nil {
		return notFoundOr(err)
	}

	return c.JSON(fiber.Map{
		"train":  train,
		"moving": h.engine.IsActive(id),
	})
}

// StartRequest is the body of POST /v1/trains/:id/start
type StartRequest struct {
	RouteID int64 `json:"route_id"`
}

// StartTrain handles POST /v1/trains/:id/start
func (h *Handler) StartTrain(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req StartRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.RouteID == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "route_id is required")
	}

	ctx := c.Context()
	train, err := h.layout.FindTrainByID(ctx, id)
	if err != nil {
		return notFoundOr(err)
	}
	route, err := h.layout.FindRouteByID(ctx, req.RouteID)
	if err != nil {
		return notFoundOr(err)
	}

	err = h.engine.StartMovement(ctx, train, route)
	switch {
	case errors.Is(err, movement.ErrAlreadyMoving):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, movement.ErrEmptyRoute),
		errors.Is(err, movement.ErrUnresolvedRoute),
		errors.Is(err, movement.ErrInvalidDispatch):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"train_id": id,
		"route_id": route.ID,
		"moving":   true,
	})
}

// Dispatch handles POST /v1/dispatch
func (h *Handler) Dispatch(c *fiber.Ctx) error {
	ctx := c.Context()

	if h.Lock != nil {
		release, err := h.Lock(ctx)
		switch {
		case errors.Is(err, ErrDispatchBusy):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case err != nil:
			// degrade gracefully: a single replica still dispatches safely
			log.Printf("Failed to acquire dispatch lock: %v", err)
		default:
			defer func() {
				if err := release(context.Background()); err != nil {
					log.Printf("Failed to release dispatch lock: %v", err)
				}
			}()
		}
	}

	started, err := h.dispatcher.StartAllWithRoutes(ctx)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"dispatched": started,
		"active":     h.engine.ActiveTrainIDs(),
	})
}

// Stop handles POST /v1/stop
func (h *Handler) Stop(c *fiber.Ctx) error {
	stopped := len(h.engine.ActiveTrainIDs())
	h.engine.StopAll(c.Context())
	return c.JSON(fiber.Map{"stopped": stopped})
}

// Tick handles POST /v1/tick, advancing every moving train by one block
func (h *Handler) Tick(c *fiber.Ctx) error {
	arrivals := h.engine.Tick(c.Context())
	if arrivals == nil {
		arrivals = []movement.Arrival{}
	}
	return c.JSON(fiber.Map{
		"arrivals": arrivals,
		"active":   h.engine.ActiveTrainIDs(),
	})
}

// Movements handles GET /v1/movements
func (h *Handler) Movements(c *fiber.Ctx) error {
	views := h.engine.Snapshot()
	return c.JSON(fiber.Map{
		"movements": views,
		"running":   h.engine.Scheduler().Running(),
		"interval":  h.engine.Scheduler().Interval().String(),
	})
}

// Markers handles GET /v1/markers
func (h *Handler) Markers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"markers": h.board.List()})
}

// Stats handles GET /v1/stats
func (h *Handler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"layout":  h.layout.Stats(),
		"moving":  len(h.engine.ActiveTrainIDs()),
		"markers": h.board.Len(),
	})
}

func pathID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// stationTrainIDs parses the :id and :train_id params
func stationTrainIDs(c *fiber.Ctx) (int64, int64, error) {
	stationID, err := pathID(c)
	if err != nil {
		return 0, 0, err
	}
	trainID, err := strconv.ParseInt(c.Params("train_id"), 10, 64)
	if err != nil || trainID <= 0 {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "invalid train_id")
	}
	return stationID, trainID, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return err
}

// ErrorHandler renders handler errors as JSON
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	if code >= fiber.StatusInternalServerError {
		log.Printf("Error: %v", err)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
