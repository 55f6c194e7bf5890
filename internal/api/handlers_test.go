package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/locomotiv/locomotiv_core/internal/markers"
	"github.com/locomotiv/locomotiv_core/internal/models"
	"github.com/locomotiv/locomotiv_core/internal/movement"
	"github.com/locomotiv/locomotiv_core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func newTestApp(t *testing.T) (*fiber.App, *Handler) {
	layout := store.NewLayout()
	layout.Load(&models.Layout{
		Stations: []models.Station{
			{ID: 8, Name: "Gare du Palais", Latitude: 46.8174, Longitude: -71.2139, Capacity: 3, Type: models.StationTypeStation},
			{ID: 2, Name: "Port de Québec", Latitude: 46.823961, Longitude: -71.197774, Capacity: 1, Type: models.StationTypePoint},
		},
		Trains: []models.Train{
			{ID: 1, Type: models.TrainMaintenance, Priority: models.PriorityHigh, State: models.StateIdle},
			{ID: 4, Type: models.TrainExpress, Priority: models.PriorityCritical, State: models.StateIdle},
		},
		Blocks: []models.Block{
			{ID: 16, Latitude: 46.8211, Longitude: -71.2152},
			{ID: 17, Latitude: 46.8216, Longitude: -71.2056},
		},
		Routes: []models.Route{
			{ID: 1, Name: "Palais - Port", BlockIDs: []int64{16, 17}, StartStationID: ptr(8), EndStationID: ptr(2)},
			{ID: 2, Name: "Ghost", BlockIDs: []int64{404}},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	board := markers.NewBoard()
	engine := movement.NewEngine(ctx, layout, board, &movement.Config{TickInterval: time.Hour})
	h := NewHandler(layout, engine, board)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/health", h.Health)
	h.Register(app.Group("/v1"))
	return app, h
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestListEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []struct {
		path  string
		key   string
		count int
	}{
		{path: "/v1/stations", key: "stations", count: 2},
		{path: "/v1/blocks", key: "blocks", count: 2},
		{path: "/v1/routes", key: "routes", count: 2},
		{path: "/v1/trains", key: "trains", count: 2},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, body := do(t, app, http.MethodGet, tt.path, "")
			assert.Equal(t, http.StatusOK, status)
			assert.Len(t, body[tt.key], tt.count)
			assert.EqualValues(t, tt.count, body["count"])
		})
	}
}

func TestStation(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := do(t, app, http.MethodGet, "/v1/stations/8", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["has_room"])
	station := body["station"].(map[string]any)
	assert.Equal(t, "Gare du Palais", station["name"])

	status, _ = do(t, app, http.MethodGet, "/v1/stations/404", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, app, http.MethodGet, "/v1/stations/abc", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid id", body["error"])
}

func TestStartTrain(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "started", path: "/v1/trains/1/start", body: `{"route_id": 1}`, status: http.StatusAccepted},
		{name: "missing route id", path: "/v1/trains/1/start", body: `{}`, status: http.StatusBadRequest},
		{name: "bad body", path: "/v1/trains/1/start", body: `{"route_id": "x"`, status: http.StatusBadRequest},
		{name: "unknown train", path: "/v1/trains/404/start", body: `{"route_id": 1}`, status: http.StatusNotFound},
		{name: "unknown route", path: "/v1/trains/1/start", body: `{"route_id": 404}`, status: http.StatusNotFound},
		{name: "route resolves to nothing", path: "/v1/trains/1/start", body: `{"route_id": 2}`, status: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t)
			status, _ := do(t, app, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestMovementLifecycle(t *testing.T) {
	app, h := newTestApp(t)

	status, _ := do(t, app, http.MethodPost, "/v1/trains/1/start", `{"route_id": 1}`)
	require.Equal(t, http.StatusAccepted, status)

	status, body := do(t, app, http.MethodPost, "/v1/trains/1/start", `{"route_id": 1}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, movement.ErrAlreadyMoving.Error(), body["error"])

	_, body = do(t, app, http.MethodGet, "/v1/movements", "")
	assert.Len(t, body["movements"], 1)
	assert.Equal(t, true, body["running"])

	_, body = do(t, app, http.MethodGet, "/v1/markers", "")
	assert.Len(t, body["markers"], 1)

	_, body = do(t, app, http.MethodGet, "/v1/trains/1", "")
	assert.Equal(t, true, body["moving"])

	_, body = do(t, app, http.MethodPost, "/v1/tick", "")
	assert.Empty(t, body["arrivals"])

	_, body = do(t, app, http.MethodPost, "/v1/tick", "")
	arrivals := body["arrivals"].([]any)
	require.Len(t, arrivals, 1)
	arrival := arrivals[0].(map[string]any)
	assert.EqualValues(t, 1, arrival["train_id"])
	assert.EqualValues(t, 2, arrival["station_id"])
	assert.Equal(t, true, arrival["in_station"])

	assert.False(t, h.engine.Scheduler().Running())
	assert.Zero(t, h.board.Len())

	_, body = do(t, app, http.MethodGet, "/v1/stations/2", "")
	assert.Equal(t, false, body["has_room"])
}

func TestDepartStation(t *testing.T) {
	app, h := newTestApp(t)

	status, _ := do(t, app, http.MethodPost, "/v1/trains/1/start", `{"route_id": 1}`)
	require.Equal(t, http.StatusAccepted, status)

	status, _ = do(t, app, http.MethodDelete, "/v1/stations/2/trains/1", "")
	assert.Equal(t, http.StatusConflict, status)

	do(t, app, http.MethodPost, "/v1/tick", "")
	do(t, app, http.MethodPost, "/v1/tick", "")
	require.False(t, h.engine.IsActive(1))

	status, body := do(t, app, http.MethodDelete, "/v1/stations/2/trains/1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["has_room"])
	station := body["station"].(map[string]any)
	assert.Equal(t, []any{float64(1)}, station["trains"])

	_, body = do(t, app, http.MethodGet, "/v1/trains/1", "")
	train := body["train"].(map[string]any)
	assert.Equal(t, string(models.StateIdle), train["state"])

	status, _ = do(t, app, http.MethodDelete, "/v1/stations/404/trains/1", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodDelete, "/v1/stations/2/trains/x", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDepartStationWrongStation(t *testing.T) {
	app, h := newTestApp(t)

	status, _ := do(t, app, http.MethodPost, "/v1/trains/1/start", `{"route_id": 1}`)
	require.Equal(t, http.StatusAccepted, status)
	do(t, app, http.MethodPost, "/v1/tick", "")
	do(t, app, http.MethodPost, "/v1/tick", "")
	require.False(t, h.engine.IsActive(1))

	status, _ = do(t, app, http.MethodDelete, "/v1/stations/8/trains/1", "")
	assert.Equal(t, http.StatusNotFound, status)

	_, body := do(t, app, http.MethodGet, "/v1/trains/1", "")
	train := body["train"].(map[string]any)
	assert.Equal(t, string(models.StateInStation), train["state"])

	_, body = do(t, app, http.MethodGet, "/v1/stations/2", "")
	station := body["station"].(map[string]any)
	assert.Equal(t, []any{float64(1)}, station["trains_in_station"])
	assert.Equal(t, false, body["has_room"])
}

func TestDepartStationAssignedTrain(t *testing.T) {
	app, _ := newTestApp(t)

	status, _ := do(t, app, http.MethodPost, "/v1/stations/8/trains/4", "")
	require.Equal(t, http.StatusOK, status)
	// back to the assigned set, platform freed
	status, _ = do(t, app, http.MethodDelete, "/v1/stations/8/trains/4", "")
	require.Equal(t, http.StatusOK, status)

	// only assigned now: dropped from the station, state untouched
	status, body := do(t, app, http.MethodDelete, "/v1/stations/8/trains/4", "")
	assert.Equal(t, http.StatusOK, status)
	station := body["station"].(map[string]any)
	assert.Empty(t, station["trains"])

	_, body = do(t, app, http.MethodGet, "/v1/trains/4", "")
	train := body["train"].(map[string]any)
	assert.Equal(t, string(models.StateIdle), train["state"])

	status, _ = do(t, app, http.MethodDelete, "/v1/stations/8/trains/4", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEnterStation(t *testing.T) {
	t.Run("parks the train", func(t *testing.T) {
		app, _ := newTestApp(t)

		status, body := do(t, app, http.MethodPost, "/v1/stations/8/trains/4", "")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["has_room"])
		station := body["station"].(map[string]any)
		assert.Equal(t, []any{float64(4)}, station["trains_in_station"])

		_, body = do(t, app, http.MethodGet, "/v1/trains/4", "")
		train := body["train"].(map[string]any)
		assert.Equal(t, string(models.StateInStation), train["state"])
		assert.Equal(t, 46.8174, train["lat"])
		assert.Equal(t, -71.2139, train["lon"])

		status, _ = do(t, app, http.MethodPost, "/v1/stations/8/trains/4", "")
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("moves between stations", func(t *testing.T) {
		app, _ := newTestApp(t)

		status, _ := do(t, app, http.MethodPost, "/v1/stations/8/trains/4", "")
		require.Equal(t, http.StatusOK, status)
		status, _ = do(t, app, http.MethodPost, "/v1/stations/2/trains/4", "")
		require.Equal(t, http.StatusOK, status)

		_, body := do(t, app, http.MethodGet, "/v1/stations/8", "")
		station := body["station"].(map[string]any)
		assert.Empty(t, station["trains_in_station"])
	})

	t.Run("full station", func(t *testing.T) {
		app, _ := newTestApp(t)

		status, body := do(t, app, http.MethodPost, "/v1/stations/2/trains/1", "")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, false, body["has_room"])

		status, _ = do(t, app, http.MethodPost, "/v1/stations/2/trains/4", "")
		assert.Equal(t, http.StatusConflict, status)

		_, body = do(t, app, http.MethodGet, "/v1/trains/4", "")
		train := body["train"].(map[string]any)
		assert.Equal(t, string(models.StateIdle), train["state"])
	})

	t.Run("moving train", func(t *testing.T) {
		app, _ := newTestApp(t)

		status, _ := do(t, app, http.MethodPost, "/v1/trains/1/start", `{"route_id": 1}`)
		require.Equal(t, http.StatusAccepted, status)
		status, _ = do(t, app, http.MethodPost, "/v1/stations/8/trains/1", "")
		assert.Equal(t, http.StatusConflict, status)
	})

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "unknown station", path: "/v1/stations/404/trains/4", status: http.StatusNotFound},
		{name: "unknown train", path: "/v1/stations/8/trains/404", status: http.StatusNotFound},
		{name: "bad station id", path: "/v1/stations/x/trains/4", status: http.StatusBadRequest},
		{name: "bad train id", path: "/v1/stations/8/trains/x", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t)
			status, _ := do(t, app, http.MethodPost, tt.path, "")
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestDispatchAndStop(t *testing.T) {
	app, h := newTestApp(t)

	released := false
	h.Lock = func(ctx context.Context) (func(context.Context) error, error) {
		return func(context.Context) error {
			released = true
			return nil
		}, nil
	}

	status, body := do(t, app, http.MethodPost, "/v1/dispatch", "")
	assert.Equal(t, http.StatusOK, status)
	// the second route resolves to nothing
	assert.EqualValues(t, 1, body["dispatched"])
	assert.Equal(t, []any{float64(1)}, body["active"])
	assert.True(t, released)

	_, body = do(t, app, http.MethodGet, "/v1/stats", "")
	assert.EqualValues(t, 1, body["moving"])

	status, body = do(t, app, http.MethodPost, "/v1/stop", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["stopped"])
	assert.Empty(t, h.engine.ActiveTrainIDs())
}

func TestDispatchLock(t *testing.T) {
	t.Run("busy", func(t *testing.T) {
		app, h := newTestApp(t)
		h.Lock = func(ctx context.Context) (func(context.Context) error, error) {
			return nil, ErrDispatchBusy
		}

		status, _ := do(t, app, http.MethodPost, "/v1/dispatch", "")
		assert.Equal(t, http.StatusConflict, status)
		assert.Empty(t, h.engine.ActiveTrainIDs())
	})

	t.Run("lock backend down", func(t *testing.T) {
		app, h := newTestApp(t)
		h.Lock = func(ctx context.Context) (func(context.Context) error, error) {
			return nil, errors.New("connection refused")
		}

		status, body := do(t, app, http.MethodPost, "/v1/dispatch", "")
		assert.Equal(t, http.StatusOK, status)
		assert.EqualValues(t, 1, body["dispatched"])
	})
}

func TestHealth(t *testing.T) {
	app, h := newTestApp(t)

	h.Checks["database"] = func(ctx context.Context) error { return nil }
	status, body := do(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	h.Checks["redis"] = func(ctx context.Context) error { return errors.New("Redis ping failed") }
	status, body = do(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "Redis ping failed", checks["redis"])
	assert.Equal(t, "ok", checks["layout"])
}
