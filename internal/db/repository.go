package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/locomotiv/locomotiv_core/internal/models"
)

// schemaSQL is embedded at compile time from schema.sql.
//
//go:embed schema.sql
var schemaSQL string

// Repository reads and writes the yard layout in Postgres.
// It satisfies store.Source and store.Persister.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository on top of pool
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the yard tables if they don't exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	log.Println("Database schema ensured (from embedded schema.sql)")
	return nil
}

// SchemaSQL returns the embedded schema
func SchemaSQL() string {
	return schemaSQL
}

// pointLink ties a block to one of its end points
type pointLink struct {
	blockID  int64
	pointID  int64
	position int
}

// membership is one row of station_train
type membership struct {
	stationID int64
	trainID   int64
	inStation bool
}

// LoadLayout reads the complete yard
func (r *Repository) LoadLayout(ctx context.Context) (*models.Layout, error) {
	startTime := time.Now()
	layout := &models.Layout{}
	var err error

	if layout.Stations, err = r.loadStations(ctx); err != nil {
		return nil, fmt.Errorf("failed to load stations: %w", err)
	}
	if layout.Trains, err = r.loadTrains(ctx); err != nil {
		return nil, fmt.Errorf("failed to load trains: %w", err)
	}
	if layout.Points, err = r.loadPoints(ctx); err != nil {
		return nil, fmt.Errorf("failed to load block points: %w", err)
	}

	var occupants map[int64]int64
	if layout.Blocks, occupants, err = r.loadBlocks(ctx); err != nil {
		return nil, fmt.Errorf("failed to load blocks: %w", err)
	}

	links, err := r.loadLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load block point links: %w", err)
	}

	if layout.Routes, err = r.loadRoutes(ctx); err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}

	memberships, err := r.loadMemberships(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load station memberships: %w", err)
	}

	linkPoints(layout.Blocks, layout.Points, links)
	placeOccupants(layout.Blocks, layout.Trains, occupants)
	applyMemberships(layout.Stations, memberships)

	log.Printf("Read layout from database in %v", time.Since(startTime))
	return layout, nil
}

func (r *Repository) loadStations(ctx context.Context) ([]models.Station, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, lat, lon, capacity, type
		FROM station
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var s models.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Latitude, &s.Longitude, &s.Capacity, &s.Type); err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

func (r *Repository) loadTrains(ctx context.Context) ([]models.Train, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, type, speed, priority, capacity, state, lat, lon
		FROM train
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trains []models.Train
	for rows.Next() {
		var t models.Train
		if err := rows.Scan(&t.ID, &t.Type, &t.Speed, &t.Priority, &t.Capacity, &t.State, &t.Latitude, &t.Longitude); err != nil {
			return nil, err
		}
		trains = append(trains, t)
	}
	return trains, rows.Err()
}

func (r *Repository) loadPoints(ctx context.Context) ([]models.BlockPoint, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, lat, lon FROM block_point ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.BlockPoint
	for rows.Next() {
		var p models.BlockPoint
		if err := rows.Scan(&p.ID, &p.Latitude, &p.Longitude); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// loadBlocks also returns the occupying train id of each occupied block
func (r *Repository) loadBlocks(ctx context.Context) ([]models.Block, map[int64]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lat, lon, length_meters, current_train_id
		FROM block
		ORDER BY id
	`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var blocks []models.Block
	occupants := make(map[int64]int64)
	for rows.Next() {
		var b models.Block
		var trainID *int64
		if err := rows.Scan(&b.ID, &b.Latitude, &b.Longitude, &b.LengthM, &trainID); err != nil {
			return nil, nil, err
		}
		if trainID != nil {
			occupants[b.ID] = *trainID
		}
		blocks = append(blocks, b)
	}
	return blocks, occupants, rows.Err()
}

func (r *Repository) loadLinks(ctx context.Context) ([]pointLink, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT block_id, point_id, position
		FROM block_point_link
		ORDER BY block_id, position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []pointLink
	for rows.Next() {
		var l pointLink
		if err := rows.Scan(&l.blockID, &l.pointID, &l.position); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *Repository) loadRoutes(ctx context.Context) ([]models.Route, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, block_ids, start_station_id, end_station_id
		FROM predefined_route
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []models.Route
	for rows.Next() {
		var rt models.Route
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.BlockIDs, &rt.StartStationID, &rt.EndStationID); err != nil {
			return nil, err
		}
		routes = append(routes, rt)
	}
	return routes, rows.Err()
}

func (r *Repository) loadMemberships(ctx context.Context) ([]membership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT station_id, train_id, in_station
		FROM station_train
		ORDER BY updated_at, train_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []membership
	for rows.Next() {
		var m membership
		if err := rows.Scan(&m.stationID, &m.trainID, &m.inStation); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// SaveStationMembership places a train in one of a station's sets
func (r *Repository) SaveStationMembership(ctx context.Context, stationID, trainID int64, inStation bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO station_train (station_id, train_id, in_station)
		VALUES ($1, $2, $3)
		ON CONFLICT (station_id, train_id) DO UPDATE
		SET in_station = EXCLUDED.in_station,
		    updated_at = NOW()
	`, stationID, trainID, inStation)
	if err != nil {
		return fmt.Errorf("failed to save train %d at station %d: %w", trainID, stationID, err)
	}
	return nil
}

// DeleteStationMembership drops a train from one station
func (r *Repository) DeleteStationMembership(ctx context.Context, stationID, trainID int64) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM station_train
		WHERE station_id = $1 AND train_id = $2
	`, stationID, trainID)
	if err != nil {
		return fmt.Errorf("failed to remove train %d from station %d: %w", trainID, stationID, err)
	}
	return nil
}

// DeleteTrainMemberships drops a train from every station
func (r *Repository) DeleteTrainMemberships(ctx context.Context, trainID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM station_train WHERE train_id = $1`, trainID); err != nil {
		return fmt.Errorf("failed to remove train %d from stations: %w", trainID, err)
	}
	return nil
}

// SaveLayout upserts a full layout in a single transaction
func (r *Repository) SaveLayout(ctx context.Context, layout *models.Layout) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	steps := []struct {
		name  string
		batch *pgx.Batch
	}{
		{"stations", stationBatch(layout.Stations)},
		{"trains", trainBatch(layout.Trains)},
		{"block points", pointBatch(layout.Points)},
		{"blocks", blockBatch(layout.Blocks)},
		{"routes", routeBatch(layout.Routes)},
		{"station memberships", membershipBatch(layout.Stations)},
	}

	for _, step := range steps {
		if err := sendBatch(ctx, tx, step.batch); err != nil {
			return fmt.Errorf("failed to import %s: %w", step.name, err)
		}
		log.Printf("Imported %d rows (%s)", step.batch.Len(), step.name)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

func stationBatch(stations []models.Station) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, s := range stations {
		batch.Queue(`
			INSERT INTO station (id, name, lat, lon, capacity, type)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name,
			    lat = EXCLUDED.lat,
			    lon = EXCLUDED.lon,
			    capacity = EXCLUDED.capacity,
			    type = EXCLUDED.type
		`, s.ID, s.Name, s.Latitude, s.Longitude, s.Capacity, string(s.Type))
	}
	return batch
}

func trainBatch(trains []models.Train) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, t := range trains {
		batch.Queue(`
			INSERT INTO train (id, type, speed, priority, capacity, state, lat, lon)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE
			SET type = EXCLUDED.type,
			    speed = EXCLUDED.speed,
			    priority = EXCLUDED.priority,
			    capacity = EXCLUDED.capacity,
			    state = EXCLUDED.state
		`, t.ID, string(t.Type), t.Speed, string(t.Priority), t.Capacity, string(t.State), t.Latitude, t.Longitude)
	}
	return batch
}

func pointBatch(points []models.BlockPoint) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO block_point (id, lat, lon)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE
			SET lat = EXCLUDED.lat,
			    lon = EXCLUDED.lon
		`, p.ID, p.Latitude, p.Longitude)
	}
	return batch
}

func blockBatch(blocks []models.Block) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, b := range blocks {
		batch.Queue(`
			INSERT INTO block (id, lat, lon, length_meters)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET lat = EXCLUDED.lat,
			    lon = EXCLUDED.lon,
			    length_meters = EXCLUDED.length_meters
		`, b.ID, b.Latitude, b.Longitude, b.LengthM)

		for i, p := range b.Points {
			batch.Queue(`
				INSERT INTO block_point_link (block_id, point_id, position)
				VALUES ($1, $2, $3)
				ON CONFLICT (block_id, point_id) DO UPDATE
				SET position = EXCLUDED.position
			`, b.ID, p.ID, i)
		}
	}
	return batch
}

func routeBatch(routes []models.Route) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, rt := range routes {
		batch.Queue(`
			INSERT INTO predefined_route (id, name, block_ids, start_station_id, end_station_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name,
			    block_ids = EXCLUDED.block_ids,
			    start_station_id = EXCLUDED.start_station_id,
			    end_station_id = EXCLUDED.end_station_id
		`, rt.ID, rt.Name, rt.BlockIDs, rt.StartStationID, rt.EndStationID)
	}
	return batch
}

func membershipBatch(stations []models.Station) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, s := range stations {
		for _, m := range stationMemberships(s) {
			batch.Queue(`
				INSERT INTO station_train (station_id, train_id, in_station)
				VALUES ($1, $2, $3)
				ON CONFLICT (station_id, train_id) DO UPDATE
				SET in_station = EXCLUDED.in_station,
				    updated_at = NOW()
			`, m.stationID, m.trainID, m.inStation)
		}
	}
	return batch
}

// stationMemberships flattens a station's two sets into rows
func stationMemberships(s models.Station) []membership {
	rows := make([]membership, 0, len(s.Trains)+len(s.TrainsInStation))
	for _, id := range s.Trains {
		rows = append(rows, membership{stationID: s.ID, trainID: id})
	}
	for _, id := range s.TrainsInStation {
		rows = append(rows, membership{stationID: s.ID, trainID: id, inStation: true})
	}
	return rows
}

// linkPoints attaches end points to their blocks following link order
func linkPoints(blocks []models.Block, points []models.BlockPoint, links []pointLink) {
	byID := make(map[int64]models.BlockPoint, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}
	index := make(map[int64]int, len(blocks))
	for i, b := range blocks {
		index[b.ID] = i
	}

	for _, l := range links {
		i, ok := index[l.blockID]
		if !ok {
			continue
		}
		p, ok := byID[l.pointID]
		if !ok {
			log.Printf("Warning: block %d links unknown point %d", l.blockID, l.pointID)
			continue
		}
		blocks[i].Points = append(blocks[i].Points, p)
	}
}

// placeOccupants sets each occupied block's current train
func placeOccupants(blocks []models.Block, trains []models.Train, occupants map[int64]int64) {
	byID := make(map[int64]int, len(trains))
	for i, t := range trains {
		byID[t.ID] = i
	}

	for i := range blocks {
		trainID, ok := occupants[blocks[i].ID]
		if !ok {
			continue
		}
		if j, ok := byID[trainID]; ok {
			blocks[i].CurrentTrain = &trains[j]
		}
	}
}

// applyMemberships fills the two train sets of each station
func applyMemberships(stations []models.Station, memberships []membership) {
	index := make(map[int64]int, len(stations))
	for i, s := range stations {
		index[s.ID] = i
	}

	for _, m := range memberships {
		i, ok := index[m.stationID]
		if !ok {
			continue
		}
		if m.inStation {
			stations[i].TrainsInStation = append(stations[i].TrainsInStation, m.trainID)
		} else {
			stations[i].Trains = append(stations[i].Trains, m.trainID)
		}
	}
}
