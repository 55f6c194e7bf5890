// Package fixtures reads yard layouts from CSV files.
//
// A layout is a set of five files, in a directory or at the root of a zip archive:
//
//	stations.csv      station_id,name,lat,lon,capacity,type[,trains][,trains_in_station]
//	trains.csv        train_id,type,speed,priority,capacity,state
//	block_points.csv  point_id,lat,lon
//	blocks.csv        block_id,point_ids
//	routes.csv        route_id,name,block_ids,start_station_id,end_station_id
//
// List columns hold ids separated by ';'. routes.csv is optional.
package fixtures

import (
	"archive/zip"
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/locomotiv/locomotiv_core/internal/models"
)

//go:embed data/*.csv
var defaultData embed.FS

// Default returns the built-in Quebec City layout
func Default() (*models.Layout, error) {
	sub, err := fs.Sub(defaultData, "data")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// LoadPath reads a layout from a directory or a .zip file
func LoadPath(path string) (*models.Layout, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return Load(os.DirFS(path))
	}

	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer reader.Close()

	return Load(reader)
}

// Load parses, validates and completes the layout found in fsys
func Load(fsys fs.FS) (*models.Layout, error) {
	layout, err := Parse(fsys)
	if err != nil {
		return nil, err
	}
	Normalize(layout)
	return layout, nil
}

// Parse reads the raw layout files without validation
func Parse(fsys fs.FS) (*models.Layout, error) {
	layout := &models.Layout{}
	var err error

	if layout.Stations, err = parseFile(fsys, "stations.csv", parseStation); err != nil {
		return nil, fmt.Errorf("failed to parse stations (required): %w", err)
	}
	log.Printf("Parsed %d stations", len(layout.Stations))

	if layout.Trains, err = parseFile(fsys, "trains.csv", parseTrain); err != nil {
		return nil, fmt.Errorf("failed to parse trains (required): %w", err)
	}
	log.Printf("Parsed %d trains", len(layout.Trains))

	if layout.Points, err = parseFile(fsys, "block_points.csv", parsePoint); err != nil {
		return nil, fmt.Errorf("failed to parse block points (required): %w", err)
	}
	log.Printf("Parsed %d block points", len(layout.Points))

	if layout.Blocks, err = parseFile(fsys, "blocks.csv", parseBlock); err != nil {
		return nil, fmt.Errorf("failed to parse blocks (required): %w", err)
	}
	log.Printf("Parsed %d blocks", len(layout.Blocks))

	if routes, err := parseFile(fsys, "routes.csv", parseRoute); err == nil {
		layout.Routes = routes
		log.Printf("Parsed %d routes", len(routes))
	} else {
		log.Printf("Warning: failed to parse routes: %v", err)
	}

	return layout, nil
}

// rowParser turns one CSV record into a value
type rowParser[T any] func(record []string, colMap map[string]int) (T, error)

func parseFile[T any](fsys fs.FS, name string, parse rowParser[T]) ([]T, error) {
	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseReader(file, name, parse)
}

func parseReader[T any](reader io.Reader, name string, parse rowParser[T]) ([]T, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colMap := makeColumnMap(header)
	var rows []T

	for line := 2; ; line++ {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Warning: skipping malformed row %d in %s: %v", line, name, err)
			continue
		}

		row, err := parse(record, colMap)
		if err != nil {
			log.Printf("Warning: skipping row %d in %s: %v", line, name, err)
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func parseStation(record []string, colMap map[string]int) (models.Station, error) {
	var s models.Station
	var err error

	if s.ID, err = parseID(record, colMap, "station_id"); err != nil {
		return s, err
	}
	if s.Latitude, s.Longitude, err = parseCoordinates(record, colMap); err != nil {
		return s, err
	}
	if s.Capacity, err = strconv.Atoi(getField(record, colMap, "capacity")); err != nil {
		return s, fmt.Errorf("invalid capacity: %w", err)
	}
	if s.Trains, err = parseIDList(getField(record, colMap, "trains")); err != nil {
		return s, fmt.Errorf("invalid trains: %w", err)
	}
	if s.TrainsInStation, err = parseIDList(getField(record, colMap, "trains_in_station")); err != nil {
		return s, fmt.Errorf("invalid trains_in_station: %w", err)
	}

	s.Name = getField(record, colMap, "name")
	s.Type = models.StationType(strings.ToUpper(getField(record, colMap, "type")))
	if s.Type == "" {
		s.Type = models.StationTypeStation
	}
	return s, nil
}

func parseTrain(record []string, colMap map[string]int) (models.Train, error) {
	var t models.Train
	var err error

	if t.ID, err = parseID(record, colMap, "train_id"); err != nil {
		return t, err
	}
	if v := getField(record, colMap, "speed"); v != "" {
		if t.Speed, err = strconv.ParseFloat(v, 64); err != nil {
			return t, fmt.Errorf("invalid speed: %w", err)
		}
	}
	if v := getField(record, colMap, "capacity"); v != "" {
		if t.Capacity, err = strconv.Atoi(v); err != nil {
			return t, fmt.Errorf("invalid capacity: %w", err)
		}
	}

	t.Type = models.TrainType(strings.ToUpper(getField(record, colMap, "type")))
	t.Priority = models.PriorityLevel(strings.ToUpper(getField(record, colMap, "priority")))
	t.State = models.TrainState(strings.ToUpper(getField(record, colMap, "state")))
	if t.State == "" {
		t.State = models.StateIdle
	}
	return t, nil
}

func parsePoint(record []string, colMap map[string]int) (models.BlockPoint, error) {
	var p models.BlockPoint
	var err error

	if p.ID, err = parseID(record, colMap, "point_id"); err != nil {
		return p, err
	}
	p.Latitude, p.Longitude, err = parseCoordinates(record, colMap)
	return p, err
}

// parseBlock keeps only point ids; Normalize resolves them
func parseBlock(record []string, colMap map[string]int) (models.Block, error) {
	var b models.Block
	var err error

	if b.ID, err = parseID(record, colMap, "block_id"); err != nil {
		return b, err
	}
	ids, err := parseIDList(getField(record, colMap, "point_ids"))
	if err != nil {
		return b, fmt.Errorf("invalid point_ids: %w", err)
	}
	for _, id := range ids {
		b.Points = append(b.Points, models.BlockPoint{ID: id})
	}
	return b, nil
}

func parseRoute(record []string, colMap map[string]int) (models.Route, error) {
	var r models.Route
	var err error

	if r.ID, err = parseID(record, colMap, "route_id"); err != nil {
		return r, err
	}
	if r.BlockIDs, err = parseIDList(getField(record, colMap, "block_ids")); err != nil {
		return r, fmt.Errorf("invalid block_ids: %w", err)
	}
	if r.StartStationID, err = parseOptionalID(getField(record, colMap, "start_station_id")); err != nil {
		return r, fmt.Errorf("invalid start_station_id: %w", err)
	}
	if r.EndStationID, err = parseOptionalID(getField(record, colMap, "end_station_id")); err != nil {
		return r, fmt.Errorf("invalid end_station_id: %w", err)
	}

	r.Name = getField(record, colMap, "name")
	return r, nil
}

// Helper functions

func makeColumnMap(header []string) map[string]int {
	colMap := make(map[string]int)
	for i, col := range header {
		// strip a UTF-8 BOM left by spreadsheet exports
		colMap[strings.TrimPrefix(strings.TrimSpace(col), "\ufeff")] = i
	}
	return colMap
}

func getField(record []string, colMap map[string]int, fieldName string) string {
	if idx, ok := colMap[fieldName]; ok && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}

func parseID(record []string, colMap map[string]int, column string) (int64, error) {
	raw := getField(record, colMap, column)
	if raw == "" {
		return 0, fmt.Errorf("missing %s", column)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", column, raw)
	}
	return id, nil
}

func parseOptionalID(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseIDList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ";")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseCoordinates(record []string, colMap map[string]int) (lat, lon float64, err error) {
	if lat, err = strconv.ParseFloat(getField(record, colMap, "lat"), 64); err != nil {
		return 0, 0, fmt.Errorf("invalid lat: %w", err)
	}
	if lon, err = strconv.ParseFloat(getField(record, colMap, "lon"), 64); err != nil {
		return 0, 0, fmt.Errorf("invalid lon: %w", err)
	}
	return lat, lon, nil
}
