package fixtures

import (
	"log"
	"math"

	"github.com/locomotiv/locomotiv_core/internal/models"
)

// Normalize validates a parsed layout in place: it drops invalid stations, points and
// blocks, places each block at the midpoint of its points and computes its length,
// and clears route references to unknown stations.
func Normalize(layout *models.Layout) {
	layout.Stations = ValidateAndCleanStations(layout.Stations)
	layout.Points = ValidateAndCleanPoints(layout.Points)
	layout.Blocks = ResolveBlocks(layout.Blocks, layout.Points)
	layout.Trains = ValidateAndCleanTrains(layout.Trains)
	layout.Stations = CleanMemberships(layout.Stations, layout.Trains)
	layout.Routes = CleanRoutes(layout.Routes, layout.Stations, layout.Blocks)
}

func validCoordinates(lat, lon float64) bool {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return !(lat == 0 && lon == 0)
}

// ValidateAndCleanStations removes stations with invalid coordinates or capacity
func ValidateAndCleanStations(stations []models.Station) []models.Station {
	cleaned := []models.Station{}

	for _, s := range stations {
		if !validCoordinates(s.Latitude, s.Longitude) {
			log.Printf("Warning: invalid coordinates for station %d (%f, %f), skipping", s.ID, s.Latitude, s.Longitude)
			continue
		}
		if s.Capacity < 0 {
			log.Printf("Warning: negative capacity for station %d, skipping", s.ID)
			continue
		}
		if s.Type != models.StationTypeStation && s.Type != models.StationTypePoint {
			log.Printf("Warning: unknown type %q for station %d, skipping", s.Type, s.ID)
			continue
		}
		cleaned = append(cleaned, s)
	}

	if len(cleaned) < len(stations) {
		log.Printf("Cleaned stations: removed %d invalid stations", len(stations)-len(cleaned))
	}
	return cleaned
}

// ValidateAndCleanPoints removes block points with invalid coordinates
func ValidateAndCleanPoints(points []models.BlockPoint) []models.BlockPoint {
	cleaned := []models.BlockPoint{}

	for _, p := range points {
		if !validCoordinates(p.Latitude, p.Longitude) {
			log.Printf("Warning: invalid coordinates for block point %d, skipping", p.ID)
			continue
		}
		cleaned = append(cleaned, p)
	}
	return cleaned
}

var (
	trainTypes = map[models.TrainType]bool{
		models.TrainMaintenance: true,
		models.TrainMerchandise: true,
		models.TrainPassenger:   true,
		models.TrainExpress:     true,
	}
	priorities = map[models.PriorityLevel]bool{
		models.PriorityLow:      true,
		models.PriorityMedium:   true,
		models.PriorityHigh:     true,
		models.PriorityCritical: true,
	}
	trainStates = map[models.TrainState]bool{
		models.StateIdle:       true,
		models.StateProgrammed: true,
		models.StateInTransit:  true,
		models.StateInStation:  true,
	}
)

// ValidateAndCleanTrains removes trains with an unknown type, priority or state
func ValidateAndCleanTrains(trains []models.Train) []models.Train {
	cleaned := []models.Train{}

	for _, t := range trains {
		if !trainTypes[t.Type] || !priorities[t.Priority] || !trainStates[t.State] {
			log.Printf("Warning: train %d has type %q priority %q state %q, skipping", t.ID, t.Type, t.Priority, t.State)
			continue
		}
		cleaned = append(cleaned, t)
	}
	return cleaned
}

// ResolveBlocks replaces block point ids with the points themselves and derives each
// block's position and length. Blocks with fewer than two known points are dropped.
func ResolveBlocks(blocks []models.Block, points []models.BlockPoint) []models.Block {
	byID := make(map[int64]models.BlockPoint, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}

	resolved := []models.Block{}
	for _, b := range blocks {
		var pts []models.BlockPoint
		for _, ref := range b.Points {
			p, ok := byID[ref.ID]
			if !ok {
				log.Printf("Warning: block %d references unknown point %d", b.ID, ref.ID)
				continue
			}
			pts = append(pts, p)
		}
		if len(pts) < 2 {
			log.Printf("Warning: block %d has %d usable points, skipping", b.ID, len(pts))
			continue
		}

		b.Points = pts
		b.Latitude, b.Longitude = midpoint(pts)
		b.LengthM = int(math.Round(pathLength(pts)))
		b.CurrentTrain = nil
		resolved = append(resolved, b)
	}
	return resolved
}

// CleanMemberships drops station memberships of unknown trains and keeps the two
// train sets of each station disjoint, in-station winning.
func CleanMemberships(stations []models.Station, trains []models.Train) []models.Station {
	known := make(map[int64]bool, len(trains))
	for _, t := range trains {
		known[t.ID] = true
	}

	for i := range stations {
		s := &stations[i]
		inStation := make(map[int64]bool)

		var present []int64
		for _, id := range s.TrainsInStation {
			if known[id] && !inStation[id] {
				inStation[id] = true
				present = append(present, id)
			}
		}

		var assigned []int64
		seen := make(map[int64]bool)
		for _, id := range s.Trains {
			if known[id] && !inStation[id] && !seen[id] {
				seen[id] = true
				assigned = append(assigned, id)
			}
		}

		s.TrainsInStation = present
		s.Trains = assigned
	}
	return stations
}

// CleanRoutes clears references to unknown stations and warns about unknown blocks.
// Unknown block ids are kept: they are skipped when the route is resolved.
func CleanRoutes(routes []models.Route, stations []models.Station, blocks []models.Block) []models.Route {
	stationIDs := make(map[int64]bool, len(stations))
	for _, s := range stations {
		stationIDs[s.ID] = true
	}
	blockIDs := make(map[int64]bool, len(blocks))
	for _, b := range blocks {
		blockIDs[b.ID] = true
	}

	for i := range routes {
		r := &routes[i]
		if r.StartStationID != nil && !stationIDs[*r.StartStationID] {
			log.Printf("Warning: route %d starts at unknown station %d", r.ID, *r.StartStationID)
			r.StartStationID = nil
		}
		if r.EndStationID != nil && !stationIDs[*r.EndStationID] {
			log.Printf("Warning: route %d ends at unknown station %d", r.ID, *r.EndStationID)
			r.EndStationID = nil
		}

		missing := 0
		for _, id := range r.BlockIDs {
			if !blockIDs[id] {
				missing++
			}
		}
		if missing > 0 {
			log.Printf("Warning: route %d references %d unknown blocks", r.ID, missing)
		}
	}
	return routes
}

// midpoint returns the mean position of points
func midpoint(points []models.BlockPoint) (lat, lon float64) {
	for _, p := range points {
		lat += p.Latitude
		lon += p.Longitude
	}
	n := float64(len(points))
	return lat / n, lon / n
}

// pathLength sums the distances between consecutive points in meters
func pathLength(points []models.BlockPoint) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		total += haversineDistance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	}
	return total
}

// haversineDistance calculates the distance between two points in meters
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000 // meters

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	return earthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
