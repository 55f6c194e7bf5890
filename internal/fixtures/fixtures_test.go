package fixtures

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/locomotiv/locomotiv_core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	layout, err := Default()
	require.NoError(t, err)

	assert.Len(t, layout.Stations, 10)
	assert.Len(t, layout.Trains, 4)
	assert.Len(t, layout.Points, 30)
	assert.Len(t, layout.Blocks, 33)
	assert.Len(t, layout.Routes, 4)

	palais := layout.Stations[7]
	assert.Equal(t, "Gare du Palais", palais.Name)
	assert.Equal(t, models.StationTypeStation, palais.Type)
	assert.Equal(t, 3, palais.Capacity)
	assert.Equal(t, []int64{1}, palais.TrainsInStation)

	// block 1 joins points 19 and 20
	b := layout.Blocks[0]
	assert.Equal(t, int64(1), b.ID)
	assert.InDelta(t, (46.796969+46.792849)/2, b.Latitude, 1e-9)
	assert.InDelta(t, (-71.320005-71.351264)/2, b.Longitude, 1e-9)
	assert.InDelta(t, 2410, b.LengthM, 50)

	route := layout.Routes[0]
	assert.Equal(t, []int64{16, 15, 14, 23}, route.BlockIDs)
	require.NotNil(t, route.EndStationID)
	assert.Equal(t, int64(4), *route.EndStationID)
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"stations.csv": {Data: []byte(
			"station_id,name,lat,lon,capacity,type,trains,trains_in_station\n" +
				"8,Gare du Palais,46.8174,-71.2139,3,station,2;9,1\n" +
				"9,Nowhere,0,0,1,POINT,,\n" +
				"10,Gare CN,46.753156,-71.303381,oops,STATION,,\n")},
		"trains.csv": {Data: []byte(
			"train_id,type,speed,priority,capacity,state\n" +
				"1,MAINTENANCE,80,HIGH,50,IN_STATION\n" +
				"2,passenger,80,low,50,\n" +
				"3,HOVERCRAFT,80,LOW,50,IDLE\n")},
		"block_points.csv": {Data: []byte(
			"point_id,lat,lon\n" +
				"19,46.796969,-71.320005\n" +
				"20,46.792849,-71.351264\n" +
				"12,46.799669,-71.294171\n")},
		"blocks.csv": {Data: []byte(
			"block_id,point_ids\n" +
				"1,19;20\n" +
				"2,19;404\n" +
				"3,20;19;12\n")},
		"routes.csv": {Data: []byte(
			"route_id,name,block_ids,start_station_id,end_station_id\n" +
				"1,West,1;3;2,10,8\n" +
				"2,Loop,,,\n")},
	}
}

func TestLoad(t *testing.T) {
	layout, err := Load(testFS())
	require.NoError(t, err)

	require.Len(t, layout.Stations, 1)
	s := layout.Stations[0]
	assert.Equal(t, models.StationTypeStation, s.Type)
	assert.Equal(t, []int64{1}, s.TrainsInStation)
	assert.Equal(t, []int64{2}, s.Trains)

	require.Len(t, layout.Trains, 2)
	assert.Equal(t, models.TrainPassenger, layout.Trains[1].Type)
	assert.Equal(t, models.PriorityLow, layout.Trains[1].Priority)
	assert.Equal(t, models.StateIdle, layout.Trains[1].State)

	require.Len(t, layout.Blocks, 2)
	assert.Equal(t, int64(1), layout.Blocks[0].ID)
	assert.Equal(t, int64(3), layout.Blocks[1].ID)
	assert.Len(t, layout.Blocks[1].Points, 3)
	assert.Greater(t, layout.Blocks[1].LengthM, layout.Blocks[0].LengthM)

	require.Len(t, layout.Routes, 2)
	west := layout.Routes[0]
	assert.Equal(t, []int64{1, 3, 2}, west.BlockIDs)
	assert.Nil(t, west.StartStationID)
	require.NotNil(t, west.EndStationID)
	assert.Equal(t, int64(8), *west.EndStationID)
	assert.Empty(t, layout.Routes[1].BlockIDs)
}

func TestParseMissingFiles(t *testing.T) {
	fsys := testFS()
	delete(fsys, "routes.csv")

	layout, err := Parse(fsys)
	require.NoError(t, err)
	assert.Empty(t, layout.Routes)

	delete(fsys, "blocks.csv")
	_, err = Parse(fsys)
	assert.ErrorContains(t, err, "failed to parse blocks (required)")
}

func TestLoadPath(t *testing.T) {
	dir := t.TempDir()
	for name, file := range testFS() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), file.Data, 0o644))
	}

	fromDir, err := LoadPath(dir)
	require.NoError(t, err)
	assert.Len(t, fromDir.Blocks, 2)

	zipPath := filepath.Join(t.TempDir(), "layout.zip")
	out, err := os.Create(zipPath)
	require.NoError(t, err)
	w := zip.NewWriter(out)
	for name, file := range testFS() {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(file.Data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())

	fromZip, err := LoadPath(zipPath)
	require.NoError(t, err)
	assert.Equal(t, fromDir, fromZip)

	_, err = LoadPath(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestHaversineDistance(t *testing.T) {
	tests := []struct {
		name     string
		lat1     float64
		lon1     float64
		lat2     float64
		lon2     float64
		expected float64
		delta    float64
	}{
		{
			name:     "Zero distance",
			lat1:     46.8174,
			lon1:     -71.2139,
			lat2:     46.8174,
			lon2:     -71.2139,
			expected: 0,
			delta:    1,
		},
		{
			name:     "Approximately 1km north",
			lat1:     46.8174,
			lon1:     -71.2139,
			lat2:     46.8264,
			lon2:     -71.2139,
			expected: 1000,
			delta:    10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := haversineDistance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.expected, result, tt.delta)
		})
	}
}

func TestValidateAndCleanStations(t *testing.T) {
	tests := []struct {
		name     string
		stations []models.Station
		expected int
	}{
		{
			name: "All valid stations",
			stations: []models.Station{
				{ID: 1, Latitude: 46.83, Longitude: -71.20, Capacity: 1, Type: models.StationTypePoint},
				{ID: 2, Latitude: 46.81, Longitude: -71.21, Capacity: 3, Type: models.StationTypeStation},
			},
			expected: 2,
		},
		{
			name: "Filter invalid latitude",
			stations: []models.Station{
				{ID: 1, Latitude: 46.83, Longitude: -71.20, Type: models.StationTypePoint},
				{ID: 2, Latitude: 95.0, Longitude: -71.21, Type: models.StationTypeStation},
			},
			expected: 1,
		},
		{
			name: "Filter null island",
			stations: []models.Station{
				{ID: 1, Latitude: 46.83, Longitude: -71.20, Type: models.StationTypePoint},
				{ID: 2, Type: models.StationTypeStation},
			},
			expected: 1,
		},
		{
			name: "Filter negative capacity",
			stations: []models.Station{
				{ID: 1, Latitude: 46.83, Longitude: -71.20, Capacity: -1, Type: models.StationTypePoint},
			},
			expected: 0,
		},
		{
			name: "Filter unknown type",
			stations: []models.Station{
				{ID: 1, Latitude: 46.83, Longitude: -71.20, Type: "DEPOT"},
			},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndCleanStations(tt.stations)
			assert.Equal(t, tt.expected, len(result))
		})
	}
}

func TestCleanMemberships(t *testing.T) {
	stations := []models.Station{
		{ID: 8, Trains: []int64{1, 2, 2, 404}, TrainsInStation: []int64{1, 3, 3}},
	}
	trains := []models.Train{{ID: 1}, {ID: 2}, {ID: 3}}

	cleaned := CleanMemberships(stations, trains)

	assert.Equal(t, []int64{1, 3}, cleaned[0].TrainsInStation)
	assert.Equal(t, []int64{2}, cleaned[0].Trains)
}
