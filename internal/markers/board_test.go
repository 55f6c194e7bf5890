package markers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/locomotiv/locomotiv_core/internal/models"
	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func fixedBoard() *Board {
	b := NewBoard()
	b.now = func() time.Time { return epoch }
	return b
}

func TestBoard(t *testing.T) {
	b := fixedBoard()

	b.UpsertMarker(2, models.Block{ID: 16, Latitude: 46.8211, Longitude: -71.2151})
	b.UpsertMarker(1, models.Block{ID: 25, Latitude: 46.7500, Longitude: -71.3065})
	b.UpsertMarker(2, models.Block{ID: 15, Latitude: 46.8231, Longitude: -71.2175})

	want := []Marker{
		{TrainID: 1, Lat: 46.7500, Lon: -71.3065, UpdatedAt: epoch},
		{TrainID: 2, Lat: 46.8231, Lon: -71.2175, UpdatedAt: epoch},
	}
	if diff := cmp.Diff(want, b.List()); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	b.RemoveMarker(2)
	b.RemoveMarker(404)

	_, ok := b.Get(2)
	assert.False(t, ok)
	m, ok := b.Get(1)
	assert.True(t, ok)
	assert.Equal(t, int64(1), m.TrainID)
	assert.Equal(t, 1, b.Len())
}

func TestBoardConcurrentAccess(t *testing.T) {
	b := NewBoard()

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			b.UpsertMarker(id, models.Station{Latitude: 46.8, Longitude: -71.2})
			_ = b.List()
			if id%2 == 0 {
				b.RemoveMarker(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, b.Len())
}

func TestFanout(t *testing.T) {
	first, second := fixedBoard(), fixedBoard()
	f := Fanout{first, second}

	f.UpsertMarker(3, models.Train{Latitude: 46.79, Longitude: -71.33})
	assert.Equal(t, first.List(), second.List())
	assert.Equal(t, 1, second.Len())

	f.RemoveMarker(3)
	assert.Zero(t, first.Len())
	assert.Zero(t, second.Len())
}

func TestStreamWithoutSubscribers(t *testing.T) {
	st := NewStream()
	defer st.Close()

	// publishing with nobody listening must not block
	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 100; i++ {
			st.UpsertMarker(i, models.Block{Latitude: 46.8, Longitude: -71.2})
			st.RemoveMarker(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked")
	}
}

func TestStreamRequiresStreamParameter(t *testing.T) {
	st := NewStream()
	defer st.Close()

	rec := httptest.NewRecorder()
	st.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
