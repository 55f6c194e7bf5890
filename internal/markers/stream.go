package markers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/locomotiv/locomotiv_core/internal/models"
	"github.com/r3labs/sse/v2"
)

// StreamID is the server-sent event stream carrying marker changes
const StreamID = "markers"

// Event types published on the stream
const (
	EventUpsert = "upsert"
	EventRemove = "remove"
)

// Change is the payload of one marker event
type Change struct {
	Type   string `json:"type"`
	Marker Marker `json:"marker"`
}

// Stream publishes marker changes as server-sent events.
// Clients subscribe with GET /events?stream=markers.
type Stream struct {
	s   *sse.Server
	now func() time.Time
}

// NewStream creates a stream with no subscribers
func NewStream() *Stream {
	s := sse.New()
	s.AutoReplay = false
	s.CreateStream(StreamID)
	return &Stream{s: s, now: time.Now}
}

// UpsertMarker implements Sink
func (st *Stream) UpsertMarker(trainID int64, at models.Positioned) {
	lat, lon := at.Coordinates()
	st.publish(Change{
		Type:   EventUpsert,
		Marker: Marker{TrainID: trainID, Lat: lat, Lon: lon, UpdatedAt: st.now()},
	})
}

// RemoveMarker implements Sink
func (st *Stream) RemoveMarker(trainID int64) {
	st.publish(Change{
		Type:   EventRemove,
		Marker: Marker{TrainID: trainID, UpdatedAt: st.now()},
	})
}

func (st *Stream) publish(c Change) {
	data, err := json.Marshal(c)
	if err != nil {
		log.Printf("markers: marshal json: %s", err)
		return
	}
	// drops the event when a subscriber buffer is full
	st.s.TryPublish(StreamID, &sse.Event{
		Event: []byte(c.Type),
		Data:  data,
	})
}

// ServeHTTP serves the event stream
func (st *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st.s.ServeHTTP(w, r)
}

// Close disconnects every subscriber
func (st *Stream) Close() {
	st.s.Close()
}
