package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/mdcvision/dumpwatch/pkg/station"
	"github.com/mdcvision/dumpwatch/pkg/stream"
)

type fakeStation struct {
	id       int
	hasFrame bool
}

func (f *fakeStation) DumpID() int { return f.id }

func (f *fakeStation) Snapshot() station.Snapshot {
	return station.Snapshot{
		DumpID:         f.id,
		Running:        true,
		FSMState:       "EMPTY_IDLE",
		CanePercentage: 42,
		Timestamp:      time.Now(),
	}
}

func (f *fakeStation) LatestFrame(role string) *stream.Frame {
	if !f.hasFrame {
		return nil
	}
	return &stream.Frame{
		Role: role,
		Mat:  gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3),
		Time: time.Now(),
	}
}

func testServer(stations ...StationView) *Server {
	return New(":0", stations)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	rec := get(t, testServer(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServer_Status(t *testing.T) {
	s := testServer(&fakeStation{id: 1}, &fakeStation{id: 2})
	rec := get(t, s, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Stations []station.Snapshot `json:"stations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(body.Stations) != 2 {
		t.Fatalf("stations = %d, want 2", len(body.Stations))
	}
}

func TestServer_Station(t *testing.T) {
	s := testServer(&fakeStation{id: 3})

	rec := get(t, s, "/api/stations/3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap station.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if snap.DumpID != 3 || snap.CanePercentage != 42 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	if rec := get(t, s, "/api/stations/9"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown station status = %d, want 404", rec.Code)
	}
	if rec := get(t, s, "/api/stations/abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad station id status = %d, want 400", rec.Code)
	}
}

func TestServer_Frames(t *testing.T) {
	s := testServer(&fakeStation{id: 1, hasFrame: true}, &fakeStation{id: 2})

	rec := get(t, s, "/api/stations/1/frames/front")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %s, want image/jpeg", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty jpeg body")
	}

	if rec := get(t, s, "/api/stations/2/frames/top"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("missing frame status = %d, want 503", rec.Code)
	}
	if rec := get(t, s, "/api/stations/1/frames/side"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad role status = %d, want 400", rec.Code)
	}
}
