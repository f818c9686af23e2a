package station

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/mdcvision/dumpwatch/pkg/ai"
	"github.com/mdcvision/dumpwatch/pkg/db"
	"github.com/mdcvision/dumpwatch/pkg/fsm"
	"github.com/mdcvision/dumpwatch/pkg/merge"
	"github.com/mdcvision/dumpwatch/pkg/stream"
)

type fakeFrames struct {
	missing bool
}

func (f *fakeFrames) Latest(role string) (*stream.Frame, bool) {
	if f.missing {
		return nil, false
	}
	return &stream.Frame{
		Role: role,
		Mat:  gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3),
		Time: time.Now(),
	}, true
}

func (f *fakeFrames) Status(role string) (stream.ChannelState, float64) {
	return stream.StateConnected, 0
}

type fakeInfer struct {
	plate     *ai.PlateResult
	cane      *ai.CaneResult
	detectErr error

	detectCalls  int
	analyzeCalls int
	ocrCalls     int
}

func (f *fakeInfer) Detect(ctx context.Context, frame gocv.Mat, withOCR bool) (*ai.PlateResult, error) {
	f.detectCalls++
	if withOCR {
		f.ocrCalls++
	}
	return f.plate, f.detectErr
}

func (f *fakeInfer) Analyze(ctx context.Context, frame gocv.Mat) (*ai.CaneResult, error) {
	f.analyzeCalls++
	return f.cane, nil
}

type fakeRepo struct {
	created     int
	updates     []db.SessionUpdate
	transitions [][2]string
	images      map[string]string

	createErr error
	updateErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{images: make(map[string]string)}
}

func (r *fakeRepo) CreateSession(dumpID int, startTime time.Time) (string, error) {
	if r.createErr != nil {
		return "", r.createErr
	}
	r.created++
	return "11112222-3333-4444-5555-666677778888", nil
}

func (r *fakeRepo) UpdateSession(sessionUUID string, upd db.SessionUpdate) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates = append(r.updates, upd)
	return nil
}

func (r *fakeRepo) LogTransition(sessionUUID, fromState, toState string) error {
	r.transitions = append(r.transitions, [2]string{fromState, toState})
	return nil
}

func (r *fakeRepo) LogImage(sessionUUID, imageType, filePath string) error {
	r.images[imageType] = filePath
	return nil
}

type harness struct {
	st     *Station
	infer  *fakeInfer
	repo   *fakeRepo
	frames *fakeFrames
	clock  *time.Time
	merges int
}

func newHarness(t *testing.T, aiEnabled bool) *harness {
	t.Helper()
	h := &harness{
		infer:  &fakeInfer{},
		repo:   newFakeRepo(),
		frames: &fakeFrames{},
	}
	now := time.Unix(1_700_000_000, 0)
	h.clock = &now
	clock := func() time.Time { return *h.clock }

	h.st = New(Config{
		DumpID:     1,
		Frames:     h.frames,
		Inference:  h.infer,
		Repo:       h.repo,
		Factory:    db.FactoryInfo{FactoryID: "USN-01", FactoryName: "Usina Norte", MillingProcess: "2026/27"},
		ResultsDir: t.TempDir(),
		AIEnabled:  aiEnabled,
	})
	h.st.now = clock
	h.st.machine = fsm.NewMachineWithClock(1, clock)
	h.st.saveImage = func(gocv.Mat, string) error { return nil }
	h.st.composite = func(paths [4]string, hdr merge.Header, out string) error {
		h.merges++
		return nil
	}
	return h
}

func (h *harness) advance(d time.Duration) { *h.clock = h.clock.Add(d) }

func (h *harness) tick(t *testing.T) {
	t.Helper()
	if err := h.st.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
}

func plateBox(y int) *ai.PlateResult {
	return &ai.PlateResult{BBox: image.Rect(200, y, 320, y+40), Text: "12-3456", Confidence: 0.9}
}

func TestStation_FullCycle(t *testing.T) {
	h := newHarness(t, true)

	// truck arrives, bed still down
	h.advance(3 * time.Second)
	h.infer.plate = plateBox(400)
	h.infer.cane = &ai.CaneResult{CaneDetected: true, CanePercentage: 95}
	h.tick(t)
	if h.repo.created != 1 {
		t.Fatalf("sessions created = %d, want 1", h.repo.created)
	}
	if h.infer.ocrCalls != 1 {
		t.Fatalf("ocr calls = %d, want exactly 1 on the first keyframe", h.infer.ocrCalls)
	}
	if _, ok := h.repo.images["IMAGE_1"]; !ok {
		t.Fatal("IMAGE_1 not logged on truck arrival")
	}

	// bed lifting with a full load
	h.advance(3 * time.Second)
	h.infer.plate = plateBox(180)
	h.tick(t)
	if _, ok := h.repo.images["IMAGE_2"]; !ok {
		t.Fatal("IMAGE_2 not logged on lift")
	}

	// full lift, cane flowing
	h.advance(3 * time.Second)
	h.infer.plate = plateBox(60)
	h.infer.cane = &ai.CaneResult{CaneDetected: true, CanePercentage: 50, Dumping: true}
	h.tick(t)
	if _, ok := h.repo.images["IMAGE_3"]; !ok {
		t.Fatal("IMAGE_3 not logged on active dumping")
	}
	if _, ok := h.repo.images["IMAGE_4"]; ok {
		t.Fatal("IMAGE_4 logged before the dwell elapsed")
	}

	// still dumping after the dwell
	h.advance(7 * time.Second)
	h.tick(t)
	if _, ok := h.repo.images["IMAGE_4"]; !ok {
		t.Fatal("IMAGE_4 not logged after the dwell")
	}

	// bin empty at full lift
	h.advance(3 * time.Second)
	h.infer.cane = nil
	h.tick(t)

	// bed back down reads as lowering
	h.advance(3 * time.Second)
	h.infer.plate = plateBox(400)
	h.tick(t)

	// truck still present and empty
	h.advance(3 * time.Second)
	h.tick(t)

	// truck gone: cycle finalizes
	h.advance(3 * time.Second)
	h.infer.plate = nil
	h.tick(t)

	if h.merges != 1 {
		t.Fatalf("composites built = %d, want 1", h.merges)
	}
	last := h.repo.updates[len(h.repo.updates)-1]
	if last.Status == nil || *last.Status != db.StatusComplete {
		t.Fatalf("final status = %v, want COMPLETE", last.Status)
	}
	if last.EndTime == nil || last.MergedImagePath == nil {
		t.Fatalf("finalization missing end_time or merged path: %+v", last)
	}
	if h.st.Snapshot().SessionSuffix != "" {
		t.Fatal("session handle not cleared after finalization")
	}

	// transitions recorded with real from-states, none invented
	want := [][2]string{
		{"EMPTY_IDLE", "TRUCK_IN"},
		{"TRUCK_IN", "DUMP_LIFT"},
		{"DUMP_LIFT", "DUMPING_ACTIVE"},
		{"DUMPING_ACTIVE", "DUMPING_EMPTY"},
		{"DUMPING_EMPTY", "DUMP_DOWN"},
		{"DUMP_DOWN", "TRUCK_OUT"},
		{"TRUCK_OUT", "EMPTY_RESET"},
	}
	if len(h.repo.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", h.repo.transitions, want)
	}
	for i, tr := range want {
		if h.repo.transitions[i] != tr {
			t.Errorf("transition %d = %v, want %v", i, h.repo.transitions[i], tr)
		}
	}

	// next accepted tick auto-resets to EMPTY_IDLE without a new session
	h.advance(3 * time.Second)
	h.tick(t)
	if got := h.st.Snapshot().FSMState; got != "EMPTY_IDLE" {
		t.Fatalf("state after reset = %s, want EMPTY_IDLE", got)
	}
	if h.repo.created != 1 {
		t.Fatalf("sessions created = %d after reset, want still 1", h.repo.created)
	}
}

func TestStation_FinalizeStatusTable(t *testing.T) {
	for k := 0; k <= 4; k++ {
		t.Run(fmt.Sprintf("captured_%d", k), func(t *testing.T) {
			h := newHarness(t, true)
			sess := &session{uuid: "11112222-3333-4444-5555-666677778888"}
			for i := 0; i < k; i++ {
				sess.paths[i] = fmt.Sprintf("/tmp/img_%d.jpg", i)
			}
			h.st.session = sess

			if err := h.st.finalize(context.Background()); err != nil {
				t.Fatalf("finalize failed: %v", err)
			}
			want := db.StatusIncomplete
			if k == 4 {
				want = db.StatusComplete
			}
			last := h.repo.updates[len(h.repo.updates)-1]
			if last.Status == nil || *last.Status != want {
				t.Errorf("k=%d: status = %v, want %s", k, last.Status, want)
			}
		})
	}
}

func TestStation_SkipsTickWithoutFrames(t *testing.T) {
	h := newHarness(t, true)
	h.frames.missing = true
	h.advance(3 * time.Second)
	h.tick(t)
	if h.infer.detectCalls != 0 || h.infer.analyzeCalls != 0 {
		t.Fatal("engines must not run without a full frame pair")
	}
}

func TestStation_AnalysisRateCapped(t *testing.T) {
	h := newHarness(t, true)
	h.infer.cane = &ai.CaneResult{}

	h.advance(3 * time.Second)
	h.tick(t)
	h.tick(t) // same instant, inside the analysis window
	if h.infer.analyzeCalls != 1 {
		t.Fatalf("analyze calls = %d, want 1 within the analysis window", h.infer.analyzeCalls)
	}
	h.advance(600 * time.Millisecond)
	h.tick(t)
	if h.infer.analyzeCalls != 2 {
		t.Fatalf("analyze calls = %d, want 2 after the window", h.infer.analyzeCalls)
	}
}

func TestStation_InferenceErrorLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, true)
	h.infer.detectErr = errors.New("model exploded")
	h.advance(3 * time.Second)
	if err := h.st.tick(context.Background()); err == nil {
		t.Fatal("expected tick error from inference failure")
	}
	if got := h.st.Snapshot().FSMState; got != "EMPTY_IDLE" {
		t.Fatalf("state after failed tick = %s, want EMPTY_IDLE", got)
	}
	if h.repo.created != 0 {
		t.Fatal("no session may open on a failed tick")
	}
}

func TestStation_SessionOpenFailureDelaysTransition(t *testing.T) {
	h := newHarness(t, true)
	h.infer.plate = plateBox(400)
	h.infer.cane = &ai.CaneResult{CaneDetected: true, CanePercentage: 95}
	h.repo.createErr = errors.New("database is locked")

	// A failed session open aborts the tick with the machine untouched, so
	// the arrival is not half-recorded.
	h.advance(3 * time.Second)
	if err := h.st.tick(context.Background()); err == nil {
		t.Fatal("expected tick error from session open failure")
	}
	if got := h.st.machine.State(); got != fsm.EmptyIdle {
		t.Fatalf("state after failed open = %s, want EMPTY_IDLE", got)
	}
	if h.st.session != nil {
		t.Fatal("no session handle may remain after a failed open")
	}

	// Once the repository recovers the same edge is taken and the session
	// opens exactly once.
	h.repo.createErr = nil
	h.advance(600 * time.Millisecond)
	h.tick(t)
	if got := h.st.machine.State(); got != fsm.TruckIn {
		t.Fatalf("state after recovery = %s, want TRUCK_IN", got)
	}
	if h.repo.created != 1 {
		t.Fatalf("sessions created = %d, want 1", h.repo.created)
	}
	if h.repo.transitions[0] != [2]string{"EMPTY_IDLE", "TRUCK_IN"} {
		t.Fatalf("first transition = %v, want EMPTY_IDLE -> TRUCK_IN", h.repo.transitions[0])
	}
}

func TestStation_FinalizeFailureRetried(t *testing.T) {
	h := newHarness(t, true)
	sess := &session{uuid: "11112222-3333-4444-5555-666677778888"}
	for i := range sess.paths {
		sess.paths[i] = fmt.Sprintf("/tmp/img_%d.jpg", i)
	}
	h.st.session = sess
	h.st.machine.Commit(fsm.TruckOut)
	h.repo.updateErr = errors.New("disk full")

	// Truck gone, bin empty: the cycle wants to close, but finalization
	// fails. The machine must hold in TRUCK_OUT with the session open so the
	// close is retried instead of dropped.
	h.advance(3 * time.Second)
	if err := h.st.tick(context.Background()); err == nil {
		t.Fatal("expected tick error from finalize failure")
	}
	if got := h.st.machine.State(); got != fsm.TruckOut {
		t.Fatalf("state after failed finalize = %s, want TRUCK_OUT", got)
	}
	if h.st.session == nil {
		t.Fatal("session cleared despite failed finalization")
	}
	if len(h.repo.updates) != 0 {
		t.Fatalf("updates recorded during failure = %d, want 0", len(h.repo.updates))
	}

	h.repo.updateErr = nil
	h.advance(600 * time.Millisecond)
	h.tick(t)
	if got := h.st.machine.State(); got != fsm.EmptyReset {
		t.Fatalf("state after recovery = %s, want EMPTY_RESET", got)
	}
	if h.st.session != nil {
		t.Fatal("session not cleared after recovered finalization")
	}
	if len(h.repo.updates) != 1 {
		t.Fatalf("finalization updates = %d, want exactly 1", len(h.repo.updates))
	}
	if st := h.repo.updates[0].Status; st == nil || *st != db.StatusComplete {
		t.Fatalf("final status = %v, want COMPLETE", st)
	}
}

func TestStation_DegradedModeSnapshots(t *testing.T) {
	h := newHarness(t, false)
	var saved []string
	h.st.saveImage = func(_ gocv.Mat, path string) error {
		saved = append(saved, path)
		return nil
	}

	h.advance(11 * time.Second)
	h.tick(t)
	if len(saved) != 2 {
		t.Fatalf("saved %d snapshots, want one per channel", len(saved))
	}
	if h.infer.detectCalls != 0 {
		t.Fatal("degraded mode must not call the engines")
	}

	// inside the interval nothing new is written
	h.advance(2 * time.Second)
	h.tick(t)
	if len(saved) != 2 {
		t.Fatalf("saved %d snapshots inside the interval, want 2", len(saved))
	}

	h.advance(10 * time.Second)
	h.tick(t)
	if len(saved) != 4 {
		t.Fatalf("saved %d snapshots after the interval, want 4", len(saved))
	}
}
