// Package station runs the per-station control loop: it polls frames,
// drives the AI engines, feeds the cycle state machine and manages
// session bookkeeping and captures.
package station

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/mdcvision/dumpwatch/pkg/ai"
	"github.com/mdcvision/dumpwatch/pkg/db"
	"github.com/mdcvision/dumpwatch/pkg/errors"
	"github.com/mdcvision/dumpwatch/pkg/fsm"
	"github.com/mdcvision/dumpwatch/pkg/merge"
	"github.com/mdcvision/dumpwatch/pkg/stream"
)

const (
	// DefaultAnalysisInterval caps how often the engines run per station.
	DefaultAnalysisInterval = 500 * time.Millisecond
	// SnapshotInterval drives raw captures when AI is disabled.
	SnapshotInterval = 10 * time.Second

	tickInterval = 100 * time.Millisecond
	errorBackoff = time.Second

	fileTimeFormat = "20060102_150405"
)

// Repository is the subset of database operations a station needs.
type Repository interface {
	CreateSession(dumpID int, startTime time.Time) (string, error)
	UpdateSession(sessionUUID string, upd db.SessionUpdate) error
	LogTransition(sessionUUID, fromState, toState string) error
	LogImage(sessionUUID, imageType, filePath string) error
}

// Inference is the station's view of the shared inference service.
type Inference interface {
	Detect(ctx context.Context, frame gocv.Mat, withOCR bool) (*ai.PlateResult, error)
	Analyze(ctx context.Context, frame gocv.Mat) (*ai.CaneResult, error)
}

// FrameSource hands out the freshest decoded frame per camera role.
// The returned frame is owned by the caller.
type FrameSource interface {
	Latest(role string) (*stream.Frame, bool)
	Status(role string) (stream.ChannelState, float64)
}

// Archiver pushes finished composites to remote storage.
type Archiver interface {
	Upload(ctx context.Context, path string) error
}

// Snapshot is the externally visible state of one station.
type Snapshot struct {
	DumpID         int       `json:"dump_id"`
	Running        bool      `json:"running"`
	FSMState       string    `json:"fsm_state"`
	PlateNumber    string    `json:"plate_number"`
	CanePercentage int       `json:"cane_percentage"`
	SessionSuffix  string    `json:"session_id_suffix"`
	Timestamp      time.Time `json:"timestamp"`
}

// Config wires one station's collaborators.
type Config struct {
	DumpID           int
	Frames           FrameSource
	Inference        Inference
	Repo             Repository
	Factory          db.FactoryInfo
	ResultsDir       string
	AIEnabled        bool
	AnalysisInterval time.Duration
	Archiver         Archiver
}

type session struct {
	uuid  string
	plate string
	paths [fsm.SlotCount]string
}

// Station is the per-dump-station orchestrator.
type Station struct {
	dumpID    int
	frames    FrameSource
	infer     Inference
	repo      Repository
	factory   db.FactoryInfo
	results   string
	aiEnabled bool
	archiver  Archiver

	machine *fsm.Machine
	mapper  *ai.SignalMapper

	analysisInterval time.Duration
	lastAnalysis     time.Time
	lastSnapshot     time.Time

	// seams for tests
	now       func() time.Time
	saveImage func(gocv.Mat, string) error
	composite func([4]string, merge.Header, string) error

	mu        sync.Mutex
	running   bool
	session   *session
	lastCane  int
	lastState fsm.DumpState
}

func New(cfg Config) *Station {
	interval := cfg.AnalysisInterval
	if interval <= 0 {
		interval = DefaultAnalysisInterval
	}
	return &Station{
		dumpID:           cfg.DumpID,
		frames:           cfg.Frames,
		infer:            cfg.Inference,
		repo:             cfg.Repo,
		factory:          cfg.Factory,
		results:          cfg.ResultsDir,
		aiEnabled:        cfg.AIEnabled,
		archiver:         cfg.Archiver,
		machine:          fsm.NewMachine(cfg.DumpID),
		mapper:           ai.NewSignalMapper(),
		analysisInterval: interval,
		now:              time.Now,
		saveImage:        writeJPEG,
		composite:        merge.Composite,
	}
}

// Run executes the station loop until ctx is cancelled. Tick errors are
// logged and absorbed; the loop only exits on cancellation.
func (s *Station) Run(ctx context.Context) {
	slog.Info("station_started", "dump_id", s.dumpID, "ai_enabled", s.aiEnabled)
	s.setRunning(true)
	defer s.setRunning(false)

	for {
		select {
		case <-ctx.Done():
			slog.Info("station_stopped", "dump_id", s.dumpID)
			return
		default:
		}

		if err := s.tick(ctx); err != nil {
			slog.Error("station_tick_failed", "dump_id", s.dumpID, "error", err)
			sleepCtx(ctx, errorBackoff)
			continue
		}
		sleepCtx(ctx, tickInterval)
	}
}

func (s *Station) tick(ctx context.Context) error {
	if !s.aiEnabled {
		return s.snapshotTick()
	}

	if s.now().Sub(s.lastAnalysis) < s.analysisInterval {
		return nil
	}

	front, frontOK := s.frames.Latest(db.RoleFront)
	top, topOK := s.frames.Latest(db.RoleTop)
	if !frontOK || !topOK {
		closeFrames(front, top)
		return nil
	}
	defer closeFrames(front, top)
	s.lastAnalysis = s.now()

	plate, err := s.infer.Detect(ctx, front.Mat, false)
	if err != nil {
		return errors.Wrap(err, "plate detection failed")
	}
	cane, err := s.infer.Analyze(ctx, top.Mat)
	if err != nil {
		return errors.Wrap(err, "cane analysis failed")
	}

	frontSignals := s.mapper.Front(plate)
	topSignals := s.mapper.Top(cane)
	s.recordCane(topSignals.CanePercentage)

	// Bookkeeping for an edge must land before the edge is taken: on a
	// repository failure the tick aborts with the machine untouched, so the
	// transition is delayed to a later tick rather than lost.
	fromState := s.machine.State()
	if next, pending := s.machine.Next(frontSignals, topSignals); pending {
		if err := s.onTransition(ctx, fromState, next); err != nil {
			return err
		}
		s.machine.Commit(next)
		s.recordState(next)
		slog.Info("station_transition",
			"dump_id", s.dumpID, "from", fromState.String(), "to", next.String())
	}

	if slot, pending := s.machine.NextCapture(); pending && s.session != nil {
		if err := s.capture(ctx, slot, front, top); err != nil {
			return err
		}
	}
	return nil
}

// onTransition runs the side effects of one pending edge. Each step is
// guarded so a retried edge resumes where the failed attempt stopped; only
// the transition record may be written twice, session rows stay exactly-once.
func (s *Station) onTransition(ctx context.Context, from, to fsm.DumpState) error {
	if to == fsm.TruckIn && s.session == nil {
		uuid, err := s.repo.CreateSession(s.dumpID, s.now())
		if err != nil {
			return errors.Wrap(err, "failed to open session")
		}
		s.setSession(&session{uuid: uuid})
		slog.Info("session_opened", "dump_id", s.dumpID, "session_uuid", uuid)
	}

	if s.session != nil {
		if err := s.repo.LogTransition(s.session.uuid, from.String(), to.String()); err != nil {
			return errors.Wrap(err, "failed to log transition")
		}
	}

	if to == fsm.EmptyReset && s.session != nil {
		if err := s.finalize(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Station) capture(ctx context.Context, slot fsm.ImageSlot, front, top *stream.Frame) error {
	// the plate keyframe comes from the front camera, the bin
	// progression keyframes from the top camera
	frame := top
	if slot == fsm.Image1 {
		frame = front

		result, err := s.infer.Detect(ctx, front.Mat, true)
		if err != nil {
			return errors.Wrap(err, "ocr pass failed")
		}
		plateText := ai.UnknownPlate
		if result != nil && result.Text != "" {
			plateText = result.Text
		}
		s.setPlate(plateText)
		if err := s.repo.UpdateSession(s.session.uuid, db.SessionUpdate{PlateNumber: &plateText}); err != nil {
			return errors.Wrap(err, "failed to persist plate number")
		}
		slog.Info("plate_recorded", "dump_id", s.dumpID, "plate", plateText)
	}

	name := fmt.Sprintf("%d_%s_%s_%s.jpg",
		s.dumpID, shortUUID(s.session.uuid), slot.String(), s.now().Format(fileTimeFormat))
	path := filepath.Join(s.results, name)
	if err := s.saveImage(frame.Mat, path); err != nil {
		return errors.Wrapf(err, "failed to save %s capture", slot.String())
	}
	if err := s.repo.LogImage(s.session.uuid, slot.String(), path); err != nil {
		return errors.Wrapf(err, "failed to log %s capture", slot.String())
	}

	s.session.paths[slot] = path
	s.machine.MarkCaptured(slot)
	slog.Info("image_captured", "dump_id", s.dumpID, "slot", slot.String(), "path", path)
	return nil
}

func (s *Station) finalize(ctx context.Context) error {
	sess := s.session
	captured := 0
	for _, p := range sess.paths {
		if p != "" {
			captured++
		}
	}
	status := db.StatusIncomplete
	if captured == fsm.SlotCount {
		status = db.StatusComplete
	}

	mergedPath := filepath.Join(s.results,
		fmt.Sprintf("MERGED_%d_%s.jpg", s.dumpID, shortUUID(sess.uuid)))
	header := merge.Header{
		Timestamp:      s.now(),
		FactoryName:    s.factory.FactoryName,
		MillingProcess: s.factory.MillingProcess,
		DumpID:         s.dumpID,
		Plate:          sess.plate,
	}
	if err := s.composite(sess.paths, header, mergedPath); err != nil {
		slog.Error("composite_failed", "dump_id", s.dumpID, "session_uuid", sess.uuid, "error", err)
		mergedPath = ""
	}

	endTime := s.now().Format("2006-01-02 15:04:05")
	upd := db.SessionUpdate{EndTime: &endTime, Status: &status}
	if mergedPath != "" {
		upd.MergedImagePath = &mergedPath
	}
	if err := s.repo.UpdateSession(sess.uuid, upd); err != nil {
		return errors.Wrap(err, "failed to finalize session")
	}

	if s.archiver != nil && mergedPath != "" {
		if err := s.archiver.Upload(ctx, mergedPath); err != nil {
			slog.Error("composite_archive_failed", "path", mergedPath, "error", err)
		}
	}

	slog.Info("session_finalized",
		"dump_id", s.dumpID, "session_uuid", sess.uuid,
		"status", status, "captured", captured)
	s.setSession(nil)
	s.mapper.Reset()
	return nil
}

// snapshotTick saves raw frames from both channels at a fixed interval
// so data keeps flowing while inference is disabled.
func (s *Station) snapshotTick() error {
	if s.now().Sub(s.lastSnapshot) < SnapshotInterval {
		return nil
	}
	s.lastSnapshot = s.now()

	dir := filepath.Join(s.results, "snapshots", fmt.Sprintf("dump_%d", s.dumpID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create snapshot dir")
	}

	stamp := s.now().Format(fileTimeFormat)
	for _, role := range []string{db.RoleFront, db.RoleTop} {
		frame, ok := s.frames.Latest(role)
		if !ok {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.jpg", role, stamp))
		if err := s.saveImage(frame.Mat, path); err != nil {
			frame.Close()
			return errors.Wrap(err, "failed to save snapshot")
		}
		frame.Close()
		slog.Info("snapshot_saved", "dump_id", s.dumpID, "role", role, "path", path)
	}
	return nil
}

// Snapshot reports the station's current externally visible state.
func (s *Station) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		DumpID:         s.dumpID,
		Running:        s.running,
		FSMState:       s.lastState.String(),
		CanePercentage: s.lastCane,
		Timestamp:      time.Now(),
	}
	if s.session != nil {
		snap.PlateNumber = s.session.plate
		snap.SessionSuffix = shortUUID(s.session.uuid)
	}
	return snap
}

// DumpID identifies the station.
func (s *Station) DumpID() int { return s.dumpID }

// LatestFrame returns the freshest frame for a role, owned by the caller.
func (s *Station) LatestFrame(role string) *stream.Frame {
	frame, ok := s.frames.Latest(role)
	if !ok {
		return nil
	}
	return frame
}

func (s *Station) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Station) setSession(sess *session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

func (s *Station) setPlate(plate string) {
	s.mu.Lock()
	if s.session != nil {
		s.session.plate = plate
	}
	s.mu.Unlock()
}

func (s *Station) recordCane(pct int) {
	s.mu.Lock()
	s.lastCane = pct
	s.mu.Unlock()
}

func (s *Station) recordState(state fsm.DumpState) {
	s.mu.Lock()
	s.lastState = state
	s.mu.Unlock()
}

func shortUUID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJPEG(mat gocv.Mat, path string) error {
	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("imwrite %s", path)
	}
	return nil
}

func closeFrames(frames ...*stream.Frame) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
