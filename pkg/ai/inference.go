package ai

import (
	"context"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/mdcvision/dumpwatch/pkg/errors"
)

type requestKind int

const (
	reqDetect requestKind = iota
	reqAnalyze
)

type request struct {
	kind    requestKind
	frame   gocv.Mat
	withOCR bool
	done    chan response
}

type response struct {
	plate *PlateResult
	cane  *CaneResult
	err   error
}

// Service serializes access to the detection models. A single goroutine
// owns both engines; every station routes its calls through the request
// channel, so no two inferences ever run concurrently.
type Service struct {
	plates   PlateEngine
	cane     CaneClassifier
	requests chan request
}

func NewService(plates PlateEngine, cane CaneClassifier) *Service {
	return &Service{
		plates:   plates,
		cane:     cane,
		requests: make(chan request),
	}
}

// Run processes inference requests until ctx is cancelled. It must be
// running for Detect and Analyze to make progress.
func (s *Service) Run(ctx context.Context) {
	slog.Info("inference_service_started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("inference_service_stopped")
			return
		case req := <-s.requests:
			var resp response
			switch req.kind {
			case reqDetect:
				resp.plate, resp.err = s.plates.Detect(req.frame, req.withOCR)
			case reqAnalyze:
				resp.cane, resp.err = s.cane.Analyze(req.frame)
			}
			req.done <- resp
		}
	}
}

// Detect runs plate detection on frame, optionally with OCR. The frame
// is only read; the caller retains ownership.
func (s *Service) Detect(ctx context.Context, frame gocv.Mat, withOCR bool) (*PlateResult, error) {
	resp, err := s.submit(ctx, request{kind: reqDetect, frame: frame, withOCR: withOCR})
	if err != nil {
		return nil, err
	}
	return resp.plate, resp.err
}

// Analyze runs cane classification on frame. The caller retains
// ownership of the frame.
func (s *Service) Analyze(ctx context.Context, frame gocv.Mat) (*CaneResult, error) {
	resp, err := s.submit(ctx, request{kind: reqAnalyze, frame: frame})
	if err != nil {
		return nil, err
	}
	return resp.cane, resp.err
}

func (s *Service) submit(ctx context.Context, req request) (response, error) {
	req.done = make(chan response, 1)
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return response{}, errors.Wrap(ctx.Err(), "inference request dropped")
	}
	select {
	case resp := <-req.done:
		return resp, nil
	case <-ctx.Done():
		return response{}, errors.Wrap(ctx.Err(), "inference request abandoned")
	}
}
