// Package ai wraps the vision models behind black-box request/response
// interfaces and provides the single-flight inference service that all
// stations share.
package ai

import (
	"image"

	"gocv.io/x/gocv"
)

// PlateResult is one license-plate detection. Text is empty when the OCR
// pass was skipped or unreadable.
type PlateResult struct {
	BBox       image.Rectangle
	Text       string
	Confidence float64
}

// Detection is one raw box from the classification model.
type Detection struct {
	ClassID    int
	Confidence float64
	BBox       image.Rectangle
}

// CaneResult is the top-camera classification of the dump bed.
type CaneResult struct {
	CaneDetected   bool
	CanePercentage int // 0..100 coverage estimate
	Dumping        bool
	Detections     []Detection
}

// PlateEngine detects the truck's license plate on a front-camera frame.
// withOCR enables the expensive text pass; callers run it only when the
// plate actually needs reading. A nil result with nil error means no plate.
type PlateEngine interface {
	Detect(frame gocv.Mat, withOCR bool) (*PlateResult, error)
}

// CaneClassifier analyzes a top-camera frame for cane coverage and dumping
// activity.
type CaneClassifier interface {
	Analyze(frame gocv.Mat) (*CaneResult, error)
}
