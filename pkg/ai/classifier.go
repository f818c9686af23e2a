package ai

import (
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"
)

const (
	caneClassID = 0

	// Coverage bounds inside which material is judged to be in motion.
	dumpingLow  = 10
	dumpingHigh = 90

	// Box area understates visible cane (gaps between stalks), so the
	// coverage estimate is scaled up before clamping.
	coverageScale = 200
)

// CaneClassifierNet analyzes top-camera frames with a detection net whose
// class 0 is sugarcane. Not safe for concurrent use; access is serialized by
// the inference Service.
type CaneClassifierNet struct {
	net        gocv.Net
	confidence float64
}

// NewCaneClassifier loads the classification model.
func NewCaneClassifier(modelPath string, confidence float64) (*CaneClassifierNet, error) {
	slog.Info("cane_model_load", "path", modelPath)
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load cane model from %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &CaneClassifierNet{net: net, confidence: confidence}, nil
}

// Analyze estimates cane presence, coverage, and dumping activity from one
// frame.
func (c *CaneClassifierNet) Analyze(frame gocv.Mat) (*CaneResult, error) {
	if frame.Empty() {
		return &CaneResult{}, nil
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0,
		image.Pt(detectInputSize, detectInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	c.net.SetInput(blob, "")
	output := c.net.Forward("")
	defer output.Close()

	res := &CaneResult{}
	frameArea := float64(frame.Cols() * frame.Rows())
	caneArea := 0.0
	sx := float32(frame.Cols()) / float32(detectInputSize)
	sy := float32(frame.Rows()) / float32(detectInputSize)

	for i := 0; i < output.Rows(); i++ {
		row := output.RowRange(i, i+1)
		data := row.Clone()
		scores := data.ColRange(5, data.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(scores)
		conf := float64(maxVal)
		classID := maxLoc.X

		if conf >= c.confidence {
			cx := data.GetFloatAt(0, 0) * float32(detectInputSize) * sx
			cy := data.GetFloatAt(0, 1) * float32(detectInputSize) * sy
			w := data.GetFloatAt(0, 2) * float32(detectInputSize) * sx
			h := data.GetFloatAt(0, 3) * float32(detectInputSize) * sy
			rect := image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2))
			res.Detections = append(res.Detections, Detection{ClassID: classID, Confidence: conf, BBox: rect})

			if classID == caneClassID {
				res.CaneDetected = true
				caneArea += float64(rect.Dx() * rect.Dy())
			}
		}

		scores.Close()
		data.Close()
		row.Close()
	}

	if res.CaneDetected && frameArea > 0 {
		pct := int(caneArea / frameArea * coverageScale)
		if pct > 100 {
			pct = 100
		}
		res.CanePercentage = pct
		res.Dumping = pct > dumpingLow && pct < dumpingHigh
	}

	return res, nil
}

// Close releases the model handle.
func (c *CaneClassifierNet) Close() error {
	return c.net.Close()
}
