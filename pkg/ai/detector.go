package ai

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/mdcvision/dumpwatch/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	detectInputSize = 640
	plateClassID    = 0
	ocrInputW       = 300
	ocrInputH       = 100
)

// PlateDetector runs a YOLO-style plate detection net, with an optional
// recognition net for the OCR pass. Not safe for concurrent use; access is
// serialized by the inference Service.
type PlateDetector struct {
	net        gocv.Net
	ocrNet     gocv.Net
	hasOCR     bool
	confidence float64
}

// NewPlateDetector loads the detection model and, when ocrModelPath is
// non-empty, the text recognition model.
func NewPlateDetector(modelPath, ocrModelPath string, confidence float64) (*PlateDetector, error) {
	slog.Info("plate_model_load", "path", modelPath)
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load plate model from %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	d := &PlateDetector{net: net, confidence: confidence}

	if ocrModelPath != "" {
		slog.Info("ocr_model_load", "path", ocrModelPath)
		ocr := gocv.ReadNet(ocrModelPath, "")
		if ocr.Empty() {
			net.Close()
			return nil, fmt.Errorf("failed to load OCR model from %s", ocrModelPath)
		}
		ocr.SetPreferableBackend(gocv.NetBackendDefault)
		ocr.SetPreferableTarget(gocv.NetTargetCPU)
		d.ocrNet = ocr
		d.hasOCR = true
	}

	return d, nil
}

// Detect returns the highest-confidence plate box, reading the text only
// when withOCR is set.
func (d *PlateDetector) Detect(frame gocv.Mat, withOCR bool) (*PlateResult, error) {
	if frame.Empty() {
		return nil, nil
	}

	best, ok, err := d.bestBox(frame)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	res := &PlateResult{BBox: best.BBox, Confidence: best.Confidence}
	if !withOCR {
		return res, nil
	}

	res.Text = d.readPlate(frame, clampRect(best.BBox, frame.Cols(), frame.Rows()))
	return res, nil
}

// bestBox runs the detection net and keeps the best plate-class box above
// the confidence threshold.
func (d *PlateDetector) bestBox(frame gocv.Mat) (Detection, bool, error) {
	blob := gocv.BlobFromImage(frame, 1.0/255.0,
		image.Pt(detectInputSize, detectInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	var best Detection
	found := false
	sx := float32(frame.Cols()) / float32(detectInputSize)
	sy := float32(frame.Rows()) / float32(detectInputSize)

	for i := 0; i < output.Rows(); i++ {
		row := output.RowRange(i, i+1)
		data := row.Clone()
		scores := data.ColRange(5, data.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(scores)
		classID := maxLoc.X
		conf := float64(maxVal)

		if classID == plateClassID && conf >= d.confidence {
			cx := data.GetFloatAt(0, 0) * float32(detectInputSize) * sx
			cy := data.GetFloatAt(0, 1) * float32(detectInputSize) * sy
			w := data.GetFloatAt(0, 2) * float32(detectInputSize) * sx
			h := data.GetFloatAt(0, 3) * float32(detectInputSize) * sy
			rect := image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2))

			if !found || conf > best.Confidence {
				best = Detection{ClassID: classID, Confidence: conf, BBox: rect}
				found = true
			}
		}

		scores.Close()
		data.Close()
		row.Close()
	}

	return best, found, nil
}

// readPlate crops the plate region, runs the recognition net, and
// normalizes the decoded text to the fleet's xx-xxxx digit pattern.
func (d *PlateDetector) readPlate(frame gocv.Mat, roi image.Rectangle) string {
	if !d.hasOCR || roi.Empty() {
		return UnknownPlate
	}

	crop := frame.Region(roi)
	defer crop.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(crop, &gray, gocv.ColorBGRToGray)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Pt(ocrInputW, ocrInputH), 0, 0, gocv.InterpolationArea)

	blob := gocv.BlobFromImage(resized, 1.0/127.5,
		image.Pt(ocrInputW, ocrInputH), gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	defer blob.Close()

	d.ocrNet.SetInput(blob, "")
	output := d.ocrNet.Forward("")
	defer output.Close()

	return NormalizePlate(decodeGreedy(output))
}

// decodeGreedy collapses a CTC-style (timesteps x alphabet) output into a
// character sequence: best class per step, repeats and blanks dropped.
func decodeGreedy(output gocv.Mat) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-"
	var out []byte
	prev := -1
	for t := 0; t < output.Rows(); t++ {
		row := output.RowRange(t, t+1)
		_, _, _, maxLoc := gocv.MinMaxLoc(row)
		row.Close()
		cls := maxLoc.X
		// Class 0 is the CTC blank; alphabet indices are shifted by one.
		if cls != prev && cls > 0 && cls <= len(alphabet) {
			out = append(out, alphabet[cls-1])
		}
		prev = cls
	}
	return string(out)
}

func clampRect(r image.Rectangle, w, h int) image.Rectangle {
	return r.Intersect(image.Rect(0, 0, w, h))
}

// Close releases the model handles.
func (d *PlateDetector) Close() error {
	if err := d.net.Close(); err != nil {
		return errors.Wrap(err, "close plate net")
	}
	if d.hasOCR {
		return errors.Wrap(d.ocrNet.Close(), "close ocr net")
	}
	return nil
}
