// Package merge builds the 2x2 session composite image.
package merge

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/mdcvision/dumpwatch/pkg/errors"
)

const (
	slotWidth    = 640
	slotHeight   = 480
	headerHeight = 100
	canvasWidth  = 2 * slotWidth
	canvasHeight = headerHeight + 2*slotHeight
)

// slotLabels annotate each grid cell with the moment it was captured.
var slotLabels = [4]string{
	"IMAGE 1: LPR",
	"IMAGE 2: 100%",
	"IMAGE 3: 50%",
	"IMAGE 4: 25%",
}

var (
	black = color.RGBA{0, 0, 0, 0}
	white = color.RGBA{255, 255, 255, 0}
	gray  = color.RGBA{64, 64, 64, 0}
)

// Header carries the session identity rendered above the grid.
type Header struct {
	Timestamp      time.Time
	FactoryName    string
	MillingProcess string
	DumpID         int
	Plate          string
}

// Composite renders the four captured keyframes into a single summary
// image at outPath. Empty or unreadable slots are replaced by a
// placeholder, so a partial session still produces a composite.
func Composite(paths [4]string, header Header, outPath string) error {
	canvas := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(255, 255, 255, 0), canvasHeight, canvasWidth, gocv.MatTypeCV8UC3)
	defer canvas.Close()

	drawHeader(&canvas, header)

	for slot, path := range paths {
		origin := image.Pt((slot%2)*slotWidth, headerHeight+(slot/2)*slotHeight)
		drawSlot(&canvas, origin, path, slotLabels[slot])
	}

	if ok := gocv.IMWrite(outPath, canvas); !ok {
		slog.Error("composite_write_failed", "path", outPath)
		return errors.Wrap(fmt.Errorf("imwrite %s", outPath), "failed to write composite")
	}
	slog.Info("composite_written", "path", outPath)
	return nil
}

func drawHeader(canvas *gocv.Mat, h Header) {
	text := fmt.Sprintf("%s | %s | %s | DUMP %02d | %s",
		h.Timestamp.Format("2006-01-02 15:04:05"),
		h.FactoryName, h.MillingProcess, h.DumpID, h.Plate)

	gocv.Rectangle(canvas, image.Rect(0, 0, canvasWidth, headerHeight), white, -1)
	gocv.Line(canvas, image.Pt(0, headerHeight-1), image.Pt(canvasWidth, headerHeight-1), black, 2)
	gocv.PutText(canvas, text, image.Pt(20, 60), gocv.FontHersheySimplex, 0.9, black, 2)
}

func drawSlot(canvas *gocv.Mat, origin image.Point, path, label string) {
	region := canvas.Region(image.Rect(origin.X, origin.Y, origin.X+slotWidth, origin.Y+slotHeight))
	defer region.Close()

	drawn := false
	if path != "" {
		img := gocv.IMRead(path, gocv.IMReadColor)
		if !img.Empty() {
			gocv.Resize(img, &img, image.Pt(slotWidth, slotHeight), 0, 0, gocv.InterpolationLinear)
			img.CopyTo(&region)
			drawn = true
		} else {
			slog.Warn("composite_slot_unreadable", "path", path)
		}
		img.Close()
	}

	if !drawn {
		region.SetTo(gocv.NewScalar(64, 64, 64, 0))
		gocv.PutText(&region, "IMAGE MISSING (INCOMPLETE)",
			image.Pt(90, slotHeight/2), gocv.FontHersheySimplex, 0.8, white, 2)
	}

	gocv.Rectangle(&region, image.Rect(0, 0, slotWidth, slotHeight), gray, 2)
	gocv.PutText(&region, label, image.Pt(12, 34), gocv.FontHersheySimplex, 0.9, white, 2)
	gocv.PutText(&region, label, image.Pt(10, 32), gocv.FontHersheySimplex, 0.9, black, 2)
}
