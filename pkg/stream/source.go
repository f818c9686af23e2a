package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/mdcvision/dumpwatch/pkg/errors"
	"gocv.io/x/gocv"
)

// Source is one video transport. Read returns a freshly allocated Mat owned
// by the caller; false means the stream ended or broke and the worker should
// reconnect.
type Source interface {
	Open(ctx context.Context) error
	Read() (gocv.Mat, bool)
	Close()
}

// RTSPSource reads a live network stream through OpenCV/FFmpeg.
type RTSPSource struct {
	url string
	cap *gocv.VideoCapture
}

// NewRTSPSource returns an unopened source for the given RTSP URL.
func NewRTSPSource(url string) *RTSPSource {
	return &RTSPSource{url: url}
}

// Open connects to the stream. The attempt is bounded by the context; a
// connect that outlives it is abandoned and its handle released once the
// library finally returns.
func (s *RTSPSource) Open(ctx context.Context) error {
	type result struct {
		cap *gocv.VideoCapture
		err error
	}
	ch := make(chan result, 1)
	go func() {
		cap, err := gocv.OpenVideoCapture(s.url)
		if err == nil {
			// Keep the driver-side queue at one frame so reads stay fresh.
			cap.Set(gocv.VideoCaptureBufferSize, 1)
		}
		ch <- result{cap, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return errors.Wrap(r.err, fmt.Sprintf("open %s", s.url))
		}
		if !r.cap.IsOpened() {
			r.cap.Close()
			return fmt.Errorf("open %s: stream not opened", s.url)
		}
		s.cap = r.cap
		return nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				r.cap.Close()
			}
		}()
		return errors.Wrap(ctx.Err(), fmt.Sprintf("open %s", s.url))
	}
}

// Read grabs the next frame.
func (s *RTSPSource) Read() (gocv.Mat, bool) {
	if s.cap == nil {
		return gocv.Mat{}, false
	}
	mat := gocv.NewMat()
	if !s.cap.Read(&mat) || mat.Empty() {
		mat.Close()
		return gocv.Mat{}, false
	}
	return mat, true
}

// Close releases the capture handle.
func (s *RTSPSource) Close() {
	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
	}
}

// ClipSource loops a recorded clip forever, substituting for a live camera in
// offline and test runs so the downstream capture logic is exercised
// identically.
type ClipSource struct {
	path string
	cap  *gocv.VideoCapture
	// pace playback to roughly the clip's native rate
	interval time.Duration
	lastRead time.Time
}

// NewClipSource returns an unopened looping source for a video file.
func NewClipSource(path string) *ClipSource {
	return &ClipSource{path: path}
}

func (s *ClipSource) Open(_ context.Context) error {
	cap, err := gocv.VideoCaptureFile(s.path)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("open clip %s", s.path))
	}
	s.cap = cap
	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 25
	}
	s.interval = time.Duration(float64(time.Second) / fps)
	return nil
}

func (s *ClipSource) Read() (gocv.Mat, bool) {
	if s.cap == nil {
		return gocv.Mat{}, false
	}
	if wait := s.interval - time.Since(s.lastRead); wait > 0 {
		time.Sleep(wait)
	}
	mat := gocv.NewMat()
	if !s.cap.Read(&mat) || mat.Empty() {
		// End of clip: rewind and go again.
		s.cap.Set(gocv.VideoCapturePosFrames, 0)
		if !s.cap.Read(&mat) || mat.Empty() {
			mat.Close()
			return gocv.Mat{}, false
		}
	}
	s.lastRead = time.Now()
	return mat, true
}

func (s *ClipSource) Close() {
	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
	}
}
