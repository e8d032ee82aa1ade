// Package camera defines the frame source contract consumed by the point
// tracker and a few backends: a synthetic marker renderer, an image sequence
// replayer and a rotating wrapper.
//
// Device acquisition and format negotiation for real webcams live outside
// this repository; a backend only has to satisfy FrameSource.
package camera

import (
	"errors"
	"image"
	"sync"
)

// ErrDeviceUnavailable is returned by Start when the backing device cannot
// be opened. Callers wrap it with context using %w.
var ErrDeviceUnavailable = errors.New("camera: device unavailable")

// dtSmoothing is the weight of the previous mean frame interval in the frame
// rate estimate.
const dtSmoothing = 0.9

// Info describes the active (or desired) camera parameters.
type Info struct {
	ResX int
	ResY int
	FPS  float64
	F    float64 // focal length / sensor width
}

// Frame is a grayscale image plus the time in seconds since the previous
// frame was pulled. The tracking loop owns a Frame for one iteration; anything
// that outlives the iteration must take a Clone.
type Frame struct {
	Image *image.Gray
	DT    float64
}

// Empty reports whether the frame carries no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.Image == nil || f.Image.Rect.Empty()
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := &Frame{DT: f.DT}
	if f.Image != nil {
		r := f.Image.Rect
		img := image.NewGray(r)
		// f.Image may be a SubImage whose rows sit Stride apart in a larger
		// buffer.
		w := r.Dx()
		for y := r.Min.Y; y < r.Max.Y && w > 0; y++ {
			si := f.Image.PixOffset(r.Min.X, y)
			di := img.PixOffset(r.Min.X, y)
			copy(img.Pix[di:di+w], f.Image.Pix[si:si+w])
		}
		out.Image = img
	}
	return out
}

// FrameSource is the capability interface every camera backend implements.
type FrameSource interface {
	// Start opens the device. Failures are fatal to tracker start-up.
	Start() error
	// Stop releases the device. It is safe to call on a stopped source.
	Stop() error
	// GetFrame writes a new frame into frame and reports whether one was
	// available. dt is the time in seconds since the previous call.
	GetFrame(dt float64, frame *Frame) bool
	// Info returns the active parameters, including the measured frame rate.
	Info() Info

	SetIndex(index int)
	SetResolution(x, y int)
	SetFPS(fps int)
	SetFocalRatio(f float64)
}

// Base holds the bookkeeping shared by backends: desired versus active
// parameters and the running frame-rate estimate. Backends embed it and call
// observe from GetFrame.
type Base struct {
	mu      sync.Mutex
	index   int
	desired Info
	active  Info
	dtValid float64
	dtMean  float64
	pending float64
}

func (b *Base) SetIndex(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index = index
}

func (b *Base) SetResolution(x, y int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.desired.ResX, b.desired.ResY = x, y
}

func (b *Base) SetFPS(fps int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.desired.FPS = float64(fps)
}

func (b *Base) SetFocalRatio(f float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.desired.F = f
	b.active.F = f
}

// Index returns the requested device index.
func (b *Base) Index() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index
}

// Desired returns the requested parameters.
func (b *Base) Desired() Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.desired
}

// Info returns the active parameters.
func (b *Base) Info() Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// setActiveResolution records the resolution the backend actually delivers.
func (b *Base) setActiveResolution(x, y int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active.ResX, b.active.ResY = x, y
}

// observe folds dt into the frame interval estimate. Time accumulates across
// calls without a frame so the estimate reflects delivered frames only.
func (b *Base) observe(dt float64, gotFrame bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dtValid += dt
	if !gotFrame {
		return
	}
	if b.dtMean == 0 {
		b.dtMean = b.dtValid
	} else {
		b.dtMean = dtSmoothing*b.dtMean + (1-dtSmoothing)*b.dtValid
	}
	if b.dtMean > 0 {
		b.active.FPS = 1 / b.dtMean
	}
	b.dtValid = 0
}

// due paces delivery at the desired frame rate: it accumulates dt and reports
// whether a frame interval has elapsed. A zero desired rate is always due.
func (b *Base) due(dt float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending += dt
	if b.desired.FPS > 0 && b.pending < 1/b.desired.FPS {
		return false
	}
	b.pending = 0
	return true
}

// resetStats clears the frame-rate estimate, e.g. on restart.
func (b *Base) resetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dtValid = 0
	b.dtMean = 0
	b.pending = 0
	b.active.FPS = 0
}
