package camera

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
)

// DefaultBlobRadius is the rendered marker radius in pixels.
const DefaultBlobRadius = 4

// Synthetic renders bright discs at the pinhole projection of a set of 3D
// marker positions. It stands in for a webcam in dev mode and tests.
//
// Marker positions are given in model space and moved into the camera frame
// by the configured rotation and translation (x right, y down, z forward).
type Synthetic struct {
	Base

	mu          sync.Mutex
	markers     [][3]float64
	rotation    [3][3]float64
	translation [3]float64
	radius      float64
	hidden      map[int]bool
	distractors []image.Point
	running     bool
	frames      int
}

// NewSynthetic creates a synthetic camera rendering the given markers. The
// initial pose places the model 500 units straight ahead.
func NewSynthetic(markers [][3]float64) *Synthetic {
	s := &Synthetic{
		markers:     append([][3]float64(nil), markers...),
		rotation:    [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		translation: [3]float64{0, 0, 500},
		radius:      DefaultBlobRadius,
		hidden:      make(map[int]bool),
	}
	s.SetResolution(640, 480)
	s.SetFocalRatio(1)
	return s
}

// SetPose sets the model-to-camera rotation and translation.
func (s *Synthetic) SetPose(rotation [3][3]float64, translation [3]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotation = rotation
	s.translation = translation
}

// SetBlobRadius sets the rendered disc radius in pixels.
func (s *Synthetic) SetBlobRadius(r float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.radius = r
}

// Hide occludes marker i (or reveals it again).
func (s *Synthetic) Hide(i int, hidden bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden[i] = hidden
}

// SetDistractors adds extra blobs at fixed pixel positions, e.g. reflections.
func (s *Synthetic) SetDistractors(pts []image.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distractors = append([]image.Point(nil), pts...)
}

// Frames returns the number of frames rendered since Start.
func (s *Synthetic) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *Synthetic) Start() error {
	d := s.Desired()
	if d.ResX <= 0 || d.ResY <= 0 {
		return fmt.Errorf("synthetic camera %dx%d: %w", d.ResX, d.ResY, ErrDeviceUnavailable)
	}
	s.mu.Lock()
	s.running = true
	s.frames = 0
	s.mu.Unlock()
	s.resetStats()
	s.setActiveResolution(d.ResX, d.ResY)
	return nil
}

func (s *Synthetic) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// GetFrame renders a frame when one is due at the desired frame rate. A zero
// frame rate renders on every call.
func (s *Synthetic) GetFrame(dt float64, frame *Frame) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	if !s.due(dt) {
		s.mu.Unlock()
		s.observe(dt, false)
		return false
	}
	desired := s.Desired()
	img := s.render(desired.ResX, desired.ResY, desired.F)
	s.frames++
	s.mu.Unlock()

	frame.Image = img
	frame.DT = dt
	s.observe(dt, true)
	return true
}

// Project returns the pixel position of marker i under the current pose, and
// false when it lies behind the camera.
func (s *Synthetic) Project(i int) (float64, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.Desired()
	return s.project(s.markers[i], d.ResX, d.ResY, d.F)
}

func (s *Synthetic) project(m [3]float64, w, h int, f float64) (float64, float64, bool) {
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = s.rotation[r][0]*m[0] + s.rotation[r][1]*m[1] + s.rotation[r][2]*m[2] + s.translation[r]
	}
	if p[2] <= 0 {
		return 0, 0, false
	}
	px := float64(w)/2 + f*p[0]/p[2]*float64(w)
	py := float64(h)/2 + f*p[1]/p[2]*float64(w)
	return px, py, true
}

func (s *Synthetic) render(w, h int, f float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, m := range s.markers {
		if s.hidden[i] {
			continue
		}
		if px, py, ok := s.project(m, w, h, f); ok {
			drawDisc(img, px, py, s.radius)
		}
	}
	for _, p := range s.distractors {
		drawDisc(img, float64(p.X)+0.5, float64(p.Y)+0.5, s.radius)
	}
	return img
}

// drawDisc lights every pixel whose centre lies within r of (cx, cy).
func drawDisc(img *image.Gray, cx, cy, r float64) {
	b := img.Bounds()
	x0 := int(math.Floor(cx - r))
	x1 := int(math.Ceil(cx + r))
	y0 := int(math.Floor(cy - r))
	y1 := int(math.Ceil(cy + r))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if !(image.Point{X: x, Y: y}).In(b) {
				continue
			}
			dx := float64(x) + 0.5 - cx
			dy := float64(y) + 0.5 - cy
			if dx*dx+dy*dy <= r*r {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
}
