package camera

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/gift"
	_ "golang.org/x/image/bmp"
)

// Sequence replays a directory of still images (png, jpeg or bmp) in lexical
// order. Each image is converted to grayscale on load. It is used to re-run
// recorded sessions through the tracker.
type Sequence struct {
	Base

	dir  string
	loop bool

	mu      sync.Mutex
	frames  []*image.Gray
	next    int
	running bool
}

// NewSequence creates a replaying source for dir. When loop is set the
// sequence restarts from the first image after the last one.
func NewSequence(dir string, loop bool) *Sequence {
	return &Sequence{dir: dir, loop: loop}
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".bmp":
		return true
	}
	return false
}

// Start decodes every image in the directory. All images must share one
// size.
func (s *Sequence) Start() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read frame directory %s: %w", s.dir, ErrDeviceUnavailable)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isImageFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return fmt.Errorf("no images in %s: %w", s.dir, ErrDeviceUnavailable)
	}

	g := gift.New(gift.Grayscale())
	frames := make([]*image.Gray, 0, len(names))
	var bounds image.Rectangle
	for i, name := range names {
		img, err := decodeImage(filepath.Join(s.dir, name))
		if err != nil {
			return err
		}
		gray := image.NewGray(g.Bounds(img.Bounds()))
		g.Draw(gray, img)
		if i == 0 {
			bounds = gray.Bounds()
		} else if gray.Bounds().Size() != bounds.Size() {
			return fmt.Errorf("frame %s is %v, expected %v", name, gray.Bounds().Size(), bounds.Size())
		}
		frames = append(frames, gray)
	}

	s.mu.Lock()
	s.frames = frames
	s.next = 0
	s.running = true
	s.mu.Unlock()

	s.resetStats()
	s.setActiveResolution(bounds.Dx(), bounds.Dy())
	return nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return img, nil
}

func (s *Sequence) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.frames = nil
	return nil
}

// Len returns the number of loaded frames.
func (s *Sequence) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// GetFrame delivers the next image when one is due. Once the sequence is
// exhausted (and not looping) it reports no frame.
func (s *Sequence) GetFrame(dt float64, frame *Frame) bool {
	s.mu.Lock()
	if !s.running || (s.next >= len(s.frames) && !s.loop) {
		s.mu.Unlock()
		s.observe(dt, false)
		return false
	}
	if !s.due(dt) {
		s.mu.Unlock()
		s.observe(dt, false)
		return false
	}
	if s.next >= len(s.frames) {
		s.next = 0
	}
	img := s.frames[s.next]
	s.next++
	s.mu.Unlock()

	out := image.NewGray(img.Rect)
	copy(out.Pix, img.Pix)
	frame.Image = out
	frame.DT = dt
	s.observe(dt, true)
	return true
}
