package camera

import (
	"fmt"
	"image"

	"github.com/disintegration/gift"
)

// Rotation is a fixed quarter-turn applied to every frame.
type Rotation int

const (
	RotateZero Rotation = iota
	RotateClockwise
	RotateCounterClockwise
)

// ParseRotation maps "zero", "cw" and "ccw" to a Rotation.
func ParseRotation(s string) (Rotation, error) {
	switch s {
	case "", "zero":
		return RotateZero, nil
	case "cw":
		return RotateClockwise, nil
	case "ccw":
		return RotateCounterClockwise, nil
	}
	return RotateZero, fmt.Errorf("unknown rotation %q", s)
}

func (r Rotation) String() string {
	switch r {
	case RotateClockwise:
		return "cw"
	case RotateCounterClockwise:
		return "ccw"
	}
	return "zero"
}

// Rotated wraps a FrameSource and rotates its frames, for cameras mounted on
// their side. Reported resolution is swapped accordingly.
type Rotated struct {
	FrameSource
	rotation Rotation
	filter   *gift.GIFT
}

// NewRotated wraps src. A zero rotation passes frames through untouched.
func NewRotated(src FrameSource, rotation Rotation) *Rotated {
	r := &Rotated{FrameSource: src, rotation: rotation}
	switch rotation {
	case RotateClockwise:
		r.filter = gift.New(gift.Rotate270())
	case RotateCounterClockwise:
		r.filter = gift.New(gift.Rotate90())
	}
	return r
}

// Unwrap returns the wrapped source.
func (r *Rotated) Unwrap() FrameSource {
	return r.FrameSource
}

func (r *Rotated) GetFrame(dt float64, frame *Frame) bool {
	if !r.FrameSource.GetFrame(dt, frame) {
		return false
	}
	if r.filter == nil || frame.Empty() {
		return true
	}
	dst := image.NewGray(r.filter.Bounds(frame.Image.Bounds()))
	r.filter.Draw(dst, frame.Image)
	frame.Image = dst
	return true
}

func (r *Rotated) Info() Info {
	info := r.FrameSource.Info()
	if r.rotation != RotateZero {
		info.ResX, info.ResY = info.ResY, info.ResX
	}
	return info
}
