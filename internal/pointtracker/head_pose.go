package pointtracker

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// HeadPose is the pose reported to consumers. Angles are in degrees and
// translation in centimetres, both relative to the centred reference.
//
// Signs, as seen in the camera image:
//   - Yaw turns about the vertical axis, positive when the face turns toward
//     image right.
//   - Pitch turns about the horizontal image axis, positive when the face
//     tips down.
//   - Roll turns about the line of sight, positive for a clockwise tilt.
//   - X points to image right and Y up. Z grows away from the camera, so
//     before centring it is the viewing distance.
type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// Axes selects which HeadPose components are written.
type Axes struct {
	Yaw, Pitch, Roll bool
	X, Y, Z          bool
}

// AllAxes enables every component.
var AllAxes = Axes{Yaw: true, Pitch: true, Roll: true, X: true, Y: true, Z: true}

// rpyBasis maps camera-frame vectors (x right, y down, z forward) into the
// frame the Euler angles are read in: x forward, y left, z up.
var rpyBasis = Mat33{
	{0, 0, 1},
	{-1, 0, 0},
	{0, -1, 0},
}

// cameraPitch maps camera-frame vectors into a level frame for a camera
// tilted down by deg degrees.
func cameraPitch(deg float64) Mat33 {
	return RotX(-deg)
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// computeHeadPose derives the output pose from the marker pose xcm, the
// marker-to-head offset, the reference head pose captured by Center and the
// camera mounting pitch.
func computeHeadPose(xcm FrameTrafo, headOffset Vec3, ref FrameTrafo, camPitch float64) HeadPose {
	xch := xcm.Compose(FrameTrafo{R: Identity(), T: headOffset})

	rot := xch.R.Mul(ref.R.T())
	t := r3.Sub(xch.T, ref.T)

	rcp := cameraPitch(camPitch)
	rot = rcp.Mul(rot).Mul(rcp.T())
	t = rcp.MulVec(t)

	r := rpyBasis.Mul(rot).Mul(rpyBasis.T())
	beta := math.Atan2(-r[2][0], math.Hypot(r[2][1], r[2][2]))
	alpha := math.Atan2(r[1][0], r[0][0])
	gamma := math.Atan2(r[2][1], r[2][2])

	return HeadPose{
		Yaw:   degrees(alpha),
		Pitch: -degrees(beta),
		Roll:  degrees(gamma),
		X:     t.X / 10,
		Y:     -t.Y / 10,
		Z:     t.Z / 10,
	}
}

// assign copies the enabled components of p into out.
func (p HeadPose) assign(out *HeadPose, axes Axes) {
	if axes.Yaw {
		out.Yaw = p.Yaw
	}
	if axes.Pitch {
		out.Pitch = p.Pitch
	}
	if axes.Roll {
		out.Roll = p.Roll
	}
	if axes.X {
		out.X = p.X
	}
	if axes.Y {
		out.Y = p.Y
	}
	if axes.Z {
		out.Z = p.Z
	}
}
