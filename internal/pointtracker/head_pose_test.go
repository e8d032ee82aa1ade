package pointtracker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestComputeHeadPose(t *testing.T) {
	front := Vec3{Z: 500}
	tests := []struct {
		name     string
		xcm      FrameTrafo
		offset   Vec3
		ref      FrameTrafo
		camPitch float64
		want     HeadPose
	}{
		{
			name: "rest pose",
			xcm:  FrameTrafo{R: Identity(), T: front},
			ref:  IdentityTrafo(),
			want: HeadPose{Z: 50},
		},
		{
			name: "translation in centimetres, y up",
			xcm:  FrameTrafo{R: Identity(), T: Vec3{X: 50, Y: -30, Z: 600}},
			ref:  IdentityTrafo(),
			want: HeadPose{X: 5, Y: 3, Z: 60},
		},
		{
			name: "turn about the vertical axis",
			xcm:  FrameTrafo{R: RotY(25), T: front},
			ref:  IdentityTrafo(),
			want: HeadPose{Yaw: -25, Z: 50},
		},
		{
			name: "nod",
			xcm:  FrameTrafo{R: RotX(15), T: front},
			ref:  IdentityTrafo(),
			want: HeadPose{Pitch: 15, Z: 50},
		},
		{
			name: "tilt about the line of sight",
			xcm:  FrameTrafo{R: RotZ(-30), T: front},
			ref:  IdentityTrafo(),
			want: HeadPose{Roll: -30, Z: 50},
		},
		{
			name: "reference is subtracted",
			xcm:  FrameTrafo{R: RotZ(10).Mul(RotY(5)), T: Vec3{X: 20, Y: 10, Z: 450}},
			ref:  FrameTrafo{R: RotZ(10).Mul(RotY(5)), T: Vec3{X: 20, Y: 10, Z: 450}},
			want: HeadPose{},
		},
		{
			name:   "head offset rotates with the markers",
			xcm:    FrameTrafo{R: RotZ(90), T: front},
			offset: Vec3{X: 10},
			ref:    IdentityTrafo(),
			want:   HeadPose{Roll: 90, Y: -1, Z: 50},
		},
		{
			// A camera tilted down 30° sees a level head turn about a tilted
			// axis; the mounting pitch maps it back to pure yaw.
			name:     "camera pitch",
			xcm:      FrameTrafo{R: RotX(30).Mul(RotY(20)).Mul(RotX(-30)), T: RotX(30).MulVec(front)},
			ref:      IdentityTrafo(),
			camPitch: 30,
			want:     HeadPose{Yaw: -20, Z: 50},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeHeadPose(tt.xcm, tt.offset, tt.ref, tt.camPitch)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("computeHeadPose mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHeadPoseSigns(t *testing.T) {
	front := Vec3{Z: 500}
	tests := []struct {
		name  string
		xcm   FrameTrafo
		check func(HeadPose) bool
	}{
		{"face turns to image right", FrameTrafo{R: RotY(-20), T: front}, func(p HeadPose) bool { return p.Yaw > 19 }},
		{"face tips down", FrameTrafo{R: RotX(15), T: front}, func(p HeadPose) bool { return p.Pitch > 14 }},
		{"clockwise tilt in the image", FrameTrafo{R: RotZ(10), T: front}, func(p HeadPose) bool { return p.Roll > 9 }},
		{"head moves to image right", FrameTrafo{R: Identity(), T: Vec3{X: 30, Z: 500}}, func(p HeadPose) bool { return p.X > 0 }},
		{"head moves up", FrameTrafo{R: Identity(), T: Vec3{Y: -30, Z: 500}}, func(p HeadPose) bool { return p.Y > 0 }},
		{"head moves away", FrameTrafo{R: Identity(), T: Vec3{Z: 700}}, func(p HeadPose) bool { return p.Z > 50 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeHeadPose(tt.xcm, Vec3{}, IdentityTrafo(), 0)
			if !tt.check(got) {
				t.Errorf("computeHeadPose = %+v", got)
			}
		})
	}

	// The face looks along -z in the rest pose; a right turn swings it to +x
	// and a downward tip swings it to +y.
	if face := RotY(-20).MulVec(Vec3{Z: -1}); face.X <= 0 {
		t.Errorf("RotY(-20) face = %v, want +x", face)
	}
	if face := RotX(15).MulVec(Vec3{Z: -1}); face.Y <= 0 {
		t.Errorf("RotX(15) face = %v, want +y", face)
	}
}

func TestHeadPoseAssign(t *testing.T) {
	src := HeadPose{Yaw: 1, Pitch: 2, Roll: 3, X: 4, Y: 5, Z: 6}
	out := HeadPose{Yaw: -1, Pitch: -1, Roll: -1, X: -1, Y: -1, Z: -1}

	src.assign(&out, Axes{Pitch: true, X: true, Z: true})
	want := HeadPose{Yaw: -1, Pitch: 2, Roll: -1, X: 4, Y: -1, Z: 6}
	if out != want {
		t.Errorf("assign = %+v, want %+v", out, want)
	}

	src.assign(&out, AllAxes)
	if out != src {
		t.Errorf("assign(AllAxes) = %+v, want %+v", out, src)
	}
}
