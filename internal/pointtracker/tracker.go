package pointtracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/headtrack/internal/camera"
	"github.com/banshee-data/headtrack/internal/config"
	"github.com/banshee-data/headtrack/internal/monitoring"
	"github.com/banshee-data/headtrack/internal/timeutil"
)

// State is the lifecycle state of a Tracker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return "idle"
}

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdAbort
)

// perfLogEvery is the number of frames between performance log lines.
const perfLogEvery = 100

// Tracker runs frame acquisition, point extraction and pose solving in a
// worker goroutine. A single mutex guards the frame, extractor, solver,
// reference pose and tunables; it is held for one extract-and-solve step and
// released while the worker sleeps.
type Tracker struct {
	clock timeutil.Clock

	mu         sync.Mutex
	cam        camera.FrameSource
	settings   config.Settings
	extractor  *Extractor
	solver     *PoseSolver
	frame      camera.Frame
	reference  FrameTrafo
	headOffset Vec3
	axes       Axes
	valid      bool
	frameCount uint64
	sinceFrame float64
	startPause bool
	started    bool

	preview       *camera.Frame
	previewPoints []Point2D

	// last is the pose buffer behind Sample. Disabled axes and invalid
	// frames leave its components at their previous values.
	last HeadPose

	state    atomic.Int32
	commands chan command
	done     chan struct{}
}

// NewTracker creates a tracker reading from cam with DefaultSettings applied.
// A nil clock uses the real clock.
func NewTracker(cam camera.FrameSource, clock timeutil.Clock) *Tracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	t := &Tracker{
		clock:     clock,
		cam:       cam,
		reference: IdentityTrafo(),
		commands:  make(chan command, 16),
		done:      make(chan struct{}),
	}
	t.Apply(config.DefaultSettings())
	return t
}

// Apply pushes a settings snapshot into the camera, extractor and solver.
// Changing M01 or M02 discards the current seed.
func (t *Tracker) Apply(s config.Settings) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cam.SetIndex(s.CameraIndex)
	t.cam.SetResolution(s.CameraResX, s.CameraResY)
	t.cam.SetFPS(s.CameraFPS)
	t.cam.SetFocalRatio(s.FocalRatio)

	if t.extractor == nil {
		t.extractor = NewExtractor(s.Threshold, s.MinPointSize, s.MaxPointSize)
	} else {
		t.extractor.Configure(s.Threshold, s.MinPointSize, s.MaxPointSize)
	}

	if t.solver == nil {
		t.solver = NewPoseSolver(NewPointModel(s.M01, s.M02))
	} else if s.M01 != t.settings.M01 || s.M02 != t.settings.M02 {
		t.solver.SetModel(NewPointModel(s.M01, s.M02))
	}
	t.solver.DynamicPoseResolution = s.DynamicPoseResolution
	t.solver.DTReset = s.ResetTime.Seconds()
	t.solver.MaxIterations = s.MaxIterations

	off := s.HeadOffset()
	t.headOffset = Vec3{X: off[0], Y: off[1], Z: off[2]}
	t.axes = Axes{
		Yaw: s.EnableYaw, Pitch: s.EnablePitch, Roll: s.EnableRoll,
		X: s.EnableX, Y: s.EnableY, Z: s.EnableZ,
	}
	if !s.Preview {
		t.preview = nil
		t.previewPoints = nil
	}
	t.settings = s
}

// Settings returns the last applied settings.
func (t *Tracker) Settings() config.Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// Start opens the frame source and launches the worker. Camera failures are
// returned wrapped. Cancelling ctx stops the worker like Stop, without
// releasing the camera.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == StateStopped {
		return ErrStopped
	}
	if t.started {
		return ErrAlreadyStarted
	}
	if err := t.cam.Start(); err != nil {
		return fmt.Errorf("start camera %d: %w", t.settings.CameraIndex, err)
	}
	t.started = true
	if t.startPause {
		t.state.Store(int32(StatePaused))
	} else {
		t.state.Store(int32(StateRunning))
	}
	monitoring.Logf("pointtracker: started (camera %d, %dx%d@%d)",
		t.settings.CameraIndex, t.settings.CameraResX, t.settings.CameraResY, t.settings.CameraFPS)

	go t.run(ctx, t.startPause)
	return nil
}

// Pause suspends frame processing. The last pose stays queryable.
func (t *Tracker) Pause() { t.send(cmdPause) }

// Resume continues after Pause.
func (t *Tracker) Resume() { t.send(cmdResume) }

// Stop aborts the worker, waits for it to exit and releases the camera. It is
// safe to call more than once.
func (t *Tracker) Stop() {
	t.send(cmdAbort)

	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		<-t.done
	}
	t.state.Store(int32(StateStopped))
	if err := t.cam.Stop(); err != nil {
		monitoring.Logf("pointtracker: camera stop: %v", err)
	}
}

// Done is closed when the worker goroutine has exited.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

func (t *Tracker) send(c command) {
	t.mu.Lock()
	if !t.started {
		switch c {
		case cmdPause:
			t.startPause = true
		case cmdResume:
			t.startPause = false
		}
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	select {
	case t.commands <- c:
	case <-t.done:
	}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// drain consumes queued commands. Abort wins over everything else in the
// same batch; otherwise the last pause or resume decides.
func drain(pending []command, paused bool) (bool, bool) {
	abort := false
	for _, c := range pending {
		switch c {
		case cmdAbort:
			abort = true
		case cmdPause:
			paused = true
		case cmdResume:
			paused = false
		}
	}
	return abort, paused
}

func (t *Tracker) run(ctx context.Context, paused bool) {
	defer close(t.done)

	last := t.clock.Now()
	var pending []command
	for {
		// Take only what is queued now so busy senders cannot hold the
		// worker here. The worker is the only receiver.
		for n := len(t.commands); n > 0; n-- {
			pending = append(pending, <-t.commands)
		}
		var abort bool
		abort, paused = drain(pending, paused)
		pending = pending[:0]
		if abort || ctx.Err() != nil {
			t.state.Store(int32(StateStopped))
			return
		}

		if paused {
			t.state.Store(int32(StatePaused))
			select {
			case c := <-t.commands:
				pending = append(pending, c)
			case <-ctx.Done():
			}
			continue
		}
		t.state.Store(int32(StateRunning))

		t.step(&last)

		t.mu.Lock()
		sleep := t.settings.SleepTime
		t.mu.Unlock()
		select {
		case <-t.clock.After(sleep):
		case c := <-t.commands:
			pending = append(pending, c)
		case <-ctx.Done():
		}
	}
}

// step runs one acquisition and, when a frame arrived, one extract-and-solve.
func (t *Tracker) step(last *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	dt := now.Sub(*last).Seconds()
	*last = now
	t.sinceFrame += dt

	if !t.cam.GetFrame(dt, &t.frame) || t.frame.Empty() {
		return
	}

	f := t.cam.Info().F
	if f <= 0 {
		f = t.settings.FocalRatio
	}
	points := t.extractor.ExtractPoints(&t.frame, t.sinceFrame)
	t.valid = t.solver.Track(points, f, t.sinceFrame)
	t.sinceFrame = 0
	t.frameCount++

	if t.settings.Preview {
		t.preview = t.frame.Clone()
		t.previewPoints = points
	}
	if t.settings.LogPerformance && t.frameCount%perfLogEvery == 0 {
		monitoring.Logf("pointtracker: frame %d, %.1f fps, %d points, valid=%t, reprojection=%.2g",
			t.frameCount, t.cam.Info().FPS, len(points), t.valid, t.solver.ReprojectionError())
	}
}

// Reset discards the seed and invalidates tracking until the next successful
// solve.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.solver.Reset()
	t.valid = false
}

// Center captures the current head pose as the zero reference and discards
// the seed. Validity is unchanged.
func (t *Tracker) Center() {
	t.mu.Lock()
	defer t.mu.Unlock()
	xcm, _ := t.solver.Pose()
	t.reference = xcm.Compose(FrameTrafo{R: Identity(), T: t.headOffset})
	t.solver.Reset()
}

// HeadPose writes the enabled components of the current pose into out and
// reports whether tracking is valid. Disabled components and every component
// of an invalid pose keep their previous values.
func (t *Tracker) HeadPose(out *HeadPose) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.headPoseLocked(out)
}

func (t *Tracker) headPoseLocked(out *HeadPose) bool {
	if !t.valid {
		return false
	}
	xcm, _ := t.solver.Pose()
	computeHeadPose(xcm, t.headOffset, t.reference, t.settings.CameraPitch).assign(out, t.axes)
	return true
}

// Valid reports whether the last processed frame produced a pose.
func (t *Tracker) Valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.valid
}

// Preview returns a copy of the latest frame with the extracted points, when
// the preview setting is on and a frame has been processed.
func (t *Tracker) Preview() (*camera.Frame, []Point2D, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.preview == nil {
		return nil, nil, false
	}
	pts := make([]Point2D, len(t.previewPoints))
	copy(pts, t.previewPoints)
	return t.preview.Clone(), pts, true
}

// FrameCount returns the number of frames processed.
func (t *Tracker) FrameCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameCount
}

// Diagnostics is a snapshot of solver internals for logging and the API.
type Diagnostics struct {
	Valid             bool    `json:"valid"`
	State             string  `json:"state"`
	Frames            uint64  `json:"frames"`
	Points            int     `json:"points"`
	ReprojectionError float64 `json:"reprojection_error"`
	Iterations        int     `json:"iterations"`
	WarmStart         bool    `json:"warm_start"`
	LastError         string  `json:"last_error,omitempty"`
	FPS               float64 `json:"fps"`
}

// Diagnostics returns a snapshot of the tracker's internals.
func (t *Tracker) Diagnostics() Diagnostics {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := Diagnostics{
		Valid:             t.valid,
		State:             t.State().String(),
		Frames:            t.frameCount,
		Points:            len(t.extractor.points),
		ReprojectionError: t.solver.ReprojectionError(),
		Iterations:        t.solver.Iterations(),
		WarmStart:         t.solver.WarmStart(),
		FPS:               t.cam.Info().FPS,
	}
	if err := t.solver.LastError(); err != nil {
		d.LastError = err.Error()
	}
	return d
}

// Sample is one polled head pose, the unit handed to recorders and streams.
type Sample struct {
	Time              time.Time `json:"time"`
	Valid             bool      `json:"valid"`
	Pose              HeadPose  `json:"pose"`
	ReprojectionError float64   `json:"reprojection_error"`
}

// Sample polls the output adapter once. The pose is read through a buffer
// that persists across calls, so a disabled axis reports the value it held
// when it was last enabled and an invalid sample repeats the last pose.
func (t *Tracker) Sample(now time.Time) Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Sample{Time: now}
	s.Valid = t.headPoseLocked(&t.last)
	s.Pose = t.last
	if s.Valid {
		s.ReprojectionError = t.solver.ReprojectionError()
	}
	return s
}
