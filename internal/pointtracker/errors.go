package pointtracker

import "errors"

// Per-frame failures. None of them is fatal: the tracker keeps running and the
// previous pose is retained.
var (
	// ErrInsufficientPoints means fewer than three points were extracted.
	ErrInsufficientPoints = errors.New("pointtracker: fewer than 3 points")

	// ErrCorrespondenceAmbiguous means no assignment of image points to model
	// markers passed the ordering tests.
	ErrCorrespondenceAmbiguous = errors.New("pointtracker: ambiguous correspondence")

	// ErrDegeneratePose means every candidate pose placed a marker at or
	// behind the camera, or the geometry could not be inverted.
	ErrDegeneratePose = errors.New("pointtracker: degenerate pose")

	// ErrStopped is returned by Start on a tracker that has already stopped.
	ErrStopped = errors.New("pointtracker: tracker stopped")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("pointtracker: already started")
)
