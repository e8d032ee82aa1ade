package pointtracker

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/headtrack/internal/monitoring"
)

const (
	// stepTolerance ends refinement once the parameter update is this small.
	stepTolerance = 1e-9
	// costTolerance ends refinement once the squared residual is negligible.
	costTolerance = 1e-20
	// maxBacktracks bounds the step halvings tried per iteration.
	maxBacktracks = 10
	// candidateAngleTie is the rotation distance (radians) below which two
	// candidates are considered equally close to the prior.
	candidateAngleTie = 1e-6
	// convergedCost marks a refined candidate as an exact fit.
	convergedCost = 1e-12
)

// PoseSolver recovers the model-to-camera transform from three image points.
// It keeps the last successful pose as the seed for the next frame; a failed
// frame leaves the pose untouched.
//
// PoseSolver is not safe for concurrent use.
type PoseSolver struct {
	// DTReset is the longest gap (seconds) since the last success for which
	// the previous pose is still trusted as a seed.
	DTReset float64
	// DynamicPoseResolution enables iterative refinement. When false, the
	// weak-perspective estimate is used directly.
	DynamicPoseResolution bool
	// MaxIterations caps Gauss-Newton iterations per frame.
	MaxIterations int

	model      *PointModel
	pose       FrameTrafo
	hasPose    bool
	sinceValid float64

	lastErr      error
	reprojection float64
	iterations   int
	warm         bool
}

// NewPoseSolver returns a solver for model with default tuning.
func NewPoseSolver(model *PointModel) *PoseSolver {
	return &PoseSolver{
		DTReset:               1,
		DynamicPoseResolution: true,
		MaxIterations:         20,
		model:                 model,
		pose:                  IdentityTrafo(),
	}
}

// SetModel replaces the marker geometry. A different model invalidates the
// seed.
func (s *PoseSolver) SetModel(model *PointModel) {
	if model == s.model {
		return
	}
	s.model = model
	s.Reset()
}

// Model returns the current marker geometry.
func (s *PoseSolver) Model() *PointModel {
	return s.model
}

// Reset discards the seed so the next frame is solved from scratch. The last
// pose stays readable through Pose.
func (s *PoseSolver) Reset() {
	s.hasPose = false
	s.sinceValid = 0
}

// Pose returns the current model-to-camera transform (X_CM) and whether a
// seed is held.
func (s *PoseSolver) Pose() (FrameTrafo, bool) {
	return s.pose, s.hasPose
}

// LastError returns the reason the most recent Track call failed, or nil.
func (s *PoseSolver) LastError() error {
	return s.lastErr
}

// ReprojectionError returns the RMS distance, in width-normalised image
// units, between the observed points and the projected model after the last
// successful solve.
func (s *PoseSolver) ReprojectionError() float64 {
	return s.reprojection
}

// Iterations returns the refinement iterations used by the last solve.
func (s *PoseSolver) Iterations() int {
	return s.iterations
}

// WarmStart reports whether the last successful solve was seeded by the
// previous pose.
func (s *PoseSolver) WarmStart() bool {
	return s.warm
}

// Track updates the pose from points observed with focal ratio f. dt is the
// time in seconds since the previous call. It reports whether the pose was
// updated.
func (s *PoseSolver) Track(points []Point2D, f, dt float64) bool {
	s.sinceValid += dt
	if len(points) < 3 {
		s.lastErr = ErrInsufficientPoints
		return false
	}
	if f <= 0 || s.model == nil {
		s.lastErr = ErrDegeneratePose
		return false
	}

	fresh := s.hasPose && s.sinceValid <= s.DTReset
	prior := Identity()
	var (
		pose FrameTrafo
		err  error
		warm bool
	)
	if fresh {
		prior = s.pose.R
		err = ErrCorrespondenceAmbiguous
		if predicted, ok := s.project(s.pose, f); ok {
			if matched, ok := matchByPrediction(predicted, points); ok {
				pose, err = s.solve(normalize(matched, f), s.pose, true)
				warm = err == nil
			}
		}
	}
	if !warm {
		matched, ok := matchByRatios(s.model, points)
		if !ok {
			monitoring.Debugf("pointtracker: no consistent marker triple among %d points", len(points))
			s.lastErr = ErrCorrespondenceAmbiguous
			return false
		}
		pose, err = s.solve(normalize(matched, f), FrameTrafo{R: prior}, false)
		if err != nil {
			monitoring.Debugf("pointtracker: solve failed: %v", err)
			s.lastErr = err
			return false
		}
	}

	s.pose = pose
	s.hasPose = true
	s.sinceValid = 0
	s.lastErr = nil
	s.warm = warm
	s.reprojection *= f
	return true
}

// normalize divides image points by the focal ratio so that q = (X/Z, Y/Z).
func normalize(p [3]Point2D, f float64) [3]Point2D {
	for i := range p {
		p[i].X /= f
		p[i].Y /= f
	}
	return p
}

// project returns the image positions of the model markers under pose.
func (s *PoseSolver) project(pose FrameTrafo, f float64) ([3]Point2D, bool) {
	var out [3]Point2D
	for i, m := range s.model.Points() {
		p := pose.Apply(m)
		if p.Z <= 0 {
			return out, false
		}
		out[i] = Point2D{X: f * p.X / p.Z, Y: f * p.Y / p.Z}
	}
	return out, true
}

// solve finds the pose for matched normalised points q. A warm solve refines
// seed directly; otherwise the weak-perspective candidates are refined and
// the one closest to seed.R wins.
func (s *PoseSolver) solve(q [3]Point2D, seed FrameTrafo, warm bool) (FrameTrafo, error) {
	if warm && s.DynamicPoseResolution {
		pose, cost, iters, err := s.refine(seed, q)
		if err != nil {
			return pose, err
		}
		s.iterations = iters
		s.reprojection = math.Sqrt(cost / 3)
		return pose, nil
	}

	cands, err := weakPerspective(q, s.model)
	if err != nil {
		return FrameTrafo{}, err
	}

	bestIdx := -1
	var (
		best          FrameTrafo
		bestCost      float64
		bestAngle     float64
		bestIters     int
		bestConverged bool
	)
	for i, c := range cands {
		pose, cost, iters := c, 0.0, 0
		if s.DynamicPoseResolution {
			pose, cost, iters, err = s.refine(c, q)
			if err != nil {
				continue
			}
		} else {
			var ok bool
			if cost, ok = s.cost(c, q); !ok {
				continue
			}
		}
		angle := RotationAngle(pose.R, seed.R)
		converged := s.DynamicPoseResolution && cost < convergedCost
		var better bool
		switch {
		case bestIdx < 0:
			better = true
		case converged != bestConverged:
			better = converged
		default:
			better = angle < bestAngle-candidateAngleTie ||
				(math.Abs(angle-bestAngle) <= candidateAngleTie && cost < bestCost)
		}
		if better {
			bestIdx, best, bestCost, bestAngle, bestIters, bestConverged = i, pose, cost, angle, iters, converged
		}
	}
	if bestIdx < 0 {
		return FrameTrafo{}, ErrDegeneratePose
	}
	s.iterations = bestIters
	s.reprojection = math.Sqrt(bestCost / 3)
	return best, nil
}

// weakPerspective solves the scaled-orthographic planar pose problem. Three
// coplanar points leave a two-fold mirror ambiguity, so up to two candidates
// are returned, both with every marker in front of the camera.
func weakPerspective(q [3]Point2D, model *PointModel) ([]FrameTrafo, error) {
	m := model.Points()
	a1 := r3.Sub(m[1], m[0])
	a2 := r3.Sub(m[2], m[0])

	g11, g12, g22 := r3.Dot(a1, a1), r3.Dot(a1, a2), r3.Dot(a2, a2)
	det := g11*g22 - g12*g12
	if det <= 1e-12*g11*g22 {
		return nil, ErrDegeneratePose
	}
	inv11, inv12, inv22 := g22/det, -g12/det, g11/det

	// Minimum-norm solutions of A·I0 = bx and A·J0 = by, with A's rows a1, a2.
	minNorm := func(b0, b1 float64) Vec3 {
		c0 := inv11*b0 + inv12*b1
		c1 := inv12*b0 + inv22*b1
		return r3.Add(r3.Scale(c0, a1), r3.Scale(c1, a2))
	}
	i0 := minNorm(q[1].X-q[0].X, q[2].X-q[0].X)
	j0 := minNorm(q[1].Y-q[0].Y, q[2].Y-q[0].Y)
	n := r3.Unit(r3.Cross(a1, a2))

	// I = I0 + λn and J = J0 + μn must be orthogonal with equal norms:
	// (λ + iμ)² = |J0|² - |I0|² - 2i·I0·J0.
	c := cmplx.Sqrt(complex(r3.Norm2(j0)-r3.Norm2(i0), -2*r3.Dot(i0, j0)))
	lambda, mu := real(c), imag(c)

	var out []FrameTrafo
	for _, sign := range []float64{1, -1} {
		vi := r3.Add(i0, r3.Scale(sign*lambda, n))
		vj := r3.Add(j0, r3.Scale(sign*mu, n))
		ni, nj := r3.Norm(vi), r3.Norm(vj)
		if ni == 0 || nj == 0 {
			continue
		}
		r1 := r3.Scale(1/ni, vi)
		r2 := r3.Scale(1/nj, vj)
		rot := Orthonormalize(rowsToMat(r1, r2, r3.Cross(r1, r2)))
		z0 := 2 / (ni + nj)
		pose := FrameTrafo{R: rot, T: Vec3{X: q[0].X * z0, Y: q[0].Y * z0, Z: z0}}
		if inFront(pose, model) {
			out = append(out, pose)
		}
		if lambda == 0 && mu == 0 {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrDegeneratePose
	}
	return out, nil
}

func inFront(pose FrameTrafo, model *PointModel) bool {
	for _, m := range model.Points() {
		if pose.Apply(m).Z <= 0 {
			return false
		}
	}
	return true
}

// cost returns the squared reprojection residual of pose against q, and false
// if a marker lies at or behind the camera.
func (s *PoseSolver) cost(pose FrameTrafo, q [3]Point2D) (float64, bool) {
	var sum float64
	for i, m := range s.model.Points() {
		p := pose.Apply(m)
		if p.Z <= 0 {
			return 0, false
		}
		du := p.X/p.Z - q[i].X
		dv := p.Y/p.Z - q[i].Y
		sum += du*du + dv*dv
	}
	return sum, true
}

// refine runs damped Gauss-Newton on the rotation vector (left-multiplied
// update) and translation. Hitting MaxIterations is not an error; the best
// estimate so far is returned.
func (s *PoseSolver) refine(seed FrameTrafo, q [3]Point2D) (FrameTrafo, float64, int, error) {
	pose := seed
	cost, ok := s.cost(pose, q)
	if !ok {
		return seed, 0, 0, ErrDegeneratePose
	}

	maxIter := s.MaxIterations
	if maxIter < 1 {
		maxIter = 1
	}
	jac := mat.NewDense(6, 6, nil)
	res := mat.NewVecDense(6, nil)
	var jtj mat.Dense
	var grad, delta mat.VecDense
	axes := [3]Vec3{{X: 1}, {Y: 1}, {Z: 1}}

	iters := 0
	for iters < maxIter && cost > costTolerance {
		iters++
		for i, m := range s.model.Points() {
			a := pose.R.MulVec(m)
			p := r3.Add(a, pose.T)
			gu := Vec3{X: 1 / p.Z, Z: -p.X / (p.Z * p.Z)}
			gv := Vec3{Y: 1 / p.Z, Z: -p.Y / (p.Z * p.Z)}
			res.SetVec(2*i, p.X/p.Z-q[i].X)
			res.SetVec(2*i+1, p.Y/p.Z-q[i].Y)
			for k, e := range axes {
				// ∂P/∂ω_k = e_k × (R·M)
				dp := r3.Cross(e, a)
				jac.Set(2*i, k, r3.Dot(gu, dp))
				jac.Set(2*i+1, k, r3.Dot(gv, dp))
				jac.Set(2*i, 3+k, r3.Dot(gu, e))
				jac.Set(2*i+1, 3+k, r3.Dot(gv, e))
			}
		}

		jtj.Mul(jac.T(), jac)
		var maxDiag float64
		for k := 0; k < 6; k++ {
			maxDiag = math.Max(maxDiag, jtj.At(k, k))
		}
		for k := 0; k < 6; k++ {
			jtj.Set(k, k, jtj.At(k, k)+1e-12*maxDiag)
		}
		grad.MulVec(jac.T(), res)
		if err := delta.SolveVec(&jtj, &grad); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				break
			}
		}

		accepted := false
		alpha := 1.0
		var stepNorm float64
		for b := 0; b < maxBacktracks; b++ {
			w := Vec3{X: -alpha * delta.AtVec(0), Y: -alpha * delta.AtVec(1), Z: -alpha * delta.AtVec(2)}
			dt := Vec3{X: -alpha * delta.AtVec(3), Y: -alpha * delta.AtVec(4), Z: -alpha * delta.AtVec(5)}
			cand := FrameTrafo{R: Rodrigues(w).Mul(pose.R), T: r3.Add(pose.T, dt)}
			if c, ok := s.cost(cand, q); ok && c < cost {
				pose, cost = cand, c
				stepNorm = math.Sqrt(r3.Norm2(w) + r3.Norm2(dt)/(pose.T.Z*pose.T.Z))
				accepted = true
				break
			}
			alpha /= 2
		}
		if !accepted || stepNorm < stepTolerance {
			break
		}
	}

	pose.R = Orthonormalize(pose.R)
	cost, ok = s.cost(pose, q)
	if !ok {
		return seed, 0, iters, ErrDegeneratePose
	}
	return pose, cost, iters, nil
}
