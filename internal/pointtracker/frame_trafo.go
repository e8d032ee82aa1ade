package pointtracker

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is a 3D vector in millimetres.
type Vec3 = r3.Vec

// Mat33 is a row-major 3×3 matrix.
type Mat33 [3][3]float64

// Identity returns the 3×3 identity matrix.
func Identity() Mat33 {
	return Mat33{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Mul returns m·b.
func (m Mat33) Mul(b Mat33) Mat33 {
	var out Mat33
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*b[0][j] + m[i][1]*b[1][j] + m[i][2]*b[2][j]
		}
	}
	return out
}

// T returns the transpose.
func (m Mat33) T() Mat33 {
	var out Mat33
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// MulVec returns m·v.
func (m Mat33) MulVec(v Vec3) Vec3 {
	return Vec3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Row returns row i as a vector.
func (m Mat33) Row(i int) Vec3 {
	return Vec3{X: m[i][0], Y: m[i][1], Z: m[i][2]}
}

func (m Mat33) trace() float64 {
	return m[0][0] + m[1][1] + m[2][2]
}

func rowsToMat(r0, r1, r2 Vec3) Mat33 {
	return Mat33{
		{r0.X, r0.Y, r0.Z},
		{r1.X, r1.Y, r1.Z},
		{r2.X, r2.Y, r2.Z},
	}
}

// FrameTrafo is a rigid transform p' = R·p + T.
type FrameTrafo struct {
	R Mat33
	T Vec3
}

// IdentityTrafo returns the transform that leaves points unchanged.
func IdentityTrafo() FrameTrafo {
	return FrameTrafo{R: Identity()}
}

// Compose returns the transform applying o first, then f.
func (f FrameTrafo) Compose(o FrameTrafo) FrameTrafo {
	return FrameTrafo{
		R: f.R.Mul(o.R),
		T: r3.Add(f.R.MulVec(o.T), f.T),
	}
}

// Inverse returns the inverse transform. R must be a rotation.
func (f FrameTrafo) Inverse() FrameTrafo {
	rt := f.R.T()
	return FrameTrafo{R: rt, T: r3.Scale(-1, rt.MulVec(f.T))}
}

// Apply transforms point p.
func (f FrameTrafo) Apply(p Vec3) Vec3 {
	return r3.Add(f.R.MulVec(p), f.T)
}

// skew returns [v]×, the matrix with [v]×·w = v×w.
func skew(v Vec3) Mat33 {
	return Mat33{
		{0, -v.Z, v.Y},
		{v.Z, 0, -v.X},
		{-v.Y, v.X, 0},
	}
}

// Rodrigues returns the rotation exp([w]×) for rotation vector w (radians).
func Rodrigues(w Vec3) Mat33 {
	theta := r3.Norm(w)
	if theta < 1e-12 {
		// first order: I + [w]×
		k := skew(w)
		out := Identity()
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				out[i][j] += k[i][j]
			}
		}
		return out
	}
	k := skew(r3.Scale(1/theta, w))
	k2 := k.Mul(k)
	s, c := math.Sincos(theta)
	out := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] += s*k[i][j] + (1-c)*k2[i][j]
		}
	}
	return out
}

// Orthonormalize returns the rotation closest to m in the Frobenius sense,
// computed as U·Vᵀ from the SVD of m with the determinant forced to +1.
func Orthonormalize(m Mat33) Mat33 {
	d := mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
	var svd mat.SVD
	if !svd.Factorize(d, mat.SVDFull) {
		return m
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	var out Mat33
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out
}

// RotationAngle returns the angle in radians of the rotation a·bᵀ, i.e. how
// far apart rotations a and b are.
func RotationAngle(a, b Mat33) float64 {
	c := (a.Mul(b.T()).trace() - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// RotX returns a rotation of deg degrees about the x axis.
func RotX(deg float64) Mat33 {
	s, c := math.Sincos(deg * math.Pi / 180)
	return Mat33{{1, 0, 0}, {0, c, -s}, {0, s, c}}
}

// RotY returns a rotation of deg degrees about the y axis.
func RotY(deg float64) Mat33 {
	s, c := math.Sincos(deg * math.Pi / 180)
	return Mat33{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
}

// RotZ returns a rotation of deg degrees about the z axis.
func RotZ(deg float64) Mat33 {
	s, c := math.Sincos(deg * math.Pi / 180)
	return Mat33{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}
