package pointtracker

import (
	"math"
)

const (
	// hungarianInf stands in for infinity in the assignment cost matrix.
	hungarianInf = 1e18

	// warmGateFraction bounds how far an image point may sit from its
	// predicted marker, as a fraction of the shortest predicted side.
	warmGateFraction = 0.5

	// maxRatioError is the largest accepted sum of squared differences
	// between normalised image and model side lengths.
	maxRatioError = 0.02

	// ratioTieTolerance groups candidates whose ratio error is this close to
	// the best; the in-plane rotation decides between them.
	ratioTieTolerance = 2e-3
)

// hungarianAssign solves the assignment problem for a cost matrix with one
// row per marker and one column per image point, minimising the summed cost.
// It returns assign[i] = column for row i, or -1 when row i has no allowed
// column. Costs ≥ hungarianInf are forbidden.
//
// This is the shortest augmenting path form of Kuhn-Munkres, O(rows²·cols).
// Rows are added one at a time; row and column potentials u and v keep every
// reduced cost c[i][j]-u[i]-v[j] non-negative and zero along the matching.
func hungarianAssign(cost [][]float64) []int {
	rows := len(cost)
	if rows == 0 {
		return nil
	}
	cols := len(cost[0])
	assign := make([]int, rows)
	for i := range assign {
		assign[i] = -1
	}
	if cols == 0 {
		return assign
	}

	// The augmenting search needs at least as many columns as rows. Extra
	// columns cost nothing and stand for "unassigned".
	width := max(cols, rows)
	at := func(i, j int) float64 {
		if j >= cols {
			return 0
		}
		return cost[i][j]
	}

	// Index 0 of the column arrays is a virtual column holding the row being
	// inserted; matched[j] is the 1-based row on column j, 0 when free.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, rows+1)
	v := make([]float64, width+1)
	matched := make([]int, width+1)
	prev := make([]int, width+1)
	slack := make([]float64, width+1)
	visited := make([]bool, width+1)

	for i := 1; i <= rows; i++ {
		matched[0] = i
		j0 := 0
		for j := range slack {
			slack[j] = inf
			visited[j] = false
		}

		// Grow the alternating tree until it reaches a free column.
		for matched[j0] != 0 {
			visited[j0] = true
			i0 := matched[j0]
			delta, j1 := inf, 0
			for j := 1; j <= width; j++ {
				if visited[j] {
					continue
				}
				if r := at(i0-1, j-1) - u[i0] - v[j]; r < slack[j] {
					slack[j], prev[j] = r, j0
				}
				if slack[j] < delta {
					delta, j1 = slack[j], j
				}
			}
			// Shift potentials so the cheapest edge leaving the tree becomes
			// tight.
			for j := 0; j <= width; j++ {
				if visited[j] {
					u[matched[j]] += delta
					v[j] -= delta
				} else {
					slack[j] -= delta
				}
			}
			j0 = j1
		}

		// Flip the path back to the virtual column.
		for j0 != 0 {
			j1 := prev[j0]
			matched[j0] = matched[j1]
			j0 = j1
		}
	}

	for j := 1; j <= cols; j++ {
		if i := matched[j]; i != 0 && cost[i-1][j-1] < hungarianInf {
			assign[i-1] = j - 1
		}
	}
	return assign
}

// windingZ is the z component of (b-a)×(c-a). A front-facing model projects
// with a negative winding.
func windingZ(a, b, c Point2D) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func dist(a, b Point2D) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// matchByPrediction assigns image points to the markers of a predicted
// projection. It fails when any point lies further than the gate from its
// prediction or the matched triangle is back-facing.
func matchByPrediction(predicted [3]Point2D, points []Point2D) ([3]Point2D, bool) {
	var out [3]Point2D
	side := math.Min(dist(predicted[0], predicted[1]),
		math.Min(dist(predicted[0], predicted[2]), dist(predicted[1], predicted[2])))
	gate := warmGateFraction * side
	if gate <= 0 {
		return out, false
	}

	cost := make([][]float64, 3)
	for i := range cost {
		cost[i] = make([]float64, len(points))
		for j, p := range points {
			d := dist(predicted[i], p)
			if d > gate {
				cost[i][j] = hungarianInf
				continue
			}
			cost[i][j] = d * d
		}
	}
	assign := hungarianAssign(cost)
	for i, j := range assign {
		if j < 0 {
			return out, false
		}
		out[i] = points[j]
	}
	if windingZ(out[0], out[1], out[2]) >= 0 {
		return out, false
	}
	return out, true
}

// ratioPerms lists the orderings of a point triple tried against the model.
var ratioPerms = [6][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

// eachTriangle calls fn for every ordered, front-facing triple of points with
// its ratio error against want and its twist away from base.
func eachTriangle(points []Point2D, want [3]float64, base float64, fn func(pts [3]Point2D, err, twist float64)) {
	n := len(points)
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			for c := b + 1; c < n; c++ {
				triple := [3]Point2D{points[a], points[b], points[c]}
				for _, perm := range ratioPerms {
					pts := [3]Point2D{triple[perm[0]], triple[perm[1]], triple[perm[2]]}
					if windingZ(pts[0], pts[1], pts[2]) >= 0 {
						continue
					}
					s0 := dist(pts[1], pts[2])
					s1 := dist(pts[0], pts[2])
					s2 := dist(pts[0], pts[1])
					perim := s0 + s1 + s2
					if perim == 0 {
						continue
					}
					e0 := s0/perim - want[0]
					e1 := s1/perim - want[1]
					e2 := s2/perim - want[2]

					mx := (pts[1].X+pts[2].X)/2 - pts[0].X
					my := (pts[1].Y+pts[2].Y)/2 - pts[0].Y
					twist := math.Abs(math.Remainder(math.Atan2(mx, my)-base, 2*math.Pi))

					fn(pts, e0*e0+e1*e1+e2*e2, twist)
				}
			}
		}
	}
}

// matchByRatios searches every ordered triple of image points for the one
// whose normalised side lengths best match the model. Only front-facing
// triangles are considered. Near-ties are broken by the in-plane rotation
// closest to upright (marker 0 above the other two). More than maxBlobs
// points is rejected outright; the search grows with the cube of the count.
func matchByRatios(model *PointModel, points []Point2D) ([3]Point2D, bool) {
	if len(points) < 3 || len(points) > maxBlobs {
		return [3]Point2D{}, false
	}
	want := model.normalizedSides()
	base := model.baseAngle()

	best := math.Inf(1)
	eachTriangle(points, want, base, func(_ [3]Point2D, err, _ float64) {
		best = math.Min(best, err)
	})
	if best > maxRatioError {
		return [3]Point2D{}, false
	}

	var chosen [3]Point2D
	minTwist := math.Inf(1)
	eachTriangle(points, want, base, func(pts [3]Point2D, err, twist float64) {
		if err <= best+ratioTieTolerance && twist < minTwist {
			chosen, minTwist = pts, twist
		}
	})
	return chosen, true
}
