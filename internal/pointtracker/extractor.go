package pointtracker

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"

	"github.com/disintegration/gift"

	"github.com/banshee-data/headtrack/internal/camera"
)

// Point2D is an image point in width-normalised coordinates: origin at the
// image centre, x right, y down, both divided by the image width.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ToPixel converts p back to pixel coordinates for an image of size w×h.
func (p Point2D) ToPixel(w, h int) (float64, float64) {
	return p.X*float64(w) + float64(w)/2, p.Y*float64(w) + float64(h)/2
}

// maxBlobs caps the points reported per frame. A cluttered frame keeps its
// largest blobs, which bounds the cold-start triangle search.
const maxBlobs = 8

// Extractor finds bright blobs in a grayscale frame. Pixels strictly above
// Threshold are foreground; 8-connected foreground regions whose pixel count
// lies in [MinSize, MaxSize] are reported as intensity-weighted centroids.
// At most maxBlobs points are reported.
//
// Extractor is not safe for concurrent use; the tracker serialises access.
type Extractor struct {
	threshold int
	minSize   int
	maxSize   int

	filter *gift.GIFT
	bin    *image.Gray
	labels []int32
	queue  []int
	points []Point2D
	sizes  []int
}

// NewExtractor returns an extractor with the given threshold and size limits.
func NewExtractor(threshold, minSize, maxSize int) *Extractor {
	e := &Extractor{}
	e.Configure(threshold, minSize, maxSize)
	return e
}

// Configure updates the threshold and blob size limits.
func (e *Extractor) Configure(threshold, minSize, maxSize int) {
	if threshold != e.threshold || e.filter == nil {
		// gift compares luminance in percent; the half step keeps the cut
		// between two integer levels.
		pct := float32(100 * (float64(threshold) + 0.5) / 255)
		e.filter = gift.New(gift.Threshold(pct))
	}
	e.threshold = threshold
	e.minSize = minSize
	e.maxSize = maxSize
}

// Points returns the points found by the last ExtractPoints call.
func (e *Extractor) Points() []Point2D {
	out := make([]Point2D, len(e.points))
	copy(out, e.points)
	return out
}

// ExtractPoints returns the centroids of the accepted blobs in detection
// (row-major scan) order. When more than maxBlobs pass the size filter only
// the largest are kept. Fewer than three points is a normal result.
func (e *Extractor) ExtractPoints(frame *camera.Frame, dt float64) []Point2D {
	e.points = e.points[:0]
	e.sizes = e.sizes[:0]
	if frame.Empty() {
		return nil
	}
	src := frame.Image
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	if e.bin == nil || e.bin.Bounds() != e.filter.Bounds(b) {
		e.bin = image.NewGray(e.filter.Bounds(b))
		e.labels = make([]int32, w*h)
	}
	e.filter.Draw(e.bin, src)
	for i := range e.labels {
		e.labels[i] = 0
	}

	var label int32
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if e.labels[idx] != 0 || e.bin.Pix[y*e.bin.Stride+x] == 0 {
				continue
			}
			label++
			if p, n, ok := e.fill(src, x, y, w, h, label); ok {
				e.points = append(e.points, p)
				e.sizes = append(e.sizes, n)
			}
		}
	}
	e.keepLargest(maxBlobs)

	out := make([]Point2D, len(e.points))
	copy(out, e.points)
	return out
}

// keepLargest trims e.points to the k blobs with the most pixels, keeping
// detection order. Equal sizes favour the earlier blob.
func (e *Extractor) keepLargest(k int) {
	if len(e.points) <= k {
		return
	}
	idx := make([]int, len(e.points))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return e.sizes[idx[a]] > e.sizes[idx[b]] })
	idx = idx[:k]
	sort.Ints(idx)
	for i, j := range idx {
		e.points[i] = e.points[j]
		e.sizes[i] = e.sizes[j]
	}
	e.points = e.points[:k]
	e.sizes = e.sizes[:k]
}

// fill labels the component containing (x0, y0) and returns its centroid and
// pixel count if its size passes the filter.
func (e *Extractor) fill(src *image.Gray, x0, y0, w, h int, label int32) (Point2D, int, bool) {
	origin := src.Bounds().Min
	e.queue = append(e.queue[:0], y0*w+x0)
	e.labels[y0*w+x0] = label

	var sum, sx, sy float64
	n := 0
	for len(e.queue) > 0 {
		idx := e.queue[len(e.queue)-1]
		e.queue = e.queue[:len(e.queue)-1]
		x, y := idx%w, idx/w

		v := float64(src.Pix[src.PixOffset(origin.X+x, origin.Y+y)])
		if v == 0 {
			v = 1
		}
		sum += v
		sx += v * (float64(x) + 0.5)
		sy += v * (float64(y) + 0.5)
		n++

		for dy := -1; dy <= 1; dy++ {
			ny := y + dy
			if ny < 0 || ny >= h {
				continue
			}
			for dx := -1; dx <= 1; dx++ {
				nx := x + dx
				if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
					continue
				}
				nidx := ny*w + nx
				if e.labels[nidx] != 0 || e.bin.Pix[ny*e.bin.Stride+nx] == 0 {
					continue
				}
				e.labels[nidx] = label
				e.queue = append(e.queue, nidx)
			}
		}
	}

	if n < e.minSize || n > e.maxSize {
		return Point2D{}, 0, false
	}
	cx, cy := sx/sum, sy/sum
	return Point2D{
		X: (cx - float64(w)/2) / float64(w),
		Y: (cy - float64(h)/2) / float64(w),
	}, n, true
}

var overlayColor = color.Gray{Y: 128}

// DrawOverlay draws a crosshair at each point onto dst, which must be a
// caller-owned copy of the frame the points came from.
func DrawOverlay(dst draw.Image, points []Point2D) {
	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()
	arm := int(math.Max(3, float64(w)/80))
	for _, p := range points {
		px, py := p.ToPixel(w, h)
		cx, cy := b.Min.X+int(px), b.Min.Y+int(py)
		for d := -arm; d <= arm; d++ {
			if pt := image.Pt(cx+d, cy); pt.In(b) {
				dst.Set(pt.X, pt.Y, overlayColor)
			}
			if pt := image.Pt(cx, cy+d); pt.In(b) {
				dst.Set(pt.X, pt.Y, overlayColor)
			}
		}
	}
}
