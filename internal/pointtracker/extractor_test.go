package pointtracker

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/headtrack/internal/camera"
)

func fillRect(img *image.Gray, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

func TestExtractPoints_Centroids(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 200, 100))
	fillRect(img, image.Rect(10, 10, 13, 13), 255) // centre (11.5, 11.5)
	fillRect(img, image.Rect(150, 20, 154, 24), 255)
	fillRect(img, image.Rect(98, 70, 103, 73), 200)

	e := NewExtractor(128, 4, 400)
	pts := e.ExtractPoints(&camera.Frame{Image: img}, 0.01)
	require.Len(t, pts, 3)

	want := []Point2D{
		{X: (11.5 - 100) / 200, Y: (11.5 - 50) / 200},
		{X: (152 - 100) / 200.0, Y: (22 - 50) / 200.0},
		{X: (100.5 - 100) / 200, Y: (71.5 - 50) / 200},
	}
	for i := range want {
		assert.InDelta(t, want[i].X, pts[i].X, 1e-12, "point %d x", i)
		assert.InDelta(t, want[i].Y, pts[i].Y, 1e-12, "point %d y", i)
	}
	assert.Equal(t, pts, e.Points())
}

func TestExtractPoints_SizeFilter(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	img.SetGray(5, 5, color.Gray{Y: 255})            // 1 px: too small
	fillRect(img, image.Rect(20, 20, 22, 22), 255)   // 4 px: kept
	fillRect(img, image.Rect(40, 40, 70, 70), 255)   // 900 px: too large
	fillRect(img, image.Rect(80, 80, 100, 100), 255) // 400 px: kept

	e := NewExtractor(100, 4, 400)
	pts := e.ExtractPoints(&camera.Frame{Image: img}, 0)
	require.Len(t, pts, 2)
	assert.InDelta(t, (21-50)/100.0, pts[0].X, 1e-12)
	assert.InDelta(t, (90-50)/100.0, pts[1].X, 1e-12)
}

func TestExtractPoints_ThresholdIsStrict(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	fillRect(img, image.Rect(5, 5, 8, 8), 128)

	e := NewExtractor(128, 1, 100)
	assert.Empty(t, e.ExtractPoints(&camera.Frame{Image: img}, 0))

	e.Configure(127, 1, 100)
	assert.Len(t, e.ExtractPoints(&camera.Frame{Image: img}, 0), 1)
}

func TestExtractPoints_IntensityWeighted(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 40, 20))
	img.SetGray(10, 10, color.Gray{Y: 100})
	img.SetGray(11, 10, color.Gray{Y: 200})

	e := NewExtractor(50, 1, 10)
	pts := e.ExtractPoints(&camera.Frame{Image: img}, 0)
	require.Len(t, pts, 1)
	cx := (100*10.5 + 200*11.5) / 300
	assert.InDelta(t, (cx-20)/40, pts[0].X, 1e-12)
	assert.InDelta(t, (10.5-10)/40, pts[0].Y, 1e-12)
}

func TestExtractPoints_EightConnected(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	img.SetGray(2, 2, color.Gray{Y: 255})
	img.SetGray(3, 3, color.Gray{Y: 255})
	img.SetGray(4, 4, color.Gray{Y: 255})

	e := NewExtractor(128, 1, 10)
	assert.Len(t, e.ExtractPoints(&camera.Frame{Image: img}, 0), 1, "diagonal pixels form one blob")
}

func TestExtractPoints_EmptyFrame(t *testing.T) {
	e := NewExtractor(128, 1, 10)
	assert.Nil(t, e.ExtractPoints(&camera.Frame{}, 0))
	assert.Empty(t, e.Points())
}

func TestExtractPoints_ResolutionChange(t *testing.T) {
	e := NewExtractor(128, 1, 100)
	small := image.NewGray(image.Rect(0, 0, 10, 10))
	fillRect(small, image.Rect(1, 1, 3, 3), 255)
	require.Len(t, e.ExtractPoints(&camera.Frame{Image: small}, 0), 1)

	large := image.NewGray(image.Rect(0, 0, 30, 20))
	fillRect(large, image.Rect(25, 15, 27, 17), 255)
	pts := e.ExtractPoints(&camera.Frame{Image: large}, 0)
	require.Len(t, pts, 1)
	assert.InDelta(t, (26-15)/30.0, pts[0].X, 1e-12)
}

func TestExtractPoints_KeepsLargestBlobs(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 200, 20))
	small := map[int]bool{2: true, 5: true, 7: true, 10: true}
	var want []float64
	for i := 0; i < 12; i++ {
		x := 5 + 15*i
		if small[i] {
			fillRect(img, image.Rect(x, 5, x+2, 7), 255)
			continue
		}
		fillRect(img, image.Rect(x, 5, x+3, 8), 255)
		want = append(want, (float64(x)+1.5-100)/200)
	}
	require.Len(t, want, maxBlobs)

	e := NewExtractor(128, 1, 100)
	pts := e.ExtractPoints(&camera.Frame{Image: img}, 0)
	require.Len(t, pts, maxBlobs)
	for i, x := range want {
		assert.InDelta(t, x, pts[i].X, 1e-12, "point %d", i)
	}
	assert.Equal(t, pts, e.Points())
}

func TestExtractorFindsSyntheticMarkers(t *testing.T) {
	model := NewPointModel(50, 50)
	m := model.Points()
	cam := camera.NewSynthetic([][3]float64{
		{m[0].X, m[0].Y, m[0].Z},
		{m[1].X, m[1].Y, m[1].Z},
		{m[2].X, m[2].Y, m[2].Z},
	})
	cam.SetResolution(640, 480)
	cam.SetFocalRatio(1)
	require.NoError(t, cam.Start())

	var f camera.Frame
	require.True(t, cam.GetFrame(0, &f))
	pts := NewExtractor(128, 4, 400).ExtractPoints(&f, 0)
	require.Len(t, pts, 3)

	want := projectModel(model, FrameTrafo{R: Identity(), T: Vec3{Z: 500}}, 1)
	// Marker 0 is highest in the image, so it is found first.
	assert.InDelta(t, want[0].X, pts[0].X, 2e-4)
	assert.InDelta(t, want[0].Y, pts[0].Y, 2e-4)
}

func TestPoint2DToPixel(t *testing.T) {
	x, y := Point2D{X: 0.25, Y: -0.1}.ToPixel(200, 100)
	assert.InDelta(t, 150, x, 1e-12)
	assert.InDelta(t, 30, y, 1e-12)
}

func TestDrawOverlay(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 80))
	DrawOverlay(img, []Point2D{{X: 0, Y: 0}, {X: 0.49, Y: 0.39}})
	assert.Equal(t, overlayColor, img.GrayAt(50, 40))
	assert.Equal(t, overlayColor, img.GrayAt(53, 40))
	assert.Equal(t, overlayColor, img.GrayAt(50, 37))
	assert.Equal(t, color.Gray{}, img.GrayAt(53, 43))
}
