package db

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/headtrack/internal/pointtracker"
	"github.com/banshee-data/headtrack/internal/security"
)

var errNoValidSamples = errors.New("no valid samples to plot")

var (
	colorYaw   = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	colorPitch = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
	colorRoll  = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
)

const (
	plotWidth  = 14 * vg.Inch
	plotHeight = 8 * vg.Inch
)

type series struct {
	name  string
	color color.Color
	value func(pointtracker.HeadPose) float64
}

// PlotSession renders samples to a PNG file at path, creating parent
// directories as needed.
func PlotSession(path string, samples []pointtracker.Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSessionPlot(f, samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ExportSessionPlot plots every pose of the session into dir, named after
// the session label and ID, and returns the file path. dir must be under the
// working or temp directory.
func (db *DB) ExportSessionPlot(dir string, session Session) (string, error) {
	name := security.SanitizeFilename(session.Label) + "-" + session.ID + ".png"
	path := filepath.Join(dir, name)
	if err := security.ValidateExportPath(path); err != nil {
		return "", err
	}
	samples, err := db.Poses(session.ID, 0)
	if err != nil {
		return "", err
	}
	if err := PlotSession(path, samples); err != nil {
		return "", fmt.Errorf("plot session %s: %w", session.ID, err)
	}
	return path, nil
}

// WriteSessionPlot writes a two-panel PNG: rotation in degrees on top,
// translation in centimetres below, against seconds since the first sample.
// Invalid samples are skipped.
func WriteSessionPlot(w io.Writer, samples []pointtracker.Sample) error {
	var valid []pointtracker.Sample
	for _, s := range samples {
		if s.Valid {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return errNoValidSamples
	}

	pRot, err := linePlot("Head rotation", "Angle (deg)", valid, []series{
		{"yaw", colorYaw, func(p pointtracker.HeadPose) float64 { return p.Yaw }},
		{"pitch", colorPitch, func(p pointtracker.HeadPose) float64 { return p.Pitch }},
		{"roll", colorRoll, func(p pointtracker.HeadPose) float64 { return p.Roll }},
	})
	if err != nil {
		return err
	}
	pPos, err := linePlot("Head position", "Offset (cm)", valid, []series{
		{"x", colorYaw, func(p pointtracker.HeadPose) float64 { return p.X }},
		{"y", colorPitch, func(p pointtracker.HeadPose) float64 { return p.Y }},
		{"z", colorRoll, func(p pointtracker.HeadPose) float64 { return p.Z }},
	})
	if err != nil {
		return err
	}

	img := vgimg.New(plotWidth, plotHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadY: vg.Points(8)}
	canvases := plot.Align([][]*plot.Plot{{pRot}, {pPos}}, tiles, dc)
	pRot.Draw(canvases[0][0])
	pPos.Draw(canvases[1][0])

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}

func linePlot(title, ylabel string, samples []pointtracker.Sample, lines []series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	t0 := samples[0].Time
	for _, l := range lines {
		pts := make(plotter.XYs, len(samples))
		for i, s := range samples {
			pts[i] = plotter.XY{X: s.Time.Sub(t0).Seconds(), Y: l.value(s.Pose)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", title, l.name, err)
		}
		line.Color = l.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(l.name, line)
	}
	p.Legend.Top = true
	return p, nil
}
