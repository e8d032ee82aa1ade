package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/headtrack/internal/pointtracker"
)

// showPoseChart renders the recent pose history as an HTML line chart.
// Query params:
//   - limit (optional; default all buffered samples)
//   - kind=rotation|translation (optional; default rotation)
func (s *Server) showPoseChart(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "rotation"
	}
	if kind != "rotation" && kind != "translation" {
		writeJSONError(w, http.StatusBadRequest, "kind must be rotation or translation")
		return
	}

	line := poseChart(s.History(limit), kind)
	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func poseChart(samples []pointtracker.Sample, kind string) *charts.Line {
	names := [3]string{"yaw", "pitch", "roll"}
	unit := "deg"
	pick := func(p pointtracker.HeadPose) [3]float64 { return [3]float64{p.Yaw, p.Pitch, p.Roll} }
	if kind == "translation" {
		names = [3]string{"x", "y", "z"}
		unit = "cm"
		pick = func(p pointtracker.HeadPose) [3]float64 { return [3]float64{p.X, p.Y, p.Z} }
	}

	x := make([]string, len(samples))
	var data [3][]opts.LineData
	for i, s := range samples {
		x[i] = fmt.Sprintf("%.2f", s.Time.Sub(samples[0].Time).Seconds())
		v := pick(s.Pose)
		for k := range data {
			if s.Valid {
				data[k] = append(data[k], opts.LineData{Value: v[k]})
			} else {
				// gaps where tracking was lost
				data[k] = append(data[k], opts.LineData{Value: "-"})
			}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Head pose", Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Head " + kind, Subtitle: fmt.Sprintf("samples=%d", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: unit}),
	)
	line.SetXAxis(x)
	for k, name := range names {
		line.AddSeries(name, data[k])
	}
	return line
}
