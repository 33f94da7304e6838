package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/gaitworks/motion.report/internal/motion"
)

// handleSessionChart renders the per-step local cost curves of one session
// as an HTML line chart. This is a debugging-only endpoint to eyeball an
// alignment without the frontend.
// Query params:
//   - max_points (optional; default 2000) to reduce payload size
func (ws *WebServer) handleSessionChart(w http.ResponseWriter, r *http.Request) {
	maxPoints := defaultMaxPoints
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 0 {
			maxPoints = v
		}
	}

	result, err := ws.app.Results.GetResult(r.Context(), r.PathValue("test"), r.PathValue("session_id"))
	if errors.Is(err, motion.ErrResultNotFound) {
		ws.writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load session: %v", err))
		return
	}

	indices := strideIndices(len(result.PosLocalCosts), maxPoints)
	xAxis := make([]string, 0, len(indices))
	for _, i := range indices {
		xAxis = append(xAxis, strconv.Itoa(i))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "DTW Local Costs", Theme: "dark", Width: "1200px", Height: "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s / %s", result.TestName, result.TestID),
			Subtitle: fmt.Sprintf("overall=%.3f pos=%.3f amp=%.3f spd=%.3f frames=%d",
				result.SimilarityOverall, result.SimilarityPos,
				result.SimilarityAmp, result.SimilaritySpd, result.FrameCount),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "live frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "local cost"}),
	)
	line.SetXAxis(xAxis).
		AddSeries("position", costSeries(result.PosLocalCosts, indices)).
		AddSeries("amplitude", costSeries(result.AmpLocalCosts, indices)).
		AddSeries("speed", costSeries(result.SpdLocalCosts, indices)).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func costSeries(costs []float32, indices []int) []opts.LineData {
	data := make([]opts.LineData, 0, len(indices))
	for _, i := range indices {
		if i < len(costs) {
			data = append(data, opts.LineData{Value: costs[i]})
		}
	}
	return data
}
