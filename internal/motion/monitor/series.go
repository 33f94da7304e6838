package monitor

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gaitworks/motion.report/internal/motion"
)

// defaultMaxPoints bounds series payloads when the client sends no limit.
const defaultMaxPoints = 2000

type seriesPoint struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

type channelSeries struct {
	Distance     float64       `json:"distance"`
	Similarity   float64       `json:"similarity"`
	LocalCosts   []seriesPoint `json:"local_costs"`
	AlignmentMap []seriesPoint `json:"alignment_map"`
}

type seriesResponse struct {
	SessionID  string        `json:"session_id"`
	TestName   string        `json:"test_name"`
	Model      string        `json:"model"`
	FrameCount int           `json:"frame_count"`
	AvgStepPos float64       `json:"avg_step_pos"`
	Overall    float64       `json:"similarity_overall"`
	Pos        channelSeries `json:"pos"`
	Amp        channelSeries `json:"amp"`
	Spd        channelSeries `json:"spd"`
}

// handleSeries returns the per-step DTW series for one session, downsampled
// by stride so charts stay responsive on long captures.
func (ws *WebServer) handleSeries(w http.ResponseWriter, r *http.Request) {
	maxPoints := defaultMaxPoints
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		v, err := strconv.Atoi(mp)
		if err != nil || v <= 0 {
			ws.writeJSONError(w, http.StatusBadRequest, "invalid 'max_points' parameter")
			return
		}
		maxPoints = v
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

	ws.writeJSON(w, seriesResponse{
		SessionID:  result.TestID,
		TestName:   result.TestName,
		Model:      result.Model,
		FrameCount: result.FrameCount,
		AvgStepPos: result.AvgStepPos,
		Overall:    result.SimilarityOverall,
		Pos:        buildChannel(result.DistancePos, result.SimilarityPos, result.PosLocalCosts, result.PosAlignedRef, maxPoints),
		Amp:        buildChannel(result.DistanceAmp, result.SimilarityAmp, result.AmpLocalCosts, result.AmpAlignedRef, maxPoints),
		Spd:        buildChannel(result.DistanceSpd, result.SimilaritySpd, result.SpdLocalCosts, result.SpdAlignedRef, maxPoints),
	})
}

func buildChannel(distance, similarity float64, costs []float32, aligned []int32, maxPoints int) channelSeries {
	ch := channelSeries{
		Distance:     distance,
		Similarity:   similarity,
		LocalCosts:   make([]seriesPoint, 0, maxPoints),
		AlignmentMap: make([]seriesPoint, 0, maxPoints),
	}
	for _, i := range strideIndices(len(costs), maxPoints) {
		ch.LocalCosts = append(ch.LocalCosts, seriesPoint{X: i, Y: float64(costs[i])})
	}
	for _, i := range strideIndices(len(aligned), maxPoints) {
		ch.AlignmentMap = append(ch.AlignmentMap, seriesPoint{X: i, Y: float64(aligned[i])})
	}
	return ch
}

// strideIndices picks every step-th index with step = n/maxPoints, keeping
// index 0. With n <= maxPoints every index survives.
func strideIndices(n, maxPoints int) []int {
	if n == 0 {
		return nil
	}
	step := 1
	if maxPoints > 0 && n > maxPoints {
		step = n / maxPoints
	}
	out := make([]int, 0, n/step+1)
	for i := 0; i < n; i += step {
		out = append(out, i)
	}
	return out
}
