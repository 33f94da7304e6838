package motion

import (
	"fmt"
	"math"
)

// PathStep is one alignment pair on a warping path: live index I against
// reference index J.
type PathStep struct {
	I int `json:"i"`
	J int `json:"j"`
}

// Band is an optional Sakoe-Chiba constraint on the warping path. The zero
// value leaves the path unconstrained. With Auto set, the radius resolves
// to max(1, len(ref)/10) at alignment time.
type Band struct {
	Enabled bool
	Auto    bool
	Radius  int
}

// resolve returns the effective radius for a reference of length n.
func (b Band) resolve(n int) int {
	if b.Auto {
		r := n / 10
		if r < 1 {
			r = 1
		}
		return r
	}
	return b.Radius
}

// dtwMove encodes the predecessor chosen for a cell during the forward pass.
type dtwMove uint8

const (
	moveNone dtwMove = iota
	moveDiagonal
	moveAdvanceLive // step (+1, 0): consumed a live point
	moveAdvanceRef  // step (0, +1): consumed a reference point
)

// DTW computes the minimum-cost monotone alignment between two sequences of
// equal-dimensional points. The returned path starts at (0,0), ends at
// (len(a)-1, len(b)-1), and every step is one of (+1,0), (0,+1), (+1,+1).
// Total is the sum of pointwise Euclidean distances along the path,
// accumulated in float64.
//
// Ties between predecessors are broken deterministically: diagonal first,
// then advance-live, then advance-ref, so replaying identical input yields
// a bit-identical path.
func DTW(a, b [][]float32, band Band) (path []PathStep, total float64, err error) {
	na, nb := len(a), len(b)
	if na == 0 || nb == 0 {
		return nil, 0, fmt.Errorf("dtw: empty sequence (live=%d ref=%d)", na, nb)
	}
	if len(a[0]) != len(b[0]) {
		return nil, 0, fmt.Errorf("dtw: %w: live D=%d ref D=%d", ErrDimMismatch, len(a[0]), len(b[0]))
	}

	inBand := func(i, j int) bool { return true }
	if band.Enabled {
		r := float64(band.resolve(nb))
		slope := float64(nb) / float64(na)
		inBand = func(i, j int) bool {
			return math.Abs(float64(i)*slope-float64(j)) <= r
		}
		if !inBand(0, 0) || !inBand(na-1, nb-1) {
			return nil, 0, ErrBandInfeasible
		}
	}

	inf := math.Inf(1)
	cost := make([][]float64, na)
	move := make([][]dtwMove, na)
	for i := range cost {
		cost[i] = make([]float64, nb)
		move[i] = make([]dtwMove, nb)
		for j := range cost[i] {
			cost[i][j] = inf
		}
	}

	cost[0][0] = rowDistance(a[0], b[0])
	for i := 0; i < na; i++ {
		for j := 0; j < nb; j++ {
			if i == 0 && j == 0 {
				continue
			}
			if !inBand(i, j) {
				continue
			}

			// Predecessor preference on equal cost: diagonal, then
			// advance-live, then advance-ref.
			best, chosen := inf, moveNone
			if i > 0 && j > 0 && cost[i-1][j-1] < best {
				best, chosen = cost[i-1][j-1], moveDiagonal
			}
			if i > 0 && cost[i-1][j] < best {
				best, chosen = cost[i-1][j], moveAdvanceLive
			}
			if j > 0 && cost[i][j-1] < best {
				best, chosen = cost[i][j-1], moveAdvanceRef
			}
			if chosen == moveNone {
				continue // unreachable inside the band
			}
			cost[i][j] = best + rowDistance(a[i], b[j])
			move[i][j] = chosen
		}
	}

	total = cost[na-1][nb-1]
	if math.IsInf(total, 1) {
		return nil, 0, ErrBandInfeasible
	}

	// Backtrack from the far corner; the path comes out reversed.
	steps := make([]PathStep, 0, na+nb)
	for i, j := na-1, nb-1; ; {
		steps = append(steps, PathStep{I: i, J: j})
		if i == 0 && j == 0 {
			break
		}
		switch move[i][j] {
		case moveDiagonal:
			i, j = i-1, j-1
		case moveAdvanceLive:
			i--
		case moveAdvanceRef:
			j--
		default:
			return nil, 0, fmt.Errorf("dtw: broken backtrack at (%d,%d)", i, j)
		}
	}
	for l, r := 0, len(steps)-1; l < r; l, r = l+1, r-1 {
		steps[l], steps[r] = steps[r], steps[l]
	}
	return steps, total, nil
}

// LocalCosts returns the pointwise distance at every step of a warping path.
func LocalCosts(a, b [][]float32, path []PathStep) []float32 {
	out := make([]float32, len(path))
	for k, s := range path {
		out[k] = float32(rowDistance(a[s.I], b[s.J]))
	}
	return out
}

// AlignedRefByLive maps every live index to the last reference index it was
// paired with on the path. liveLen must cover the path's live range.
func AlignedRefByLive(path []PathStep, liveLen int) []int32 {
	out := make([]int32, liveLen)
	for i := range out {
		out[i] = -1
	}
	for _, s := range path {
		out[s.I] = int32(s.J)
	}
	return out
}
