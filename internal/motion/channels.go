package motion

import "math"

// Amplitude derives the per-frame magnitude series A[t] = ||M[t]||.
func Amplitude(m [][]float32) []float64 {
	out := make([]float64, len(m))
	for t, row := range m {
		out[t] = rowNorm(row)
	}
	return out
}

// Speed derives the per-frame displacement series S[t] = ||M[t] - M[t-1]||
// with S[0] = 0, so the series keeps the same length as the input and both
// live and reference channels stay index-aligned with their frames.
func Speed(m [][]float32) []float64 {
	out := make([]float64, len(m))
	for t := 1; t < len(m); t++ {
		out[t] = rowDistance(m[t], m[t-1])
	}
	return out
}

func rowNorm(row []float32) float64 {
	var sum float64
	for _, v := range row {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum)
}

func rowDistance(a, b []float32) float64 {
	var sum float64
	for k := range a {
		d := float64(a[k]) - float64(b[k])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// seriesMatrix lifts a scalar series into a single-column matrix so the
// DTW engine can treat 1-D channels uniformly.
func seriesMatrix(s []float64) [][]float32 {
	m := make([][]float32, len(s))
	for i, v := range s {
		m[i] = []float32{float32(v)}
	}
	return m
}
