package motion

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ChannelScore is the DTW outcome for one physical channel.
type ChannelScore struct {
	Distance   float64
	Similarity float64
	R          float64 // reference data range used for normalization
	L          float64 // mean sequence length used for normalization
	Path       []PathStep
	LocalCosts []float32
	AlignedRef []int32 // reference index per live index
}

// Score bundles the three channel results computed at session end.
type Score struct {
	Pos ChannelScore
	Amp ChannelScore
	Spd ChannelScore

	Overall    float64
	AvgStepPos float64

	LiveLen int
	RefLen  int
	Dim     int
}

// ScoreTrajectories compares a live feature trajectory against a reference
// template across the position, amplitude and speed channels. It is pure:
// no IO, deterministic for identical inputs.
func ScoreTrajectories(live, ref [][]float32, band Band) (*Score, error) {
	if len(live) == 0 {
		return nil, ErrNoFeatures
	}
	if len(ref) == 0 {
		return nil, fmt.Errorf("%w: empty reference", ErrTemplateMalformed)
	}
	if len(live[0]) != len(ref[0]) {
		return nil, fmt.Errorf("%w: live D=%d ref D=%d", ErrDimMismatch, len(live[0]), len(ref[0]))
	}

	sc := &Score{
		LiveLen: len(live),
		RefLen:  len(ref),
		Dim:     len(live[0]),
	}

	pos, err := scoreChannel(live, ref, refPositionRange(ref), band)
	if err != nil {
		return nil, fmt.Errorf("position channel: %w", err)
	}
	sc.Pos = *pos

	ampLive, ampRef := Amplitude(live), Amplitude(ref)
	amp, err := scoreChannel(seriesMatrix(ampLive), seriesMatrix(ampRef), seriesRange(ampRef), band)
	if err != nil {
		return nil, fmt.Errorf("amplitude channel: %w", err)
	}
	sc.Amp = *amp

	spdLive, spdRef := Speed(live), Speed(ref)
	spd, err := scoreChannel(seriesMatrix(spdLive), seriesMatrix(spdRef), seriesRange(spdRef), band)
	if err != nil {
		return nil, fmt.Errorf("speed channel: %w", err)
	}
	sc.Spd = *spd

	sc.Overall = (sc.Pos.Similarity + sc.Amp.Similarity + sc.Spd.Similarity) / 3
	pathLen := len(sc.Pos.Path)
	if pathLen < 1 {
		pathLen = 1
	}
	sc.AvgStepPos = sc.Pos.Distance / float64(pathLen)
	return sc, nil
}

func scoreChannel(live, ref [][]float32, dataRange float64, band Band) (*ChannelScore, error) {
	path, total, err := DTW(live, ref, band)
	if err != nil {
		return nil, err
	}
	l := 0.5 * float64(len(live)+len(ref))
	return &ChannelScore{
		Distance:   total,
		Similarity: normalizeDistance(total, l, dataRange),
		R:          dataRange,
		L:          l,
		Path:       path,
		LocalCosts: LocalCosts(live, ref, path),
		AlignedRef: AlignedRefByLive(path, len(live)),
	}, nil
}

// normalizeDistance maps a raw DTW total into (0, 1]: identical sequences
// score 1, and the score decays with distance scaled by the reference range
// and the mean length.
func normalizeDistance(distance, meanLen, dataRange float64) float64 {
	r := dataRange
	if r < scaleEpsilon {
		r = scaleEpsilon
	}
	scale := meanLen * r
	if scale < scaleEpsilon {
		scale = scaleEpsilon
	}
	return 1 / (1 + distance/scale)
}

// refPositionRange is the position channel's R: the largest per-column
// span of the reference matrix.
func refPositionRange(ref [][]float32) float64 {
	if len(ref) == 0 || len(ref[0]) == 0 {
		return 0
	}
	cols := len(ref[0])
	best := 0.0
	for j := 0; j < cols; j++ {
		lo, hi := float64(ref[0][j]), float64(ref[0][j])
		for i := 1; i < len(ref); i++ {
			v := float64(ref[i][j])
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if span := hi - lo; span > best {
			best = span
		}
	}
	return best
}

// seriesRange is max - min of a scalar reference series.
func seriesRange(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return floats.Max(s) - floats.Min(s)
}
