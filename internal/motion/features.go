package motion

import "math"

// scaleEpsilon guards the normalization divisors against degenerate frames
// where the reference span collapses to zero.
const scaleEpsilon = 1e-6

const (
	handLandmarkCount = 21
	poseLandmarkCount = 33

	handWrist     = 0
	handMiddleMCP = 9
	poseLeftHip   = 23
	poseRightHip  = 24
	poseLeftShldr = 11
	poseRightShld = 12
)

// fingerLandmarks is the hand-landmark subset used by the finger-tapping
// protocol: thumb IP/tip and index PIP/tip.
var fingerLandmarks = [...]int{3, 4, 7, 8}

// ExtractFeatures maps one landmark frame to a translation- and
// scale-normalized feature vector. ok is false when the frame must be
// dropped because the required landmarks are absent.
func ExtractFeatures(model Model, lm Landmarks, useZ bool) (feat []float32, ok bool) {
	switch model {
	case ModelHands:
		return handsFeatures(lm)
	case ModelPose:
		return poseFeatures(lm, useZ)
	case ModelFinger:
		return fingerFeatures(lm)
	}
	return nil, false
}

// handsFeatures normalizes the first detected hand: origin at the wrist,
// scale by the wrist-to-middle-MCP span, flattened over (x, y) to 42 dims.
func handsFeatures(lm Landmarks) ([]float32, bool) {
	if len(lm.Hands) == 0 {
		return nil, false
	}
	pts := lm.Hands[0].Landmarks
	if len(pts) < handLandmarkCount {
		return nil, false
	}
	pts = pts[:handLandmarkCount]

	origin := pts[handWrist]
	dx := pts[handMiddleMCP].X - origin.X
	dy := pts[handMiddleMCP].Y - origin.Y
	scale := math.Hypot(dx, dy) + scaleEpsilon

	out := make([]float32, 0, 2*handLandmarkCount)
	for _, p := range pts {
		out = append(out,
			float32((p.X-origin.X)/scale),
			float32((p.Y-origin.Y)/scale),
		)
	}
	return out, true
}

// poseFeatures normalizes the full body pose: origin at the hip midpoint,
// scale by the shoulder span. 66 dims over (x, y), 99 with z included.
func poseFeatures(lm Landmarks, useZ bool) ([]float32, bool) {
	if len(lm.Pose) < poseLandmarkCount {
		return nil, false
	}
	pts := lm.Pose[:poseLandmarkCount]

	ox := (pts[poseLeftHip].X + pts[poseRightHip].X) / 2
	oy := (pts[poseLeftHip].Y + pts[poseRightHip].Y) / 2
	oz := (pts[poseLeftHip].Z + pts[poseRightHip].Z) / 2

	sx := pts[poseLeftShldr].X - pts[poseRightShld].X
	sy := pts[poseLeftShldr].Y - pts[poseRightShld].Y
	var scale float64
	if useZ {
		sz := pts[poseLeftShldr].Z - pts[poseRightShld].Z
		scale = math.Sqrt(sx*sx+sy*sy+sz*sz) + scaleEpsilon
	} else {
		scale = math.Hypot(sx, sy) + scaleEpsilon
	}

	dims := 2
	if useZ {
		dims = 3
	}
	out := make([]float32, 0, dims*poseLandmarkCount)
	for _, p := range pts {
		out = append(out,
			float32((p.X-ox)/scale),
			float32((p.Y-oy)/scale),
		)
		if useZ {
			out = append(out, float32((p.Z-oz)/scale))
		}
	}
	return out, true
}

// fingerFeatures builds the hands vector and keeps only the (x, y) pairs of
// the finger-tapping landmark subset, yielding 8 dims.
func fingerFeatures(lm Landmarks) ([]float32, bool) {
	hands, ok := handsFeatures(lm)
	if !ok {
		return nil, false
	}
	out := make([]float32, 0, 2*len(fingerLandmarks))
	for _, idx := range fingerLandmarks {
		out = append(out, hands[idx*2], hands[idx*2+1])
	}
	return out, true
}
