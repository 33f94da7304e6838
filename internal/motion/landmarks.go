package motion

// Model selects the landmark family used to produce features.
type Model string

const (
	ModelHands  Model = "hands"
	ModelPose   Model = "pose"
	ModelFinger Model = "finger"
)

// Valid reports whether m is a supported landmark model.
func (m Model) Valid() bool {
	switch m {
	case ModelHands, ModelPose, ModelFinger:
		return true
	}
	return false
}

// FeatureDims returns the admissible feature-vector widths for the model.
// Pose has two widths because the z axis is optional.
func (m Model) FeatureDims() []int {
	switch m {
	case ModelHands:
		return []int{42}
	case ModelPose:
		return []int{66, 99}
	case ModelFinger:
		return []int{8}
	}
	return nil
}

// Point is one landmark position in normalized image coordinates.
// Visibility is only populated for pose landmarks.
type Point struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"v,omitempty"`
}

// Hand is one detected hand: 21 landmarks plus an optional handedness label.
type Hand struct {
	Landmarks  []Point `json:"landmarks"`
	Handedness string  `json:"handedness,omitempty"`
}

// Landmarks is a single frame's detection output. Exactly one of Hands or
// Pose is populated depending on the session model; an empty record means
// nothing was detected in the frame.
type Landmarks struct {
	Hands []Hand  `json:"hands,omitempty"`
	Pose  []Point `json:"pose,omitempty"`
}
