// Package ingest is the websocket frame-ingest transport: it decodes the
// init/frame/pause/end protocol, drives one motion.Session per connection,
// and emits status, keypoints, error, dtw_error and complete events.
package ingest

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gaitworks/motion.report/internal/motion"
)

// clientMessage is the union of all inbound message shapes, tagged by Type.
// Field aliases (patientId/patient_id, testType/test_name) mirror what
// clients actually send.
type clientMessage struct {
	Type string `json:"type"`

	// init
	PatientID    string          `json:"patientId"`
	PatientIDAlt string          `json:"patient_id"`
	TestType     string          `json:"testType"`
	TestNameAlt  string          `json:"test_name"`
	Model        string          `json:"model"`
	FPS          float64         `json:"fps"`
	TestID       string          `json:"testId"`
	UseZ         *bool           `json:"useZ"`
	Sakoe        json.RawMessage `json:"sakoe"`

	// frame
	Data string `json:"data"`

	// pause
	Paused bool `json:"paused"`
}

func (m *clientMessage) patientID() string {
	if m.PatientID != "" {
		return m.PatientID
	}
	return m.PatientIDAlt
}

func (m *clientMessage) testName() string {
	if m.TestType != "" {
		return m.TestType
	}
	return m.TestNameAlt
}

// parseBand interprets the optional sakoe field: a number is a fixed
// radius, "auto" resolves against the reference length, "none"/null leaves
// the fallback band in place.
func parseBand(raw json.RawMessage, fallback motion.Band) motion.Band {
	if len(raw) == 0 {
		return fallback
	}
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	switch strings.ToLower(s) {
	case "", "null", "none":
		return fallback
	case "auto":
		return motion.Band{Enabled: true, Auto: true}
	}
	if r, err := strconv.Atoi(s); err == nil {
		return motion.Band{Enabled: true, Radius: r}
	}
	return fallback
}

type statusEvent struct {
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	PatientID string  `json:"patientId,omitempty"`
	TestName  string  `json:"testName,omitempty"`
	Model     string  `json:"model,omitempty"`
	FPS       float64 `json:"fps,omitempty"`
}

type keypointsEvent struct {
	Type     string         `json:"type"`
	Model    string         `json:"model"`
	FrameIdx int            `json:"frame_idx"`
	Hands    []motion.Hand  `json:"hands,omitempty"`
	Pose     []motion.Point `json:"pose,omitempty"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Where   string `json:"where,omitempty"`
	Message string `json:"message"`
}

type dtwErrorEvent struct {
	Type          string `json:"type"`
	OK            bool   `json:"ok"`
	Where         string `json:"where"`
	Message       string `json:"message"`
	TestName      string `json:"testName,omitempty"`
	Model         string `json:"model,omitempty"`
	FramesSeen    int    `json:"frames_seen,omitempty"`
	FeaturesBuilt int    `json:"features_built,omitempty"`
	FeatureDrops  int    `json:"feature_drops,omitempty"`
}

type completeEvent struct {
	Type              string  `json:"type"`
	Recording         string  `json:"recording"`
	Path              string  `json:"path"`
	FrameCount        int     `json:"frame_count"`
	PatientID         string  `json:"patientId"`
	TestName          string  `json:"testName"`
	TestID            string  `json:"testId"`
	SimilarityOverall float64 `json:"similarity_overall"`
	SimilarityPos     float64 `json:"similarity_pos"`
	SimilarityAmp     float64 `json:"similarity_amp"`
	SimilaritySpd     float64 `json:"similarity_spd"`
}
