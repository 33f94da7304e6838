package motion

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a capture session.
type State int

const (
	StateInitPending State = iota
	StateRunning
	StatePaused
	StateEnded
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateInitPending:
		return "INIT_PENDING"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateEnded:
		return "ENDED"
	case StateErrored:
		return "ERRORED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// InitParams carries the validated fields of an init message.
type InitParams struct {
	UserID    string
	PatientID string
	TestName  string // raw; canonicalized by Init
	Model     Model
	TestID    string
	FPSHint   float64
	UseZ      bool
	Band      Band
}

// Session is the per-connection capture state. All mutation happens on the
// owning connection's goroutine; the struct itself does no locking.
type Session struct {
	State State

	UserID    string
	PatientID string
	TestName  string // canonical
	Model     Model
	TestID    string
	FPSHint   float64
	UseZ      bool
	Band      Band

	StartedAt time.Time

	// Frames holds the encoded JPEG bytes in arrival order; Features holds
	// one vector per successfully extracted frame, so
	// len(Features) == FeaturesBuilt == FramesSeen - FeatureDrops.
	Frames   [][]byte
	Features [][]float32

	FramesSeen    int
	FeaturesBuilt int
	FeatureDrops  int

	// Template is a borrowed reference to the library's cached matrix.
	Template [][]float32
}

// NewSession returns a session awaiting its init message.
func NewSession() *Session {
	return &Session{State: StateInitPending}
}

// Init moves the session to RUNNING with a resolved template. A template
// load failure is the caller's responsibility to route through Fail.
func (s *Session) Init(p InitParams, template [][]float32) error {
	if s.State != StateInitPending {
		return fmt.Errorf("init in state %s", s.State)
	}
	if !p.Model.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedModel, p.Model)
	}
	s.UserID = p.UserID
	s.PatientID = p.PatientID
	s.TestName = NormalizeTestName(p.TestName)
	s.Model = p.Model
	s.TestID = p.TestID
	s.FPSHint = p.FPSHint
	s.UseZ = p.UseZ
	s.Band = p.Band
	s.Template = template
	s.StartedAt = time.Now().UTC()
	s.State = StateRunning
	return nil
}

// Accepting reports whether the session takes frame messages.
// Frames are accepted while paused: pause is advisory for the UI and must
// not alter what gets scored.
func (s *Session) Accepting() bool {
	return s.State == StateRunning || s.State == StatePaused
}

// AddFrame appends a frame and, when extraction succeeded, its feature
// vector. It returns the 1-based frame index in arrival order.
func (s *Session) AddFrame(jpegData []byte, feat []float32, extracted bool) (frameIdx int, err error) {
	if !s.Accepting() {
		return 0, ErrNotInitialized
	}
	s.Frames = append(s.Frames, jpegData)
	s.FramesSeen++
	if extracted {
		s.Features = append(s.Features, feat)
		s.FeaturesBuilt++
	} else {
		s.FeatureDrops++
	}
	return s.FramesSeen, nil
}

// SetPaused toggles between RUNNING and PAUSED. Outside those states it is
// ignored and reports false.
func (s *Session) SetPaused(paused bool) bool {
	switch {
	case paused && s.State == StateRunning:
		s.State = StatePaused
	case !paused && s.State == StatePaused:
		s.State = StateRunning
	case s.State == StateRunning || s.State == StatePaused:
		// Already in the requested state; still acknowledged.
	default:
		return false
	}
	return true
}

// End moves a running or paused session to ENDED, requiring at least one
// built feature. On ErrNoFeatures the state is left unchanged so the client
// may keep streaming frames.
func (s *Session) End() error {
	if !s.Accepting() {
		if s.State == StateEnded {
			return ErrSessionEnded
		}
		return ErrNotInitialized
	}
	if s.FeaturesBuilt == 0 {
		return ErrNoFeatures
	}
	s.State = StateEnded
	return nil
}

// Fail marks the session unrecoverable. Frames and end are refused after.
func (s *Session) Fail() {
	s.State = StateErrored
}

// LiveMatrix snapshots the feature buffer as the live trajectory.
func (s *Session) LiveMatrix() [][]float32 {
	out := make([][]float32, len(s.Features))
	copy(out, s.Features)
	return out
}
