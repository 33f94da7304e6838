package motion

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LandmarkDetector produces per-frame landmarks from an encoded JPEG frame.
// Production deployments wrap an external inference runtime; the core only
// depends on this interface.
type LandmarkDetector interface {
	// Detect runs landmark extraction on one frame. An empty Landmarks
	// record (no hands, no pose) is a valid result meaning nothing was
	// detected; an error means the detector itself failed on the frame.
	Detect(frame []byte) (Landmarks, error)

	// Close releases detector resources.
	Close() error
}

// DetectorFactory builds one detector per session for the given model.
type DetectorFactory func(model Model) (LandmarkDetector, error)

// DetectorFunc adapts a plain function to LandmarkDetector.
type DetectorFunc func(frame []byte) (Landmarks, error)

func (f DetectorFunc) Detect(frame []byte) (Landmarks, error) { return f(frame) }
func (f DetectorFunc) Close() error                           { return nil }

// ReplayDetector replays recorded landmark frames from a JSONL stream,
// one Landmarks object per line, cycling when exhausted. It backs dev mode
// the same way a mock serial source backs a sensor pipeline: the transport
// and scoring paths run for real while inference is simulated.
type ReplayDetector struct {
	mu     sync.Mutex
	frames []Landmarks
	next   int
}

// NewReplayDetector reads all landmark frames from r.
func NewReplayDetector(r io.Reader) (*ReplayDetector, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var frames []Landmarks
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var lm Landmarks
		if err := json.Unmarshal(text, &lm); err != nil {
			return nil, fmt.Errorf("fixture line %d: %w", line, err)
		}
		frames = append(frames, lm)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("fixture contains no landmark frames")
	}
	return &ReplayDetector{frames: frames}, nil
}

// Detect returns the next fixture frame regardless of input content.
func (d *ReplayDetector) Detect(_ []byte) (Landmarks, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	lm := d.frames[d.next]
	d.next = (d.next + 1) % len(d.frames)
	return lm, nil
}

func (d *ReplayDetector) Close() error { return nil }

// ReplayFactory builds a DetectorFactory that loads the given fixture file
// once per session.
func ReplayFactory(fixturePath string) DetectorFactory {
	return func(_ Model) (LandmarkDetector, error) {
		f, err := os.Open(fixturePath)
		if err != nil {
			return nil, fmt.Errorf("open landmark fixtures: %w", err)
		}
		defer f.Close()
		return NewReplayDetector(f)
	}
}
