package motion

import (
	"io"
	"path/filepath"

	"github.com/gaitworks/motion.report/internal/fsutil"
)

// VideoWriter encodes an ordered JPEG frame buffer into a single MP4 in the
// recordings directory and returns its bare filename.
type VideoWriter interface {
	WriteMP4(testID string, frames [][]byte, fps float64) (filename string, err error)

	// Remove garbage-collects an orphaned recording after a failed save.
	Remove(filename string) error
}

// App carries the process-wide collaborators injected into session workers
// and HTTP handlers. There is no hidden module-level state: everything a
// session or handler touches hangs off this struct.
type App struct {
	Templates *TemplateLibrary
	Results   *ResultStore
	Writer    VideoWriter
	Pool      *Pool
	Detectors DetectorFactory

	// RecordingsDir is where finished MP4s live; read handlers stream
	// from it directly.
	RecordingsDir string

	// FS backs recording reads; swapped for a memory filesystem in tests.
	FS fsutil.FileSystem

	// DefaultBand applies when an init message carries no sakoe field.
	DefaultBand Band

	// UseZ includes the z axis in pose features (99 dims instead of 66).
	UseZ bool

	// DefaultFPS is the fallback frame rate hint.
	DefaultFPS float64
}

// OpenRecording opens a stored recording by bare filename.
func (a *App) OpenRecording(name string) (io.ReadCloser, error) {
	fs := a.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return fs.Open(filepath.Join(a.RecordingsDir, name))
}
