// Package recorder encodes a session's buffered frames into a single MP4
// artifact in the recordings directory.
package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gaitworks/motion.report/internal/fsutil"
	"github.com/gaitworks/motion.report/internal/monitoring"
	"github.com/gaitworks/motion.report/internal/security"
	"github.com/gaitworks/motion.report/internal/timeutil"
)

// ErrNoCodec is returned when no configured codec can be initialized.
var ErrNoCodec = errors.New("no usable video codec")

// ErrNoFrames is returned when asked to encode an empty buffer.
var ErrNoFrames = errors.New("no frames to encode")

// Codec muxes or transcodes an ordered JPEG frame buffer into an MP4 byte
// stream. Codecs are tried in preference order; a codec reports itself
// unavailable by returning an error from Probe.
type Codec interface {
	// Name identifies the codec in logs.
	Name() string

	// Probe checks whether the codec can run in this process.
	Probe() error

	// Mux produces a complete MP4 for the frames at the given rate.
	Mux(frames [][]byte, fps float64) ([]byte, error)
}

// Writer persists session recordings. The default codec chain prefers any
// registered H.264 encoder and falls back to the built-in Motion-JPEG
// muxer, which re-wraps the captured JPEG frames without transcoding.
type Writer struct {
	dir    string
	fs     fsutil.FileSystem
	clock  timeutil.Clock
	codecs []Codec
}

// Option adjusts writer construction.
type Option func(*Writer)

// WithFileSystem swaps the backing filesystem (tests).
func WithFileSystem(fs fsutil.FileSystem) Option {
	return func(w *Writer) { w.fs = fs }
}

// WithCodecs replaces the codec preference chain.
func WithCodecs(codecs ...Codec) Option {
	return func(w *Writer) { w.codecs = codecs }
}

// WithClock swaps the timestamp source so tests get stable filenames.
func WithClock(c timeutil.Clock) Option {
	return func(w *Writer) { w.clock = c }
}

// NewWriter creates a writer rooted at dir, creating it if absent.
func NewWriter(dir string, opts ...Option) (*Writer, error) {
	w := &Writer{
		dir:    dir,
		fs:     fsutil.OSFileSystem{},
		clock:  timeutil.RealClock{},
		codecs: []Codec{MJPEGCodec{}},
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	return w, nil
}

// WriteMP4 encodes frames to a new file in the recordings directory and
// returns its bare filename. The filename embeds the test id so recordings
// stay unique per session in the flat directory.
func (w *Writer) WriteMP4(testID string, frames [][]byte, fps float64) (string, error) {
	if len(frames) == 0 {
		return "", ErrNoFrames
	}
	if fps <= 0 {
		fps = 30
	}

	var lastErr error = ErrNoCodec
	for _, c := range w.codecs {
		if err := c.Probe(); err != nil {
			monitoring.Logf("codec %s unavailable: %v", c.Name(), err)
			lastErr = err
			continue
		}
		data, err := c.Mux(frames, fps)
		if err != nil {
			monitoring.Logf("codec %s failed: %v", c.Name(), err)
			lastErr = err
			continue
		}
		name := w.recordingName(testID)
		if err := w.fs.WriteFile(filepath.Join(w.dir, name), data, 0644); err != nil {
			return "", fmt.Errorf("failed to write recording: %w", err)
		}
		monitoring.Logf("wrote recording %s (%d frames, codec=%s)", name, len(frames), c.Name())
		return name, nil
	}
	return "", fmt.Errorf("%w: %v", ErrNoCodec, lastErr)
}

// Remove deletes a recording by bare filename, refusing paths that escape
// the recordings directory. Used to garbage-collect orphans after a failed
// database save.
func (w *Writer) Remove(filename string) error {
	full := filepath.Join(w.dir, filename)
	if err := security.ValidatePathWithinDirectory(full, w.dir); err != nil {
		return err
	}
	err := w.fs.Remove(full)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (w *Writer) recordingName(testID string) string {
	ts := w.clock.Now().UTC().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("ws_recording_%s_%s.mp4", ts, security.SanitizeFilename(testID))
}

// MJPEGCodec wraps the captured JPEG frames as a Motion-JPEG video track in
// an ISO BMFF container. It never transcodes, so it is always available.
type MJPEGCodec struct{}

func (MJPEGCodec) Name() string { return "mjpeg" }

func (MJPEGCodec) Probe() error { return nil }

// Mux lays the file out as ftyp, mdat, moov; putting mdat before moov lets
// the chunk offset table be computed without a second pass.
func (MJPEGCodec) Mux(frames [][]byte, fps float64) ([]byte, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frames[0]))
	if err != nil {
		return nil, fmt.Errorf("first frame is not a valid JPEG: %w", err)
	}

	ftyp := mp4Box("ftyp",
		[]byte("isom"),
		be32(0x200),
		[]byte("isomiso2mp41"),
	)
	mdat := mp4Box("mdat", frames...)
	moov := buildMoov(frames, fps, cfg.Width, cfg.Height, uint32(len(ftyp)+8))

	out := make([]byte, 0, len(ftyp)+len(mdat)+len(moov))
	out = append(out, ftyp...)
	out = append(out, mdat...)
	out = append(out, moov...)
	return out, nil
}

const mediaTimescale = 90000

func buildMoov(frames [][]byte, fps float64, width, height int, chunkOffset uint32) []byte {
	sampleCount := uint32(len(frames))
	sampleDelta := uint32(float64(mediaTimescale)/fps + 0.5)
	mediaDuration := sampleCount * sampleDelta
	movieDuration := uint32(float64(sampleCount) * 1000 / fps)

	mvhd := mp4Box("mvhd",
		be32(0),         // version + flags
		be32(0), be32(0), // creation, modification
		be32(1000), // movie timescale (ms)
		be32(movieDuration),
		be32(0x00010000), // rate 1.0
		be16(0x0100),     // volume
		make([]byte, 10), // reserved
		identityMatrix(),
		make([]byte, 24), // pre_defined
		be32(2),          // next track id
	)

	tkhd := mp4Box("tkhd",
		be32(0x000003), // version 0, flags: enabled + in movie
		be32(0), be32(0),
		be32(1), // track id
		be32(0),
		be32(movieDuration),
		make([]byte, 8), // reserved
		be16(0), be16(0), be16(0), be16(0), // layer, group, volume, reserved
		identityMatrix(),
		be32(uint32(width)<<16),
		be32(uint32(height)<<16),
	)

	mdhd := mp4Box("mdhd",
		be32(0),
		be32(0), be32(0),
		be32(mediaTimescale),
		be32(mediaDuration),
		be16(0x55C4), // language "und"
		be16(0),
	)

	hdlr := mp4Box("hdlr",
		be32(0),
		be32(0),
		[]byte("vide"),
		make([]byte, 12),
		append([]byte("VideoHandler"), 0),
	)

	stsd := mp4Box("stsd",
		be32(0),
		be32(1),
		jpegSampleEntry(width, height),
	)
	stts := mp4Box("stts", be32(0), be32(1), be32(sampleCount), be32(sampleDelta))
	stsc := mp4Box("stsc", be32(0), be32(1), be32(1), be32(sampleCount), be32(1))

	sizes := make([]byte, 0, 4*len(frames))
	for _, f := range frames {
		sizes = append(sizes, be32(uint32(len(f)))...)
	}
	stsz := mp4Box("stsz", be32(0), be32(0), be32(sampleCount), sizes)
	stco := mp4Box("stco", be32(0), be32(1), be32(chunkOffset))

	stbl := mp4Box("stbl", stsd, stts, stsc, stsz, stco)
	vmhd := mp4Box("vmhd", be32(0x000001), be16(0), make([]byte, 6))
	dref := mp4Box("dref", be32(0), be32(1), mp4Box("url ", be32(0x000001)))
	dinf := mp4Box("dinf", dref)
	minf := mp4Box("minf", vmhd, dinf, stbl)
	mdia := mp4Box("mdia", mdhd, hdlr, minf)
	trak := mp4Box("trak", tkhd, mdia)
	return mp4Box("moov", mvhd, trak)
}

// jpegSampleEntry is a VisualSampleEntry with the 'jpeg' coding name, the
// QuickTime-compatible way to carry Motion-JPEG samples in MP4.
func jpegSampleEntry(width, height int) []byte {
	compressor := make([]byte, 32)
	copy(compressor[1:], "Motion-JPEG")
	compressor[0] = byte(len("Motion-JPEG"))
	return mp4Box("jpeg",
		make([]byte, 6), // reserved
		be16(1),         // data reference index
		be16(0), be16(0),
		make([]byte, 12),
		be16(uint16(width)),
		be16(uint16(height)),
		be32(0x00480000), // 72 dpi
		be32(0x00480000),
		be32(0),
		be16(1), // frame count per sample
		compressor,
		be16(24),     // depth
		be16(0xFFFF), // pre_defined
	)
}

func mp4Box(typ string, parts ...[]byte) []byte {
	size := 8
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	out = append(out, be32(uint32(size))...)
	out = append(out, typ...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func be16(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

func identityMatrix() []byte {
	m := make([]byte, 0, 36)
	for _, v := range [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
		m = append(m, be32(v)...)
	}
	return m
}
