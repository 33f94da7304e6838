package motion

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gaitworks/motion.report/internal/fsutil"
	"github.com/gaitworks/motion.report/internal/monitoring"
)

// TemplateLibrary resolves (canonical test, model) pairs to immutable
// reference feature matrices stored on disk as
// <root>/<canonical_test>/<model>.npz with a single array named X of shape
// (T, D). Matrices are cached for the process lifetime after first load.
type TemplateLibrary struct {
	root string
	fs   fsutil.FileSystem

	mu    sync.Mutex
	cache map[string][][]float32
}

// NewTemplateLibrary creates a library rooted at dir on the OS filesystem.
func NewTemplateLibrary(dir string) *TemplateLibrary {
	return NewTemplateLibraryFS(dir, fsutil.OSFileSystem{})
}

// NewTemplateLibraryFS creates a library over an explicit filesystem.
func NewTemplateLibraryFS(dir string, fs fsutil.FileSystem) *TemplateLibrary {
	return &TemplateLibrary{
		root:  dir,
		fs:    fs,
		cache: make(map[string][][]float32),
	}
}

// Load returns the reference matrix for the given test and model. The test
// name is canonicalized before lookup. The returned matrix is shared and
// must be treated as read-only.
func (l *TemplateLibrary) Load(testName string, model Model) ([][]float32, error) {
	if !model.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}
	canonical := NormalizeTestName(testName)
	key := canonical + "/" + string(model)

	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.cache[key]; ok {
		return m, nil
	}

	path := filepath.Join(l.root, canonical, string(model)+".npz")
	raw, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateMissing, path)
	}
	m, err := parseNPZMatrix(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateMalformed, path, err)
	}
	if err := validateTemplate(m, model); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateMalformed, path, err)
	}

	monitoring.Logf("loaded template %s (%dx%d)", path, len(m), len(m[0]))
	l.cache[key] = m
	return m, nil
}

func validateTemplate(m [][]float32, model Model) error {
	if len(m) < 2 {
		return fmt.Errorf("template must have at least 2 rows, got %d", len(m))
	}
	d := len(m[0])
	for _, want := range model.FeatureDims() {
		if d == want {
			return nil
		}
	}
	return fmt.Errorf("dimension %d not valid for model %s (want one of %v)", d, model, model.FeatureDims())
}

// parseNPZMatrix extracts the array named X from an npz archive. An npz file
// is a zip whose members are npy arrays.
func parseNPZMatrix(raw []byte) ([][]float32, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("not a zip archive: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != "X.npy" && f.Name != "X" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		return parseNPYMatrix(data)
	}
	return nil, fmt.Errorf("archive has no array named X")
}

// parseNPYMatrix decodes a little-endian float32/float64 2-D array in NPY
// format (version 1.x header).
func parseNPYMatrix(data []byte) ([][]float32, error) {
	const magic = "\x93NUMPY"
	if len(data) < 10 || string(data[:6]) != magic {
		return nil, fmt.Errorf("bad npy magic")
	}
	major := data[6]
	var header string
	var body []byte
	switch major {
	case 1:
		hlen := int(binary.LittleEndian.Uint16(data[8:10]))
		if len(data) < 10+hlen {
			return nil, fmt.Errorf("truncated npy header")
		}
		header = string(data[10 : 10+hlen])
		body = data[10+hlen:]
	case 2, 3:
		if len(data) < 12 {
			return nil, fmt.Errorf("truncated npy header")
		}
		hlen := int(binary.LittleEndian.Uint32(data[8:12]))
		if len(data) < 12+hlen {
			return nil, fmt.Errorf("truncated npy header")
		}
		header = string(data[12 : 12+hlen])
		body = data[12+hlen:]
	default:
		return nil, fmt.Errorf("unsupported npy version %d", major)
	}

	descr, fortran, shape, err := parseNPYHeader(header)
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, fmt.Errorf("fortran-ordered arrays not supported")
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("template array must be 2-D, got shape %v", shape)
	}
	rows, cols := shape[0], shape[1]

	var width int
	switch descr {
	case "<f4", "|f4":
		width = 4
	case "<f8", "|f8":
		width = 8
	default:
		return nil, fmt.Errorf("unsupported dtype %q", descr)
	}
	if len(body) < rows*cols*width {
		return nil, fmt.Errorf("array body truncated: want %d bytes, have %d", rows*cols*width, len(body))
	}

	m := make([][]float32, rows)
	off := 0
	for i := 0; i < rows; i++ {
		row := make([]float32, cols)
		for j := 0; j < cols; j++ {
			if width == 4 {
				row[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
			} else {
				row[j] = float32(math.Float64frombits(binary.LittleEndian.Uint64(body[off:])))
			}
			off += width
		}
		m[i] = row
	}
	return m, nil
}

// parseNPYHeader pulls descr, fortran_order and shape out of the python
// dict literal that heads every npy file.
func parseNPYHeader(h string) (descr string, fortran bool, shape []int, err error) {
	descr, err = headerValue(h, "descr")
	if err != nil {
		return "", false, nil, err
	}
	fo, err := headerValue(h, "fortran_order")
	if err != nil {
		return "", false, nil, err
	}
	fortran = strings.HasPrefix(fo, "True")

	open := strings.Index(h, "(")
	closing := strings.Index(h, ")")
	if open < 0 || closing < open {
		return "", false, nil, fmt.Errorf("npy header missing shape tuple")
	}
	for _, part := range strings.Split(h[open+1:closing], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, convErr := strconv.Atoi(part)
		if convErr != nil {
			return "", false, nil, fmt.Errorf("bad shape component %q", part)
		}
		shape = append(shape, n)
	}
	return descr, fortran, shape, nil
}

func headerValue(h, key string) (string, error) {
	idx := strings.Index(h, "'"+key+"'")
	if idx < 0 {
		return "", fmt.Errorf("npy header missing %q", key)
	}
	rest := h[idx+len(key)+2:]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return "", fmt.Errorf("npy header missing %q value", key)
	}
	val := strings.TrimSpace(rest[colon+1:])
	val = strings.TrimLeft(val, "'")
	if end := strings.IndexAny(val, "',}"); end >= 0 {
		val = val[:end]
	}
	return strings.TrimSpace(val), nil
}
