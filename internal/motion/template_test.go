package motion

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/gaitworks/motion.report/internal/fsutil"
)

// npyFloat32 builds a little-endian float32 2-D array in NPY v1 format.
func npyFloat32(rows, cols int, fill func(i, j int) float32) []byte {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", rows, cols)
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.WriteByte(1)
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			binary.Write(&buf, binary.LittleEndian, math.Float32bits(fill(i, j)))
		}
	}
	return buf.Bytes()
}

// npzArchive wraps named npy payloads into a zip, the way numpy.savez does.
func npzArchive(members map[string][]byte) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range members {
		w, _ := zw.Create(name)
		w.Write(data)
	}
	zw.Close()
	return buf.Bytes()
}

func templateFixtureFS(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	npz := npzArchive(map[string][]byte{
		"X.npy": npyFloat32(10, 42, func(i, j int) float32 { return float32(i) * 0.1 }),
	})
	if err := fs.WriteFile("templates/finger-tapping/hands.npz", npz, 0644); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestTemplateLibrary_Load(t *testing.T) {
	lib := NewTemplateLibraryFS("templates", templateFixtureFS(t))
	m, err := lib.Load("Finger Tapping", ModelHands)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(m) != 10 || len(m[0]) != 42 {
		t.Fatalf("template shape = %dx%d, want 10x42", len(m), len(m[0]))
	}
	if math.Abs(float64(m[3][0])-0.3) > 1e-6 {
		t.Errorf("m[3][0] = %v, want 0.3", m[3][0])
	}

	// Second load comes from cache and returns the same backing matrix.
	again, err := lib.Load("finger-tapping", ModelHands)
	if err != nil {
		t.Fatalf("cached load failed: %v", err)
	}
	if &again[0][0] != &m[0][0] {
		t.Error("cached load returned a different matrix")
	}
}

func TestTemplateLibrary_Missing(t *testing.T) {
	lib := NewTemplateLibraryFS("templates", templateFixtureFS(t))
	_, err := lib.Load("stand-and-sit", ModelHands)
	if !errors.Is(err, ErrTemplateMissing) {
		t.Fatalf("err = %v, want ErrTemplateMissing", err)
	}
}

func TestTemplateLibrary_UnsupportedModel(t *testing.T) {
	lib := NewTemplateLibraryFS("templates", templateFixtureFS(t))
	_, err := lib.Load("finger-tapping", Model("sonar"))
	if !errors.Is(err, ErrUnsupportedModel) {
		t.Fatalf("err = %v, want ErrUnsupportedModel", err)
	}
}

func TestTemplateLibrary_Malformed(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	cases := map[string][]byte{
		"templates/finger-tapping/hands.npz": []byte("not a zip"),
		"templates/stand-and-sit/hands.npz": npzArchive(map[string][]byte{
			"Y.npy": npyFloat32(5, 42, func(i, j int) float32 { return 0 }),
		}),
		// One row fails the minimum length check.
		"templates/fist-open-close/hands.npz": npzArchive(map[string][]byte{
			"X.npy": npyFloat32(1, 42, func(i, j int) float32 { return 0 }),
		}),
	}
	for path, data := range cases {
		if err := fs.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	lib := NewTemplateLibraryFS("templates", fs)
	for _, test := range []string{"finger-tapping", "stand-and-sit", "fist-open-close"} {
		_, err := lib.Load(test, ModelHands)
		if !errors.Is(err, ErrTemplateMalformed) {
			t.Errorf("%s: err = %v, want ErrTemplateMalformed", test, err)
		}
	}
}

func TestTemplateLibrary_WrongDims(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	npz := npzArchive(map[string][]byte{
		"X.npy": npyFloat32(10, 13, func(i, j int) float32 { return 0 }),
	})
	fs.WriteFile("templates/finger-tapping/hands.npz", npz, 0644)
	lib := NewTemplateLibraryFS("templates", fs)
	if _, err := lib.Load("finger-tapping", ModelHands); !errors.Is(err, ErrTemplateMalformed) {
		t.Fatalf("err = %v, want ErrTemplateMalformed for a 13-dim hands template", err)
	}
}

func TestParseNPYMatrix_Float64(t *testing.T) {
	header := "{'descr': '<f8', 'fortran_order': False, 'shape': (2, 2), }"
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.WriteByte(1)
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	for _, v := range []float64{1, 2, 3, 4} {
		binary.Write(&buf, binary.LittleEndian, math.Float64bits(v))
	}
	m, err := parseNPYMatrix(buf.Bytes())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if m[1][1] != 4 {
		t.Errorf("m[1][1] = %v, want 4", m[1][1])
	}
}
