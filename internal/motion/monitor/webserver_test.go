package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gaitworks/motion.report/internal/db"
	"github.com/gaitworks/motion.report/internal/fsutil"
	"github.com/gaitworks/motion.report/internal/motion"
)

func testServer(t *testing.T) (*httptest.Server, *motion.App, *fsutil.MemoryFileSystem) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "monitor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(); err != nil {
		t.Fatal(err)
	}

	fs := fsutil.NewMemoryFileSystem()
	app := &motion.App{
		Results:       motion.NewResultStore(database.DB),
		RecordingsDir: t.TempDir(),
		FS:            fs,
	}
	ws := NewWebServer(WebServerConfig{Address: ":0", App: app})
	srv := httptest.NewServer(ws.server.Handler)
	t.Cleanup(srv.Close)
	return srv, app, fs
}

func seedResult(t *testing.T, app *motion.App, userID, patientID, testID string) *motion.TestResult {
	t.Helper()
	ctx := context.Background()
	if err := app.Results.VerifyOwnership(ctx, userID, patientID); err != nil {
		t.Fatal(err)
	}
	r := &motion.TestResult{
		TestID:        testID,
		PatientID:     patientID,
		TestName:      motion.TestFingerTapping,
		Model:         string(motion.ModelHands),
		TestDate:      time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
		FPS:           30,
		RecordingFile: "ws_recording_x_" + testID + ".mp4",
		FrameCount:    40,
		SimilarityPos: 0.8, SimilarityAmp: 0.9, SimilaritySpd: 0.7,
		SimilarityOverall: 0.8, AvgStepPos: 0.02,
		PosLocalCosts: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		PosAlignedRef: []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		AmpLocalCosts: []float32{1, 2},
		AmpAlignedRef: []int32{0, 1},
		SpdLocalCosts: []float32{3, 4},
		SpdAlignedRef: []int32{0, 1},
	}
	if err := app.Results.SaveResult(ctx, r); err != nil {
		t.Fatal(err)
	}
	return r
}

func getJSON(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	var body map[string]any
	resp := getJSON(t, srv.URL+"/dtw/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["ok"] != true || body["backend"] != "dtw" {
		t.Errorf("health body = %v", body)
	}
}

func TestDiagAndTests(t *testing.T) {
	srv, app, _ := testServer(t)
	seedResult(t, app, "u1", "p1", "s1")
	seedResult(t, app, "u1", "p1", "s2")

	var diag struct {
		Total  int            `json:"sessions_total"`
		ByTest map[string]int `json:"sessions_by_test"`
	}
	getJSON(t, srv.URL+"/dtw/diag", &diag)
	if diag.Total != 2 || diag.ByTest[motion.TestFingerTapping] != 2 {
		t.Errorf("diag = %+v", diag)
	}

	var tests struct {
		Tests []string `json:"tests"`
	}
	getJSON(t, srv.URL+"/dtw/tests", &tests)
	if len(tests.Tests) != 1 || tests.Tests[0] != motion.TestFingerTapping {
		t.Errorf("tests = %v", tests.Tests)
	}
}

func TestSessionsList(t *testing.T) {
	srv, app, _ := testServer(t)
	seedResult(t, app, "u1", "p1", "s1")

	var body struct {
		Test     string                  `json:"test"`
		Sessions []motion.SessionSummary `json:"sessions"`
	}
	// The path segment is canonicalized before lookup.
	getJSON(t, srv.URL+"/dtw/sessions/finger_tapping", &body)
	if body.Test != motion.TestFingerTapping || len(body.Sessions) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.Sessions[0].SessionID != "s1" {
		t.Errorf("session = %+v", body.Sessions[0])
	}
}

func TestSeriesDownsampling(t *testing.T) {
	srv, app, _ := testServer(t)
	seedResult(t, app, "u1", "p1", "s1")

	var body seriesResponse
	getJSON(t, srv.URL+"/dtw/sessions/finger-tapping/s1/series?max_points=5", &body)
	if body.SessionID != "s1" {
		t.Fatalf("series = %+v", body)
	}
	// 10 points at max 5 means stride 2: indices 0,2,4,6,8.
	if len(body.Pos.LocalCosts) != 5 {
		t.Fatalf("pos costs = %d points, want 5", len(body.Pos.LocalCosts))
	}
	for k, p := range body.Pos.LocalCosts {
		if p.X != 2*k {
			t.Errorf("point %d has x = %d, want %d", k, p.X, 2*k)
		}
	}
	// Short channels survive untouched.
	if len(body.Amp.LocalCosts) != 2 {
		t.Errorf("amp costs = %d points, want 2", len(body.Amp.LocalCosts))
	}
}

func TestSeriesBadParams(t *testing.T) {
	srv, app, _ := testServer(t)
	seedResult(t, app, "u1", "p1", "s1")

	resp := getJSON(t, srv.URL+"/dtw/sessions/finger-tapping/s1/series?max_points=zero", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp = getJSON(t, srv.URL+"/dtw/sessions/finger-tapping/absent/series", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestLookup(t *testing.T) {
	srv, app, _ := testServer(t)
	seedResult(t, app, "u1", "p1", "s1")

	var ref motion.SessionRef
	getJSON(t, srv.URL+"/dtw/sessions/lookup/s1", &ref)
	if ref.SessionID != "s1" || ref.TestName != motion.TestFingerTapping {
		t.Errorf("ref = %+v", ref)
	}

	resp := getJSON(t, srv.URL+"/dtw/sessions/lookup/absent", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDownloadStreamsRecording(t *testing.T) {
	srv, app, fs := testServer(t)
	r := seedResult(t, app, "u1", "p1", "s1")
	content := []byte("fake mp4 payload")
	if err := fs.WriteFile(filepath.Join(app.RecordingsDir, r.RecordingFile), content, 0644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/dtw/sessions/finger-tapping/s1/download")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("content type = %q", ct)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != string(content) {
		t.Errorf("body = %q", got)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	srv, app, _ := testServer(t)
	seedResult(t, app, "u1", "p1", "s1")

	resp := getJSON(t, srv.URL+"/dtw/sessions/finger-tapping/s1/download", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for a missing file", resp.StatusCode)
	}
}

func TestRecordingOwnership(t *testing.T) {
	srv, app, fs := testServer(t)
	r := seedResult(t, app, "owner", "p1", "s1")
	fs.WriteFile(filepath.Join(app.RecordingsDir, r.RecordingFile), []byte("mp4"), 0644)

	get := func(user string) int {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/recordings/p1/s1", nil)
		req.Header.Set("X-User-ID", user)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode
	}
	if code := get("owner"); code != http.StatusOK {
		t.Errorf("owner status = %d, want 200", code)
	}
	// A foreign caller gets 404, not 403, so session ids are not confirmed.
	if code := get("mallory"); code != http.StatusNotFound {
		t.Errorf("foreign status = %d, want 404", code)
	}
}

func TestVideosList(t *testing.T) {
	srv, app, _ := testServer(t)
	r := seedResult(t, app, "owner", "p1", "s1")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/videos/p1/finger-tapping", nil)
	req.Header.Set("X-User-ID", "owner")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Videos []map[string]string `json:"videos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Videos) != 1 || body.Videos[0]["file"] != r.RecordingFile {
		t.Errorf("videos = %v", body.Videos)
	}
}

func TestSessionChart(t *testing.T) {
	srv, app, _ := testServer(t)
	seedResult(t, app, "u1", "p1", "s1")

	resp, err := http.Get(srv.URL + "/dtw/sessions/finger-tapping/s1/chart")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if ct := resp.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	if len(body) == 0 {
		t.Error("chart body is empty")
	}
}

func TestStrideIndices(t *testing.T) {
	if got := strideIndices(0, 10); got != nil {
		t.Errorf("empty input = %v", got)
	}
	if got := strideIndices(3, 10); len(got) != 3 {
		t.Errorf("short input = %v, want all indices", got)
	}
	got := strideIndices(100, 10)
	if got[0] != 0 || got[1] != 10 {
		t.Errorf("stride = %v", got[:2])
	}
	if len(got) != 10 {
		t.Errorf("downsampled to %d points, want 10", len(got))
	}
}
