package motion

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gaitworks/motion.report/internal/db"
)

func testStore(t *testing.T) *ResultStore {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewResultStore(database.DB)
}

func sampleResult(testID, patientID string) *TestResult {
	return &TestResult{
		TestID:        testID,
		PatientID:     patientID,
		TestName:      TestFingerTapping,
		Model:         string(ModelHands),
		TestDate:      time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		FPS:           30,
		RecordingFile: "ws_recording_2026-03-14_10-30-00_" + testID + ".mp4",
		FrameCount:    120,

		DistancePos: 4.2, DistanceAmp: 1.1, DistanceSpd: 0.7,
		SimilarityPos: 0.81, SimilarityAmp: 0.92, SimilaritySpd: 0.95,
		SimilarityOverall: 0.8933, AvgStepPos: 0.035,
		RPos: 2.1, RAmp: 1.4, RSpd: 0.6,
		LPos: 115, LAmp: 115, LSpd: 115,

		PosLocalCosts: []float32{0.1, 0.2, 0.3},
		PosAlignedRef: []int32{0, 1, 2},
		AmpLocalCosts: []float32{0.01, 0.02},
		AmpAlignedRef: []int32{0, 1},
		SpdLocalCosts: []float32{0.5},
		SpdAlignedRef: []int32{0},
	}
}

func TestResultStore_SaveAndGet(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.VerifyOwnership(ctx, "clinician-1", "patient-7"); err != nil {
		t.Fatalf("ownership claim failed: %v", err)
	}
	want := sampleResult("sess-1", "patient-7")
	if err := store.SaveResult(ctx, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.GetResult(ctx, "Finger Tapping", "sess-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestResultStore_GetResultNotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.GetResult(context.Background(), TestFingerTapping, "nope")
	if !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("err = %v, want ErrResultNotFound", err)
	}
}

func TestResultStore_Ownership(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// First user claims the unknown patient.
	if err := store.VerifyOwnership(ctx, "alice", "p1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	// The owner passes again.
	if err := store.VerifyOwnership(ctx, "alice", "p1"); err != nil {
		t.Fatalf("repeat check failed: %v", err)
	}
	// Anyone else is refused.
	if err := store.VerifyOwnership(ctx, "mallory", "p1"); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("err = %v, want ErrNotOwned", err)
	}
}

func TestResultStore_ListsAndCounts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	store.VerifyOwnership(ctx, "alice", "p1")

	early := sampleResult("sess-a", "p1")
	early.TestDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := sampleResult("sess-b", "p1")
	late.TestDate = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	other := sampleResult("sess-c", "p1")
	other.TestName = TestStandAndSit
	for _, r := range []*TestResult{early, late, other} {
		if err := store.SaveResult(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	tests, err := store.ListTests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{TestFingerTapping, TestStandAndSit}, tests); diff != "" {
		t.Errorf("tests mismatch:\n%s", diff)
	}

	counts, err := store.CountByTest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[TestFingerTapping] != 2 || counts[TestStandAndSit] != 1 {
		t.Errorf("counts = %v", counts)
	}

	sessions, err := store.ListSessions(ctx, "finger_tapping")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	if sessions[0].SessionID != "sess-b" {
		t.Errorf("newest first violated: got %s", sessions[0].SessionID)
	}
}

func TestResultStore_Lookup(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	store.VerifyOwnership(ctx, "alice", "p1")
	r := sampleResult("sess-x", "p1")
	if err := store.SaveResult(ctx, r); err != nil {
		t.Fatal(err)
	}

	ref, err := store.Lookup(ctx, "sess-x")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if ref.TestName != TestFingerTapping || ref.PatientID != "p1" || ref.RecordingFile != r.RecordingFile {
		t.Errorf("ref = %+v", ref)
	}

	if _, err := store.Lookup(ctx, "absent"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("err = %v, want ErrResultNotFound", err)
	}
}

func TestResultStore_Recordings(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	store.VerifyOwnership(ctx, "alice", "p1")
	r := sampleResult("sess-1", "p1")
	if err := store.SaveResult(ctx, r); err != nil {
		t.Fatal(err)
	}

	files, err := store.ListRecordings(ctx, "alice", "p1", TestFingerTapping)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != r.RecordingFile {
		t.Errorf("files = %v", files)
	}

	// A foreign user sees nothing through the ownership join.
	files, err = store.ListRecordings(ctx, "mallory", "p1", TestFingerTapping)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("foreign user got %v", files)
	}

	name, err := store.GetRecordingOwned(ctx, "alice", "p1", "sess-1")
	if err != nil || name != r.RecordingFile {
		t.Errorf("owned recording = %q, err = %v", name, err)
	}
	if _, err := store.GetRecordingOwned(ctx, "mallory", "p1", "sess-1"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("foreign owner err = %v, want ErrResultNotFound", err)
	}
}
