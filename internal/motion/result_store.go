package motion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotOwned is returned when the authenticated user does not own the
// referenced patient. The HTTP layer reports it as 404 so identifiers are
// not leaked.
var ErrNotOwned = errors.New("patient not owned by user")

// ErrResultNotFound is returned when no persisted result matches a lookup.
var ErrResultNotFound = errors.New("test result not found")

// TestResult is the persisted outcome of one finalized session. Rows are
// immutable after insert.
type TestResult struct {
	TestID        string    `json:"test_id"`
	PatientID     string    `json:"patient_id"`
	TestName      string    `json:"test_name"`
	Model         string    `json:"model"`
	TestDate      time.Time `json:"test_date"`
	FPS           float64   `json:"fps"`
	RecordingFile string    `json:"recording_file"`
	FrameCount    int       `json:"frame_count"`

	DistancePos float64 `json:"distance_pos"`
	DistanceAmp float64 `json:"distance_amp"`
	DistanceSpd float64 `json:"distance_spd"`

	SimilarityPos     float64 `json:"similarity_pos"`
	SimilarityAmp     float64 `json:"similarity_amp"`
	SimilaritySpd     float64 `json:"similarity_spd"`
	SimilarityOverall float64 `json:"similarity_overall"`
	AvgStepPos        float64 `json:"avg_step_pos"`

	RPos float64 `json:"r_pos"`
	RAmp float64 `json:"r_amp"`
	RSpd float64 `json:"r_spd"`
	LPos float64 `json:"l_pos"`
	LAmp float64 `json:"l_amp"`
	LSpd float64 `json:"l_spd"`

	PosLocalCosts []float32 `json:"pos_local_costs"`
	PosAlignedRef []int32   `json:"pos_aligned_ref_by_live"`
	AmpLocalCosts []float32 `json:"amp_local_costs"`
	AmpAlignedRef []int32   `json:"amp_aligned_ref_by_live"`
	SpdLocalCosts []float32 `json:"spd_local_costs"`
	SpdAlignedRef []int32   `json:"spd_aligned_ref_by_live"`
}

// SessionSummary is the list-view projection of a TestResult.
type SessionSummary struct {
	SessionID         string    `json:"session_id"`
	PatientID         string    `json:"patient_id"`
	TestName          string    `json:"test_name"`
	Model             string    `json:"model"`
	TestDate          time.Time `json:"test_date"`
	FrameCount        int       `json:"frame_count"`
	DistancePos       float64   `json:"distance_pos"`
	SimilarityPos     float64   `json:"similarity_pos"`
	SimilarityAmp     float64   `json:"similarity_amp"`
	SimilaritySpd     float64   `json:"similarity_spd"`
	SimilarityOverall float64   `json:"similarity_overall"`
	AvgStepPos        float64   `json:"avg_step_pos"`
}

// SessionRef is the lookup projection for a session id.
type SessionRef struct {
	SessionID     string    `json:"session_id"`
	TestName      string    `json:"test_name"`
	PatientID     string    `json:"patient_id"`
	TestDate      time.Time `json:"test_date"`
	RecordingFile string    `json:"recording_file"`
}

// ResultStore handles database access for patients and test results.
type ResultStore struct {
	db *sql.DB
}

// NewResultStore creates a store over an open database handle.
func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db}
}

// VerifyOwnership checks that userID owns patientID. An unknown patient is
// claimed by the first user that opens a session for it; patient CRUD
// proper lives outside this service.
func (s *ResultStore) VerifyOwnership(ctx context.Context, userID, patientID string) error {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM patients WHERE patient_id = ?`, patientID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO patients (patient_id, user_id) VALUES (?, ?)`, patientID, userID)
		if err != nil {
			return fmt.Errorf("failed to register patient: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to query patient owner: %w", err)
	case owner != userID:
		return ErrNotOwned
	}
	return nil
}

// SaveResult inserts a complete TestResult in a single transaction. The
// recording file must already exist on disk; a failed insert leaves no row.
func (s *ResultStore) SaveResult(ctx context.Context, r *TestResult) error {
	posCosts, err := marshalSeries(r.PosLocalCosts)
	if err != nil {
		return err
	}
	ampCosts, err := marshalSeries(r.AmpLocalCosts)
	if err != nil {
		return err
	}
	spdCosts, err := marshalSeries(r.SpdLocalCosts)
	if err != nil {
		return err
	}
	posAligned, err := marshalSeries(r.PosAlignedRef)
	if err != nil {
		return err
	}
	ampAligned, err := marshalSeries(r.AmpAlignedRef)
	if err != nil {
		return err
	}
	spdAligned, err := marshalSeries(r.SpdAlignedRef)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO test_results (
			test_id, patient_id, test_name, model, test_date, fps,
			recording_file, frame_count,
			distance_pos, distance_amp, distance_spd,
			similarity_pos, similarity_amp, similarity_spd,
			similarity_overall, avg_step_pos,
			r_pos, r_amp, r_spd, l_pos, l_amp, l_spd,
			pos_local_costs, pos_aligned,
			amp_local_costs, amp_aligned,
			spd_local_costs, spd_aligned
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TestID, r.PatientID, r.TestName, r.Model,
		r.TestDate.UTC().Format(time.RFC3339Nano), r.FPS,
		r.RecordingFile, r.FrameCount,
		r.DistancePos, r.DistanceAmp, r.DistanceSpd,
		r.SimilarityPos, r.SimilarityAmp, r.SimilaritySpd,
		r.SimilarityOverall, r.AvgStepPos,
		r.RPos, r.RAmp, r.RSpd, r.LPos, r.LAmp, r.LSpd,
		posCosts, posAligned, ampCosts, ampAligned, spdCosts, spdAligned,
	)
	if err != nil {
		return fmt.Errorf("failed to insert test result: %w", err)
	}
	return tx.Commit()
}

// ListTests returns the distinct canonical test names present in the store.
func (s *ResultStore) ListTests(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT test_name FROM test_results ORDER BY test_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// CountByTest returns per-test session counts for the diag endpoint.
func (s *ResultStore) CountByTest(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_name, COUNT(*) FROM test_results GROUP BY test_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to count results: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// ListSessions returns result summaries for a test, newest first.
func (s *ResultStore) ListSessions(ctx context.Context, testName string) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT test_id, patient_id, test_name, model, test_date, frame_count,
			distance_pos, similarity_pos, similarity_amp, similarity_spd,
			similarity_overall, avg_step_pos
		FROM test_results
		WHERE test_name = ?
		ORDER BY test_date DESC`,
		NormalizeTestName(testName))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sm SessionSummary
		var date string
		if err := rows.Scan(&sm.SessionID, &sm.PatientID, &sm.TestName, &sm.Model,
			&date, &sm.FrameCount, &sm.DistancePos, &sm.SimilarityPos,
			&sm.SimilarityAmp, &sm.SimilaritySpd, &sm.SimilarityOverall,
			&sm.AvgStepPos); err != nil {
			return nil, err
		}
		sm.TestDate, _ = time.Parse(time.RFC3339Nano, date)
		out = append(out, sm)
	}
	return out, rows.Err()
}

// GetResult loads one full result row including the per-step series.
func (s *ResultStore) GetResult(ctx context.Context, testName, testID string) (*TestResult, error) {
	var r TestResult
	var date string
	var posCosts, posAligned, ampCosts, ampAligned, spdCosts, spdAligned string
	err := s.db.QueryRowContext(ctx, `
		SELECT test_id, patient_id, test_name, model, test_date, fps,
			recording_file, frame_count,
			distance_pos, distance_amp, distance_spd,
			similarity_pos, similarity_amp, similarity_spd,
			similarity_overall, avg_step_pos,
			r_pos, r_amp, r_spd, l_pos, l_amp, l_spd,
			pos_local_costs, pos_aligned,
			amp_local_costs, amp_aligned,
			spd_local_costs, spd_aligned
		FROM test_results
		WHERE test_name = ? AND test_id = ?`,
		NormalizeTestName(testName), testID).Scan(
		&r.TestID, &r.PatientID, &r.TestName, &r.Model, &date, &r.FPS,
		&r.RecordingFile, &r.FrameCount,
		&r.DistancePos, &r.DistanceAmp, &r.DistanceSpd,
		&r.SimilarityPos, &r.SimilarityAmp, &r.SimilaritySpd,
		&r.SimilarityOverall, &r.AvgStepPos,
		&r.RPos, &r.RAmp, &r.RSpd, &r.LPos, &r.LAmp, &r.LSpd,
		&posCosts, &posAligned, &ampCosts, &ampAligned, &spdCosts, &spdAligned,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}
	r.TestDate, _ = time.Parse(time.RFC3339Nano, date)

	for _, pair := range []struct {
		raw  string
		into any
	}{
		{posCosts, &r.PosLocalCosts},
		{posAligned, &r.PosAlignedRef},
		{ampCosts, &r.AmpLocalCosts},
		{ampAligned, &r.AmpAlignedRef},
		{spdCosts, &r.SpdLocalCosts},
		{spdAligned, &r.SpdAlignedRef},
	} {
		if err := json.Unmarshal([]byte(pair.raw), pair.into); err != nil {
			return nil, fmt.Errorf("corrupt series column: %w", err)
		}
	}
	return &r, nil
}

// Lookup finds the session reference for a bare session id.
func (s *ResultStore) Lookup(ctx context.Context, testID string) (*SessionRef, error) {
	var ref SessionRef
	var date string
	err := s.db.QueryRowContext(ctx, `
		SELECT test_id, test_name, patient_id, test_date, recording_file
		FROM test_results WHERE test_id = ?`, testID).Scan(
		&ref.SessionID, &ref.TestName, &ref.PatientID, &date, &ref.RecordingFile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	ref.TestDate, _ = time.Parse(time.RFC3339Nano, date)
	return &ref, nil
}

// ListRecordings returns recording filenames for a patient and test,
// newest first, restricted to patients the user owns.
func (s *ResultStore) ListRecordings(ctx context.Context, userID, patientID, testName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tr.recording_file
		FROM test_results tr
		JOIN patients p ON p.patient_id = tr.patient_id
		WHERE p.user_id = ? AND tr.patient_id = ? AND tr.test_name = ?
			AND tr.recording_file != ''
		ORDER BY tr.test_date DESC`,
		userID, patientID, NormalizeTestName(testName))
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// GetRecordingOwned resolves one recording filename, enforcing ownership
// through the patient row. Both a missing row and a foreign owner surface
// as ErrResultNotFound.
func (s *ResultStore) GetRecordingOwned(ctx context.Context, userID, patientID, testID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT tr.recording_file
		FROM test_results tr
		JOIN patients p ON p.patient_id = tr.patient_id
		WHERE p.user_id = ? AND tr.patient_id = ? AND tr.test_id = ?`,
		userID, patientID, testID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrResultNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve recording: %w", err)
	}
	if name == "" {
		return "", ErrResultNotFound
	}
	return name, nil
}

func marshalSeries(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode series: %w", err)
	}
	return string(b), nil
}
