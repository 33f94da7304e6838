package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/jpeg"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/gaitworks/motion.report/internal/monitoring"
	"github.com/gaitworks/motion.report/internal/motion"
)

// defaultReadLimit caps a single inbound message; base64 frames from webcam
// captures stay well under this.
const defaultReadLimit = 16 << 20

// Handler accepts websocket connections and runs one capture session per
// connection until end or disconnect. Disconnect before complete discards
// the session; nothing partial is persisted.
type Handler struct {
	app *motion.App

	// ReadLimit overrides the per-message byte cap when positive.
	ReadLimit int64

	// IdleTimeout bounds the wait for the next inbound message.
	IdleTimeout time.Duration
}

// NewHandler creates the ingest handler around the shared app context.
func NewHandler(app *motion.App) *Handler {
	return &Handler{app: app, IdleTimeout: 5 * time.Minute}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		monitoring.Logf("websocket accept failed: %v", err)
		return
	}
	defer conn.CloseNow()

	limit := h.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	h.serve(r.Context(), conn, callerID(r))
	conn.Close(websocket.StatusNormalClosure, "")
}

// callerID is the verified user identity attached by the fronting auth
// layer. Auth itself is out of scope here.
func callerID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return "anonymous"
}

// connState is the per-connection mutable state beyond the session itself.
type connState struct {
	sess         *motion.Session
	detector     motion.LandmarkDetector
	userID       string
	completeSent bool
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, userID string) {
	st := &connState{sess: motion.NewSession(), userID: userID}
	defer func() {
		if st.detector != nil {
			st.detector.Close()
		}
	}()

	for {
		readCtx := ctx
		if h.IdleTimeout > 0 {
			var cancel context.CancelFunc
			readCtx, cancel = context.WithTimeout(ctx, h.IdleTimeout)
			defer cancel()
		}
		_, data, err := conn.Read(readCtx)
		if err != nil {
			// Disconnect (or idle timeout) discards the session entirely.
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.send(ctx, conn, errorEvent{Type: "error", Message: "malformed message: " + err.Error()})
			continue
		}

		switch msg.Type {
		case "init":
			h.handleInit(ctx, conn, st, &msg)
		case "frame":
			h.handleFrame(ctx, conn, st, &msg)
		case "pause":
			h.handlePause(ctx, conn, st, &msg)
		case "end":
			h.handleEnd(ctx, conn, st)
		default:
			h.send(ctx, conn, errorEvent{Type: "error", Message: "Unknown message type: " + msg.Type})
		}
	}
}

func (h *Handler) handleInit(ctx context.Context, conn *websocket.Conn, st *connState, msg *clientMessage) {
	model := motion.Model(msg.Model)
	if model == "" {
		model = motion.ModelHands
	}
	if !model.Valid() {
		h.sendInitError(ctx, conn, st, "unsupported model: "+string(model))
		return
	}

	testID := msg.TestID
	if testID == "" {
		testID = uuid.NewString()
	}
	fps := msg.FPS
	if fps <= 0 {
		fps = h.app.DefaultFPS
	}
	useZ := h.app.UseZ
	if msg.UseZ != nil {
		useZ = *msg.UseZ
	}

	if err := h.app.Results.VerifyOwnership(ctx, st.userID, msg.patientID()); err != nil {
		h.sendInitError(ctx, conn, st, err.Error())
		return
	}

	template, err := h.app.Templates.Load(msg.testName(), model)
	if err != nil {
		h.sendInitError(ctx, conn, st, "Template load failed: "+err.Error())
		return
	}

	detector, err := h.app.Detectors(model)
	if err != nil {
		h.sendInitError(ctx, conn, st, "Detector init failed: "+err.Error())
		return
	}

	params := motion.InitParams{
		UserID:    st.userID,
		PatientID: msg.patientID(),
		TestName:  msg.testName(),
		Model:     model,
		TestID:    testID,
		FPSHint:   fps,
		UseZ:      useZ,
		Band:      parseBand(msg.Sakoe, h.app.DefaultBand),
	}
	if err := st.sess.Init(params, template); err != nil {
		detector.Close()
		h.sendInitError(ctx, conn, st, err.Error())
		return
	}
	st.detector = detector

	h.send(ctx, conn, statusEvent{
		Type:      "status",
		Status:    "initialized",
		PatientID: st.sess.PatientID,
		TestName:  st.sess.TestName,
		Model:     string(st.sess.Model),
		FPS:       st.sess.FPSHint,
	})
}

func (h *Handler) sendInitError(ctx context.Context, conn *websocket.Conn, st *connState, message string) {
	st.sess.Fail()
	h.send(ctx, conn, errorEvent{Type: "error", Where: "init", Message: message})
}

func (h *Handler) handleFrame(ctx context.Context, conn *websocket.Conn, st *connState, msg *clientMessage) {
	if !st.sess.Accepting() {
		h.send(ctx, conn, errorEvent{Type: "error", Where: "frame", Message: "Not initialized"})
		return
	}

	frame, err := decodeFramePayload(msg.Data)
	if err != nil {
		h.send(ctx, conn, errorEvent{Type: "error", Where: "frame", Message: err.Error()})
		return
	}

	// Decode check and landmark inference are CPU-bound; run them on the
	// shared pool so other connections keep moving.
	var (
		lm        motion.Landmarks
		feat      []float32
		extracted bool
		frameErr  error
	)
	h.app.Pool.Run(func() {
		if _, err := jpeg.DecodeConfig(bytes.NewReader(frame)); err != nil {
			frameErr = errors.New("Could not decode frame from provided data")
			return
		}
		lm, frameErr = st.detector.Detect(frame)
		if frameErr != nil {
			return
		}
		feat, extracted = motion.ExtractFeatures(st.sess.Model, lm, st.sess.UseZ)
	})
	if frameErr != nil {
		h.send(ctx, conn, errorEvent{Type: "error", Where: "frame", Message: frameErr.Error()})
		return
	}

	frameIdx, err := st.sess.AddFrame(frame, feat, extracted)
	if err != nil {
		h.send(ctx, conn, errorEvent{Type: "error", Where: "frame", Message: err.Error()})
		return
	}

	h.send(ctx, conn, keypointsEvent{
		Type:     "keypoints",
		Model:    string(st.sess.Model),
		FrameIdx: frameIdx,
		Hands:    lm.Hands,
		Pose:     lm.Pose,
	})
}

func (h *Handler) handlePause(ctx context.Context, conn *websocket.Conn, st *connState, msg *clientMessage) {
	if !st.sess.SetPaused(msg.Paused) {
		h.send(ctx, conn, errorEvent{Type: "error", Where: "pause", Message: "Not initialized"})
		return
	}
	status := "resumed"
	if msg.Paused {
		status = "paused"
	}
	h.send(ctx, conn, statusEvent{Type: "status", Status: status})
}

func (h *Handler) handleEnd(ctx context.Context, conn *websocket.Conn, st *connState) {
	sess := st.sess
	if !sess.Accepting() {
		msg := "Test not initialized"
		if st.completeSent {
			msg = "Session already ended"
		}
		h.send(ctx, conn, errorEvent{Type: "error", Where: "end", Message: msg})
		return
	}
	if sess.FramesSeen == 0 {
		h.send(ctx, conn, errorEvent{Type: "error", Where: "end", Message: "No frames received"})
		return
	}

	if err := sess.End(); err != nil {
		// No features: stay in the current state so the client may keep
		// streaming frames and try again.
		h.send(ctx, conn, dtwErrorEvent{
			Type: "dtw_error", Where: "finalize",
			Message:       "No features extracted from the received frames",
			TestName:      sess.TestName,
			Model:         string(sess.Model),
			FramesSeen:    sess.FramesSeen,
			FeaturesBuilt: sess.FeaturesBuilt,
			FeatureDrops:  sess.FeatureDrops,
		})
		return
	}

	var (
		score    *motion.Score
		scoreErr error
	)
	h.app.Pool.Run(func() {
		score, scoreErr = motion.ScoreTrajectories(sess.LiveMatrix(), sess.Template, sess.Band)
	})
	if scoreErr != nil {
		sess.Fail()
		h.send(ctx, conn, dtwErrorEvent{
			Type: "dtw_error", Where: "finalize",
			Message:       scoreErr.Error(),
			TestName:      sess.TestName,
			Model:         string(sess.Model),
			FramesSeen:    sess.FramesSeen,
			FeaturesBuilt: sess.FeaturesBuilt,
			FeatureDrops:  sess.FeatureDrops,
		})
		return
	}

	if h.app.Writer == nil {
		sess.Fail()
		h.send(ctx, conn, errorEvent{Type: "error", Where: "save_mp4", Message: motion.ErrWriterUnavailable.Error()})
		return
	}
	recording, err := h.app.Writer.WriteMP4(sess.TestID, sess.Frames, sess.FPSHint)
	if err != nil {
		sess.Fail()
		h.send(ctx, conn, errorEvent{Type: "error", Where: "save_mp4", Message: err.Error()})
		return
	}

	result := buildResult(sess, score, recording)
	if err := h.app.Results.SaveResult(ctx, result); err != nil {
		sess.Fail()
		// The row is absent; drop the orphaned MP4.
		if rmErr := h.app.Writer.Remove(recording); rmErr != nil {
			monitoring.Logf("failed to remove orphaned recording %s: %v", recording, rmErr)
		}
		h.send(ctx, conn, errorEvent{Type: "error", Where: "sql_save", Message: err.Error()})
		return
	}

	st.completeSent = true
	monitoring.Logf("session complete test=%s model=%s frames=%d feats=%d overall=%.4f",
		sess.TestName, sess.Model, sess.FramesSeen, sess.FeaturesBuilt, score.Overall)
	h.send(ctx, conn, completeEvent{
		Type:              "complete",
		Recording:         recording,
		Path:              "recordings/" + recording,
		FrameCount:        sess.FramesSeen,
		PatientID:         sess.PatientID,
		TestName:          sess.TestName,
		TestID:            sess.TestID,
		SimilarityOverall: score.Overall,
		SimilarityPos:     score.Pos.Similarity,
		SimilarityAmp:     score.Amp.Similarity,
		SimilaritySpd:     score.Spd.Similarity,
	})
}

func buildResult(sess *motion.Session, score *motion.Score, recording string) *motion.TestResult {
	return &motion.TestResult{
		TestID:        sess.TestID,
		PatientID:     sess.PatientID,
		TestName:      sess.TestName,
		Model:         string(sess.Model),
		TestDate:      time.Now().UTC(),
		FPS:           sess.FPSHint,
		RecordingFile: recording,
		FrameCount:    sess.FramesSeen,

		DistancePos: score.Pos.Distance,
		DistanceAmp: score.Amp.Distance,
		DistanceSpd: score.Spd.Distance,

		SimilarityPos:     score.Pos.Similarity,
		SimilarityAmp:     score.Amp.Similarity,
		SimilaritySpd:     score.Spd.Similarity,
		SimilarityOverall: score.Overall,
		AvgStepPos:        score.AvgStepPos,

		RPos: score.Pos.R, RAmp: score.Amp.R, RSpd: score.Spd.R,
		LPos: score.Pos.L, LAmp: score.Amp.L, LSpd: score.Spd.L,

		PosLocalCosts: score.Pos.LocalCosts,
		PosAlignedRef: score.Pos.AlignedRef,
		AmpLocalCosts: score.Amp.LocalCosts,
		AmpAlignedRef: score.Amp.AlignedRef,
		SpdLocalCosts: score.Spd.LocalCosts,
		SpdAlignedRef: score.Spd.AlignedRef,
	}
}

// decodeFramePayload accepts both "data:image/jpeg;base64,…" and raw
// base64 payloads.
func decodeFramePayload(data string) ([]byte, error) {
	if data == "" {
		return nil, errors.New("empty frame payload")
	}
	if idx := strings.IndexByte(data, ','); idx >= 0 {
		data = data[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.New("invalid base64 frame payload")
	}
	return raw, nil
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, v any) {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, v); err != nil {
		monitoring.Logf("websocket write failed: %v", err)
	}
}
