// Package motion implements the motion-capture session core: landmark
// feature extraction, channel building, DTW scoring against stored
// reference templates, and persistence of per-session results.
//
// The ingest transport (internal/motion/ingest) and the HTTP read side
// (internal/motion/monitor) are thin shells around this package; neither
// is imported from here.
package motion
