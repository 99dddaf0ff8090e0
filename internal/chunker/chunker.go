// Package chunker picks the outbound chunk size for a transfer. It
// chooses a size within a configured [default, max] band (itself
// clamped to the data model's [4 KiB, 16 MiB] invariant) using a
// network-free heuristic fed by internal/telemetry: fast links and
// large files get bigger chunks; the default is returned when nothing
// is known yet about the link.
package chunker

import (
	"github.com/filemesh/filemesh/internal/telemetry"
	"github.com/filemesh/filemesh/pkg/models"
)

// Sizer controls how outbound chunk sizes are chosen.
type Sizer struct {
	defaultSize models.ByteSize
	maxSize     models.ByteSize

	// telemetry provides live bandwidth/RTT stats the heuristic uses to
	// nudge the chosen size upward on fast, low-latency links. Optional;
	// a nil telemetry always yields DefaultSize.
	telemetry *telemetry.Collector
}

// New builds a Sizer. defaultSize and maxSize are clamped to
// [models.MinChunkSize, models.MaxChunkSize] and to each other so
// defaultSize never exceeds maxSize.
func New(defaultSize, maxSize models.ByteSize, t *telemetry.Collector) *Sizer {
	s := &Sizer{defaultSize: clamp(defaultSize), maxSize: clamp(maxSize), telemetry: t}
	if s.defaultSize > s.maxSize {
		s.defaultSize = s.maxSize
	}
	return s
}

func clamp(size models.ByteSize) models.ByteSize {
	switch {
	case size < models.MinChunkSize:
		return models.MinChunkSize
	case size > models.MaxChunkSize:
		return models.MaxChunkSize
	default:
		return size
	}
}

// ChooseStatic returns the configured default chunk size, ignoring file
// size and link conditions.
func (s *Sizer) ChooseStatic() models.ByteSize {
	return s.defaultSize
}

// ChooseAdaptive picks a chunk size for a file of fileSize bytes,
// nudged upward from DefaultSize toward MaxSize when the observed link
// is fast and low-latency. Files of 1 MiB or less always get DefaultSize
// so short transfers still report frequent progress. Always within
// [DefaultSize, MaxSize] as required by the supplemental heuristic.
func (s *Sizer) ChooseAdaptive(fileSize models.ByteSize) models.ByteSize {
	const (
		smallFile = 1 * 1024 * 1024 // below this, prefer the floor for responsive progress
		fastMbps  = 50.0            // above this bandwidth, allow growth toward MaxSize
		lowRTTMs  = 50.0            // below this latency, allow growth toward MaxSize
	)

	if fileSize <= smallFile {
		return s.defaultSize
	}

	chosen := s.defaultSize
	if s.telemetry != nil {
		bw := s.telemetry.BandwidthMbps()
		rtt := s.telemetry.LatencyMs()
		if bw >= fastMbps && (rtt == 0 || rtt <= lowRTTMs) {
			// Fast, responsive link: grow to four times DefaultSize,
			// capped at MaxSize.
			grown := s.defaultSize * 4
			if grown > s.maxSize {
				grown = s.maxSize
			}
			chosen = grown
		}
	}

	return clamp(chosen)
}
