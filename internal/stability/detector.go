// Package stability decides when a weight reading has settled enough to report.
package stability

import "github.com/filaman/spoolscale/internal/device"

// Config tunes the detector. Weights are in grams.
type Config struct {
	// Tolerance is the largest change still counted as stable.
	Tolerance int
	// MinWeight must be exceeded for a sample to count, so an empty
	// platform never settles.
	MinWeight int
	// Threshold is the number of stable samples that must be exceeded
	// before a report fires.
	Threshold int
}

// DefaultConfig returns the firmware defaults: ±2 g, above 5 g, more than 3 samples.
func DefaultConfig() Config {
	return Config{Tolerance: 2, MinWeight: 5, Threshold: 3}
}

// Detector applies the stability rule to a device state. It holds no
// state of its own; the counter lives in device.State.StabilityCount.
type Detector struct {
	cfg Config
}

// New creates a Detector.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Sample applies one sample tick to s and reports whether a weight report
// is due. When it returns true it has already set s.TagProcessed; the
// caller owns sending exactly that one report.
//
// Outside the idle and read-success phases, including a whole write
// session, the counter is held at zero and nothing fires.
func (d *Detector) Sample(s *device.State) bool {
	if s.TagState != device.TagIdle && s.TagState != device.TagReadSuccess {
		s.StabilityCount = 0
		return false
	}

	delta := int(s.Weight) - int(s.LastWeight)
	if delta < 0 {
		delta = -delta
	}
	if delta <= d.cfg.Tolerance && int(s.Weight) > d.cfg.MinWeight {
		if s.StabilityCount < ^uint8(0) {
			s.StabilityCount++
		}
	} else {
		s.StabilityCount = 0
	}
	return d.Check(s)
}

// Check reports whether a weight report is due without counting a sample.
// It is evaluated between sample ticks so a tag read on an already settled
// spool reports on the next iteration. Like Sample it sets s.TagProcessed
// when it returns true.
//
// A session with no spool identity, such as a location tag read on an
// empty platform, never fires: there is nothing to attribute the weight to.
func (d *Detector) Check(s *device.State) bool {
	if int(s.StabilityCount) > d.cfg.Threshold &&
		s.TagState == device.TagReadSuccess &&
		!s.TagProcessed &&
		HasIdentity(s) {
		s.TagProcessed = true
		return true
	}
	return false
}

// HasIdentity reports whether s names a spool a weight can be reported for.
func HasIdentity(s *device.State) bool {
	return s.ActiveSpoolID != "" || s.ActiveTagUUID != ""
}

// Reset clears the counter, as when a write begins or the tag is removed.
func Reset(s *device.State) {
	s.StabilityCount = 0
}
