package motion

import (
	"time"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

// Source identifies which location subsystem produced a sample. Exactly one
// source is authoritative per participant, selected by platform up front.
// Fallback samples are only accepted after the authoritative feed has shown
// no positional variance for longer than the stall threshold.
type Source string

const (
	SourceAuthoritative Source = "authoritative"
	SourceFallback      Source = "fallback"
)

// Sample is one raw position reading from a geolocation source.
type Sample struct {
	Lat      float64
	Lon      float64
	SpeedMs  *float64 // reported speed, if the source provides one
	At       time.Time
	Source   Source
	Accuracy float64 // in meters, 0 when unknown
}

const (
	// DefaultMaxSpeedMs rejects samples implying faster movement than any
	// road vehicle manages: 250 km/h.
	DefaultMaxSpeedMs = 69.4

	// DefaultStallThreshold is how long the authoritative feed may sit
	// without positional variance before fallback samples are accepted.
	DefaultStallThreshold = 45 * time.Second

	// varianceEpsilonKm below which two positions count as "no movement".
	varianceEpsilonKm = 0.005
)

// Estimator converts raw position samples into filtered distance, speed and
// time statistics. It accepts a sample only when its time delta from the
// previous accepted sample is positive and the derived instantaneous speed
// stays under the implausibility ceiling.
type Estimator struct {
	maxSpeedMs float64
	stall      time.Duration

	last       *Sample
	lastMoveAt time.Time

	totalKm    float64
	movingSec  float64
	topSpeedMs float64
	samples    int
}

// NewEstimator creates an estimator with the default filter thresholds.
func NewEstimator() *Estimator {
	return &Estimator{
		maxSpeedMs: DefaultMaxSpeedMs,
		stall:      DefaultStallThreshold,
	}
}

// NewEstimatorWith creates an estimator with explicit thresholds.
func NewEstimatorWith(maxSpeedMs float64, stall time.Duration) *Estimator {
	return &Estimator{maxSpeedMs: maxSpeedMs, stall: stall}
}

// Offer feeds one raw sample. It returns true when the sample was accepted
// into the accumulated statistics.
func (e *Estimator) Offer(s Sample) bool {
	if s.Source == SourceFallback && !e.stalled(s.At) {
		return false
	}

	if e.last == nil {
		e.accept(s, 0, 0)
		return true
	}

	dt := s.At.Sub(e.last.At).Seconds()
	if dt <= 0 {
		return false
	}

	distKm := HaversineKm(e.last.Lat, e.last.Lon, s.Lat, s.Lon)
	speedMs := distKm * 1000 / dt
	if speedMs > e.maxSpeedMs {
		// GPS jump
		return false
	}

	e.accept(s, distKm, dt)
	return true
}

func (e *Estimator) accept(s Sample, distKm, dtSec float64) {
	e.totalKm += distKm
	e.movingSec += dtSec
	e.samples++

	speedMs := 0.0
	if dtSec > 0 {
		speedMs = distKm * 1000 / dtSec
	}
	// a reported speed is subject to the same ceiling as a derived one
	if s.SpeedMs != nil && *s.SpeedMs >= 0 && *s.SpeedMs <= e.maxSpeedMs {
		speedMs = *s.SpeedMs
	}
	if speedMs > e.topSpeedMs {
		e.topSpeedMs = speedMs
	}

	if s.Source == SourceAuthoritative {
		if e.last == nil || distKm > varianceEpsilonKm {
			e.lastMoveAt = s.At
		}
	}
	cp := s
	e.last = &cp
}

// Rebase drops the sample anchor so the next sample is accepted like the
// first of a ride, with a zero time delta. Called across a pause/resume
// cycle: the suspended wall-clock interval must not count as moving time.
// Accumulated statistics are untouched.
func (e *Estimator) Rebase() {
	e.last = nil
}

// stalled reports whether the authoritative feed has produced no variance
// for longer than the stall threshold.
func (e *Estimator) stalled(now time.Time) bool {
	if e.lastMoveAt.IsZero() {
		return e.last == nil
	}
	return now.Sub(e.lastMoveAt) > e.stall
}

// Current returns the last accepted position.
func (e *Estimator) Current() (models.Location, bool) {
	if e.last == nil {
		return models.Location{}, false
	}
	return models.Location{Lat: e.last.Lat, Lon: e.last.Lon}, true
}

// LastSpeedMs returns the most recent instantaneous speed in m/s.
func (e *Estimator) LastSpeedMs() float64 {
	if e.last == nil {
		return 0
	}
	if e.last.SpeedMs != nil {
		return *e.last.SpeedMs
	}
	return 0
}

// Accepted returns how many samples have been accepted.
func (e *Estimator) Accepted() int {
	return e.samples
}

// Stats returns the accumulated ride statistics. Average speed is weighted
// by moving time, not by sample count.
func (e *Estimator) Stats() models.SnapshotStats {
	avgKmh := 0.0
	if e.movingSec > 0 {
		avgKmh = e.totalKm / (e.movingSec / 3600)
	}
	return models.SnapshotStats{
		TotalDistanceKm: e.totalKm,
		TotalTimeSec:    e.movingSec,
		AvgSpeedKmh:     avgKmh,
		TopSpeedKmh:     e.topSpeedMs * 3.6,
	}
}

// Restore seeds the accumulators from a persisted snapshot so a recovered
// ride continues from its last known statistics.
func (e *Estimator) Restore(st models.SnapshotStats) {
	e.totalKm = st.TotalDistanceKm
	e.movingSec = st.TotalTimeSec
	e.topSpeedMs = st.TopSpeedKmh / 3.6
}
