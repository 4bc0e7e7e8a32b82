// Package alerting classifies fill events into severity-tiered alerts:
// large trades against fixed notional thresholds and volume spikes against
// a per-account rolling window.
package alerting

import (
	"sync"
	"time"

	"github.com/perpwatch/engine/internal/domain"
)

// VolumeSample records a single fill's notional volume at a point in time.
type VolumeSample struct {
	Volume float64
	Time   time.Time
}

// VolumeTracker maintains a sliding window of recent fill volumes for each
// account. It is the classifier's private state; samples older than the
// window are discarded on every Track call.
type VolumeTracker struct {
	history    map[domain.AccountKey][]VolumeSample
	windowSize time.Duration
	mu         sync.RWMutex
}

// NewVolumeTracker creates a VolumeTracker with the given sliding window.
func NewVolumeTracker(windowSize time.Duration) *VolumeTracker {
	return &VolumeTracker{
		history:    make(map[domain.AccountKey][]VolumeSample),
		windowSize: windowSize,
	}
}

// Track records a new volume observation for the account and trims samples
// that have fallen outside the sliding window.
func (vt *VolumeTracker) Track(acct domain.AccountKey, volume float64, ts time.Time) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	vt.history[acct] = append(vt.history[acct], VolumeSample{
		Volume: volume,
		Time:   ts,
	})
	vt.trim(acct, ts)
}

// Average returns the arithmetic mean of the volumes in the window and the
// number of samples it covers. Zero samples yield a zero average.
func (vt *VolumeTracker) Average(acct domain.AccountKey) (avg float64, n int) {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	samples := vt.history[acct]
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Volume
	}
	return sum / float64(len(samples)), len(samples)
}

// trim removes all samples older than windowSize relative to the reference
// time. The caller must hold vt.mu.
func (vt *VolumeTracker) trim(acct domain.AccountKey, now time.Time) {
	cutoff := now.Add(-vt.windowSize)
	samples := vt.history[acct]

	i := 0
	for i < len(samples) && samples[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		vt.history[acct] = samples[i:]
	}
}
