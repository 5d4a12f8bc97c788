// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package refreshtimer

import "time"

// RefreshCondition decides when cached configurations have to be checked for changes.
type RefreshCondition interface {
	ShouldRefresh() bool
	Reset()
}

// RefreshTimer is a RefreshCondition that expires a fixed interval after its last reset.
type RefreshTimer struct {
	interval  time.Duration
	expiresAt time.Time
	now       func() time.Time
}

// New returns a timer expiring after interval. interval must be positive.
func New(interval time.Duration) *RefreshTimer {
	return newWithClock(interval, time.Now)
}

func newWithClock(interval time.Duration, now func() time.Time) *RefreshTimer {
	return &RefreshTimer{
		interval:  interval,
		expiresAt: now().Add(interval),
		now:       now,
	}
}

func (rt *RefreshTimer) ShouldRefresh() bool {
	return !rt.now().Before(rt.expiresAt)
}

func (rt *RefreshTimer) Reset() {
	rt.expiresAt = rt.now().Add(rt.interval)
}
