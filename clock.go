// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"sync/atomic"
	"time"
)

// A Clock reports the current time in milliseconds. Deadlines for
// acknowledgements and calls are computed relative to its readings.
type Clock interface {
	Now() int64
}

// SystemClock returns a Clock that reads the wall clock.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().UnixMilli() }

// ManualClock is a Clock whose time changes only when it is set or advanced.
// It is safe for concurrent use.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock returns a ManualClock reading ms.
func NewManualClock(ms int64) *ManualClock {
	c := new(ManualClock)
	c.now.Store(ms)
	return c
}

// Now implements the Clock interface.
func (c *ManualClock) Now() int64 { return c.now.Load() }

// Set sets the current time of c to ms.
func (c *ManualClock) Set(ms int64) { c.now.Store(ms) }

// Advance moves c forward by d, truncated to milliseconds, and returns the
// new time.
func (c *ManualClock) Advance(d time.Duration) int64 { return c.now.Add(d.Milliseconds()) }
