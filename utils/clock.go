package utils

import "time"

// Clock is injected wherever booking timestamps, code expiry or sweep
// windows are computed, so tests can move time deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock returns the wall clock in UTC.
func RealClock() Clock { return realClock{} }
