package engine

import "time"

// Timer is a pending callback scheduled on a Clock.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so supervisor timers can be driven deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
