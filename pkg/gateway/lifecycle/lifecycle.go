// Package lifecycle holds process state shared by the relay's handlers.
package lifecycle

import (
	"sync"
	"time"
)

// Lifecycle records whether the process is draining and since when.
type Lifecycle struct {
	mu           sync.Mutex
	drainingFrom time.Time
}

// BeginDrain marks the process as draining. It returns false if a drain was
// already in progress.
func (l *Lifecycle) BeginDrain(now time.Time) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.drainingFrom.IsZero() {
		return false
	}
	l.drainingFrom = now
	return true
}

func (l *Lifecycle) IsDraining() bool {
	_, ok := l.DrainingSince()
	return ok
}

// DrainingSince returns when the drain began.
func (l *Lifecycle) DrainingSince() (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drainingFrom, !l.drainingFrom.IsZero()
}
