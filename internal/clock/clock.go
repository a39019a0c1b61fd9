// Package clock abstracts wall time and delayed execution so that
// escalation delays and health decay can be driven by tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock supplies the current time and runs f once after d has elapsed.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func())
}

// Real is backed by the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

func (Real) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

type pending struct {
	at  time.Time
	seq int
	f   func()
}

// Fake only moves when Advance or Set is called. Callbacks that become due
// run synchronously on the advancing goroutine, in due order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []pending
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) {
	f.mu.Lock()
	f.seq++
	f.pending = append(f.pending, pending{at: f.now.Add(d), seq: f.seq, f: fn})
	f.mu.Unlock()
}

// Pending reports how many callbacks have not fired yet.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Advance moves the clock forward by d, firing due callbacks.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	f.Set(target)
}

// Set moves the clock to t. Callbacks scheduled by fired callbacks are
// honoured if they fall due before t.
func (f *Fake) Set(t time.Time) {
	for {
		f.mu.Lock()
		sort.Slice(f.pending, func(i, j int) bool {
			if f.pending[i].at.Equal(f.pending[j].at) {
				return f.pending[i].seq < f.pending[j].seq
			}
			return f.pending[i].at.Before(f.pending[j].at)
		})
		if len(f.pending) == 0 || f.pending[0].at.After(t) {
			if t.After(f.now) {
				f.now = t
			}
			f.mu.Unlock()
			return
		}
		next := f.pending[0]
		f.pending = f.pending[1:]
		if next.at.After(f.now) {
			f.now = next.at
		}
		f.mu.Unlock()
		next.f()
	}
}
