package queue

import (
	"time"

	"github.com/matunokihanten/noda/internal/clock"
)

// TimerRegistry tracks the absence timers (one per ticket) and the single
// acceptance-resume timer. It is not safe on its own: every method must be
// called with the owning Store's lock held.
//
// Each handle carries a generation number. Callbacks receive it and the
// Store compares it against the registry under its lock, so a timer that
// fires while it is being cancelled or replaced does nothing.
type TimerRegistry struct {
	clock      clock.Clock
	absence    map[string]timerHandle
	resume     *timerHandle
	generation uint64
}

type timerHandle struct {
	timer *clock.Timer
	gen   uint64
}

func newTimerRegistry(c clock.Clock) *TimerRegistry {
	return &TimerRegistry{clock: c, absence: make(map[string]timerHandle)}
}

func (r *TimerRegistry) schedule(d time.Duration, fire func(gen uint64)) timerHandle {
	r.generation++
	gen := r.generation
	return timerHandle{gen: gen, timer: r.clock.AfterFunc(d, func() { fire(gen) })}
}

// scheduleAbsence starts or restarts the absence timer of displayID.
// d must be positive.
func (r *TimerRegistry) scheduleAbsence(displayID string, d time.Duration, fire func(displayID string, gen uint64)) {
	r.cancelAbsence(displayID)
	r.absence[displayID] = r.schedule(d, func(gen uint64) { fire(displayID, gen) })
}

func (r *TimerRegistry) cancelAbsence(displayID string) {
	handle, ok := r.absence[displayID]
	if !ok {
		return
	}
	handle.timer.Stop()
	delete(r.absence, displayID)
}

func (r *TimerRegistry) cancelAllAbsence() {
	for displayID := range r.absence {
		r.cancelAbsence(displayID)
	}
}

// claimAbsence reports whether gen is still the live absence timer of
// displayID and, if so, removes it from the registry.
func (r *TimerRegistry) claimAbsence(displayID string, gen uint64) bool {
	handle, ok := r.absence[displayID]
	if !ok || handle.gen != gen {
		return false
	}
	delete(r.absence, displayID)
	return true
}

func (r *TimerRegistry) scheduleResume(d time.Duration, fire func(gen uint64)) {
	r.cancelResume()
	handle := r.schedule(d, fire)
	r.resume = &handle
}

func (r *TimerRegistry) cancelResume() {
	if r.resume == nil {
		return
	}
	r.resume.timer.Stop()
	r.resume = nil
}

func (r *TimerRegistry) claimResume(gen uint64) bool {
	if r.resume == nil || r.resume.gen != gen {
		return false
	}
	r.resume = nil
	return true
}

func (r *TimerRegistry) pending() int {
	count := len(r.absence)
	if r.resume != nil {
		count++
	}
	return count
}
