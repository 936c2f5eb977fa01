package queue

import (
	"context"
	"log"
	"time"

	"github.com/matunokihanten/noda/internal/metrics"
	"github.com/matunokihanten/noda/internal/models"
)

// CheckRollover starts a new service day when the local date has changed
// since the last reset. It reports whether a rollover was applied.
func (s *Store) CheckRollover() bool {
	s.mu.Lock()
	if !s.rolloverLocked() {
		s.mu.Unlock()
		return false
	}
	_, publish := s.commitLocked(models.ReasonRollover)
	s.mu.Unlock()
	publish()

	metrics.Rollovers.Inc()
	return true
}

func (s *Store) rolloverLocked() bool {
	today := s.serviceDateLocked()
	if today == s.lastResetDate {
		return false
	}
	previous := s.lastResetDate
	s.lastResetDate = today

	s.timers.cancelAllAbsence()
	if s.opts.RolloverPolicy == RolloverClear {
		s.tickets = nil
	} else {
		kept := s.tickets[:0]
		for _, t := range s.tickets {
			if t.Status != models.StatusAbsent {
				kept = append(kept, t)
			}
		}
		for i := len(kept); i < len(s.tickets); i++ {
			s.tickets[i] = nil
		}
		s.tickets = kept
	}
	if len(s.tickets) == 0 {
		s.nextNumber = 1
	}
	s.resetStatsLocked()
	log.Printf("service day rollover from=%s to=%s policy=%s carried=%d", previous, today, s.opts.RolloverPolicy, len(s.tickets))
	return true
}

// RunRollover checks for a date change on every tick of interval until ctx
// is done.
func (s *Store) RunRollover(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckRollover()
		}
	}
}

// Restore replaces the in-memory state with a persisted record. Absence
// and resume timers are re-armed for their remaining time, deadlines that
// passed while the service was down are applied at once, and the rollover
// check runs before the result is published.
func (s *Store) Restore(state models.State) {
	s.mu.Lock()
	s.timers.cancelAllAbsence()
	s.timers.cancelResume()

	now := s.clock.Now()
	s.tickets = s.tickets[:0]
	seen := make(map[string]bool, len(state.Tickets))
	maxSequence := 0
	for _, stored := range state.Tickets {
		if stored.SequenceNumber > maxSequence {
			maxSequence = stored.SequenceNumber
		}
		if seen[stored.DisplayID] || !restorable(stored.Status) {
			continue
		}
		seen[stored.DisplayID] = true
		ticket := stored.Clone()
		ticket.EstimatedWaitMinutes = nil
		if ticket.Status == models.StatusAbsent {
			remaining := s.opts.AbsenceTimeout
			if ticket.AbsentAt != nil {
				remaining = ticket.AbsentAt.Add(s.opts.AbsenceTimeout).Sub(now)
			}
			if remaining <= 0 {
				log.Printf("restore dropped expired absent ticket=%s", ticket.DisplayID)
				continue
			}
			s.timers.scheduleAbsence(ticket.DisplayID, remaining, s.expireAbsence)
		}
		s.tickets = append(s.tickets, &ticket)
	}

	s.nextNumber = state.NextNumber
	if s.nextNumber <= maxSequence {
		s.nextNumber = maxSequence + 1
	}
	if s.nextNumber < 1 {
		s.nextNumber = 1
	}
	s.stats = state.Stats.Clone()
	s.settings = state.Settings
	s.lastResetDate = state.LastResetDate
	s.version = state.Version

	s.acceptance = models.Acceptance{IsAccepting: state.Acceptance.IsAccepting}
	if !state.Acceptance.IsAccepting && state.Acceptance.ResumeAt != nil {
		remaining := state.Acceptance.ResumeAt.Sub(now)
		if remaining <= 0 {
			s.acceptance.IsAccepting = true
		} else {
			resumeAt := *state.Acceptance.ResumeAt
			s.acceptance.ResumeAt = &resumeAt
			s.timers.scheduleResume(remaining, s.expireResume)
		}
	}

	reason := models.ReasonRestored
	if s.rolloverLocked() {
		reason = models.ReasonRollover
	}
	_, publish := s.commitLocked(reason)
	s.mu.Unlock()
	publish()
}

func restorable(status string) bool {
	switch status {
	case models.StatusWaiting, models.StatusArrived, models.StatusCalled, models.StatusAbsent:
		return true
	}
	return false
}
