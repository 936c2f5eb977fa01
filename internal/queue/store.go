package queue

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/matunokihanten/noda/internal/clock"
	"github.com/matunokihanten/noda/internal/estimate"
	"github.com/matunokihanten/noda/internal/metrics"
	"github.com/matunokihanten/noda/internal/models"
)

const (
	RolloverKeep  = "keep"
	RolloverClear = "clear"
)

const serviceDateLayout = "2006-01-02"

type RegisterInput struct {
	Type           string
	Name           string
	TargetTime     string
	Adults         int
	Children       int
	Infants        int
	SeatPreference string
}

// Spooler turns a registered shop ticket into a print job. It is called
// with the store lock held and must not block.
type Spooler interface {
	Spool(ticket models.Ticket) error
}

// Notifier is told about new registrations after they are committed.
// Implementations deliver asynchronously.
type Notifier interface {
	Registered(ticket models.Ticket)
}

type Options struct {
	AbsenceTimeout    time.Duration
	Location          *time.Location
	RolloverPolicy    string
	ShopAutoArrive    bool
	MaxPartySize      int
	WaitAverageWindow int
	Estimate          estimate.Policy
	Settings          models.Settings
	Spooler           Spooler
	Notifier          Notifier
}

func DefaultOptions() Options {
	return Options{
		AbsenceTimeout:    10 * time.Minute,
		Location:          time.Local,
		RolloverPolicy:    RolloverKeep,
		ShopAutoArrive:    true,
		MaxPartySize:      20,
		WaitAverageWindow: 10,
		Estimate:          estimate.DefaultPolicy(),
		Settings:          models.Settings{PrinterEnabled: true},
	}
}

// Store is the authoritative waitlist. All state sits behind mu; timer
// callbacks take the same lock. Commit listeners run after mu is released,
// serialized by pubMu, which is acquired before mu is dropped so that
// listeners observe commits in version order. Listeners must not call
// back into the Store.
type Store struct {
	mu    sync.Mutex
	pubMu sync.Mutex

	clock  clock.Clock
	opts   Options
	timers *TimerRegistry

	tickets       []*models.Ticket
	nextNumber    int
	stats         models.Stats
	acceptance    models.Acceptance
	settings      models.Settings
	lastResetDate string
	version       int64

	listeners []func(models.Snapshot)
}

func NewStore(c clock.Clock, opts Options) *Store {
	if c == nil {
		c = clock.Real()
	}
	defaults := DefaultOptions()
	if opts.AbsenceTimeout <= 0 {
		opts.AbsenceTimeout = defaults.AbsenceTimeout
	}
	if opts.Location == nil {
		opts.Location = defaults.Location
	}
	if opts.RolloverPolicy != RolloverClear {
		opts.RolloverPolicy = RolloverKeep
	}
	if opts.MaxPartySize <= 0 {
		opts.MaxPartySize = defaults.MaxPartySize
	}
	if opts.WaitAverageWindow <= 0 {
		opts.WaitAverageWindow = defaults.WaitAverageWindow
	}
	s := &Store{
		clock:      c,
		opts:       opts,
		timers:     newTimerRegistry(c),
		nextNumber: 1,
		acceptance: models.Acceptance{IsAccepting: true},
		settings:   opts.Settings,
	}
	s.lastResetDate = s.serviceDateLocked()
	return s
}

// OnCommit registers fn to receive the snapshot of every committed
// mutation. The snapshot is shared between listeners and is read-only.
func (s *Store) OnCommit(fn func(models.Snapshot)) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Register appends a new ticket. A closed waitlist rejects every
// registration with ErrAcceptanceClosed before the input is looked at.
func (s *Store) Register(input RegisterInput) (models.Ticket, error) {
	s.mu.Lock()
	if !s.acceptance.IsAccepting {
		s.mu.Unlock()
		metrics.RejectedRegistrations.WithLabelValues("closed").Inc()
		return models.Ticket{}, ErrAcceptanceClosed
	}
	input, err := s.normalizeInput(input)
	if err != nil {
		s.mu.Unlock()
		metrics.RejectedRegistrations.WithLabelValues("invalid_input").Inc()
		return models.Ticket{}, err
	}
	s.appendLocked(input)
	snapshot, publish := s.commitLocked(models.ReasonRegistered)
	ticket := snapshot.Queue[len(snapshot.Queue)-1].Clone()
	if ticket.Type == models.TypeShop && s.settings.PrinterEnabled && s.opts.Spooler != nil {
		if err := s.opts.Spooler.Spool(ticket); err != nil {
			log.Printf("print spool failed ticket=%s err=%v", ticket.DisplayID, err)
		}
	}
	s.mu.Unlock()
	publish()

	metrics.Registrations.WithLabelValues(ticket.Type).Inc()
	if s.opts.Notifier != nil {
		s.opts.Notifier.Registered(ticket)
	}
	return ticket, nil
}

func (s *Store) normalizeInput(input RegisterInput) (RegisterInput, error) {
	if _, ok := models.PrefixForType(input.Type); !ok {
		return input, fmt.Errorf("%w: unknown ticket type %q", ErrInvalidInput, input.Type)
	}
	if input.Adults < 0 || input.Children < 0 || input.Infants < 0 {
		return input, fmt.Errorf("%w: party members must not be negative", ErrInvalidInput)
	}
	if input.Adults+input.Children+input.Infants == 0 {
		input.Adults = 1
	}
	if total := input.Adults + input.Children + input.Infants; total > s.opts.MaxPartySize {
		return input, fmt.Errorf("%w: party of %d exceeds %d", ErrInvalidInput, total, s.opts.MaxPartySize)
	}
	input.SeatPreference = strings.TrimSpace(input.SeatPreference)
	if input.SeatPreference == "" {
		input.SeatPreference = models.SeatAny
	}
	if !models.ValidSeatPreference(input.SeatPreference) {
		return input, fmt.Errorf("%w: unknown seat preference %q", ErrInvalidInput, input.SeatPreference)
	}
	input.Name = strings.TrimSpace(input.Name)
	input.TargetTime = strings.TrimSpace(input.TargetTime)
	if hasControl(input.Name) || hasControl(input.TargetTime) {
		return input, fmt.Errorf("%w: name and target time must not contain control characters", ErrInvalidInput)
	}
	return input, nil
}

// hasControl reports whether value holds a control character. Free text is
// printed verbatim on the ticket, where ESC and friends would be read as
// printer commands.
func hasControl(value string) bool {
	return strings.IndexFunc(value, unicode.IsControl) >= 0
}

func (s *Store) appendLocked(input RegisterInput) {
	prefix, _ := models.PrefixForType(input.Type)
	status := models.StatusWaiting
	if input.Type == models.TypeShop && s.opts.ShopAutoArrive {
		status = models.StatusArrived
	}
	s.tickets = append(s.tickets, &models.Ticket{
		DisplayID:      fmt.Sprintf("%s-%d", prefix, s.nextNumber),
		SequenceNumber: s.nextNumber,
		Type:           input.Type,
		Name:           input.Name,
		TargetTime:     input.TargetTime,
		Adults:         input.Adults,
		Children:       input.Children,
		Infants:        input.Infants,
		SeatPreference: input.SeatPreference,
		Status:         status,
		RegisteredAt:   s.clock.Now(),
	})
	s.nextNumber++
	s.stats.TotalToday++
}

// Transition moves a ticket to status. Completed and deleted tickets leave
// the queue; the returned ticket carries the final status either way.
func (s *Store) Transition(displayID, status string) (models.Ticket, error) {
	s.mu.Lock()
	ticket, err := s.transitionLocked(displayID, status)
	if err != nil {
		s.mu.Unlock()
		return models.Ticket{}, err
	}
	_, publish := s.commitLocked(models.ReasonStatusChanged)
	s.mu.Unlock()
	publish()

	metrics.Transitions.WithLabelValues(status).Inc()
	return ticket, nil
}

// CancelAbsent returns an absent ticket to the status it had before.
func (s *Store) CancelAbsent(displayID string) (models.Ticket, error) {
	s.mu.Lock()
	idx := s.indexLocked(displayID)
	if idx < 0 {
		s.mu.Unlock()
		return models.Ticket{}, fmt.Errorf("%w: %s", ErrTicketNotFound, displayID)
	}
	current := s.tickets[idx]
	if current.Status != models.StatusAbsent {
		s.mu.Unlock()
		return models.Ticket{}, fmt.Errorf("%w: %s is %s, not absent", ErrInvalidTransition, displayID, current.Status)
	}
	target := restoreTarget(current.PreviousStatus)
	ticket, err := s.transitionLocked(displayID, target)
	if err != nil {
		s.mu.Unlock()
		return models.Ticket{}, err
	}
	_, publish := s.commitLocked(models.ReasonStatusChanged)
	s.mu.Unlock()
	publish()

	metrics.Transitions.WithLabelValues(target).Inc()
	return ticket, nil
}

func (s *Store) transitionLocked(displayID, to string) (models.Ticket, error) {
	idx := s.indexLocked(displayID)
	if idx < 0 {
		return models.Ticket{}, fmt.Errorf("%w: %s", ErrTicketNotFound, displayID)
	}
	t := s.tickets[idx]
	if !ValidTransition(t.Status, to) {
		return models.Ticket{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	now := s.clock.Now()
	if t.Status == models.StatusAbsent {
		s.timers.cancelAbsence(t.DisplayID)
		t.AbsentAt = nil
		t.PreviousStatus = ""
	}
	switch to {
	case models.StatusCalled:
		t.CalledAt = &now
	case models.StatusAbsent:
		t.PreviousStatus = t.Status
		t.AbsentAt = &now
		s.timers.scheduleAbsence(t.DisplayID, s.opts.AbsenceTimeout, s.expireAbsence)
	case models.StatusCompleted:
		s.recordCompletionLocked(now.Sub(t.RegisteredAt))
	}
	t.Status = to

	out := t.Clone()
	if isTerminal(to) {
		s.removeLocked(idx)
	}
	return out, nil
}

func (s *Store) expireAbsence(displayID string, gen uint64) {
	s.mu.Lock()
	if !s.timers.claimAbsence(displayID, gen) {
		s.mu.Unlock()
		return
	}
	idx := s.indexLocked(displayID)
	if idx < 0 || s.tickets[idx].Status != models.StatusAbsent {
		s.mu.Unlock()
		return
	}
	s.removeLocked(idx)
	_, publish := s.commitLocked(models.ReasonAutoCancelled)
	s.mu.Unlock()
	publish()

	metrics.AutoCancels.Inc()
	log.Printf("absence timeout ticket=%s", displayID)
}

// SetAcceptance opens or closes registration. Closing with a positive
// resumeAfterMinutes schedules an automatic reopen; any earlier schedule
// is discarded.
func (s *Store) SetAcceptance(open bool, resumeAfterMinutes int) error {
	if resumeAfterMinutes < 0 {
		return fmt.Errorf("%w: resume minutes must not be negative", ErrInvalidInput)
	}
	s.mu.Lock()
	s.timers.cancelResume()
	s.acceptance = models.Acceptance{IsAccepting: open}
	if !open && resumeAfterMinutes > 0 {
		d := time.Duration(resumeAfterMinutes) * time.Minute
		resumeAt := s.clock.Now().Add(d)
		s.acceptance.ResumeAt = &resumeAt
		s.timers.scheduleResume(d, s.expireResume)
	}
	_, publish := s.commitLocked(models.ReasonAcceptanceChanged)
	s.mu.Unlock()
	publish()
	return nil
}

func (s *Store) expireResume(gen uint64) {
	s.mu.Lock()
	if !s.timers.claimResume(gen) {
		s.mu.Unlock()
		return
	}
	s.acceptance = models.Acceptance{IsAccepting: true}
	_, publish := s.commitLocked(models.ReasonAcceptanceResumed)
	s.mu.Unlock()
	publish()
	log.Printf("acceptance resumed")
}

func (s *Store) ResetSequence() error {
	s.mu.Lock()
	if len(s.tickets) > 0 {
		n := len(s.tickets)
		s.mu.Unlock()
		return fmt.Errorf("%w: %d tickets waiting", ErrQueueNotEmpty, n)
	}
	s.nextNumber = 1
	_, publish := s.commitLocked(models.ReasonSequenceReset)
	s.mu.Unlock()
	publish()
	return nil
}

// ResetStats zeroes the day's statistics. Tickets still in the queue stay
// counted in TotalToday so CompletedToday can never overtake it.
func (s *Store) ResetStats() {
	s.mu.Lock()
	s.resetStatsLocked()
	_, publish := s.commitLocked(models.ReasonStatsReset)
	s.mu.Unlock()
	publish()
}

// resetStatsLocked zeroes the stats except TotalToday, which restarts at
// the number of tickets still queued.
func (s *Store) resetStatsLocked() {
	s.stats = models.Stats{TotalToday: len(s.tickets)}
}

func (s *Store) SetPrinterEnabled(enabled bool) {
	s.mu.Lock()
	s.settings.PrinterEnabled = enabled
	_, publish := s.commitLocked(models.ReasonSettingsChanged)
	s.mu.Unlock()
	publish()
}

func (s *Store) SetWaitDisplay(enabled bool) {
	s.mu.Lock()
	s.settings.WaitTimeDisplayEnabled = enabled
	_, publish := s.commitLocked(models.ReasonSettingsChanged)
	s.mu.Unlock()
	publish()
}

func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked("")
}

func (s *Store) State() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.snapshotLocked("").State()
	state.SavedAt = s.clock.Now()
	return state
}

// PendingTimers reports how many absence and resume timers are armed.
func (s *Store) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.pending()
}

// Stop disarms every timer. The store stays usable; timers are re-armed
// by later transitions.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers.cancelAllAbsence()
	s.timers.cancelResume()
}

func (s *Store) recordCompletionLocked(wait time.Duration) {
	minutes := wait.Minutes()
	if minutes < 0 {
		minutes = 0
	}
	s.stats.CompletedToday++
	s.stats.RecentWaits = append(s.stats.RecentWaits, minutes)
	if over := len(s.stats.RecentWaits) - s.opts.WaitAverageWindow; over > 0 {
		s.stats.RecentWaits = append([]float64(nil), s.stats.RecentWaits[over:]...)
	}
	var sum float64
	for _, w := range s.stats.RecentWaits {
		sum += w
	}
	s.stats.AverageWaitMinutes = sum / float64(len(s.stats.RecentWaits))
}

func (s *Store) indexLocked(displayID string) int {
	for i, t := range s.tickets {
		if t.DisplayID == displayID {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(idx int) {
	s.tickets = append(s.tickets[:idx], s.tickets[idx+1:]...)
}

func (s *Store) serviceDateLocked() string {
	return s.clock.Now().In(s.opts.Location).Format(serviceDateLayout)
}

// commitLocked bumps the version and takes the publish lock. The returned
// func must be called after mu is released; it runs the listeners and
// releases the publish lock.
func (s *Store) commitLocked(reason string) (models.Snapshot, func()) {
	s.version++
	snapshot := s.snapshotLocked(reason)
	metrics.QueueLength.Set(float64(len(s.tickets)))
	s.pubMu.Lock()
	return snapshot, func() {
		defer s.pubMu.Unlock()
		for _, fn := range s.listeners {
			fn(snapshot)
		}
	}
}

func (s *Store) snapshotLocked(reason string) models.Snapshot {
	queue := make([]models.Ticket, 0, len(s.tickets))
	position := 0
	for _, t := range s.tickets {
		ticket := t.Clone()
		ticket.EstimatedWaitMinutes = nil
		switch ticket.Status {
		case models.StatusWaiting, models.StatusArrived:
			if s.settings.WaitTimeDisplayEnabled {
				wait := s.opts.Estimate.Estimate(position, s.stats.AverageWaitMinutes)
				ticket.EstimatedWaitMinutes = &wait
			}
			position++
		}
		queue = append(queue, ticket)
	}
	snapshot := models.Snapshot{
		Version:                s.version,
		Reason:                 reason,
		Queue:                  queue,
		Stats:                  s.stats.Clone(),
		IsAccepting:            s.acceptance.IsAccepting,
		PrinterEnabled:         s.settings.PrinterEnabled,
		WaitTimeDisplayEnabled: s.settings.WaitTimeDisplayEnabled,
		NextNumber:             s.nextNumber,
		ServiceDate:            s.lastResetDate,
	}
	if s.acceptance.ResumeAt != nil {
		resumeAt := *s.acceptance.ResumeAt
		snapshot.ResumeAt = &resumeAt
	}
	return snapshot
}
