package printer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Job struct {
	Token     string
	DisplayID string
	Payload   []byte
	StagedAt  time.Time
}

// Channel holds at most one print job for the polling printer. Staging a
// job while another is outstanding replaces it: when registrations outrun
// the printer's polling, the most recent ticket is the one printed.
type Channel struct {
	mu         sync.Mutex
	job        *Job
	lastPollAt time.Time
	now        func() time.Time
	onReplace  func(dropped Job)
}

func NewChannel(now func() time.Time) *Channel {
	if now == nil {
		now = time.Now
	}
	return &Channel{now: now}
}

// OnReplace registers a hook called when a staged job is replaced before
// being acknowledged. It runs with the channel lock held and must not
// call back into the channel.
func (c *Channel) OnReplace(fn func(dropped Job)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReplace = fn
}

func (c *Channel) Stage(displayID string, payload []byte) Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job != nil && c.onReplace != nil {
		c.onReplace(*c.job)
	}
	job := Job{
		Token:     uuid.NewString(),
		DisplayID: displayID,
		Payload:   append([]byte(nil), payload...),
		StagedAt:  c.now(),
	}
	c.job = &job
	return job
}

func (c *Channel) HasJob() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job != nil
}

// Poll answers the printer's readiness check and records when it was
// last seen.
func (c *Channel) Poll() (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPollAt = c.now()
	if c.job == nil {
		return Job{}, false
	}
	return c.job.copy(), true
}

// Fetch returns the staged job without consuming it; the printer may
// retry the download until it acknowledges. An empty token matches any
// job.
func (c *Channel) Fetch(token string) (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return Job{}, false
	}
	if token != "" && token != c.job.Token {
		return Job{}, false
	}
	return c.job.copy(), true
}

// Acknowledge clears the staged job. An empty token clears whatever is
// staged; a token that names an older, replaced job is ignored so that a
// late completion report cannot discard a ticket that was never printed.
func (c *Channel) Acknowledge(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return false
	}
	if token != "" && token != c.job.Token {
		return false
	}
	c.job = nil
	return true
}

func (c *Channel) Peek() (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return Job{}, false
	}
	return c.job.copy(), true
}

func (c *Channel) LastPollAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPollAt
}

func (j Job) copy() Job {
	j.Payload = append([]byte(nil), j.Payload...)
	return j
}
