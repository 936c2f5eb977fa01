package models

import "time"

type Stats struct {
	TotalToday         int       `json:"totalToday"`
	CompletedToday     int       `json:"completedToday"`
	AverageWaitMinutes float64   `json:"averageWaitTime"`
	RecentWaits        []float64 `json:"recentWaits,omitempty"`
}

func (s Stats) Clone() Stats {
	out := s
	if s.RecentWaits != nil {
		out.RecentWaits = append([]float64(nil), s.RecentWaits...)
	}
	return out
}

type Acceptance struct {
	IsAccepting bool       `json:"isAccepting"`
	ResumeAt    *time.Time `json:"resumeAt,omitempty"`
}

type Settings struct {
	PrinterEnabled         bool `json:"printerEnabled"`
	WaitTimeDisplayEnabled bool `json:"waitTimeDisplayEnabled"`
}

// Snapshot is the point-in-time view pushed to viewers after each commit.
type Snapshot struct {
	Version                int64      `json:"version"`
	Reason                 string     `json:"reason,omitempty"`
	Queue                  []Ticket   `json:"queue"`
	Stats                  Stats      `json:"stats"`
	IsAccepting            bool       `json:"isAccepting"`
	ResumeAt               *time.Time `json:"resumeAt,omitempty"`
	PrinterEnabled         bool       `json:"printerEnabled"`
	WaitTimeDisplayEnabled bool       `json:"waitTimeDisplayEnabled"`
	NextNumber             int        `json:"nextNumber"`
	ServiceDate            string     `json:"serviceDate"`
}

// State is the persisted record, written after every commit and read
// once at startup.
type State struct {
	Tickets       []Ticket   `json:"queue"`
	NextNumber    int        `json:"nextNumber"`
	Stats         Stats      `json:"stats"`
	Acceptance    Acceptance `json:"acceptance"`
	Settings      Settings   `json:"settings"`
	LastResetDate string     `json:"lastResetDate"`
	Version       int64      `json:"version"`
	SavedAt       time.Time  `json:"savedAt"`
}

const (
	ReasonRegistered        = "registered"
	ReasonStatusChanged     = "status_changed"
	ReasonAutoCancelled     = "auto_cancelled"
	ReasonAcceptanceChanged = "acceptance_changed"
	ReasonAcceptanceResumed = "acceptance_resumed"
	ReasonSequenceReset     = "sequence_reset"
	ReasonStatsReset        = "stats_reset"
	ReasonSettingsChanged   = "settings_changed"
	ReasonRollover          = "rollover"
	ReasonRestored          = "restored"
)

// State converts a snapshot into its persisted form. Estimates are
// derived data and are dropped; SavedAt is left for the writer to set.
func (s Snapshot) State() State {
	tickets := make([]Ticket, 0, len(s.Queue))
	for _, t := range s.Queue {
		ticket := t.Clone()
		ticket.EstimatedWaitMinutes = nil
		tickets = append(tickets, ticket)
	}
	state := State{
		Tickets:    tickets,
		NextNumber: s.NextNumber,
		Stats:      s.Stats.Clone(),
		Acceptance: Acceptance{IsAccepting: s.IsAccepting},
		Settings: Settings{
			PrinterEnabled:         s.PrinterEnabled,
			WaitTimeDisplayEnabled: s.WaitTimeDisplayEnabled,
		},
		LastResetDate: s.ServiceDate,
		Version:       s.Version,
	}
	if s.ResumeAt != nil {
		resumeAt := *s.ResumeAt
		state.Acceptance.ResumeAt = &resumeAt
	}
	return state
}
