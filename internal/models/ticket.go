package models

import "time"

type Ticket struct {
	DisplayID            string     `json:"displayId"`
	SequenceNumber       int        `json:"sequenceNumber"`
	Type                 string     `json:"type"`
	Name                 string     `json:"name,omitempty"`
	TargetTime           string     `json:"targetTime,omitempty"`
	Adults               int        `json:"adults"`
	Children             int        `json:"children"`
	Infants              int        `json:"infants"`
	SeatPreference       string     `json:"pref"`
	Status               string     `json:"status"`
	PreviousStatus       string     `json:"previousStatus,omitempty"`
	RegisteredAt         time.Time  `json:"registeredAt"`
	CalledAt             *time.Time `json:"calledAt,omitempty"`
	AbsentAt             *time.Time `json:"absentAt,omitempty"`
	EstimatedWaitMinutes *int       `json:"estimatedWaitMinutes"`
}

const (
	StatusWaiting   = "waiting"
	StatusArrived   = "arrived"
	StatusCalled    = "called"
	StatusAbsent    = "absent"
	StatusCompleted = "completed"
	StatusDeleted   = "deleted"
)

const (
	TypeShop = "shop"
	TypeWeb  = "web"
)

const (
	SeatAny     = "any"
	SeatTable   = "table"
	SeatCounter = "counter"
	SeatPrivate = "private"
)

func (t Ticket) PartySize() int {
	return t.Adults + t.Children + t.Infants
}

// Clone returns a copy that shares no pointers with t.
func (t Ticket) Clone() Ticket {
	out := t
	if t.CalledAt != nil {
		calledAt := *t.CalledAt
		out.CalledAt = &calledAt
	}
	if t.AbsentAt != nil {
		absentAt := *t.AbsentAt
		out.AbsentAt = &absentAt
	}
	if t.EstimatedWaitMinutes != nil {
		wait := *t.EstimatedWaitMinutes
		out.EstimatedWaitMinutes = &wait
	}
	return out
}

func ValidSeatPreference(value string) bool {
	switch value {
	case SeatAny, SeatTable, SeatCounter, SeatPrivate:
		return true
	}
	return false
}

func PrefixForType(ticketType string) (string, bool) {
	switch ticketType {
	case TypeShop:
		return "S", true
	case TypeWeb:
		return "W", true
	}
	return "", false
}
