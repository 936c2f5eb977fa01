package queue

import "errors"

var (
	ErrAcceptanceClosed  = errors.New("acceptance closed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQueueNotEmpty     = errors.New("queue not empty")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrInvalidInput      = errors.New("invalid input")
)
