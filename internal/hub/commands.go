package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/matunokihanten/noda/internal/models"
	"github.com/matunokihanten/noda/internal/queue"
	"github.com/matunokihanten/noda/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	CmdRegister           = "register"
	CmdUpdateStatus       = "updateStatus"
	CmdSetAcceptance      = "setAcceptance"
	CmdResetQueueNumber   = "resetQueueNumber"
	CmdResetStats         = "resetStats"
	CmdSetPrinterEnabled  = "setPrinterEnabled"
	CmdSetWaitTimeDisplay = "setWaitTimeDisplay"
)

// StatusCancelAbsent is accepted by updateStatus in place of a status to
// return an absent guest to the queue.
const StatusCancelAbsent = "cancel_absent"

var errUnknownCommand = errors.New("unknown command")

// Queue is the part of the waitlist the hub drives.
type Queue interface {
	Register(input queue.RegisterInput) (models.Ticket, error)
	Transition(displayID, status string) (models.Ticket, error)
	CancelAbsent(displayID string) (models.Ticket, error)
	SetAcceptance(open bool, resumeAfterMinutes int) error
	ResetSequence() error
	ResetStats()
	SetPrinterEnabled(enabled bool)
	SetWaitDisplay(enabled bool)
	Snapshot() models.Snapshot
}

type RegisterCommand struct {
	Type           string `json:"type"`
	Name           string `json:"name"`
	TargetTime     string `json:"targetTime"`
	Adults         int    `json:"adults"`
	Children       int    `json:"children"`
	Infants        int    `json:"infants"`
	SeatPreference string `json:"pref"`
}

func (c RegisterCommand) Input() queue.RegisterInput {
	return queue.RegisterInput{
		Type:           c.Type,
		Name:           c.Name,
		TargetTime:     c.TargetTime,
		Adults:         c.Adults,
		Children:       c.Children,
		Infants:        c.Infants,
		SeatPreference: c.SeatPreference,
	}
}

type UpdateStatusCommand struct {
	DisplayID string `json:"displayId"`
	Status    string `json:"status"`
}

type SetAcceptanceCommand struct {
	IsAccepting   bool `json:"isAccepting"`
	ResumeMinutes int  `json:"resumeMinutes"`
}

type ToggleCommand struct {
	Enabled bool `json:"enabled"`
}

type ErrorPayload struct {
	Command string `json:"command,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleMessage applies one inbound frame from client. Successful
// mutations reach every viewer through Publish; failures are answered to
// client alone.
func (h *Hub) HandleMessage(ctx context.Context, client *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		h.replyError(client, "", fmt.Errorf("%w: malformed frame", queue.ErrInvalidInput))
		return
	}

	_, span := telemetry.Tracer().Start(ctx, "hub."+env.Type)
	span.SetAttributes(attribute.String("viewer.id", client.ID))
	defer span.End()

	reply, err := h.dispatch(env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("command failed client=%s command=%s err=%v", client.ID, env.Type, err)
		h.replyError(client, env.Type, err)
		return
	}
	if reply != nil {
		h.SendTo(client, reply)
	}
}

func (h *Hub) dispatch(env Envelope) ([]byte, error) {
	switch env.Type {
	case CmdRegister:
		var cmd RegisterCommand
		if err := decodePayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		ticket, err := h.queue.Register(cmd.Input())
		if err != nil {
			return nil, err
		}
		return encode(EventRegistered, ticket)

	case CmdUpdateStatus:
		var cmd UpdateStatusCommand
		if err := decodePayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		if cmd.DisplayID == "" {
			return nil, fmt.Errorf("%w: displayId is required", queue.ErrInvalidInput)
		}
		var err error
		if cmd.Status == StatusCancelAbsent {
			_, err = h.queue.CancelAbsent(cmd.DisplayID)
		} else {
			_, err = h.queue.Transition(cmd.DisplayID, cmd.Status)
		}
		return nil, err

	case CmdSetAcceptance:
		var cmd SetAcceptanceCommand
		if err := decodePayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		return nil, h.queue.SetAcceptance(cmd.IsAccepting, cmd.ResumeMinutes)

	case CmdResetQueueNumber:
		return nil, h.queue.ResetSequence()

	case CmdResetStats:
		h.queue.ResetStats()
		return nil, nil

	case CmdSetPrinterEnabled:
		var cmd ToggleCommand
		if err := decodePayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		h.queue.SetPrinterEnabled(cmd.Enabled)
		return nil, nil

	case CmdSetWaitTimeDisplay:
		var cmd ToggleCommand
		if err := decodePayload(env.Payload, &cmd); err != nil {
			return nil, err
		}
		h.queue.SetWaitDisplay(cmd.Enabled)
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownCommand, env.Type)
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is required", queue.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrInvalidInput, err)
	}
	return nil
}

func (h *Hub) replyError(client *Client, command string, err error) {
	code, message := ErrorCode(err)
	payload, encErr := encode(EventError, ErrorPayload{Command: command, Code: code, Message: message})
	if encErr != nil {
		log.Printf("encode error reply: %v", encErr)
		return
	}
	h.SendTo(client, payload)
}

// ErrorCode maps a command error to its wire code and viewer message.
func ErrorCode(err error) (string, string) {
	switch {
	case errors.Is(err, queue.ErrAcceptanceClosed):
		return "acceptance_closed", "現在受付を停止しています"
	case errors.Is(err, queue.ErrQueueNotEmpty):
		return "queue_not_empty", "待ち客がいる間はリセットできません"
	case errors.Is(err, queue.ErrInvalidTransition):
		return "invalid_transition", err.Error()
	case errors.Is(err, queue.ErrTicketNotFound):
		return "not_found", err.Error()
	case errors.Is(err, queue.ErrInvalidInput):
		return "invalid_input", err.Error()
	case errors.Is(err, errUnknownCommand):
		return "unknown_command", err.Error()
	}
	return "internal", "internal error"
}
