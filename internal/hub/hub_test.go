package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/matunokihanten/noda/internal/clock"
	"github.com/matunokihanten/noda/internal/models"
	"github.com/matunokihanten/noda/internal/queue"
)

func newTestHub(t *testing.T) (*Hub, *queue.Store) {
	t.Helper()
	opts := queue.DefaultOptions()
	opts.Location = time.UTC
	st := queue.NewStore(clock.Fake(time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC)), opts)
	t.Cleanup(st.Stop)
	h := New(st)
	st.OnCommit(h.Publish)
	return h, st
}

func newClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, 16)}
}

func nextFrame(t *testing.T, client *Client) Envelope {
	t.Helper()
	select {
	case raw := <-client.Send:
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return env
	default:
		t.Fatalf("client %s has no pending frame", client.ID)
	}
	return Envelope{}
}

func expectNoFrame(t *testing.T, client *Client) {
	t.Helper()
	select {
	case raw := <-client.Send:
		t.Fatalf("client %s got unexpected frame %s", client.ID, raw)
	default:
	}
}

func command(t *testing.T, cmdType string, payload any) []byte {
	t.Helper()
	env := Envelope{Type: cmdType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return data
}

func TestRegisterSendsInit(t *testing.T) {
	h, st := newTestHub(t)
	if _, err := st.Register(queue.RegisterInput{Type: models.TypeWeb, Adults: 2}); err != nil {
		t.Fatalf("register: %v", err)
	}

	client := newClient("a")
	h.Register(client)
	env := nextFrame(t, client)
	if env.Type != EventInit {
		t.Fatalf("first frame %q, want init", env.Type)
	}
	var snapshot models.Snapshot
	if err := json.Unmarshal(env.Payload, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Queue) != 1 || snapshot.Queue[0].DisplayID != "W-1" || !snapshot.IsAccepting {
		t.Fatalf("init snapshot=%+v", snapshot)
	}
	if h.Count() != 1 {
		t.Fatalf("count=%d", h.Count())
	}
}

func TestRegisterCommandBroadcastsAndAnswersOrigin(t *testing.T) {
	h, _ := newTestHub(t)
	origin, other := newClient("origin"), newClient("other")
	h.Register(origin)
	h.Register(other)
	nextFrame(t, origin)
	nextFrame(t, other)

	h.HandleMessage(context.Background(), origin, command(t, CmdRegister, RegisterCommand{Type: models.TypeShop, Adults: 2, SeatPreference: models.SeatTable}))

	for _, client := range []*Client{origin, other} {
		env := nextFrame(t, client)
		if env.Type != EventUpdate {
			t.Fatalf("client %s got %q, want update", client.ID, env.Type)
		}
	}
	registered := nextFrame(t, origin)
	if registered.Type != EventRegistered {
		t.Fatalf("origin got %q, want registered", registered.Type)
	}
	var ticket models.Ticket
	if err := json.Unmarshal(registered.Payload, &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.DisplayID != "S-1" || ticket.SeatPreference != models.SeatTable {
		t.Fatalf("ticket=%+v", ticket)
	}
	expectNoFrame(t, other)
}

func TestCommandErrorsGoToOriginOnly(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*queue.Store)
		frame func(*testing.T) []byte
		code  string
	}{
		{
			name:  "acceptance closed",
			setup: func(st *queue.Store) { _ = st.SetAcceptance(false, 0) },
			frame: func(t *testing.T) []byte {
				return command(t, CmdRegister, RegisterCommand{Type: models.TypeWeb, Adults: 1})
			},
			code: "acceptance_closed",
		},
		{
			name: "queue not empty",
			setup: func(st *queue.Store) {
				_, _ = st.Register(queue.RegisterInput{Type: models.TypeWeb, Adults: 1})
			},
			frame: func(t *testing.T) []byte { return command(t, CmdResetQueueNumber, nil) },
			code:  "queue_not_empty",
		},
		{
			name: "invalid transition",
			setup: func(st *queue.Store) {
				_, _ = st.Register(queue.RegisterInput{Type: models.TypeWeb, Adults: 1})
				_, _ = st.Transition("W-1", models.StatusCalled)
			},
			frame: func(t *testing.T) []byte {
				return command(t, CmdUpdateStatus, UpdateStatusCommand{DisplayID: "W-1", Status: models.StatusWaiting})
			},
			code: "invalid_transition",
		},
		{
			name: "unknown ticket",
			frame: func(t *testing.T) []byte {
				return command(t, CmdUpdateStatus, UpdateStatusCommand{DisplayID: "S-404", Status: models.StatusCalled})
			},
			code: "not_found",
		},
		{
			name:  "malformed frame",
			frame: func(*testing.T) []byte { return []byte("{not json") },
			code:  "invalid_input",
		},
		{
			name:  "missing payload",
			frame: func(t *testing.T) []byte { return command(t, CmdSetPrinterEnabled, nil) },
			code:  "invalid_input",
		},
		{
			name:  "unknown command",
			frame: func(t *testing.T) []byte { return command(t, "dropTables", nil) },
			code:  "unknown_command",
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			h, st := newTestHub(t)
			if tt.setup != nil {
				tt.setup(st)
			}
			origin, other := newClient("origin"), newClient("other")
			h.Register(origin)
			h.Register(other)
			nextFrame(t, origin)
			nextFrame(t, other)
			version := st.Snapshot().Version

			h.HandleMessage(context.Background(), origin, tt.frame(t))

			env := nextFrame(t, origin)
			if env.Type != EventError {
				t.Fatalf("origin got %q, want error", env.Type)
			}
			var payload ErrorPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				t.Fatalf("decode error payload: %v", err)
			}
			if payload.Code != tt.code {
				t.Fatalf("code=%q, want %q (%s)", payload.Code, tt.code, payload.Message)
			}
			expectNoFrame(t, origin)
			expectNoFrame(t, other)
			if st.Snapshot().Version != version {
				t.Fatalf("failed command committed a change")
			}
		})
	}
}

func TestUpdateStatusCommands(t *testing.T) {
	h, st := newTestHub(t)
	admin := newClient("admin")
	h.Register(admin)
	if _, err := st.Register(queue.RegisterInput{Type: models.TypeWeb, Adults: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	steps := []struct {
		status string
		want   string
	}{
		{models.StatusArrived, models.StatusArrived},
		{models.StatusAbsent, models.StatusAbsent},
		{StatusCancelAbsent, models.StatusArrived},
		{models.StatusCalled, models.StatusCalled},
	}
	for _, step := range steps {
		h.HandleMessage(context.Background(), admin, command(t, CmdUpdateStatus, UpdateStatusCommand{DisplayID: "W-1", Status: step.status}))
		if got := st.Snapshot().Queue[0].Status; got != step.want {
			t.Fatalf("after %s status=%s, want %s", step.status, got, step.want)
		}
	}

	h.HandleMessage(context.Background(), admin, command(t, CmdUpdateStatus, UpdateStatusCommand{DisplayID: "W-1", Status: models.StatusCompleted}))
	snapshot := st.Snapshot()
	if len(snapshot.Queue) != 0 || snapshot.Stats.CompletedToday != 1 {
		t.Fatalf("completion not applied: %+v", snapshot)
	}
}

func TestSettingsCommands(t *testing.T) {
	h, st := newTestHub(t)
	admin := newClient("admin")
	h.Register(admin)

	h.HandleMessage(context.Background(), admin, command(t, CmdSetPrinterEnabled, ToggleCommand{Enabled: false}))
	h.HandleMessage(context.Background(), admin, command(t, CmdSetWaitTimeDisplay, ToggleCommand{Enabled: true}))
	h.HandleMessage(context.Background(), admin, command(t, CmdSetAcceptance, SetAcceptanceCommand{IsAccepting: false, ResumeMinutes: 30}))
	h.HandleMessage(context.Background(), admin, command(t, CmdResetStats, nil))

	snapshot := st.Snapshot()
	if snapshot.PrinterEnabled || !snapshot.WaitTimeDisplayEnabled || snapshot.IsAccepting || snapshot.ResumeAt == nil {
		t.Fatalf("settings not applied: %+v", snapshot)
	}
	if snapshot.Version != 4 {
		t.Fatalf("expected four commits, got version %d", snapshot.Version)
	}
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	h, _ := newTestHub(t)
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	done := make(chan struct{})
	go func() {
		h.Broadcast([]byte(`{"type":"update"}`))
		h.Broadcast([]byte(`{"type":"update"}`))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on a slow client")
	}
	if len(slow.Send) != 1 {
		t.Fatalf("buffer=%d", len(slow.Send))
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h, _ := newTestHub(t)
	client := newClient("a")
	h.Register(client)
	h.Unregister(client)
	h.Unregister(client)

	for range client.Send {
	}
	h.SendTo(client, []byte("late"))
	h.Publish(models.Snapshot{Version: 1})
	if h.Count() != 0 {
		t.Fatalf("count=%d", h.Count())
	}
}
