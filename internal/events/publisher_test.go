package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matunokihanten/noda/internal/models"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu       sync.Mutex
	messages []published
	err      error
	notify   chan struct{}
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	c.messages = append(c.messages, published{subject: subject, data: data})
	err := c.err
	c.mu.Unlock()
	c.notify <- struct{}{}
	return err
}

func TestPublisherSendsCommittedSnapshots(t *testing.T) {
	conn := &fakeConn{notify: make(chan struct{}, 4)}
	p := NewPublisher(conn, "waitlist.events")
	p.now = func() time.Time { return time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC) }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Observe(models.Snapshot{
		Version:     7,
		Reason:      models.ReasonRegistered,
		ServiceDate: "2026-10-16",
		Queue:       []models.Ticket{{DisplayID: "S-1"}, {DisplayID: "W-2"}},
	})
	select {
	case <-conn.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing published")
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	msg := conn.messages[0]
	if msg.subject != "waitlist.events.registered" {
		t.Fatalf("subject=%q", msg.subject)
	}
	var event Event
	if err := json.Unmarshal(msg.data, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Version != 7 || event.QueueLength != 2 || event.State.Queue[1].DisplayID != "W-2" {
		t.Fatalf("event=%+v", event)
	}
}

func TestPublisherSurvivesPublishErrors(t *testing.T) {
	conn := &fakeConn{notify: make(chan struct{}, 4), err: errors.New("nats: connection closed")}
	p := NewPublisher(conn, "waitlist.events")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Observe(models.Snapshot{Version: 1, Reason: models.ReasonRollover})
	p.Observe(models.Snapshot{Version: 2, Reason: models.ReasonStatusChanged})
	for i := 0; i < 2; i++ {
		select {
		case <-conn.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("publisher stopped after an error")
		}
	}
}

func TestObserveDropsWhenBacklogFull(t *testing.T) {
	p := NewPublisher(&fakeConn{}, "waitlist.events")
	for i := 0; i < backlog+3; i++ {
		p.Observe(models.Snapshot{Version: int64(i)})
	}
	if len(p.events) != backlog {
		t.Fatalf("backlog=%d", len(p.events))
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("waitlist.events", ""); got != "waitlist.events" {
		t.Fatalf("got %q", got)
	}
	if got := Subject("waitlist.events", "auto_cancelled"); got != "waitlist.events.auto_cancelled" {
		t.Fatalf("got %q", got)
	}
}
