// Package events publishes committed queue changes to NATS so other
// systems (signage, analytics) can follow the waitlist without polling.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/matunokihanten/noda/internal/metrics"
	"github.com/matunokihanten/noda/internal/models"

	"github.com/nats-io/nats.go"
)

const backlog = 256

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

type Event struct {
	Type        string          `json:"type"`
	Version     int64           `json:"version"`
	ServiceDate string          `json:"serviceDate"`
	QueueLength int             `json:"queueLength"`
	OccurredAt  time.Time       `json:"occurredAt"`
	State       models.Snapshot `json:"state"`
}

type Publisher struct {
	conn    Conn
	subject string
	now     func() time.Time
	events  chan Event
}

// Connect dials NATS with unlimited reconnects; publishing continues to
// buffer in the client while the server is away.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected url=%s", nc.ConnectedUrl())
		}),
	)
}

func NewPublisher(conn Conn, subject string) *Publisher {
	return &Publisher{
		conn:    conn,
		subject: subject,
		now:     time.Now,
		events:  make(chan Event, backlog),
	}
}

// Observe queues snapshot for publication. It is a queue commit listener
// and never blocks; events are dropped when the backlog is full.
func (p *Publisher) Observe(snapshot models.Snapshot) {
	event := Event{
		Type:        snapshot.Reason,
		Version:     snapshot.Version,
		ServiceDate: snapshot.ServiceDate,
		QueueLength: len(snapshot.Queue),
		OccurredAt:  p.now(),
		State:       snapshot,
	}
	select {
	case p.events <- event:
	default:
		metrics.EventPublishFailures.Inc()
		log.Printf("event backlog full, dropped version=%d", snapshot.Version)
	}
}

func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.events:
			if err := p.publish(event); err != nil {
				metrics.EventPublishFailures.Inc()
				log.Printf("event publish failed type=%s version=%d err=%v", event.Type, event.Version, err)
			}
		}
	}
}

func (p *Publisher) publish(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.conn.Publish(Subject(p.subject, event.Type), data)
}

// Subject returns the subject an event type is published on, e.g.
// waitlist.events.registered.
func Subject(prefix, eventType string) string {
	if eventType == "" {
		return prefix
	}
	return prefix + "." + eventType
}
