package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/matunokihanten/noda/internal/metrics"
	"github.com/matunokihanten/noda/internal/models"
	"github.com/matunokihanten/noda/internal/printer"
)

const backlog = 64

// Dispatcher turns committed registrations into shop notices and delivers
// them from a single background worker. Registered never blocks: when the
// backlog is full the notice is dropped.
type Dispatcher struct {
	chain     *Chain
	recipient string
	shopName  string
	timeout   time.Duration
	jobs      chan Message
}

func NewDispatcher(chain *Chain, recipient, shopName string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		chain:     chain,
		recipient: recipient,
		shopName:  shopName,
		timeout:   timeout,
		jobs:      make(chan Message, backlog),
	}
}

func (d *Dispatcher) Registered(ticket models.Ticket) {
	msg := RegistrationMessage(d.shopName, d.recipient, ticket)
	select {
	case d.jobs <- msg:
	default:
		metrics.NotificationFailures.WithLabelValues("backlog").Inc()
		log.Printf("notify backlog full, dropped ticket=%s", ticket.DisplayID)
	}
}

// Run delivers queued notices until ctx is done. Notices still queued at
// shutdown are dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if n := len(d.jobs); n > 0 {
				log.Printf("notify stopping with %d undelivered notices", n)
			}
			return
		case msg := <-d.jobs:
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	via, err := d.chain.Send(ctx, msg)
	if err != nil {
		log.Printf("notify failed subject=%q err=%v", msg.Subject, err)
		return
	}
	log.Printf("notify sent via=%s subject=%q", via, msg.Subject)
}

func RegistrationMessage(shopName, recipient string, ticket models.Ticket) Message {
	target := ticket.TargetTime
	if target == "" {
		target = "今すぐ"
	}
	name := strings.TrimSpace(ticket.Name)
	if name == "" {
		name = "なし"
	}
	var b strings.Builder
	b.WriteString("新規予約通知\n\n")
	fmt.Fprintf(&b, "番号：%s\n", ticket.DisplayID)
	fmt.Fprintf(&b, "到着予定：%s\n", target)
	fmt.Fprintf(&b, "お名前：%s様\n", name)
	fmt.Fprintf(&b, "人数：大人%d名 子供%d名 幼児%d名\n", ticket.Adults, ticket.Children, ticket.Infants)
	fmt.Fprintf(&b, "座席：%s", printer.SeatLabel(ticket.SeatPreference))
	return Message{
		Recipient: recipient,
		Subject:   fmt.Sprintf("【%s】新規受付 %s", shopName, ticket.DisplayID),
		Body:      b.String(),
	}
}
