package printer

import (
	"fmt"
	"log"

	"github.com/matunokihanten/noda/internal/metrics"
	"github.com/matunokihanten/noda/internal/models"
)

// Spooler encodes registered shop tickets and stages them on the channel
// the printer polls.
type Spooler struct {
	encoder *Encoder
	channel *Channel
}

func NewSpooler(encoder *Encoder, channel *Channel) *Spooler {
	channel.OnReplace(func(dropped Job) {
		metrics.PrintJobsReplaced.Inc()
		log.Printf("print job replaced before fetch ticket=%s staged_at=%s", dropped.DisplayID, dropped.StagedAt.Format("15:04:05"))
	})
	return &Spooler{encoder: encoder, channel: channel}
}

func (s *Spooler) Spool(ticket models.Ticket) error {
	payload, err := s.encoder.Encode(ticket)
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", ticket.DisplayID, err)
	}
	job := s.channel.Stage(ticket.DisplayID, payload)
	metrics.PrintJobsStaged.Inc()
	log.Printf("print job staged ticket=%s token=%s bytes=%d", job.DisplayID, job.Token, len(job.Payload))
	return nil
}
