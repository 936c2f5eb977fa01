package printer

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/matunokihanten/noda/internal/models"
)

var tokyo = time.FixedZone("JST", 9*60*60)

func sampleTicket() models.Ticket {
	return models.Ticket{
		DisplayID:      "S-12",
		SequenceNumber: 12,
		Type:           models.TypeShop,
		Adults:         2,
		Children:       1,
		Infants:        0,
		SeatPreference: models.SeatTable,
		Status:         models.StatusArrived,
		RegisteredAt:   time.Date(2026, 10, 16, 3, 4, 5, 0, time.UTC),
	}
}

func TestEncodeFraming(t *testing.T) {
	payload, err := NewEncoder("松乃木飯店", tokyo).Encode(sampleTicket())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(payload, []byte{0x1b, 0x40}) {
		t.Fatalf("payload must start with reset, got % x", payload[:4])
	}
	if !bytes.HasSuffix(payload, []byte{0x1b, 0x64, 0x02}) {
		t.Fatalf("payload must end with feed-and-cut, got % x", payload[len(payload)-4:])
	}
	number := append(append([]byte{0x1b, 0x69, 0x01, 0x01}, []byte("S-12\n")...), 0x1b, 0x69, 0x00, 0x00)
	if !bytes.Contains(payload, number) {
		t.Fatalf("payload does not contain expanded ticket number")
	}
	if bytes.Count(payload, []byte{0x1b}) != 4 {
		t.Fatalf("expected exactly four command sequences, got %d", bytes.Count(payload, []byte{0x1b}))
	}
}

func TestEncodeDeterministic(t *testing.T) {
	enc := NewEncoder("松乃木飯店", tokyo)
	first, err := enc.Encode(sampleTicket())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := enc.Encode(sampleTicket())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("encoding is not reproducible")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	ticket := sampleTicket()
	wait := 15
	ticket.EstimatedWaitMinutes = &wait
	ticket.TargetTime = "18:30"

	payload, err := NewEncoder("松乃木飯店", tokyo).Encode(ticket)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	segments, err := TextSegments(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected header, number and details segments, got %d: %q", len(segments), segments)
	}

	if want := "      松乃木飯店\n" + ruleLine + "\n受付番号：\n"; segments[0] != want {
		t.Fatalf("header=%q, want %q", segments[0], want)
	}
	if got := strings.TrimSuffix(segments[1], "\n"); got != ticket.DisplayID {
		t.Fatalf("number=%q, want %q", got, ticket.DisplayID)
	}

	var adults, children, infants int
	var found bool
	for _, line := range strings.Split(segments[2], "\n") {
		if strings.HasPrefix(line, "人数：") {
			if _, err := fmt.Sscanf(line, "人数：大人%d名 子供%d名 幼児%d名", &adults, &children, &infants); err != nil {
				t.Fatalf("parse party line %q: %v", line, err)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("details have no party line: %q", segments[2])
	}
	if adults != ticket.Adults || children != ticket.Children || infants != ticket.Infants {
		t.Fatalf("party=%d/%d/%d, want %d/%d/%d", adults, children, infants, ticket.Adults, ticket.Children, ticket.Infants)
	}

	for _, want := range []string{"日時：2026/10/16 12:04:05", "到着予定：18:30", "座席：テーブル", "待ち時間目安：約15分"} {
		if !strings.Contains(segments[2], want) {
			t.Fatalf("details missing %q: %q", want, segments[2])
		}
	}
}

func TestEncodeDefaults(t *testing.T) {
	payload, err := NewEncoder("Noda", tokyo).Encode(sampleTicket())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	segments, err := TextSegments(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	details := segments[len(segments)-1]
	if !strings.Contains(details, "到着予定：今すぐ") {
		t.Fatalf("expected immediate arrival label: %q", details)
	}
	if strings.Contains(details, "待ち時間目安") {
		t.Fatalf("wait line printed without an estimate: %q", details)
	}
}

func TestTextSegmentsRejectsUnknownCommand(t *testing.T) {
	_, err := TextSegments([]byte{0x1b, 0x40, 'A', 0x1b, 0x7f})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestEncodeStripsControlCharacters(t *testing.T) {
	ticket := sampleTicket()
	ticket.TargetTime = "\x1b\x64\x0218:00\n"

	payload, err := NewEncoder("Noda", tokyo).Encode(ticket)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := bytes.Count(payload, []byte{0x1b}); got != 4 {
		t.Fatalf("free text injected commands: %d escape bytes", got)
	}
	segments, err := TextSegments(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(segments) != 3 || !strings.Contains(segments[2], "到着予定：18:00\n人数") {
		t.Fatalf("unexpected details: %q", segments)
	}
}
