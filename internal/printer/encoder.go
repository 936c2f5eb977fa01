package printer

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/matunokihanten/noda/internal/models"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
)

// MediaType is the only media type offered to the printer.
const MediaType = "application/vnd.star.starprnt"

var (
	cmdInitialize = []byte{0x1b, 0x40}
	cmdExpand     = []byte{0x1b, 0x69, 0x01, 0x01}
	cmdExpandOff  = []byte{0x1b, 0x69, 0x00, 0x00}
	cmdFeedCut    = []byte{0x1b, 0x64, 0x02}
)

const (
	ruleLine        = "--------------------------"
	timestampLayout = "2006/01/02 15:04:05"
	arriveNow       = "今すぐ"
)

var ErrUnknownCommand = errors.New("unknown printer command")

var seatLabels = map[string]string{
	models.SeatAny:     "どちらでも",
	models.SeatTable:   "テーブル",
	models.SeatCounter: "カウンター",
	models.SeatPrivate: "個室",
}

// SeatLabel returns the printed label of a seat preference.
func SeatLabel(pref string) string {
	if label, ok := seatLabels[pref]; ok {
		return label
	}
	return pref
}

type Encoder struct {
	shopName string
	location *time.Location
}

func NewEncoder(shopName string, location *time.Location) *Encoder {
	if location == nil {
		location = time.Local
	}
	return &Encoder{shopName: shopName, location: location}
}

// Encode renders ticket as a StarPRNT job. The output depends only on the
// ticket and the encoder settings, never on the current time.
func (e *Encoder) Encode(ticket models.Ticket) ([]byte, error) {
	sjis := encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder())

	header, err := sjis.String(e.headerText())
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	number, err := sjis.String(ticket.DisplayID + "\n")
	if err != nil {
		return nil, fmt.Errorf("encode number: %w", err)
	}
	details, err := sjis.String(e.detailsText(ticket))
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(cmdInitialize)
	buf.WriteString(header)
	buf.Write(cmdExpand)
	buf.WriteString(number)
	buf.Write(cmdExpandOff)
	buf.WriteString(details)
	buf.Write(cmdFeedCut)
	return buf.Bytes(), nil
}

func (e *Encoder) headerText() string {
	return "      " + e.shopName + "\n" + ruleLine + "\n受付番号：\n"
}

func (e *Encoder) detailsText(ticket models.Ticket) string {
	target := stripControl(ticket.TargetTime)
	if strings.TrimSpace(target) == "" {
		target = arriveNow
	}
	seat := SeatLabel(ticket.SeatPreference)

	var b strings.Builder
	fmt.Fprintf(&b, "日時：%s\n", ticket.RegisteredAt.In(e.location).Format(timestampLayout))
	fmt.Fprintf(&b, "到着予定：%s\n", target)
	fmt.Fprintf(&b, "人数：大人%d名 子供%d名 幼児%d名\n", ticket.Adults, ticket.Children, ticket.Infants)
	fmt.Fprintf(&b, "座席：%s\n", seat)
	if ticket.EstimatedWaitMinutes != nil {
		fmt.Fprintf(&b, "待ち時間目安：約%d分\n", *ticket.EstimatedWaitMinutes)
	}
	b.WriteString(ruleLine + "\n")
	b.WriteString("ご来店ありがとうございます\n\n\n\n")
	return b.String()
}

// stripControl drops control characters so free text cannot smuggle
// printer commands or extra lines onto the ticket.
func stripControl(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}

// TextSegments decodes the text runs of a StarPRNT payload, skipping the
// command sequences this package emits.
func TextSegments(payload []byte) ([]string, error) {
	decoder := japanese.ShiftJIS.NewDecoder()
	var segments []string
	start := 0
	flush := func(end int) error {
		if end <= start {
			return nil
		}
		text, err := decoder.Bytes(payload[start:end])
		if err != nil {
			return err
		}
		segments = append(segments, string(text))
		return nil
	}

	for i := 0; i < len(payload); {
		if payload[i] != 0x1b {
			i++
			continue
		}
		if err := flush(i); err != nil {
			return nil, err
		}
		size, err := commandSize(payload[i:])
		if err != nil {
			return nil, err
		}
		i += size
		start = i
	}
	if err := flush(len(payload)); err != nil {
		return nil, err
	}
	return segments, nil
}

func commandSize(seq []byte) (int, error) {
	if len(seq) < 2 {
		return 0, ErrUnknownCommand
	}
	var size int
	switch seq[1] {
	case 0x40:
		size = len(cmdInitialize)
	case 0x69:
		size = len(cmdExpand)
	case 0x64:
		size = len(cmdFeedCut)
	default:
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, seq[1])
	}
	if len(seq) < size {
		return 0, ErrUnknownCommand
	}
	return size, nil
}
