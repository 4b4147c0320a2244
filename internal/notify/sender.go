package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vigil/internal/config"
	"vigil/internal/mail"
	"vigil/internal/models"
)

// Digest summarises the booking backlog for the sales team.
type Digest struct {
	GeneratedAt time.Time
	Counts      map[models.BookingStatus]int
	Pending     []models.Booking
}

type Sender interface {
	NotifyBooking(ctx context.Context, b models.Booking) error
	SendDigest(ctx context.Context, d Digest) error
}

// MailSender is the subset of mail.Transport used here.
type MailSender interface {
	Send(ctx context.Context, msg mail.Message) error
}

type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return LogSender{log: log}
}

func (s LogSender) NotifyBooking(ctx context.Context, b models.Booking) error {
	_ = ctx
	s.log.Info("demo booking received",
		zap.String("booking_id", b.ID),
		zap.String("organization", b.Organization),
		zap.String("email", b.Email),
		zap.String("cameras", b.Cameras),
	)
	return nil
}

func (s LogSender) SendDigest(ctx context.Context, d Digest) error {
	_ = ctx
	s.log.Info("demo booking digest",
		zap.Int("pending", d.Counts[models.BookingPending]),
		zap.Int("contacted", d.Counts[models.BookingContacted]),
		zap.Int("scheduled", d.Counts[models.BookingScheduled]),
		zap.Int("closed", d.Counts[models.BookingClosed]),
	)
	return nil
}

type SMTPSender struct {
	transport MailSender
	from      string
	to        []string
}

func NewSMTPSender(t MailSender, from string, to []string) SMTPSender {
	return SMTPSender{transport: t, from: from, to: to}
}

func NewSender(cfg config.Config, log *zap.Logger) Sender {
	switch cfg.NotifySender {
	case "smtp":
		return NewSMTPSender(mail.NewTransport(cfg), cfg.NotifyFrom, splitRecipients(cfg.NotifyTo))
	default:
		return NewLogSender(log)
	}
}

func splitRecipients(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s SMTPSender) NotifyBooking(ctx context.Context, b models.Booking) error {
	return s.transport.Send(ctx, mail.Message{
		From:    s.from,
		To:      s.to,
		ReplyTo: fmt.Sprintf("%s <%s>", b.FullName, b.Email),
		Subject: "Demo request: " + b.Organization,
		Text:    BookingText(b),
		Date:    b.CreatedAt,
	})
}

func (s SMTPSender) SendDigest(ctx context.Context, d Digest) error {
	return s.transport.Send(ctx, mail.Message{
		From:    s.from,
		To:      s.to,
		Subject: fmt.Sprintf("Demo bookings: %d pending", d.Counts[models.BookingPending]),
		Text:    DigestText(d),
		Date:    d.GeneratedAt,
	})
}

func BookingText(b models.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A new demo was requested.\n\n")
	fmt.Fprintf(&sb, "Name:         %s\n", b.FullName)
	fmt.Fprintf(&sb, "Email:        %s\n", b.Email)
	fmt.Fprintf(&sb, "Phone:        %s\n", b.Phone)
	fmt.Fprintf(&sb, "Organization: %s\n", b.Organization)
	fmt.Fprintf(&sb, "Role:         %s\n", orDash(b.Role))
	fmt.Fprintf(&sb, "Cameras:      %s\n", orDash(b.Cameras))
	if b.Message != "" {
		fmt.Fprintf(&sb, "\n%s\n", b.Message)
	}
	fmt.Fprintf(&sb, "\nBooking ID: %s\n", b.ID)
	return sb.String()
}

func DigestText(d Digest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Demo bookings as of %s\n\n", d.GeneratedAt.UTC().Format(time.RFC1123))
	for _, st := range models.BookingStatuses {
		fmt.Fprintf(&sb, "%-10s %d\n", st, d.Counts[st])
	}
	if len(d.Pending) > 0 {
		sb.WriteString("\nOldest waiting first:\n")
		for i := len(d.Pending) - 1; i >= 0; i-- {
			b := d.Pending[i]
			fmt.Fprintf(&sb, "- %s, %s (%s) %s\n", b.Organization, b.FullName, b.Email, b.CreatedAt.UTC().Format("2006-01-02"))
		}
	}
	return sb.String()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
