package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// Message is a plain-text notification.
type Message struct {
	From    string
	To      []string
	ReplyTo string
	Subject string
	Text    string
	Date    time.Time
}

// Compose renders msg as an RFC 5322 message with a single text/plain part.
func Compose(msg Message) ([]byte, error) {
	if len(msg.To) == 0 {
		return nil, ErrNoRecipients
	}
	from, err := parseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to := make([]*gomail.Address, 0, len(msg.To))
	for _, raw := range msg.To {
		a, err := parseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		to = append(to, a)
	}

	var h gomail.Header
	h.SetAddressList("From", []*gomail.Address{from})
	h.SetAddressList("To", to)
	if strings.TrimSpace(msg.ReplyTo) != "" {
		if rt, err := parseAddress(msg.ReplyTo); err == nil {
			h.SetAddressList("Reply-To", []*gomail.Address{rt})
		}
	}
	h.SetSubject(msg.Subject)
	date := msg.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	h.SetDate(date)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, msg.Text); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseAddress(raw string) (*gomail.Address, error) {
	a, err := gomail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return a, nil
}
