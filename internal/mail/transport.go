package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"vigil/internal/config"
)

const defaultDialTimeout = 10 * time.Second

type sendFunc func(ctx context.Context, from string, rcpt []string, raw []byte) error

type appendFunc func(ctx context.Context, raw []byte) error

// Transport relays composed messages over SMTP and, when a mailbox is
// configured, stores a copy in that IMAP mailbox.
type Transport struct {
	cfg     config.Config
	send    sendFunc
	archive appendFunc
}

func NewTransport(cfg config.Config) *Transport {
	t := &Transport{cfg: cfg}
	t.send = t.sendSMTP
	if strings.TrimSpace(cfg.IMAPArchiveMailbox) != "" {
		t.archive = t.appendIMAP
	}
	return t
}

// Send delivers msg. An archive failure is returned only when delivery
// itself succeeded, wrapped so callers can tell the two apart.
func (t *Transport) Send(ctx context.Context, msg Message) error {
	raw, err := Compose(msg)
	if err != nil {
		return err
	}
	if err := t.sendWithSenderFallback(ctx, msg, raw); err != nil {
		return err
	}
	if t.archive != nil {
		if err := t.archive(ctx, raw); err != nil {
			return fmt.Errorf("%w: %v", ErrArchiveFailed, err)
		}
	}
	return nil
}

// sendWithSenderFallback retries once with the SMTP login as envelope
// sender when the relay refuses the configured From address.
func (t *Transport) sendWithSenderFallback(ctx context.Context, msg Message, raw []byte) error {
	envelopeFrom := strings.TrimSpace(msg.From)
	if a, err := parseAddress(envelopeFrom); err == nil {
		envelopeFrom = a.Address
	}
	err := t.send(ctx, envelopeFrom, msg.To, raw)
	if err == nil {
		return nil
	}
	if !IsSMTPSenderPolicyError(err) {
		return err
	}
	authIdentity := strings.TrimSpace(t.cfg.SMTPUsername)
	if authIdentity != "" && !strings.EqualFold(envelopeFrom, authIdentity) {
		retryErr := t.send(ctx, authIdentity, msg.To, raw)
		if retryErr == nil {
			return nil
		}
		if IsSMTPSenderPolicyError(retryErr) {
			return WrapSMTPSenderRejected(retryErr)
		}
		return retryErr
	}
	return WrapSMTPSenderRejected(err)
}

func (t *Transport) sendSMTP(ctx context.Context, from string, rcpt []string, raw []byte) error {
	addr := net.JoinHostPort(t.cfg.SMTPHost, strconv.Itoa(t.cfg.SMTPPort))
	tlsConfig := &tls.Config{ServerName: t.cfg.SMTPHost, InsecureSkipVerify: t.cfg.SMTPInsecureSkipVerify}

	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if t.cfg.SMTPTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, t.cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if t.cfg.SMTPStartTLS && !t.cfg.SMTPTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}
	if t.cfg.SMTPUsername != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", t.cfg.SMTPUsername, t.cfg.SMTPPassword, t.cfg.SMTPHost)
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	for _, r := range rcpt {
		if a, err := parseAddress(r); err == nil {
			r = a.Address
		}
		if err := client.Rcpt(strings.TrimSpace(r)); err != nil {
			return err
		}
	}
	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(raw); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (t *Transport) connectIMAP(ctx context.Context) (*imapclient.Client, error) {
	if t.cfg.IMAPPassword == "" {
		return nil, fmt.Errorf("missing IMAP credentials")
	}
	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	addr := net.JoinHostPort(t.cfg.IMAPHost, strconv.Itoa(t.cfg.IMAPPort))
	tlsConfig := &tls.Config{ServerName: t.cfg.IMAPHost, InsecureSkipVerify: t.cfg.IMAPInsecureSkipVerify}

	var cli *imapclient.Client
	var err error
	if t.cfg.IMAPTLS {
		cli, err = imapclient.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		cli, err = imapclient.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, err
	}
	if err := cli.Login(t.cfg.IMAPUsername, t.cfg.IMAPPassword); err != nil {
		_ = cli.Logout()
		return nil, err
	}
	return cli, nil
}

func (t *Transport) appendIMAP(ctx context.Context, raw []byte) error {
	cli, err := t.connectIMAP(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Logout() }()
	return cli.Append(t.cfg.IMAPArchiveMailbox, []string{imap.SeenFlag}, time.Now(), bytes.NewBuffer(raw))
}

func (t *Transport) ProbeArchive(ctx context.Context) error {
	if t.cfg.IMAPArchiveMailbox == "" {
		return nil
	}
	cli, err := t.connectIMAP(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Logout() }()
	if _, err := cli.Status(t.cfg.IMAPArchiveMailbox, []imap.StatusItem{imap.StatusMessages}); err != nil {
		return fmt.Errorf("archive mailbox %q: %w", t.cfg.IMAPArchiveMailbox, err)
	}
	return nil
}
