package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"vigil/internal/config"
)

// ProbeSMTP checks that the relay accepts a connection and, when required,
// offers STARTTLS.
func ProbeSMTP(ctx context.Context, cfg config.Config) error {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))
	tlsCfg := &tls.Config{ServerName: cfg.SMTPHost, InsecureSkipVerify: cfg.SMTPInsecureSkipVerify}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if cfg.SMTPTLS {
		conn = tls.Client(conn, tlsCfg)
	}

	client, err := smtp.NewClient(conn, cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if cfg.SMTPStartTLS && !cfg.SMTPTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fmt.Errorf("SMTP STARTTLS extension not available")
		}
	}
	return client.Quit()
}

// ProbeIMAP logs in to the archive server and checks that the archive
// mailbox exists.
func ProbeIMAP(ctx context.Context, cfg config.Config) error {
	return NewTransport(cfg).ProbeArchive(ctx)
}
