// internal/infra/mailer/mailer.go
//
// Outbound mail over SMTP. Two notification channels live here: the SMS
// channel, which is really an email to the carrier's email-to-SMS gateway,
// and the regular HTML email channel. Both authenticate against the account's
// SMTP endpoint with an app password.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"

	"bill_split_automation/internal/domain/notify"
)

// Config holds the SMTP endpoint and credentials shared by both channels.
type Config struct {
	Host     string // e.g. smtp.gmail.com
	Port     string // e.g. 587
	Username string // account the mail is sent from
	Password string // app password, not the account password
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// SMSSender delivers the short notification text through a carrier
// email-to-SMS gateway address, e.g. 5551234567@vtext.com. Implements
// notify.Sender.
type SMSSender struct {
	cfg     Config
	gateway string
}

func NewSMSSender(cfg Config, gateway string) *SMSSender {
	return &SMSSender{cfg: cfg, gateway: gateway}
}

func (s *SMSSender) Name() string { return "sms" }

func (s *SMSSender) Send(ctx context.Context, msg notify.Message) error {
	if err := send(ctx, s.cfg, s.gateway, buildSMSMessage(s.cfg.Username, s.gateway, msg.Text)); err != nil {
		return fmt.Errorf("sms via %s: %w", s.gateway, err)
	}
	return nil
}

// EmailSender delivers the full notification as a multipart email with a
// plain-text and an HTML alternative. Implements notify.Sender.
type EmailSender struct {
	cfg Config
	to  string
}

func NewEmailSender(cfg Config, to string) *EmailSender {
	return &EmailSender{cfg: cfg, to: to}
}

func (s *EmailSender) Name() string { return "email" }

func (s *EmailSender) Send(ctx context.Context, msg notify.Message) error {
	raw, err := buildEmailMessage(s.cfg.Username, s.to, msg)
	if err != nil {
		return fmt.Errorf("build email for %s: %w", s.to, err)
	}
	if err := send(ctx, s.cfg, s.to, raw); err != nil {
		return fmt.Errorf("email to %s: %w", s.to, err)
	}
	return nil
}

// buildSMSMessage assembles the bare email a carrier gateway turns into a
// text message. The subject stays empty: gateways prepend it to the SMS body
// otherwise.
func buildSMSMessage(from, to, text string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	buf.WriteString("Subject: \r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(text)
	return buf.Bytes()
}

func buildEmailMessage(from, to string, msg notify.Message) ([]byte, error) {
	var body bytes.Buffer
	alt := multipart.NewWriter(&body)

	textPart, err := alt.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(msg.Text)); err != nil {
		return nil, err
	}
	htmlPart, err := alt.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := htmlPart.Write([]byte(msg.HTML)); err != nil {
		return nil, err
	}
	if err := alt.Close(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", alt.Boundary())
	buf.WriteString("\r\n")
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

// send submits one message to one recipient: dial, STARTTLS, authenticate,
// and hand over the payload. The context deadline bounds the whole exchange
// through the connection deadline.
func send(ctx context.Context, cfg Config, to string, raw []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(cfg.Username); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp finish: %w", err)
	}
	return client.Quit()
}
