package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/courier/internal/mail"
	"github.com/ignite/courier/internal/pkg/logger"
)

const smtpDefaultMaxRecipients = 100

// SMTPConfig holds the immutable settings for a direct SMTP channel.
// Encryption is "starttls" (opportunistic, the default) or "none".
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	Encryption    string
	MaxRecipients int
	Timeout       time.Duration
}

// smtpTransport performs one SMTP transaction. Connection and TLS handling
// belong to the transport; tests substitute a fake. Setup failures (dial,
// client handshake) come back as *TransportError, protocol rejections as
// plain errors.
type smtpTransport interface {
	sendMail(ctx context.Context, from string, rcpts []string, data []byte) error
}

// SMTPSender sends mail over a direct SMTP connection, one transaction per
// recipient so that each recipient's accept/reject is attributed exactly.
type SMTPSender struct {
	transport smtpTransport
	host      string
	maxRcpts  int
}

// NewSMTPSender creates a direct SMTP channel.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if cfg.MaxRecipients <= 0 {
		cfg.MaxRecipients = smtpDefaultMaxRecipients
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{
		transport: &smtpDialTransport{cfg: cfg},
		host:      cfg.Host,
		maxRcpts:  cfg.MaxRecipients,
	}
}

// NewSMTPSenderWithTransport creates an SMTP channel around an existing
// transport, used by tests.
func NewSMTPSenderWithTransport(t smtpTransport, maxRecipients int) *SMTPSender {
	if maxRecipients <= 0 {
		maxRecipients = smtpDefaultMaxRecipients
	}
	return &SMTPSender{transport: t, maxRcpts: maxRecipients}
}

// Name returns the stable channel identifier.
func (s *SMTPSender) Name() string { return "smtp" }

// MaxRecipientsPerRequest returns the processing-group ceiling.
func (s *SMTPSender) MaxRecipientsPerRequest() int { return s.maxRcpts }

// Send delivers msg over SMTP.
func (s *SMTPSender) Send(ctx context.Context, msg *mail.Message) (*Result, error) {
	return send(ctx, s, msg)
}

func (s *SMTPSender) process(ctx context.Context, msg *mail.Message, rcpts []mail.Address) (*Result, error) {
	if err := checkAttachments(msg); err != nil {
		return nil, err
	}

	partial := newResult(s.Name())
	for _, r := range rcpts {
		data := buildSMTPMessage(msg, r)

		// CC and BCC receive their copy alongside every primary recipient's
		// transaction; only BCC stays out of the message headers.
		envelope := []string{r.Email}
		for _, a := range msg.CC {
			envelope = append(envelope, a.Email)
		}
		for _, a := range msg.BCC {
			envelope = append(envelope, a.Email)
		}

		err := s.transport.sendMail(ctx, msg.From.Email, envelope, data)
		if err != nil {
			var te *TransportError
			if errors.As(err, &te) {
				return nil, err
			}
			partial.markFailed(r.Email, err.Error())
			logger.Warn("smtp delivery rejected", "recipient", logger.RedactEmail(r.Email), "error", err)
			continue
		}
		partial.markDelivered(r.Email)
	}
	return partial, nil
}

// buildSMTPMessage renders the full RFC 5322 message for one recipient.
func buildSMTPMessage(msg *mail.Message, rcpt mail.Address) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From.String())
	fmt.Fprintf(&buf, "To: %s\r\n", rcpt.String())
	for _, a := range msg.CC {
		fmt.Fprintf(&buf, "Cc: %s\r\n", a.String())
	}
	if msg.ReplyTo.Email != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", msg.ReplyTo.String())
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Message-ID: <%s@courier>\r\n", uuid.New().String())
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 && !(msg.HTML && msg.AltBody != "") {
		contentType := "text/plain"
		if msg.HTML {
			contentType = "text/html"
		}
		fmt.Fprintf(&buf, "Content-Type: %s; charset=UTF-8\r\n\r\n", contentType)
		buf.WriteString(msg.Body)
		buf.WriteString("\r\n")
		return buf.Bytes()
	}

	boundary := fmt.Sprintf("=_%s", uuid.New().String()[:16])
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	if msg.HTML && msg.AltBody != "" {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.AltBody)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	if msg.HTML {
		buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	} else {
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	}
	buf.WriteString(msg.Body)
	buf.WriteString("\r\n")

	for _, att := range msg.Attachments {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", att.MimeType)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", att.Name)
		buf.WriteString(encodeBase64WithLineBreaks(att.Content))
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes()
}

// smtpDialTransport is the real SMTP transport: dial, optional STARTTLS,
// optional AUTH PLAIN, then the MAIL/RCPT/DATA exchange.
type smtpDialTransport struct {
	cfg SMTPConfig
}

func (t *smtpDialTransport) sendMail(ctx context.Context, from string, rcpts []string, data []byte) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{Channel: "smtp", Err: fmt.Errorf("connect to %s: %w", addr, err)}
	}
	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return &TransportError{Channel: "smtp", Err: fmt.Errorf("smtp handshake: %w", err)}
	}
	defer client.Close()

	if t.cfg.Encryption != "none" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsCfg := &tls.Config{ServerName: t.cfg.Host}
			if tlsErr := client.StartTLS(tlsCfg); tlsErr != nil {
				return &TransportError{Channel: "smtp", Err: fmt.Errorf("starttls: %w", tlsErr)}
			}
		}
	}
	if t.cfg.Username != "" && t.cfg.Password != "" {
		if authErr := client.Auth(&smtpPlainAuth{user: t.cfg.Username, pass: t.cfg.Password}); authErr != nil {
			return &TransportError{Channel: "smtp", Err: fmt.Errorf("auth: %w", authErr)}
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return client.Quit()
}

// smtpPlainAuth implements smtp.Auth without the TLS requirement that
// stdlib's PlainAuth enforces. Relays on private networks commonly accept
// AUTH on the plaintext submission port.
type smtpPlainAuth struct {
	user, pass string
}

func (a *smtpPlainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *smtpPlainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	return nil, nil
}
