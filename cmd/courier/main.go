package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ignite/courier/internal/config"
	"github.com/ignite/courier/internal/delivery"
	"github.com/ignite/courier/internal/mail"
	"github.com/ignite/courier/internal/pkg/logger"
)

// stringList collects repeated flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		channel    = flag.String("channel", "", "Delivery channel (overrides config)")
		from       = flag.String("from", "", "Sender address (overrides config)")
		replyTo    = flag.String("reply-to", "", "Reply-To address")
		subject    = flag.String("subject", "", "Message subject")
		body       = flag.String("body", "", "Message body")
		bodyFile   = flag.String("body-file", "", "Read message body from file")
		html       = flag.Bool("html", false, "Body is HTML")
		altBody    = flag.String("alt-body", "", "Plain-text alternative for HTML bodies")
		to         stringList
		cc         stringList
		bcc        stringList
		attach     stringList
	)
	flag.Var(&to, "to", "Recipient address (repeatable)")
	flag.Var(&cc, "cc", "CC address (repeatable)")
	flag.Var(&bcc, "bcc", "BCC address (repeatable)")
	flag.Var(&attach, "attach", "Attachment file path (repeatable)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	msg, err := buildMessage(cfg, *from, *replyTo, *subject, *body, *bodyFile, *html, *altBody, to, cc, bcc, attach)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	name := cfg.Sender.Channel
	if *channel != "" {
		name = *channel
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	sender, err := buildSender(ctx, cfg, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger.Info("sending message", "channel", sender.Name(), "recipients", len(msg.Recipients))

	result, err := sender.Send(ctx, msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: send aborted: %v\n", err)
		os.Exit(1)
	}

	report, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(report))

	if result.FailedTo() > 0 {
		os.Exit(2)
	}
}

func buildMessage(cfg *config.Config, from, replyTo, subject, body, bodyFile string, html bool, altBody string, to, cc, bcc, attach stringList) (*mail.Message, error) {
	if len(to) == 0 {
		return nil, fmt.Errorf("at least one -to recipient is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("-subject is required")
	}
	if bodyFile != "" {
		data, err := os.ReadFile(bodyFile)
		if err != nil {
			return nil, fmt.Errorf("read body file: %w", err)
		}
		body = string(data)
	}
	if body == "" {
		return nil, fmt.Errorf("-body or -body-file is required")
	}

	fromAddr := mail.Address{Name: cfg.Sender.FromName, Email: cfg.Sender.FromEmail}
	if from != "" {
		fromAddr = mail.Address{Email: from}
	}
	if fromAddr.Email == "" {
		return nil, fmt.Errorf("no sender address: set -from or sender.from_email in config")
	}

	msg := &mail.Message{
		Subject: subject,
		Body:    body,
		HTML:    html,
		AltBody: altBody,
		From:    fromAddr,
	}
	if replyTo != "" {
		msg.ReplyTo = mail.Address{Email: replyTo}
	} else if cfg.Sender.ReplyTo != "" {
		msg.ReplyTo = mail.Address{Email: cfg.Sender.ReplyTo}
	}
	for _, a := range to {
		msg.Recipients = append(msg.Recipients, mail.Address{Email: a})
	}
	for _, a := range cc {
		msg.CC = append(msg.CC, mail.Address{Email: a})
	}
	for _, a := range bcc {
		msg.BCC = append(msg.BCC, mail.Address{Email: a})
	}
	for _, path := range attach {
		name := filepath.Base(path)
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		att, err := mail.AttachmentFromFile(path, name, mimeType)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg, nil
}

func buildSender(ctx context.Context, cfg *config.Config, name string) (delivery.Sender, error) {
	switch name {
	case "sparkpost":
		return delivery.NewSparkPostSender(delivery.SparkPostConfig{
			APIKey:        cfg.SparkPost.APIKey,
			BaseURL:       cfg.SparkPost.BaseURL,
			MaxRecipients: cfg.SparkPost.MaxRecipients,
			Batch:         cfg.SparkPost.Batch,
			Timeout:       time.Duration(cfg.SparkPost.TimeoutSeconds) * time.Second,
		}), nil
	case "sendgrid":
		return delivery.NewSendGridSender(delivery.SendGridConfig{
			APIKey:        cfg.SendGrid.APIKey,
			BaseURL:       cfg.SendGrid.BaseURL,
			MaxRecipients: cfg.SendGrid.MaxRecipients,
			Batch:         cfg.SendGrid.Batch,
			Timeout:       time.Duration(cfg.SendGrid.TimeoutSeconds) * time.Second,
		}), nil
	case "mailgun":
		return delivery.NewMailgunSender(delivery.MailgunConfig{
			APIKey:        cfg.Mailgun.APIKey,
			Domain:        cfg.Mailgun.Domain,
			BaseURL:       cfg.Mailgun.BaseURL,
			MaxRecipients: cfg.Mailgun.MaxRecipients,
			Batch:         cfg.Mailgun.Batch,
			Timeout:       time.Duration(cfg.Mailgun.TimeoutSeconds) * time.Second,
		}), nil
	case "ses":
		return delivery.NewSESSender(ctx, delivery.SESConfig{
			AccessKey:     cfg.SES.AccessKey,
			SecretKey:     cfg.SES.SecretKey,
			Region:        cfg.SES.Region,
			MaxRecipients: cfg.SES.MaxRecipients,
		})
	case "resend":
		return delivery.NewResendSender(delivery.ResendConfig{
			APIKey:        cfg.Resend.APIKey,
			MaxRecipients: cfg.Resend.MaxRecipients,
		}), nil
	case "smtp":
		return delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:          cfg.SMTP.Host,
			Port:          cfg.SMTP.Port,
			Username:      cfg.SMTP.Username,
			Password:      cfg.SMTP.Password,
			Encryption:    cfg.SMTP.Encryption,
			MaxRecipients: cfg.SMTP.MaxRecipients,
			Timeout:       time.Duration(cfg.SMTP.TimeoutSeconds) * time.Second,
		}), nil
	case "loopback":
		return delivery.NewLoopbackSender(), nil
	default:
		return nil, fmt.Errorf("unknown channel %q", name)
	}
}
