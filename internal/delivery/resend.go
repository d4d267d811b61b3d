package delivery

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"

	"github.com/ignite/courier/internal/mail"
	"github.com/ignite/courier/internal/pkg/logger"
)

const resendMaxRecipients = 50

// ResendConfig holds the immutable settings for a Resend channel.
type ResendConfig struct {
	APIKey        string
	MaxRecipients int
}

// resendEmailsAPI is the slice of the Resend client the channel needs.
// Tests substitute a fake.
type resendEmailsAPI interface {
	SendWithContext(ctx context.Context, req *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender sends mail via the Resend API, one call per recipient.
type ResendSender struct {
	emails   resendEmailsAPI
	maxRcpts int
}

// NewResendSender creates a Resend channel.
func NewResendSender(cfg ResendConfig) *ResendSender {
	if cfg.MaxRecipients <= 0 || cfg.MaxRecipients > resendMaxRecipients {
		cfg.MaxRecipients = resendMaxRecipients
	}
	return &ResendSender{
		emails:   resend.NewClient(cfg.APIKey).Emails,
		maxRcpts: cfg.MaxRecipients,
	}
}

// NewResendSenderWithAPI creates a Resend channel around an existing emails
// API, used by tests.
func NewResendSenderWithAPI(api resendEmailsAPI, maxRecipients int) *ResendSender {
	if maxRecipients <= 0 || maxRecipients > resendMaxRecipients {
		maxRecipients = resendMaxRecipients
	}
	return &ResendSender{emails: api, maxRcpts: maxRecipients}
}

// Name returns the stable channel identifier.
func (s *ResendSender) Name() string { return "resend" }

// MaxRecipientsPerRequest returns the processing-group ceiling.
func (s *ResendSender) MaxRecipientsPerRequest() int { return s.maxRcpts }

// Send delivers msg through Resend.
func (s *ResendSender) Send(ctx context.Context, msg *mail.Message) (*Result, error) {
	if s.emails == nil {
		return nil, fmt.Errorf("Resend client not initialized")
	}
	return send(ctx, s, msg)
}

func (s *ResendSender) process(ctx context.Context, msg *mail.Message, rcpts []mail.Address) (*Result, error) {
	if err := checkAttachments(msg); err != nil {
		return nil, err
	}

	// Attachments are shared by the whole message, so they are converted
	// once and reused across the per-recipient calls.
	var attachments []*resend.Attachment
	for _, a := range msg.Attachments {
		attachments = append(attachments, &resend.Attachment{
			Filename:    a.Name,
			ContentType: a.MimeType,
			Content:     a.Content,
		})
	}

	ccList := make([]string, len(msg.CC))
	for i, a := range msg.CC {
		ccList[i] = a.Email
	}
	bccList := make([]string, len(msg.BCC))
	for i, a := range msg.BCC {
		bccList[i] = a.Email
	}

	partial := newResult(s.Name())
	for _, r := range rcpts {
		req := &resend.SendEmailRequest{
			From:        msg.From.String(),
			To:          []string{r.Email},
			Subject:     msg.Subject,
			Cc:          ccList,
			Bcc:         bccList,
			Attachments: attachments,
		}
		if msg.HTML {
			req.Html = msg.Body
			req.Text = msg.AltBody
		} else {
			req.Text = msg.Body
		}
		if msg.ReplyTo.Email != "" {
			req.ReplyTo = msg.ReplyTo.Email
		}

		if _, err := s.emails.SendWithContext(ctx, req); err != nil {
			partial.markFailed(r.Email, err.Error())
			logger.Warn("resend send failed", "recipient", logger.RedactEmail(r.Email), "error", err)
			continue
		}
		partial.markDelivered(r.Email)
	}
	return partial, nil
}
