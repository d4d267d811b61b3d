package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/courier/internal/mail"
	"github.com/ignite/courier/internal/pkg/logger"
)

const (
	sendGridMaxRecipients = 1000
	sendGridBaseURL       = "https://api.sendgrid.com/v3"
)

// SendGridConfig holds the immutable settings for a SendGrid channel.
type SendGridConfig struct {
	APIKey        string
	BaseURL       string
	MaxRecipients int
	Batch         bool
	Timeout       time.Duration
}

// SendGridSender sends mail via the SendGrid v3 Mail Send API. In batch mode
// a chunk's recipients become one personalizations array in a single call.
type SendGridSender struct {
	apiKey   string
	baseURL  string
	maxRcpts int
	batch    bool
	client   *http.Client
}

// NewSendGridSender creates a SendGrid channel with capped ceiling and
// defaults applied.
func NewSendGridSender(cfg SendGridConfig) *SendGridSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = sendGridBaseURL
	}
	if cfg.MaxRecipients <= 0 || cfg.MaxRecipients > sendGridMaxRecipients {
		cfg.MaxRecipients = sendGridMaxRecipients
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &SendGridSender{
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		maxRcpts: cfg.MaxRecipients,
		batch:    cfg.Batch,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the stable channel identifier.
func (s *SendGridSender) Name() string { return "sendgrid" }

// MaxRecipientsPerRequest returns the personalizations ceiling per call.
func (s *SendGridSender) MaxRecipientsPerRequest() int { return s.maxRcpts }

// Send delivers msg through SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg *mail.Message) (*Result, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("SendGrid API key not configured")
	}
	return send(ctx, s, msg)
}

func (s *SendGridSender) process(ctx context.Context, msg *mail.Message, rcpts []mail.Address) (*Result, error) {
	if err := checkAttachments(msg); err != nil {
		return nil, err
	}

	partial := newResult(s.Name())
	if s.batch {
		status, body, err := s.mailSend(ctx, msg, rcpts)
		if err != nil {
			return nil, err
		}
		if status >= 200 && status < 300 {
			for _, r := range rcpts {
				partial.markDelivered(r.Email)
			}
			logger.Info("sendgrid batch accepted", "recipients", len(rcpts))
		} else {
			errMsg := firstErrorMessage(body)
			for _, r := range rcpts {
				partial.markFailed(r.Email, errMsg)
			}
			logger.Warn("sendgrid batch rejected", "status", status, "error", errMsg)
		}
		return partial, nil
	}

	for _, r := range rcpts {
		status, body, err := s.mailSend(ctx, msg, []mail.Address{r})
		if err != nil {
			return nil, err
		}
		if status >= 200 && status < 300 {
			partial.markDelivered(r.Email)
		} else {
			partial.markFailed(r.Email, firstErrorMessage(body))
		}
	}
	return partial, nil
}

// mailSend performs one POST /mail/send call. The payload is built as nested
// maps the way SendGrid's loose schema invites.
func (s *SendGridSender) mailSend(ctx context.Context, msg *mail.Message, rcpts []mail.Address) (int, []byte, error) {
	personalizations := make([]map[string]interface{}, len(rcpts))
	for i, r := range rcpts {
		p := map[string]interface{}{
			"to": []map[string]string{addressField(r)},
		}
		if len(msg.CC) > 0 {
			p["cc"] = addressFields(msg.CC)
		}
		if len(msg.BCC) > 0 {
			p["bcc"] = addressFields(msg.BCC)
		}
		personalizations[i] = p
	}

	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}
	content := []map[string]string{{"type": contentType, "value": msg.Body}}
	if msg.HTML && msg.AltBody != "" {
		content = []map[string]string{
			{"type": "text/plain", "value": msg.AltBody},
			{"type": "text/html", "value": msg.Body},
		}
	}

	payload := map[string]interface{}{
		"personalizations": personalizations,
		"from":             addressField(msg.From),
		"subject":          msg.Subject,
		"content":          content,
	}
	if msg.ReplyTo.Email != "" {
		payload["reply_to"] = addressField(msg.ReplyTo)
	}
	if len(msg.Attachments) > 0 {
		attachments := make([]map[string]string, len(msg.Attachments))
		for i, a := range msg.Attachments {
			attachments[i] = map[string]string{
				"content":  base64.StdEncoding.EncodeToString(a.Content),
				"type":     a.MimeType,
				"filename": a.Name,
			}
		}
		payload["attachments"] = attachments
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/mail/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Channel: s.Name(), Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	return resp.StatusCode, body, nil
}

func addressField(a mail.Address) map[string]string {
	field := map[string]string{"email": a.Email}
	if a.Name != "" {
		field["name"] = a.Name
	}
	return field
}

func addressFields(addrs []mail.Address) []map[string]string {
	fields := make([]map[string]string, len(addrs))
	for i, a := range addrs {
		fields[i] = addressField(a)
	}
	return fields
}
