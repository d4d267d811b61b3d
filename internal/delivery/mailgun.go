package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/courier/internal/mail"
	"github.com/ignite/courier/internal/pkg/logger"
)

const (
	mailgunMaxRecipients = 1000
	mailgunBaseURL       = "https://api.mailgun.net/v3"
)

// MailgunConfig holds the immutable settings for a Mailgun channel.
type MailgunConfig struct {
	APIKey        string
	Domain        string
	BaseURL       string
	MaxRecipients int
	Batch         bool
	Timeout       time.Duration
}

// MailgunSender sends mail via the Mailgun Messages API. In batch mode a
// chunk becomes one call with a multi-valued "to" field plus
// recipient-variables, which makes Mailgun deliver an individual copy per
// recipient.
type MailgunSender struct {
	apiKey   string
	domain   string
	baseURL  string
	maxRcpts int
	batch    bool
	client   *http.Client
}

// NewMailgunSender creates a Mailgun channel targeting the given domain.
func NewMailgunSender(cfg MailgunConfig) *MailgunSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = mailgunBaseURL
	}
	if cfg.MaxRecipients <= 0 || cfg.MaxRecipients > mailgunMaxRecipients {
		cfg.MaxRecipients = mailgunMaxRecipients
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &MailgunSender{
		apiKey:   cfg.APIKey,
		domain:   cfg.Domain,
		baseURL:  cfg.BaseURL,
		maxRcpts: cfg.MaxRecipients,
		batch:    cfg.Batch,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the stable channel identifier.
func (s *MailgunSender) Name() string { return "mailgun" }

// MaxRecipientsPerRequest returns the recipients ceiling per call.
func (s *MailgunSender) MaxRecipientsPerRequest() int { return s.maxRcpts }

// Send delivers msg through Mailgun.
func (s *MailgunSender) Send(ctx context.Context, msg *mail.Message) (*Result, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("Mailgun API key not configured")
	}
	if s.domain == "" {
		return nil, fmt.Errorf("Mailgun domain not configured")
	}
	return send(ctx, s, msg)
}

func (s *MailgunSender) process(ctx context.Context, msg *mail.Message, rcpts []mail.Address) (*Result, error) {
	if err := checkAttachments(msg); err != nil {
		return nil, err
	}

	partial := newResult(s.Name())
	if s.batch {
		status, body, err := s.post(ctx, msg, rcpts, true)
		if err != nil {
			return nil, err
		}
		if status >= 200 && status < 300 {
			for _, r := range rcpts {
				partial.markDelivered(r.Email)
			}
			logger.Info("mailgun batch accepted", "recipients", len(rcpts))
		} else {
			errMsg := namedErrorMessage(body)
			for _, r := range rcpts {
				partial.markFailed(r.Email, errMsg)
			}
			logger.Warn("mailgun batch rejected", "status", status, "error", errMsg)
		}
		return partial, nil
	}

	for _, r := range rcpts {
		status, body, err := s.post(ctx, msg, []mail.Address{r}, false)
		if err != nil {
			return nil, err
		}
		if status >= 200 && status < 300 {
			partial.markDelivered(r.Email)
		} else {
			partial.markFailed(r.Email, namedErrorMessage(body))
		}
	}
	return partial, nil
}

// post performs one POST /<domain>/messages call. Messages without
// attachments go out urlencoded the way the API examples do; attachments
// force multipart/form-data.
func (s *MailgunSender) post(ctx context.Context, msg *mail.Message, rcpts []mail.Address, batch bool) (int, []byte, error) {
	form := url.Values{}
	form.Set("from", msg.From.String())

	toList := make([]string, len(rcpts))
	for i, r := range rcpts {
		toList[i] = r.Email
	}
	form.Set("to", strings.Join(toList, ","))

	if msg.HTML {
		form.Set("html", msg.Body)
		if msg.AltBody != "" {
			form.Set("text", msg.AltBody)
		}
	} else {
		form.Set("text", msg.Body)
	}
	form.Set("subject", msg.Subject)
	if msg.ReplyTo.Email != "" {
		form.Set("h:Reply-To", msg.ReplyTo.String())
	}
	for _, r := range msg.CC {
		form.Add("cc", r.Email)
	}
	for _, r := range msg.BCC {
		form.Add("bcc", r.Email)
	}
	if batch && len(rcpts) > 1 {
		vars := make(map[string]map[string]interface{}, len(rcpts))
		for i, r := range rcpts {
			vars[r.Email] = map[string]interface{}{"id": i}
		}
		varsJSON, err := json.Marshal(vars)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal recipient-variables: %w", err)
		}
		form.Set("recipient-variables", string(varsJSON))
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.domain)

	var req *http.Request
	var err error
	if len(msg.Attachments) == 0 {
		req, err = http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return 0, nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		for key, values := range form {
			for _, v := range values {
				if werr := writer.WriteField(key, v); werr != nil {
					return 0, nil, fmt.Errorf("write form field %s: %w", key, werr)
				}
			}
		}
		for _, a := range msg.Attachments {
			part, werr := writer.CreateFormFile("attachment", a.Name)
			if werr != nil {
				return 0, nil, fmt.Errorf("create attachment part: %w", werr)
			}
			if _, werr := part.Write(a.Content); werr != nil {
				return 0, nil, fmt.Errorf("write attachment %s: %w", a.Name, werr)
			}
		}
		if werr := writer.Close(); werr != nil {
			return 0, nil, fmt.Errorf("close multipart body: %w", werr)
		}
		req, err = http.NewRequestWithContext(ctx, "POST", endpoint, &buf)
		if err != nil {
			return 0, nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
	}
	req.SetBasicAuth("api", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Channel: s.Name(), Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	return resp.StatusCode, body, nil
}
