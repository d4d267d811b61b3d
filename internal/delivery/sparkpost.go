package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/courier/internal/mail"
	"github.com/ignite/courier/internal/pkg/logger"
)

// SparkPost limits.
const (
	sparkPostMaxRecipients = 2000
	sparkPostBaseURL       = "https://api.sparkpost.com/api/v1"
)

// SparkPostConfig holds the immutable settings for a SparkPost channel.
// Batch selects the dispatch strategy: one transmission per chunk when true,
// one transmission per recipient when false. The choice is fixed for the
// lifetime of the sender.
type SparkPostConfig struct {
	APIKey        string
	BaseURL       string
	MaxRecipients int
	Batch         bool
	Timeout       time.Duration
}

// SparkPostSender sends mail via the SparkPost Transmissions API.
type SparkPostSender struct {
	apiKey   string
	baseURL  string
	maxRcpts int
	batch    bool
	client   *http.Client
}

// NewSparkPostSender creates a SparkPost channel, capping the recipient
// ceiling at the API maximum and applying defaults for zero values.
func NewSparkPostSender(cfg SparkPostConfig) *SparkPostSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = sparkPostBaseURL
	}
	if cfg.MaxRecipients <= 0 || cfg.MaxRecipients > sparkPostMaxRecipients {
		cfg.MaxRecipients = sparkPostMaxRecipients
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &SparkPostSender{
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		maxRcpts: cfg.MaxRecipients,
		batch:    cfg.Batch,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the stable channel identifier.
func (s *SparkPostSender) Name() string { return "sparkpost" }

// MaxRecipientsPerRequest returns the recipients ceiling per transmission.
func (s *SparkPostSender) MaxRecipientsPerRequest() int { return s.maxRcpts }

// Send delivers msg through SparkPost, chunking recipients to the ceiling.
func (s *SparkPostSender) Send(ctx context.Context, msg *mail.Message) (*Result, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("SparkPost API key not configured")
	}
	return send(ctx, s, msg)
}

func (s *SparkPostSender) process(ctx context.Context, msg *mail.Message, rcpts []mail.Address) (*Result, error) {
	if err := checkAttachments(msg); err != nil {
		return nil, err
	}

	partial := newResult(s.Name())
	if s.batch {
		status, body, err := s.transmit(ctx, msg, rcpts)
		if err != nil {
			return nil, err
		}
		if status >= 200 && status < 300 {
			for _, r := range rcpts {
				partial.markDelivered(r.Email)
			}
			logger.Info("sparkpost transmission accepted", "recipients", len(rcpts))
		} else {
			// One status for the whole call: no per-recipient detail is
			// recoverable, so every recipient carries the same error.
			errMsg := firstErrorMessage(body)
			for _, r := range rcpts {
				partial.markFailed(r.Email, errMsg)
			}
			logger.Warn("sparkpost transmission rejected", "status", status, "error", errMsg)
		}
		return partial, nil
	}

	for _, r := range rcpts {
		status, body, err := s.transmit(ctx, msg, []mail.Address{r})
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

// SparkPost transmission payload types.
type sparkPostTransmission struct {
	Recipients []sparkPostRecipient `json:"recipients"`
	Content    sparkPostContent     `json:"content"`
}

type sparkPostRecipient struct {
	Address sparkPostAddress `json:"address"`
}

type sparkPostAddress struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	HeaderTo string `json:"header_to,omitempty"`
}

type sparkPostContent struct {
	From        sparkPostAddress      `json:"from"`
	Subject     string                `json:"subject"`
	HTML        string                `json:"html,omitempty"`
	Text        string                `json:"text,omitempty"`
	ReplyTo     string                `json:"reply_to,omitempty"`
	Headers     map[string]string     `json:"headers,omitempty"`
	Attachments []sparkPostAttachment `json:"attachments,omitempty"`
}

type sparkPostAttachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

// transmit performs one POST /transmissions call covering rcpts and returns
// the raw status code and body for outcome mapping.
func (s *SparkPostSender) transmit(ctx context.Context, msg *mail.Message, rcpts []mail.Address) (int, []byte, error) {
	recipients := make([]sparkPostRecipient, 0, len(rcpts)+len(msg.CC)+len(msg.BCC))
	for _, r := range rcpts {
		recipients = append(recipients, sparkPostRecipient{
			Address: sparkPostAddress{Email: r.Email, Name: r.Name},
		})
	}
	// CC/BCC ride along as extra recipients addressed to the primary; only
	// the CC list surfaces as a header.
	headerTo := rcpts[0].Email
	for _, r := range msg.CC {
		recipients = append(recipients, sparkPostRecipient{
			Address: sparkPostAddress{Email: r.Email, HeaderTo: headerTo},
		})
	}
	for _, r := range msg.BCC {
		recipients = append(recipients, sparkPostRecipient{
			Address: sparkPostAddress{Email: r.Email, HeaderTo: headerTo},
		})
	}

	content := sparkPostContent{
		From:    sparkPostAddress{Email: msg.From.Email, Name: msg.From.Name},
		Subject: msg.Subject,
	}
	if msg.ReplyTo.Email != "" {
		content.ReplyTo = msg.ReplyTo.String()
	}
	if msg.HTML {
		content.HTML = msg.Body
		content.Text = msg.AltBody
	} else {
		content.Text = msg.Body
	}
	if len(msg.CC) > 0 {
		ccEmails := make([]string, len(msg.CC))
		for i, r := range msg.CC {
			ccEmails[i] = r.Email
		}
		content.Headers = map[string]string{"CC": strings.Join(ccEmails, ",")}
	}
	for _, a := range msg.Attachments {
		content.Attachments = append(content.Attachments, sparkPostAttachment{
			Name: a.Name,
			Type: a.MimeType,
			Data: base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	jsonData, err := json.Marshal(sparkPostTransmission{Recipients: recipients, Content: content})
	if err != nil {
		return 0, nil, fmt.Errorf("marshal transmission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/transmissions", bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Channel: s.Name(), Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	return resp.StatusCode, body, nil
}
