package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/courier/internal/mail"
	"github.com/ignite/courier/internal/pkg/logger"
)

const sesMaxRecipients = 50

// SESConfig holds the immutable settings for an AWS SES channel.
type SESConfig struct {
	AccessKey     string
	SecretKey     string
	Region        string
	MaxRecipients int
}

// SendEmailAPI is the slice of the SES v2 client the channel needs. Tests
// substitute a mock.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends mail via AWS SES v2, one SendEmail call per recipient.
// SES has no true bulk transmission for ad-hoc content, so the channel is
// individual-mode only; the recipient ceiling merely sizes the processing
// groups.
type SESSender struct {
	client   SendEmailAPI
	maxRcpts int
}

// NewSESSender creates an SES channel. The SDK client is initialized from
// static credentials when provided, otherwise the default chain applies.
func NewSESSender(ctx context.Context, cfg SESConfig) (*SESSender, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRecipients <= 0 || cfg.MaxRecipients > sesMaxRecipients {
		cfg.MaxRecipients = sesMaxRecipients
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &SESSender{
		client:   sesv2.NewFromConfig(awsCfg),
		maxRcpts: cfg.MaxRecipients,
	}, nil
}

// NewSESSenderWithClient creates an SES channel around an existing client,
// used by tests.
func NewSESSenderWithClient(client SendEmailAPI, maxRecipients int) *SESSender {
	if maxRecipients <= 0 || maxRecipients > sesMaxRecipients {
		maxRecipients = sesMaxRecipients
	}
	return &SESSender{client: client, maxRcpts: maxRecipients}
}

// Name returns the stable channel identifier.
func (s *SESSender) Name() string { return "ses" }

// MaxRecipientsPerRequest returns the processing-group ceiling.
func (s *SESSender) MaxRecipientsPerRequest() int { return s.maxRcpts }

// Send delivers msg through SES.
func (s *SESSender) Send(ctx context.Context, msg *mail.Message) (*Result, error) {
	if s.client == nil {
		return nil, fmt.Errorf("SES client not initialized - check credentials")
	}
	return send(ctx, s, msg)
}

func (s *SESSender) process(ctx context.Context, msg *mail.Message, rcpts []mail.Address) (*Result, error) {
	if err := checkAttachments(msg); err != nil {
		return nil, err
	}

	partial := newResult(s.Name())
	for _, r := range rcpts {
		input, err := s.buildInput(msg, r)
		if err != nil {
			return nil, err
		}
		if _, err := s.client.SendEmail(ctx, input); err != nil {
			partial.markFailed(r.Email, err.Error())
			logger.Warn("ses send failed", "recipient", logger.RedactEmail(r.Email), "error", err)
			continue
		}
		partial.markDelivered(r.Email)
	}
	return partial, nil
}

// buildInput assembles the SendEmail input for one recipient. Messages with
// attachments need the raw MIME form; everything else uses the simple form.
func (s *SESSender) buildInput(msg *mail.Message, rcpt mail.Address) (*sesv2.SendEmailInput, error) {
	dest := &types.Destination{ToAddresses: []string{rcpt.Email}}
	for _, a := range msg.CC {
		dest.CcAddresses = append(dest.CcAddresses, a.Email)
	}
	for _, a := range msg.BCC {
		dest.BccAddresses = append(dest.BccAddresses, a.Email)
	}

	if len(msg.Attachments) > 0 {
		raw, err := buildRawMessage(msg, rcpt)
		if err != nil {
			return nil, fmt.Errorf("build raw message: %w", err)
		}
		// The raw MIME headers omit BCC on purpose, so the envelope
		// destination must carry the full recipient set.
		return &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(msg.From.String()),
			Destination:      dest,
			Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
		}, nil
	}

	body := &types.Body{}
	if msg.HTML {
		body.Html = &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
		if msg.AltBody != "" {
			body.Text = &types.Content{Data: aws.String(msg.AltBody), Charset: aws.String("UTF-8")}
		}
	} else {
		body.Text = &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From.String()),
		Destination:      dest,
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if msg.ReplyTo.Email != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo.Email}
	}
	return input, nil
}

// buildRawMessage constructs an RFC 2045 multipart/mixed message for sends
// that carry attachments.
func buildRawMessage(msg *mail.Message, rcpt mail.Address) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From.String())
	fmt.Fprintf(&buf, "To: %s\r\n", rcpt.String())
	if len(msg.CC) > 0 {
		ccList := make([]string, len(msg.CC))
		for i, a := range msg.CC {
			ccList[i] = a.String()
		}
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(ccList, ", "))
	}
	if msg.ReplyTo.Email != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", msg.ReplyTo.String())
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	if msg.HTML {
		bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
	} else {
		bodyHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	}
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	part.Write([]byte(msg.Body))

	for _, att := range msg.Attachments {
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", att.MimeType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s", mime.QEncoding.Encode("UTF-8", att.Name)))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("create attachment part: %w", err)
		}
		part.Write([]byte(encodeBase64WithLineBreaks(att.Content)))
	}

	writer.Close()
	return buf.Bytes(), nil
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line
// breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
