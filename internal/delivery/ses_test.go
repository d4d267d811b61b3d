package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/ignite/courier/internal/mail"
)

// mockSESClient records SendEmail calls and fails the addresses listed in
// failFor.
type mockSESClient struct {
	inputs  []*sesv2.SendEmailInput
	failFor map[string]error
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.inputs = append(m.inputs, params)
	if params.Destination != nil {
		for _, to := range params.Destination.ToAddresses {
			if err, ok := m.failFor[to]; ok {
				return nil, err
			}
		}
	}
	return &sesv2.SendEmailOutput{}, nil
}

func TestSESMixedOutcomes(t *testing.T) {
	client := &mockSESClient{
		failFor: map[string]error{
			"user1@example.com": errors.New("MessageRejected: address is suppressed"),
		},
	}
	sender := NewSESSenderWithClient(client, 0)

	msg := &mail.Message{
		Subject:    "alert",
		Body:       "disk almost full",
		From:       mail.Address{Email: "alerts@example.com"},
		Recipients: addresses(3),
	}

	result, err := sender.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(client.inputs) != 3 {
		t.Errorf("got %d SendEmail calls, want one per recipient", len(client.inputs))
	}
	if result.DeliveredTo != 2 || result.FailedTo() != 1 {
		t.Fatalf("delivered %d / failed %d, want 2 / 1", result.DeliveredTo, result.FailedTo())
	}
	if got := result.Results[1].Error; !strings.Contains(got, "MessageRejected") {
		t.Errorf("error = %q, want the SDK error text", got)
	}
}

func TestSESSimpleInputCarriesDestination(t *testing.T) {
	client := &mockSESClient{}
	sender := NewSESSenderWithClient(client, 0)

	msg := &mail.Message{
		Subject:    "alert",
		Body:       "<b>red</b>",
		HTML:       true,
		AltBody:    "red",
		From:       mail.Address{Name: "Alerts", Email: "alerts@example.com"},
		ReplyTo:    mail.Address{Email: "oncall@example.com"},
		Recipients: addresses(1),
		CC:         []mail.Address{{Email: "cc@example.com"}},
		BCC:        []mail.Address{{Email: "bcc@example.com"}},
	}

	if _, err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	input := client.inputs[0]
	if input.Content.Simple == nil {
		t.Fatal("no attachments: want the simple content form")
	}
	if got := *input.FromEmailAddress; got != "Alerts <alerts@example.com>" {
		t.Errorf("from = %q", got)
	}
	dest := input.Destination
	if len(dest.ToAddresses) != 1 || dest.ToAddresses[0] != "user0@example.com" {
		t.Errorf("to = %v", dest.ToAddresses)
	}
	if len(dest.CcAddresses) != 1 || len(dest.BccAddresses) != 1 {
		t.Errorf("cc = %v, bcc = %v", dest.CcAddresses, dest.BccAddresses)
	}
	if len(input.ReplyToAddresses) != 1 || input.ReplyToAddresses[0] != "oncall@example.com" {
		t.Errorf("reply-to = %v", input.ReplyToAddresses)
	}
	if input.Content.Simple.Body.Html == nil || input.Content.Simple.Body.Text == nil {
		t.Error("html message with alt body should carry both parts")
	}
}

func TestSESAttachmentsUseRawMIME(t *testing.T) {
	client := &mockSESClient{}
	sender := NewSESSenderWithClient(client, 0)

	msg := &mail.Message{
		Subject:    "report",
		Body:       "attached",
		From:       mail.Address{Email: "ops@example.com"},
		Recipients: addresses(1),
		BCC:        []mail.Address{{Email: "audit@example.com"}},
		Attachments: []mail.Attachment{{
			Name:     "data.csv",
			MimeType: "text/csv",
			Content:  []byte("a,b\n"),
		}},
	}

	if _, err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	input := client.inputs[0]
	if input.Content.Raw == nil {
		t.Fatal("attachments: want the raw content form")
	}
	if input.FromEmailAddress == nil || *input.FromEmailAddress != "ops@example.com" {
		t.Error("raw input missing the sender address")
	}
	// The raw headers never list BCC, so the envelope destination has to.
	if input.Destination == nil {
		t.Fatal("raw input missing the envelope destination")
	}
	if got := input.Destination.ToAddresses; len(got) != 1 || got[0] != "user0@example.com" {
		t.Errorf("to = %v", got)
	}
	if got := input.Destination.BccAddresses; len(got) != 1 || got[0] != "audit@example.com" {
		t.Errorf("bcc = %v, want the envelope to carry it", got)
	}
	raw := string(input.Content.Raw.Data)
	for _, want := range []string{
		"From: ops@example.com",
		"To: user0@example.com",
		"Subject: report",
		"multipart/mixed",
		"Content-Transfer-Encoding: base64",
		"filename=data.csv",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("raw message missing %q", want)
		}
	}
}

func TestSESRecipientCeilingCapped(t *testing.T) {
	sender := NewSESSenderWithClient(&mockSESClient{}, 500)
	if got := sender.MaxRecipientsPerRequest(); got != sesMaxRecipients {
		t.Errorf("ceiling = %d, want capped at %d", got, sesMaxRecipients)
	}
}

func TestEncodeBase64WithLineBreaks(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	encoded := encodeBase64WithLineBreaks(data)
	for _, line := range strings.Split(encoded, "\r\n") {
		if len(line) > 76 {
			t.Errorf("line length %d exceeds 76", len(line))
		}
	}
}
