package delivery

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ignite/courier/internal/mail"
)

func messageWithAttachment(size int) *mail.Message {
	return &mail.Message{
		Subject:    "report",
		Body:       "see attached",
		From:       mail.Address{Email: "ops@example.com"},
		Recipients: []mail.Address{{Email: "lead@example.com"}},
		Attachments: []mail.Attachment{{
			Name:     "report.bin",
			MimeType: "application/octet-stream",
			Content:  bytes.Repeat([]byte{0x1}, size),
		}},
	}
}

func TestAttachmentGuardExactCeilingPasses(t *testing.T) {
	sender := NewLoopbackSender()
	msg := messageWithAttachment(MaxAttachmentBytes)

	result, err := sender.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send at exact ceiling: %v", err)
	}
	if result.DeliveredTo != 1 {
		t.Errorf("DeliveredTo = %d, want 1", result.DeliveredTo)
	}
}

func TestAttachmentGuardOneByteOverAborts(t *testing.T) {
	sender := NewLoopbackSender()
	msg := messageWithAttachment(MaxAttachmentBytes + 1)

	result, err := sender.Send(context.Background(), msg)
	if err == nil {
		t.Fatal("Send one byte over ceiling: want error")
	}
	if !errors.Is(err, ErrAttachmentsTooLarge) {
		t.Errorf("error = %v, want ErrAttachmentsTooLarge", err)
	}
	if result != nil {
		t.Errorf("got a Result alongside the error: %+v", result)
	}
	if len(sender.Sent()) != 0 {
		t.Errorf("guard failure still recorded %d deliveries", len(sender.Sent()))
	}
}

func TestAttachmentGuardRunsBeforeAnyNetworkCall(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewSparkPostSender(SparkPostConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Batch:   true,
	})
	msg := messageWithAttachment(MaxAttachmentBytes + 1)

	if _, err := sender.Send(context.Background(), msg); err == nil {
		t.Fatal("oversized attachments: want error")
	}
	if calls != 0 {
		t.Errorf("backend was called %d times, want 0", calls)
	}
}

func TestAttachmentGuardSumsAcrossAttachments(t *testing.T) {
	msg := messageWithAttachment(MaxAttachmentBytes - 10)
	msg.Attachments = append(msg.Attachments, mail.Attachment{
		Name:     "extra.txt",
		MimeType: "text/plain",
		Content:  bytes.Repeat([]byte{0x2}, 11),
	})

	if err := checkAttachments(msg); !errors.Is(err, ErrAttachmentsTooLarge) {
		t.Errorf("cumulative overflow: got %v, want ErrAttachmentsTooLarge", err)
	}
}
