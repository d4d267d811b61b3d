package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ignite/courier/internal/mail"
)

type sendGridPayload struct {
	Personalizations []struct {
		To []struct {
			Email string `json:"email"`
		} `json:"to"`
		CC []struct {
			Email string `json:"email"`
		} `json:"cc"`
	} `json:"personalizations"`
	Subject string `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
	Attachments []struct {
		Filename string `json:"filename"`
		Type     string `json:"type"`
		Content  string `json:"content"`
	} `json:"attachments"`
}

func TestSendGridBatchPayload(t *testing.T) {
	var payload sendGridPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mail/send" {
			t.Errorf("path = %s, want /mail/send", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sg-key" {
			t.Errorf("Authorization = %q, want Bearer sg-key", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	msg := &mail.Message{
		Subject:    "digest",
		Body:       "<p>weekly digest</p>",
		HTML:       true,
		AltBody:    "weekly digest",
		From:       mail.Address{Email: "digest@example.com"},
		Recipients: addresses(3),
		CC:         []mail.Address{{Email: "archive@example.com"}},
		Attachments: []mail.Attachment{{
			Name:     "stats.csv",
			MimeType: "text/csv",
			Content:  []byte("a,b\n1,2\n"),
		}},
	}

	sender := NewSendGridSender(SendGridConfig{APIKey: "sg-key", BaseURL: server.URL, Batch: true})
	result, err := sender.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if result.DeliveredTo != 3 {
		t.Errorf("DeliveredTo = %d, want 3", result.DeliveredTo)
	}
	if len(payload.Personalizations) != 3 {
		t.Fatalf("got %d personalizations, want one per recipient", len(payload.Personalizations))
	}
	if got := payload.Personalizations[0].To[0].Email; got != "user0@example.com" {
		t.Errorf("first to = %q, want user0@example.com", got)
	}
	if len(payload.Personalizations[0].CC) != 1 {
		t.Error("cc missing from personalization")
	}
	if len(payload.Content) != 2 {
		t.Fatalf("got %d content parts, want text + html", len(payload.Content))
	}
	if payload.Content[0].Type != "text/plain" || payload.Content[1].Type != "text/html" {
		t.Errorf("content order = %s, %s; plain must precede html", payload.Content[0].Type, payload.Content[1].Type)
	}
	if len(payload.Attachments) != 1 || payload.Attachments[0].Filename != "stats.csv" {
		t.Errorf("attachments = %+v", payload.Attachments)
	}
}

func TestSendGridIndividualModeIsolation(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var payload sendGridPayload
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		if payload.Personalizations[0].To[0].Email == "user0@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"errors":[{"message":"does not contain a valid address"}]}`)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	msg := &mail.Message{
		Subject:    "digest",
		Body:       "hello",
		From:       mail.Address{Email: "digest@example.com"},
		Recipients: addresses(3),
	}

	sender := NewSendGridSender(SendGridConfig{APIKey: "sg-key", BaseURL: server.URL})
	result, err := sender.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if calls != 3 {
		t.Errorf("got %d API calls, want one per recipient", calls)
	}
	if result.DeliveredTo != 2 || result.FailedTo() != 1 {
		t.Fatalf("delivered %d / failed %d, want 2 / 1", result.DeliveredTo, result.FailedTo())
	}
	if got := result.Results[0].Error; got != "does not contain a valid address" {
		t.Errorf("error = %q, want the backend's message", got)
	}
}

func TestSendGridUnparseableErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{}`)
	}))
	defer server.Close()

	msg := &mail.Message{
		Subject:    "x",
		Body:       "y",
		From:       mail.Address{Email: "a@example.com"},
		Recipients: addresses(1),
	}

	sender := NewSendGridSender(SendGridConfig{APIKey: "sg-key", BaseURL: server.URL})
	result, err := sender.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := result.Results[0].Error; got != "Unknown error" {
		t.Errorf("error = %q, want Unknown error", got)
	}
}
