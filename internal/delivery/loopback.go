package delivery

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ignite/courier/internal/mail"
)

const loopbackMaxRecipients = 1000

// LoopbackSender records messages in memory instead of contacting a
// provider. It backs dry runs and tests; scripted failures let callers
// exercise partial-failure handling without a network.
type LoopbackSender struct {
	mu       sync.Mutex
	sent     []LoopbackDelivery
	failWith map[string]string
	maxRcpts int
}

// LoopbackDelivery is one recorded delivery attempt.
type LoopbackDelivery struct {
	ID        string
	Recipient mail.Address
	Subject   string
	Body      string
}

// NewLoopbackSender creates a recording channel.
func NewLoopbackSender() *LoopbackSender {
	return &LoopbackSender{
		failWith: make(map[string]string),
		maxRcpts: loopbackMaxRecipients,
	}
}

// FailWith scripts a failure for one recipient address. Subsequent sends to
// that address are recorded as failed with the given error message.
func (l *LoopbackSender) FailWith(email, errMsg string) {
	l.mu.Lock()
	l.failWith[email] = errMsg
	l.mu.Unlock()
}

// Sent returns a copy of every recorded delivery so far.
func (l *LoopbackSender) Sent() []LoopbackDelivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LoopbackDelivery, len(l.sent))
	copy(out, l.sent)
	return out
}

// Reset clears recorded deliveries and scripted failures.
func (l *LoopbackSender) Reset() {
	l.mu.Lock()
	l.sent = nil
	l.failWith = make(map[string]string)
	l.mu.Unlock()
}

// Name returns the stable channel identifier.
func (l *LoopbackSender) Name() string { return "loopback" }

// MaxRecipientsPerRequest returns the processing-group ceiling.
func (l *LoopbackSender) MaxRecipientsPerRequest() int { return l.maxRcpts }

// Send records msg for each recipient.
func (l *LoopbackSender) Send(ctx context.Context, msg *mail.Message) (*Result, error) {
	return send(ctx, l, msg)
}

func (l *LoopbackSender) process(ctx context.Context, msg *mail.Message, rcpts []mail.Address) (*Result, error) {
	if err := checkAttachments(msg); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	partial := newResult(l.Name())
	for _, r := range rcpts {
		if errMsg, ok := l.failWith[r.Email]; ok {
			partial.markFailed(r.Email, errMsg)
			continue
		}
		l.sent = append(l.sent, LoopbackDelivery{
			ID:        uuid.New().String(),
			Recipient: r,
			Subject:   msg.Subject,
			Body:      msg.Body,
		})
		partial.markDelivered(r.Email)
	}
	return partial, nil
}
