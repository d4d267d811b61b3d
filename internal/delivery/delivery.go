// Package delivery sends one logical mail message across heterogeneous
// backend channels behind a single contract.
//
// Channel adapters are split into individual files:
//   - sparkpost.go: SparkPost Transmissions API (batch-capable)
//   - sendgrid.go:  SendGrid v3 Mail Send (batch-capable)
//   - mailgun.go:   Mailgun Messages API (batch-capable)
//   - ses.go:       AWS SES v2 via the SDK (individual)
//   - resend.go:    Resend via resend-go (individual)
//   - smtp.go:      direct SMTP transaction (individual)
//   - loopback.go:  in-memory recording channel for tests and dry runs
//
// Dispatch is strictly sequential: chunks, and recipients within a chunk in
// individual mode, are processed in list order, and each outbound call is
// attempted exactly once. Callers wanting concurrency parallelize above this
// layer with distinct messages.
package delivery

import (
	"context"
	"errors"

	"github.com/ignite/courier/internal/mail"
)

// Sender is the contract every backend channel implements.
type Sender interface {
	// Name returns the stable backend identifier ("sparkpost", "smtp", ...).
	Name() string

	// MaxRecipientsPerRequest returns the positive ceiling on recipients
	// handled by one backend processing step.
	MaxRecipientsPerRequest() int

	// Send delivers msg to all its recipients and reports the per-recipient
	// outcome. Soft delivery failures are data inside the Result; a non-nil
	// error means the send aborted before completing (attachment guard, or a
	// *TransportError from the wire) and no Result is produced.
	Send(ctx context.Context, msg *mail.Message) (*Result, error)
}

// processor is the backend-specific step behind the shared Send loop. process
// receives one chunk of recipients and returns a partial result covering
// exactly that chunk, or a hard error.
type processor interface {
	Name() string
	MaxRecipientsPerRequest() int
	process(ctx context.Context, msg *mail.Message, rcpts []mail.Address) (*Result, error)
}

// send is the shared chunking loop: partition recipients to the backend's
// ceiling preserving order, run the processing step once per chunk, and fold
// the partials into one Result. A chunk whose call is rejected by the backend
// surfaces as failed entries in the Result and never blocks later chunks;
// hard faults abort immediately.
func send(ctx context.Context, p processor, msg *mail.Message) (*Result, error) {
	if msg == nil || len(msg.Recipients) == 0 {
		return nil, errors.New("message has no recipients")
	}

	result := newResult(p.Name())
	for _, chunk := range chunkRecipients(msg.Recipients, p.MaxRecipientsPerRequest()) {
		partial, err := p.process(ctx, msg, chunk)
		if err != nil {
			return nil, err
		}
		result.merge(partial)
	}
	return result, nil
}

// chunkRecipients splits rcpts into consecutive sub-slices of at most size
// elements. Order is preserved and every recipient lands in exactly one chunk.
func chunkRecipients(rcpts []mail.Address, size int) [][]mail.Address {
	if size <= 0 {
		size = 1
	}
	var chunks [][]mail.Address
	for i := 0; i < len(rcpts); i += size {
		end := i + size
		if end > len(rcpts) {
			end = len(rcpts)
		}
		chunks = append(chunks, rcpts[i:end])
	}
	return chunks
}
