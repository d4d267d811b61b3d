// Package mail defines the message value object handed to delivery channels.
package mail

import (
	"fmt"
	"os"
)

// Address is a named email address. Name may be empty.
type Address struct {
	Name  string
	Email string
}

// String formats the address in RFC 5322 form: "Name <email>" when a
// display name is present, bare email otherwise.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Message is one logical email. It is built once by the caller and treated
// as read-only by every channel; a single Message may fan out to any number
// of recipients.
type Message struct {
	Subject     string
	Body        string
	HTML        bool   // Body is text/html rather than text/plain
	AltBody     string // plain-text alternative when HTML is set
	From        Address
	ReplyTo     Address
	Recipients  []Address // primary recipients, ordered, non-empty
	CC          []Address
	BCC         []Address
	Attachments []Attachment
}

// Attachment is a named byte blob with a MIME type. Channels only need the
// bytes and their length at send time.
type Attachment struct {
	Name     string
	MimeType string
	Content  []byte
}

// Size returns the attachment's byte length.
func (a Attachment) Size() int { return len(a.Content) }

// AttachmentFromFile reads path into an Attachment. name defaults to the
// file's base name handled by the caller; mimeType is passed through as-is.
func AttachmentFromFile(path, name, mimeType string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("read attachment %s: %w", path, err)
	}
	return Attachment{Name: name, MimeType: mimeType, Content: data}, nil
}

// RecipientEmails returns the bare email strings of the primary recipients,
// in order.
func (m *Message) RecipientEmails() []string {
	out := make([]string, len(m.Recipients))
	for i, r := range m.Recipients {
		out[i] = r.Email
	}
	return out
}

// TotalAttachmentBytes sums the byte lengths of all attachments.
func (m *Message) TotalAttachmentBytes() int {
	total := 0
	for _, a := range m.Attachments {
		total += a.Size()
	}
	return total
}
