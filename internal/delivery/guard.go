package delivery

import (
	"errors"
	"fmt"

	"github.com/ignite/courier/internal/mail"
)

// MaxAttachmentBytes is the cumulative attachment ceiling shared by the
// supported backends (25 MiB).
const MaxAttachmentBytes = 25 * 1024 * 1024

// ErrAttachmentsTooLarge is returned (wrapped) when a message's attachments
// together exceed MaxAttachmentBytes. It aborts the whole Send before any
// payload is built or any network call is made.
var ErrAttachmentsTooLarge = errors.New("attachments exceed size limit")

// checkAttachments runs the pre-flight cumulative size check. It is invoked
// at the top of every backend processing step, before anything touches the
// wire. A total of exactly MaxAttachmentBytes passes.
func checkAttachments(msg *mail.Message) error {
	total := msg.TotalAttachmentBytes()
	if total > MaxAttachmentBytes {
		return fmt.Errorf("attachment payload %d bytes over %d byte ceiling: %w",
			total, MaxAttachmentBytes, ErrAttachmentsTooLarge)
	}
	return nil
}
