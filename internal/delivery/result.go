package delivery

// RecipientResult records the outcome for a single recipient. An empty Error
// means the backend accepted the message for that recipient.
type RecipientResult struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error,omitempty"`
}

// Result is the aggregate outcome of one Send call. It is created fresh at
// the start of every Send, grows by appends only while chunks are processed,
// and is never touched again once returned. After a normal Send return it
// holds exactly one entry per recipient of the originating message, in the
// original recipient order.
type Result struct {
	Channel     string            `json:"type"`
	DeliveredTo int               `json:"delivered_to"`
	Results     []RecipientResult `json:"results"`
}

func newResult(channel string) *Result {
	return &Result{Channel: channel}
}

// FailedTo returns the number of recipients with a non-empty error.
func (r *Result) FailedTo() int {
	return len(r.Results) - r.DeliveredTo
}

// markDelivered appends a success entry for one recipient.
func (r *Result) markDelivered(recipient string) {
	r.Results = append(r.Results, RecipientResult{Recipient: recipient})
	r.DeliveredTo++
}

// markFailed appends a failure entry for one recipient.
func (r *Result) markFailed(recipient, errMsg string) {
	r.Results = append(r.Results, RecipientResult{Recipient: recipient, Error: errMsg})
}

// merge folds a chunk's partial result into the aggregate, preserving the
// partial's internal order.
func (r *Result) merge(partial *Result) {
	if partial == nil {
		return
	}
	r.Results = append(r.Results, partial.Results...)
	r.DeliveredTo += partial.DeliveredTo
}
