package models

// Response represents an incoming message event from a messaging channel.
// Image messages carry the downloaded payload base64-encoded alongside its
// MIME type; Body holds the caption in that case.
type Response struct {
	From     string `json:"from"`
	Body     string `json:"body"`
	Time     int64  `json:"time"`
	ImageB64 string `json:"imageB64,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// HasImage reports whether the response carries an image payload.
func (r Response) HasImage() bool {
	return r.ImageB64 != ""
}

// Receipt represents a message delivery status event.
type Receipt struct {
	To     string     `json:"to"`
	Status StatusType `json:"status"`
	Time   int64      `json:"time"`
}

// StatusType enumerates delivery status values.
type StatusType string

const (
	StatusTypeSent      StatusType = "sent"
	StatusTypeDelivered StatusType = "delivered"
	StatusTypeRead      StatusType = "read"
)
