package types

// ------------------------------
// Request Types
// ------------------------------

// SendMessageRequest is the body of POST conversations/{id}/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// DeleteNotificationRequest is the body of the fallback delete route.
type DeleteNotificationRequest struct {
	Source SourceChannel `json:"source"`
}

// MarkReadRequest is the (empty) body of the read-receipt routes.
type MarkReadRequest struct{}
