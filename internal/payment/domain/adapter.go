package domain

import (
	"context"
	"net/http"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomePending is only produced by status polls.
	OutcomePending Outcome = "pending"
)

type PaymentRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
	Phone         string
	// ReferenceID is the external id reserved through ReferenceAllocator,
	// empty when the provider assigns its own.
	ReferenceID string
}

type PaymentResponse struct {
	ExternalID string
	Raw        []byte
}

// WebhookEvent is a provider callback normalized at the adapter boundary.
type WebhookEvent struct {
	ExternalID string
	Outcome    Outcome
	Reason     string
}

// Adapter speaks one provider's collection API.
type Adapter interface {
	Provider() string
	RequestPayment(ctx context.Context, req PaymentRequest) (PaymentResponse, error)
	// Verify checks the callback signature when a webhook secret is configured.
	Verify(payload []byte, headers http.Header) error
	ParseWebhook(payload []byte) (WebhookEvent, error)
}

// ReferenceAllocator is implemented by adapters whose provider lets the
// caller choose the external id. The reference is stored on the attempt
// before the outbound call.
type ReferenceAllocator interface {
	NewReference() string
}

// StatusPoller is implemented by adapters whose provider exposes a
// transaction status endpoint.
type StatusPoller interface {
	PollStatus(ctx context.Context, externalID string) (WebhookEvent, []byte, error)
}
