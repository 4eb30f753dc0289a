package domain

import (
	"context"
	"errors"
	"net/http"
)

// ReconciliationService consumes authenticated gateway webhooks and keeps
// the billing record, organization status, and local payment mirrors
// consistent under at-least-once, out-of-order delivery.
type ReconciliationService interface {
	// IngestWebhook verifies the signature over the exact raw payload,
	// stores the event idempotently, and dispatches it to one handler.
	// Verification always precedes parsing.
	IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error

	// AcceptedEventTypes lists the gateway event types this service handles,
	// for the capability document on the webhook path.
	AcceptedEventTypes() []string
}

// Service is the package alias for ReconciliationService.
type Service = ReconciliationService

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidMetadata       = errors.New("invalid_metadata")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrRecordNotFound        = errors.New("billing_record_not_found")
	ErrHandlerPanic          = errors.New("handler_panic")
)
