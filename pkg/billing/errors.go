package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrSignatureInvalid is returned when webhook signature verification fails
	ErrSignatureInvalid = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrEnrichmentFailed is returned when a customer/price/product lookup
	// needed to assemble a snapshot fails; nothing is persisted or forwarded
	ErrEnrichmentFailed = errors.New("subscription enrichment failed")

	// ErrCustomerNotFound is returned when a customer cannot be found in the provider
	ErrCustomerNotFound = errors.New("customer not found in billing provider")

	// ErrSubscriptionNotFound is returned when a customer has no subscription
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSnapshotNotFound is returned by snapshot stores for unknown keys
	ErrSnapshotNotFound = errors.New("subscription snapshot not found")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")
)
