package api

import (
	"github.com/stripe/stripe-go/v83"
)

// CheckoutRequest is the body of POST /api/create-checkout.
type CheckoutRequest struct {
	EscritorioID string `json:"escritorio_id"`
	Email        string `json:"email"`
	PriceID      string `json:"price_id"`
}

// PortalRequest is the body of POST /api/create-portal and
// POST /api/subscription/portal. ReturnURL is optional.
type PortalRequest struct {
	CustomerID string `json:"customer_id"`
	ReturnURL  string `json:"return_url"`
}

// CancelRequest is the body of POST /api/subscription/cancel.
type CancelRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Immediately    bool   `json:"immediately"`
}

// ReactivateRequest is the body of POST /api/subscription/reactivate.
type ReactivateRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// ChangePlanRequest is the body of POST /api/subscription/change-plan.
type ChangePlanRequest struct {
	SubscriptionID string `json:"subscription_id"`
	NewPriceID     string `json:"new_price_id"`
}

// URLResponse carries a redirect URL back to the caller.
type URLResponse struct {
	URL string `json:"url"`
}

// StatusResponse is the liveness payload served at GET /.
type StatusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ActionResponse is the shape returned by the subscription mutation
// endpoints (cancel, reactivate, change-plan).
type ActionResponse struct {
	Success      bool                 `json:"success"`
	Message      string               `json:"message"`
	Subscription *stripe.Subscription `json:"subscription"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
