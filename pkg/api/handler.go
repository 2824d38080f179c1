package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jusway/billing-relay/pkg/billing"
)

const (
	serviceName = "billing-relay"

	maxRequestBodyBytes = 64 * 1024
)

// Handler provides the HTTP surface of the relay: checkout and portal
// session creation, subscription lifecycle operations and the webhook mount.
type Handler struct {
	config Config
}

// Routes builds the chi router with all billing endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", h.handleStatus)
	r.Method(http.MethodPost, "/stripe/webhook", h.config.WebhookHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/create-checkout", h.handleCreateCheckout)
		r.Post("/create-portal", h.handleCreatePortal)
		r.Route("/subscription", func(r chi.Router) {
			r.Post("/portal", h.handleCreatePortal)
			r.Get("/details/{customerID}", h.handleDetails)
			r.Post("/cancel", h.handleCancel)
			r.Post("/reactivate", h.handleReactivate)
			r.Post("/change-plan", h.handleChangePlan)
		})
	})

	return r
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  "ok",
		Service: serviceName,
	})
}

func (h *Handler) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.EscritorioID == "" || req.Email == "" || req.PriceID == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("escritorio_id, email and price_id are required"))
		return
	}

	url, err := h.config.Service.CheckoutURL(r.Context(), req.EscritorioID, req.Email, req.PriceID)
	if err != nil {
		h.config.Logger.Error("checkout session creation failed",
			billing.Field{Key: "escritorio_id", Value: req.EscritorioID},
			billing.Field{Key: "error", Value: err.Error()})
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, URLResponse{URL: url})
}

func (h *Handler) handleCreatePortal(w http.ResponseWriter, r *http.Request) {
	var req PortalRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.CustomerID == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("customer_id is required"))
		return
	}

	url, err := h.config.Service.PortalURL(r.Context(), req.CustomerID, req.ReturnURL)
	if err != nil {
		h.config.Logger.Error("portal session creation failed",
			billing.Field{Key: "customer_id", Value: req.CustomerID},
			billing.Field{Key: "error", Value: err.Error()})
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, URLResponse{URL: url})
}

func (h *Handler) handleDetails(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	if customerID == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("customer id is required"))
		return
	}

	details, err := h.config.Service.SubscriptionDetails(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) || errors.Is(err, billing.ErrSnapshotNotFound) {
			h.writeError(w, http.StatusNotFound, fmt.Errorf("no subscription found for customer"))
			return
		}
		h.config.Logger.Error("subscription details lookup failed",
			billing.Field{Key: "customer_id", Value: customerID},
			billing.Field{Key: "error", Value: err.Error()})
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.SubscriptionID == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("subscription_id is required"))
		return
	}

	sub, err := h.config.Service.CancelSubscription(r.Context(), req.SubscriptionID, req.Immediately)
	if err != nil {
		h.config.Logger.Error("subscription cancellation failed",
			billing.Field{Key: "subscription_id", Value: req.SubscriptionID},
			billing.Field{Key: "error", Value: err.Error()})
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	message := "subscription will be canceled at the end of the current period"
	if req.Immediately {
		message = "subscription canceled immediately"
	}
	writeJSON(w, http.StatusOK, ActionResponse{
		Success:      true,
		Message:      message,
		Subscription: sub,
	})
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	var req ReactivateRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.SubscriptionID == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("subscription_id is required"))
		return
	}

	sub, err := h.config.Service.ReactivateSubscription(r.Context(), req.SubscriptionID)
	if err != nil {
		h.config.Logger.Error("subscription reactivation failed",
			billing.Field{Key: "subscription_id", Value: req.SubscriptionID},
			billing.Field{Key: "error", Value: err.Error()})
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, ActionResponse{
		Success:      true,
		Message:      "subscription reactivated",
		Subscription: sub,
	})
}

func (h *Handler) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	var req ChangePlanRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.SubscriptionID == "" || req.NewPriceID == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("subscription_id and new_price_id are required"))
		return
	}

	sub, err := h.config.Service.ChangePlan(r.Context(), req.SubscriptionID, req.NewPriceID)
	if err != nil {
		h.config.Logger.Error("plan change failed",
			billing.Field{Key: "subscription_id", Value: req.SubscriptionID},
			billing.Field{Key: "new_price_id", Value: req.NewPriceID},
			billing.Field{Key: "error", Value: err.Error()})
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, ActionResponse{
		Success:      true,
		Message:      "subscription plan updated",
		Subscription: sub,
	})
}

// decodeBody decodes a JSON request body into dst. On failure it writes a
// 400 response and returns false.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer func() {
		_ = r.Body.Close()
	}()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response already committed, nothing useful to do.
		_ = err
	}
}
