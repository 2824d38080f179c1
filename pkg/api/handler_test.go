package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/jusway/billing-relay/pkg/billing"
	stripeprovider "github.com/jusway/billing-relay/pkg/billing/stripe"
)

const (
	testCustomerID     = "cus_test_123"
	testSubscriptionID = "sub_test_123"
	testPriceID        = "price_test_pro"
	testEscritorioID   = "esc_42"
	testCheckoutURL    = "https://checkout.stripe.com/c/pay/cs_test_abc"
	testPortalURL      = "https://billing.stripe.com/p/session/bps_test_abc"
)

// fakeService implements BillingService with overridable function fields.
type fakeService struct {
	checkoutFn   func(ctx context.Context, escritorioID, email, priceID string) (string, error)
	portalFn     func(ctx context.Context, customerID, returnURL string) (string, error)
	cancelFn     func(ctx context.Context, subscriptionID string, immediately bool) (*stripe.Subscription, error)
	reactivateFn func(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	changePlanFn func(ctx context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error)
	detailsFn    func(ctx context.Context, customerID string) (*stripeprovider.SubscriptionDetails, error)
}

func (f *fakeService) CheckoutURL(ctx context.Context, escritorioID, email, priceID string) (string, error) {
	if f.checkoutFn == nil {
		return testCheckoutURL, nil
	}
	return f.checkoutFn(ctx, escritorioID, email, priceID)
}

func (f *fakeService) PortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	if f.portalFn == nil {
		return testPortalURL, nil
	}
	return f.portalFn(ctx, customerID, returnURL)
}

func (f *fakeService) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*stripe.Subscription, error) {
	if f.cancelFn == nil {
		return &stripe.Subscription{ID: subscriptionID, CancelAtPeriodEnd: !immediately}, nil
	}
	return f.cancelFn(ctx, subscriptionID, immediately)
}

func (f *fakeService) ReactivateSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if f.reactivateFn == nil {
		return &stripe.Subscription{ID: subscriptionID}, nil
	}
	return f.reactivateFn(ctx, subscriptionID)
}

func (f *fakeService) ChangePlan(ctx context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error) {
	if f.changePlanFn == nil {
		return &stripe.Subscription{ID: subscriptionID}, nil
	}
	return f.changePlanFn(ctx, subscriptionID, newPriceID)
}

func (f *fakeService) SubscriptionDetails(ctx context.Context, customerID string) (*stripeprovider.SubscriptionDetails, error) {
	if f.detailsFn == nil {
		return &stripeprovider.SubscriptionDetails{
			Snapshot: &billing.SubscriptionSnapshot{
				SubscriptionID: testSubscriptionID,
				CustomerID:     customerID,
				Status:         billing.StatusActive,
				PlanID:         "pro_monthly",
				Limits:         map[string]string{"processos": "100"},
				UpdatedAt:      time.Now().UTC(),
			},
		}, nil
	}
	return f.detailsFn(ctx, customerID)
}

func newTestHandler(t *testing.T, svc BillingService) *Handler {
	t.Helper()
	h, err := NewHandler(Config{
		Service: svc,
		WebhookHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return h
}

func doJSON(t *testing.T, h *Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Validation(t *testing.T) {
	if _, err := NewHandler(Config{}); err == nil {
		t.Error("expected error for missing service")
	}
	if _, err := NewHandler(Config{Service: &fakeService{}}); err == nil {
		t.Error("expected error for missing webhook handler")
	}
}

func TestHandler_Status(t *testing.T) {
	h := newTestHandler(t, &fakeService{})
	rec := doJSON(t, h, http.MethodGet, "/", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Service != serviceName {
		t.Errorf("unexpected status payload: %+v", resp)
	}
}

func TestHandler_WebhookMount(t *testing.T) {
	called := false
	h, err := NewHandler(Config{
		Service: &fakeService{},
		WebhookHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		}),
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/stripe/webhook", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if !called {
		t.Error("webhook handler was not invoked")
	}
}

func TestHandler_CreateCheckout(t *testing.T) {
	var gotEscritorio, gotEmail, gotPrice string
	svc := &fakeService{
		checkoutFn: func(_ context.Context, escritorioID, email, priceID string) (string, error) {
			gotEscritorio, gotEmail, gotPrice = escritorioID, email, priceID
			return testCheckoutURL, nil
		},
	}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/create-checkout", CheckoutRequest{
		EscritorioID: testEscritorioID,
		Email:        "adv@example.com.br",
		PriceID:      testPriceID,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp URLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.URL != testCheckoutURL {
		t.Errorf("expected checkout URL %q, got %q", testCheckoutURL, resp.URL)
	}
	if gotEscritorio != testEscritorioID || gotEmail != "adv@example.com.br" || gotPrice != testPriceID {
		t.Errorf("service called with wrong args: %q %q %q", gotEscritorio, gotEmail, gotPrice)
	}
}

func TestHandler_CreateCheckout_MissingFields(t *testing.T) {
	h := newTestHandler(t, &fakeService{
		checkoutFn: func(context.Context, string, string, string) (string, error) {
			t.Error("service should not be called on validation failure")
			return "", nil
		},
	})

	tests := []struct {
		name string
		req  CheckoutRequest
	}{
		{"missing escritorio_id", CheckoutRequest{Email: "a@b.c", PriceID: testPriceID}},
		{"missing email", CheckoutRequest{EscritorioID: testEscritorioID, PriceID: testPriceID}},
		{"missing price_id", CheckoutRequest{EscritorioID: testEscritorioID, Email: "a@b.c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/create-checkout", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Error == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestHandler_CreateCheckout_ProviderError(t *testing.T) {
	h := newTestHandler(t, &fakeService{
		checkoutFn: func(context.Context, string, string, string) (string, error) {
			return "", errors.New("stripe unavailable")
		},
	})

	rec := doJSON(t, h, http.MethodPost, "/api/create-checkout", CheckoutRequest{
		EscritorioID: testEscritorioID,
		Email:        "a@b.c",
		PriceID:      testPriceID,
	})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHandler_CreateCheckout_InvalidJSON(t *testing.T) {
	h := newTestHandler(t, &fakeService{})
	req := httptest.NewRequest(http.MethodPost, "/api/create-checkout", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestHandler_CreatePortal(t *testing.T) {
	var gotReturnURL string
	svc := &fakeService{
		portalFn: func(_ context.Context, customerID, returnURL string) (string, error) {
			gotReturnURL = returnURL
			return testPortalURL, nil
		},
	}
	h := newTestHandler(t, svc)

	// Both routes serve the same handler.
	for _, path := range []string{"/api/create-portal", "/api/subscription/portal"} {
		rec := doJSON(t, h, http.MethodPost, path, PortalRequest{
			CustomerID: testCustomerID,
			ReturnURL:  "https://app.example.com/config",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var resp URLResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.URL != testPortalURL {
			t.Errorf("%s: expected portal URL %q, got %q", path, testPortalURL, resp.URL)
		}
	}
	if gotReturnURL != "https://app.example.com/config" {
		t.Errorf("return URL not passed through, got %q", gotReturnURL)
	}
}

func TestHandler_CreatePortal_MissingCustomerID(t *testing.T) {
	h := newTestHandler(t, &fakeService{})
	rec := doJSON(t, h, http.MethodPost, "/api/create-portal", PortalRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_SubscriptionDetails(t *testing.T) {
	h := newTestHandler(t, &fakeService{})
	rec := doJSON(t, h, http.MethodGet, "/api/subscription/details/"+testCustomerID, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp stripeprovider.SubscriptionDetails
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Snapshot == nil {
		t.Fatal("expected snapshot in details response")
	}
	if resp.Snapshot.CustomerID != testCustomerID {
		t.Errorf("expected customer %q, got %q", testCustomerID, resp.Snapshot.CustomerID)
	}
}

func TestHandler_SubscriptionDetails_NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no subscription", billing.ErrSubscriptionNotFound},
		{"no snapshot", billing.ErrSnapshotNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeService{
				detailsFn: func(context.Context, string) (*stripeprovider.SubscriptionDetails, error) {
					return nil, tt.err
				},
			})
			rec := doJSON(t, h, http.MethodGet, "/api/subscription/details/"+testCustomerID, nil)
			if rec.Code != http.StatusNotFound {
				t.Errorf("expected 404, got %d", rec.Code)
			}
		})
	}
}

func TestHandler_Cancel(t *testing.T) {
	var gotImmediately bool
	svc := &fakeService{
		cancelFn: func(_ context.Context, subscriptionID string, immediately bool) (*stripe.Subscription, error) {
			gotImmediately = immediately
			return &stripe.Subscription{ID: subscriptionID, CancelAtPeriodEnd: !immediately}, nil
		},
	}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/subscription/cancel", CancelRequest{
		SubscriptionID: testSubscriptionID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp ActionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Error("expected success true")
	}
	if !strings.Contains(resp.Message, "period") {
		t.Errorf("expected period-end message, got %q", resp.Message)
	}
	if gotImmediately {
		t.Error("immediately should default to false")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/subscription/cancel", CancelRequest{
		SubscriptionID: testSubscriptionID,
		Immediately:    true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.Message, "immediately") {
		t.Errorf("expected immediate-cancel message, got %q", resp.Message)
	}
	if !gotImmediately {
		t.Error("immediately flag not passed through")
	}
}

func TestHandler_Cancel_MissingSubscriptionID(t *testing.T) {
	h := newTestHandler(t, &fakeService{})
	rec := doJSON(t, h, http.MethodPost, "/api/subscription/cancel", CancelRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Reactivate(t *testing.T) {
	h := newTestHandler(t, &fakeService{})
	rec := doJSON(t, h, http.MethodPost, "/api/subscription/reactivate", ReactivateRequest{
		SubscriptionID: testSubscriptionID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp ActionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Subscription == nil {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandler_ChangePlan(t *testing.T) {
	var gotPrice string
	svc := &fakeService{
		changePlanFn: func(_ context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error) {
			gotPrice = newPriceID
			return &stripe.Subscription{ID: subscriptionID}, nil
		},
	}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/subscription/change-plan", ChangePlanRequest{
		SubscriptionID: testSubscriptionID,
		NewPriceID:     "price_test_enterprise",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotPrice != "price_test_enterprise" {
		t.Errorf("new price not passed through, got %q", gotPrice)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/subscription/change-plan", ChangePlanRequest{
		SubscriptionID: testSubscriptionID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing new_price_id, got %d", rec.Code)
	}
}
