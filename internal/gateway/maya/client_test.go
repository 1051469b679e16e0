package maya

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthpass/internal/platform/config"
	"healthpass/internal/workflow/models"
	"healthpass/internal/workflow/ports"
	id "healthpass/pkg/domain"
	dErrors "healthpass/pkg/domain-errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.Maya{BaseURL: server.URL, SecretKey: "sk-test"})
}

func checkoutReq() ports.CheckoutRequest {
	return ports.CheckoutRequest{
		ApplicationID: id.NewApplicationID(),
		Amount:        31500,
		Description:   "Health card processing fee",
		BuyerName:     "Ana Cruz",
		BuyerEmail:    "ana@example.com",
		SuccessURL:    "https://app.example.com/return?outcome=success",
		FailureURL:    "https://app.example.com/return?outcome=failed",
		CancelURL:     "https://app.example.com/return?outcome=cancelled",
	}
}

func Test_CreateCheckout(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"checkoutId":  "chk-1",
			"paymentId":   "pay-1",
			"redirectUrl": "https://payments.maya.ph/chk-1",
		})
	})

	session, err := client.CreateCheckout(context.Background(), checkoutReq())
	require.NoError(t, err)
	assert.Equal(t, "chk-1", session.CheckoutID)
	assert.Equal(t, "pay-1", session.PaymentID)
	assert.Equal(t, "https://payments.maya.ph/chk-1", session.CheckoutURL)

	// Basic auth carries the secret key with an empty password.
	assert.Contains(t, gotAuth, "Basic ")

	// Amounts cross the wire in pesos, not centavos.
	total := gotBody["totalAmount"].(map[string]any)
	assert.Equal(t, 315.0, total["value"])
	assert.Equal(t, "PHP", total["currency"])
}

func Test_CreateCheckout_RejectsBadRedirectURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the gateway")
	})

	req := checkoutReq()
	req.SuccessURL = "not a url"
	_, err := client.CreateCheckout(context.Background(), req)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func Test_GetPayment_StatusMapping(t *testing.T) {
	paidAt := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		gateway string
		want    models.PaymentStatus
	}{
		{"PAYMENT_SUCCESS", models.PaymentComplete},
		{"PAYMENT_FAILED", models.PaymentFailed},
		{"PAYMENT_EXPIRED", models.PaymentCancelled},
		{"AUTH_CANCELLED", models.PaymentCancelled},
		{"FOR_AUTHENTICATION", models.PaymentProcessing},
		{"SOMETHING_NEW", models.PaymentProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.gateway, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{
					"id":        "pay-1",
					"status":    tt.gateway,
					"updatedAt": paidAt.Format(time.RFC3339),
				})
			})

			got, err := client.GetPayment(context.Background(), "pay-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			if tt.want == models.PaymentComplete {
				require.NotNil(t, got.PaidAt)
				assert.Equal(t, paidAt, got.PaidAt.UTC())
			} else {
				assert.Nil(t, got.PaidAt)
			}
		})
	}
}

func Test_GetPayment_GatewayError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	})

	_, err := client.GetPayment(context.Background(), "pay-missing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeGateway))
}

func Test_CircuitBreaker_OpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := client.GetPayment(ctx, "pay-1")
		require.Error(t, err)
	}
	require.True(t, client.breaker.IsOpen())

	// Checkout is shed while open without touching the gateway.
	before := calls.Load()
	_, err := client.CreateCheckout(ctx, checkoutReq())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeGateway))
	assert.Equal(t, before, calls.Load())

	// Status reads still go through and act as the closing probe.
	_, err = client.GetPayment(ctx, "pay-1")
	require.Error(t, err)
	assert.Equal(t, before+1, calls.Load())
}

func Test_CircuitBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "pay-1", "status": "PAYMENT_SUCCESS"})
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = client.GetPayment(ctx, "pay-1")
	}
	require.True(t, client.breaker.IsOpen())

	failing.Store(false)
	for i := 0; i < 3; i++ {
		_, err := client.GetPayment(ctx, "pay-1")
		require.NoError(t, err)
	}
	assert.False(t, client.breaker.IsOpen())
}
