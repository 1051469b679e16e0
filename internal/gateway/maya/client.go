// Package maya talks to the Maya checkout API. The workflow treats this
// boundary as "give me an authoritative status for payment X"; callers degrade
// to trusting the redirect outcome only when the gateway is unreachable.
package maya

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"

	"healthpass/internal/platform/config"
	wfmetrics "healthpass/internal/workflow/metrics"
	"healthpass/internal/workflow/models"
	"healthpass/internal/workflow/ports"
	dErrors "healthpass/pkg/domain-errors"
	"healthpass/pkg/platform/circuit"
)

// Client is an HTTP client for the Maya payment gateway. Repeated transport
// failures open a circuit breaker; while open, calls fail fast with a GATEWAY
// error and the reconciler falls back to trusting the redirect outcome.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	metrics    *wfmetrics.Metrics
	breaker    *circuit.Breaker
}

type Option func(*Client)

func WithMetrics(m *wfmetrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(cfg config.Maya, opts ...Option) *Client {
	c := &Client{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		breaker: circuit.New("maya"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type checkoutRequest struct {
	TotalAmount  checkoutAmount   `json:"totalAmount"`
	Buyer        checkoutBuyer    `json:"buyer"`
	Items        []checkoutItem   `json:"items"`
	RedirectURL  checkoutRedirect `json:"redirectUrl"`
	RequestRefNo string           `json:"requestReferenceNumber"`
	Metadata     map[string]any   `json:"metadata"`
}

type checkoutAmount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type checkoutBuyer struct {
	FirstName string               `json:"firstName"`
	Contact   checkoutBuyerContact `json:"contact"`
}

type checkoutBuyerContact struct {
	Email string `json:"email"`
}

type checkoutItem struct {
	Name        string         `json:"name"`
	Quantity    int            `json:"quantity"`
	TotalAmount checkoutAmount `json:"totalAmount"`
}

type checkoutRedirect struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Cancel  string `json:"cancel"`
}

type checkoutResponse struct {
	CheckoutID  string `json:"checkoutId"`
	PaymentID   string `json:"paymentId"`
	RedirectURL string `json:"redirectUrl"`
}

type paymentResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updatedAt"`
}

// CreateCheckout opens a hosted checkout session. The application id rides in
// the metadata so webhooks can be correlated back.
func (c *Client) CreateCheckout(ctx context.Context, req ports.CheckoutRequest) (*ports.CheckoutSession, error) {
	// Fail fast while the circuit is open. GetPayment still goes through and
	// serves as the probe that eventually closes it.
	if c.breaker.IsOpen() {
		return nil, dErrors.New(dErrors.CodeGateway, "payment gateway circuit open")
	}

	for _, u := range []string{req.SuccessURL, req.FailureURL, req.CancelURL} {
		if !govalidator.IsURL(u) {
			return nil, dErrors.New(dErrors.CodeValidation, "redirect URL is not a valid URL: "+u)
		}
	}

	body := checkoutRequest{
		TotalAmount: checkoutAmount{Value: centavosToPesos(req.Amount), Currency: "PHP"},
		Buyer: checkoutBuyer{
			FirstName: req.BuyerName,
			Contact:   checkoutBuyerContact{Email: req.BuyerEmail},
		},
		Items: []checkoutItem{{
			Name:        req.Description,
			Quantity:    1,
			TotalAmount: checkoutAmount{Value: centavosToPesos(req.Amount), Currency: "PHP"},
		}},
		RedirectURL: checkoutRedirect{
			Success: req.SuccessURL,
			Failure: req.FailureURL,
			Cancel:  req.CancelURL,
		},
		RequestRefNo: req.ApplicationID.String(),
		Metadata:     map[string]any{"applicationId": req.ApplicationID.String()},
	}

	start := time.Now()
	var resp checkoutResponse
	err := c.do(ctx, http.MethodPost, "/checkout/v1/checkouts", body, &resp)
	c.metrics.ObserveGatewayLatency("create_checkout", time.Since(start))
	if err != nil {
		return nil, err
	}
	return &ports.CheckoutSession{
		CheckoutID:  resp.CheckoutID,
		PaymentID:   resp.PaymentID,
		CheckoutURL: resp.RedirectURL,
	}, nil
}

// GetPayment fetches the gateway's authoritative status for a payment.
func (c *Client) GetPayment(ctx context.Context, mayaPaymentID string) (*ports.GatewayPayment, error) {
	start := time.Now()
	var resp paymentResponse
	path := "/payments/v1/payments/" + mayaPaymentID
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	c.metrics.ObserveGatewayLatency("get_payment", time.Since(start))
	if err != nil {
		return nil, err
	}

	out := &ports.GatewayPayment{
		PaymentID: resp.ID,
		Status:    mapStatus(resp.Status),
	}
	if out.Status == models.PaymentComplete && resp.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.UpdatedAt); err == nil {
			out.PaidAt = &t
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.secretKey+":")))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return dErrors.Wrap(err, dErrors.CodeGateway, "payment gateway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		// 4xx responses mean the gateway is reachable and answering.
		c.breaker.RecordSuccess()
	}

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return dErrors.New(dErrors.CodeGateway,
			fmt.Sprintf("payment gateway returned %d: %s", resp.StatusCode, string(raw)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return dErrors.Wrap(err, dErrors.CodeGateway, "decode gateway response")
		}
	}
	return nil
}

// mapStatus translates Maya payment statuses onto the local lifecycle.
func mapStatus(s string) models.PaymentStatus {
	switch s {
	case "PAYMENT_SUCCESS":
		return models.PaymentComplete
	case "PAYMENT_FAILED":
		return models.PaymentFailed
	case "PAYMENT_CANCELLED", "PAYMENT_EXPIRED", "AUTH_CANCELLED":
		return models.PaymentCancelled
	case "PENDING_TOKEN", "PENDING_PAYMENT", "FOR_AUTHENTICATION", "AUTHENTICATING":
		return models.PaymentProcessing
	default:
		return models.PaymentProcessing
	}
}

func centavosToPesos(centavos int64) float64 {
	return float64(centavos) / 100
}
