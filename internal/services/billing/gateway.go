package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services"
	"github.com/artforge-ai/artforge-api/internal/services/circuitbreaker"
)

const invoicePath = "/v1/invoice"

// paymentStatusSuccess is the gateway's success sentinel; every other
// status is recorded but never credits.
const paymentStatusSuccess = "finished"

// Invoice is the gateway's response to invoice creation.
type Invoice struct {
	InvoiceID       string `json:"id"`
	InvoiceURL      string `json:"invoice_url"`
	ExternalOrderID string `json:"order_id"`
}

// GatewayClient talks to the crypto payment gateway and authenticates its
// IPN callbacks.
type GatewayClient struct {
	http        *services.Client
	apiKey      string
	ipnSecret   []byte
	callbackURL string
	timeout     time.Duration
	breaker     *circuitbreaker.CircuitBreaker
}

func NewGatewayClient(cfg models.GatewayConfig, redisClient *redis.Client) *GatewayClient {
	timeout := 15 * time.Second
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	var breaker *circuitbreaker.CircuitBreaker
	if redisClient != nil {
		breaker = circuitbreaker.NewForService(redisClient, "payment_gateway")
	}

	clientCfg := services.DefaultClientConfig(cfg.BaseURL)
	clientCfg.Timeout = timeout

	return &GatewayClient{
		http:        services.NewClientWithConfig(clientCfg),
		apiKey:      cfg.APIKey,
		ipnSecret:   []byte(cfg.IPNSecret),
		callbackURL: cfg.CallbackURL,
		timeout:     timeout,
		breaker:     breaker,
	}
}

// CreateInvoice registers one order with the gateway and returns the hosted
// invoice the user pays at.
func (g *GatewayClient) CreateInvoice(ctx context.Context, order *models.Order) (*Invoice, error) {
	if g.breaker != nil && !g.breaker.CanExecute() {
		return nil, models.NewCircuitBreakerError("payment_gateway")
	}

	payload := map[string]any{
		"price_amount":      order.PriceAmount,
		"price_currency":    order.PriceCurrency,
		"order_id":          order.ID,
		"order_description": "token purchase",
	}
	if g.callbackURL != "" {
		payload["ipn_callback_url"] = g.callbackURL
	}

	var invoice Invoice
	err := g.http.Post(invoicePath, payload, &invoice, &services.RequestOptions{
		Context: ctx,
		Timeout: g.timeout,
		Headers: map[string]string{"x-api-key": g.apiKey},
	})
	if err != nil {
		if g.breaker != nil {
			g.breaker.RecordFailure()
		}
		return nil, models.NewProviderError("payment_gateway", "create invoice failed", err)
	}

	if g.breaker != nil {
		g.breaker.RecordSuccess()
	}
	return &invoice, nil
}

// VerifySignature checks the IPN signature: hex HMAC-SHA512 over the exact
// raw request body. Runs before any JSON parsing so nothing is acted on
// unverified.
func (g *GatewayClient) VerifySignature(rawBody []byte, signature string) error {
	if signature == "" || len(g.ipnSecret) == 0 {
		return models.ErrInvalidSignature
	}

	mac := hmac.New(sha512.New, g.ipnSecret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return models.ErrInvalidSignature
	}
	return nil
}
