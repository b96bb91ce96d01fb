package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sautihub-sacco/internal/config"
)

// Gateway is the HTTP client for the platform's mobile money aggregator.
// It implements services.PaymentProvider.
type Gateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewGateway creates a new payment gateway client
func NewGateway(cfg config.ProviderConfig) *Gateway {
	return &Gateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type initiateRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Phone    string `json:"phone"`
	Kind     string `json:"kind"`
}

type initiateResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
}

// Initiate starts a payment and returns the aggregator's transaction id
func (g *Gateway) Initiate(ctx context.Context, amount int64, phone, kind string) (string, error) {
	body, err := json.Marshal(initiateRequest{
		Amount:   amount,
		Currency: "KES",
		Phone:    phone,
		Kind:     kind,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var out initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.TransactionID == "" {
		return "", fmt.Errorf("gateway accepted payment without a transaction id: %s", out.Message)
	}
	return out.TransactionID, nil
}

type verifyResponse struct {
	Status string `json:"status"`
}

// Verify polls the final status of a payment
func (g *Gateway) Verify(ctx context.Context, externalTxnID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/payments/"+externalTxnID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Status, nil
}
