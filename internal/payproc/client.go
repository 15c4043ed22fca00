// Package payproc is an HTTP client for the hosted payment processor and the
// order-confirmation notifier endpoint.
package payproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/drops/pkg/drops"
)

const defaultTimeout = 10 * time.Second

// Config carries the processor connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements drops.PaymentProcessor over the processor's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient validates the configuration and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("processor base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("processor base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type intentPayload struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	MetadataJSON string `json:"metadata_json"`
}

type createIntentRequest struct {
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	MetadataJSON string `json:"metadata_json"`
}

// CreateIntent opens a payment intent for the given amount, carrying
// metadataJSON opaquely through the processor.
func (client *Client) CreateIntent(ctx context.Context, amountCents int64, currency string, metadataJSON string) (drops.PaymentIntent, error) {
	body, err := json.Marshal(createIntentRequest{
		AmountCents:  amountCents,
		Currency:     currency,
		MetadataJSON: metadataJSON,
	})
	if err != nil {
		return drops.PaymentIntent{}, fmt.Errorf("encode intent request: %w", err)
	}
	var payload intentPayload
	if err := client.do(ctx, http.MethodPost, "/v1/intents", bytes.NewReader(body), &payload); err != nil {
		return drops.PaymentIntent{}, err
	}
	return mapIntent(payload)
}

// RetrieveIntent fetches the current state of an intent.
func (client *Client) RetrieveIntent(ctx context.Context, intentID drops.IntentID) (drops.PaymentIntent, error) {
	var payload intentPayload
	path := "/v1/intents/" + url.PathEscape(intentID.String())
	if err := client.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return drops.PaymentIntent{}, err
	}
	return mapIntent(payload)
}

func (client *Client) do(ctx context.Context, method string, path string, body io.Reader, out any) error {
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if client.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+client.apiKey)
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("processor request: %w", err)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return fmt.Errorf("processor returned %d: %s", response.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode processor response: %w", err)
	}
	return nil
}

func mapIntent(payload intentPayload) (drops.PaymentIntent, error) {
	intentID, err := drops.NewIntentID(payload.IntentID)
	if err != nil {
		return drops.PaymentIntent{}, fmt.Errorf("processor intent id: %w", err)
	}
	return drops.PaymentIntent{
		IntentID:     intentID,
		ClientSecret: payload.ClientSecret,
		Status:       mapIntentStatus(payload.Status),
		MetadataJSON: payload.MetadataJSON,
	}, nil
}

// mapIntentStatus folds the processor's wire statuses onto the domain's
// intent states. Unrecognized values read as failed so nothing downstream
// treats them as payable.
func mapIntentStatus(raw string) drops.IntentStatus {
	switch raw {
	case "awaiting_payment", "requires_payment_method", "requires_confirmation", "requires_action":
		return drops.IntentStatusAwaitingPayment
	case "processing":
		return drops.IntentStatusProcessing
	case "succeeded":
		return drops.IntentStatusSucceeded
	case "cancelled", "canceled":
		return drops.IntentStatusCancelled
	}
	return drops.IntentStatusFailed
}
