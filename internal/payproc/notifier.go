package payproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/drops/pkg/drops"
)

// Notifier implements drops.Notifier by posting confirmations to an email
// relay endpoint. Delivery failures are reported to the caller, which treats
// them as non-fatal.
type Notifier struct {
	endpoint   string
	httpClient *http.Client
}

// NewNotifier validates the relay endpoint and builds a Notifier.
func NewNotifier(endpoint string, timeout time.Duration) (*Notifier, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("notifier endpoint is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{
		endpoint:   trimmed,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Send posts an order confirmation to the relay.
func (notifier *Notifier) Send(ctx context.Context, confirmation drops.OrderConfirmation) error {
	body, err := json.Marshal(confirmation)
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, notifier.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build confirmation request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := notifier.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return fmt.Errorf("notifier returned %d: %s", response.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
