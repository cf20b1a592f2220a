package push

import (
	"bytes"
	"cargolink/internal/config"
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// GatewayClient posts notifications to the device push gateway.
type GatewayClient struct {
	url    string
	apiKey string
	http   *http.Client
}

func NewGatewayClient(cfg config.PushConfig) *GatewayClient {
	return &GatewayClient{
		url:    cfg.GatewayURL,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: cfg.Timeout},
	}
}

var _ contracts.Pusher = (*GatewayClient)(nil)

func (g *GatewayClient) Push(ctx context.Context, n domain.PushNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push gateway: unexpected status %d", resp.StatusCode)
	}
	return nil
}
