// Package transport delivers remote commands over interchangeable channels:
// direct HTTP to an address, or a tunneled websocket relay.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/rs/zerolog"
)

// Channel is the uniform "send command, await result" contract shared by
// every delivery strategy.
type Channel interface {
	Send(ctx context.Context, req models.CommandRequest) (*models.CommandResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Direct delivers commands as plain request/response HTTP calls to a
// discovered or registered address.
type Direct struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
	token      string
}

// NewDirect creates a direct channel to the given base URL.
func NewDirect(logger zerolog.Logger, baseURL, token string) *Direct {
	return &Direct{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:  logger,
		baseURL: baseURL,
		token:   token,
	}
}

// NewDirectWithClient creates a direct channel with a custom HTTP client
// (for testing).
func NewDirectWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL, token string) *Direct {
	return &Direct{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		token:      token,
	}
}

// Send posts the command to the peer's remote command endpoint.
func (d *Direct) Send(ctx context.Context, req models.CommandRequest) (*models.CommandResult, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/remote/command", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.token)
	}

	d.logger.Debug().
		Str("command", string(req.Command)).
		Str("url", d.baseURL).
		Msg("sending command over direct channel")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("direct send failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer returned status %d", resp.StatusCode)
	}

	var result models.CommandResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode command result: %w", err)
	}
	return &result, nil
}
