// Package federation fetches transfer candidates from the federation
// discovery endpoint.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for federation discovery.
type Service interface {
	Nodes(ctx context.Context) ([]models.FederatedServer, error)
	PickRandom(ctx context.Context) (*models.FederatedServer, error)
	Available(ctx context.Context) bool
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the federation Service interface.
type Impl struct {
	httpClient   HTTPClient
	logger       zerolog.Logger
	discoveryURL string
	pick         func(n int) int
}

// New creates a new federation service.
func New(logger zerolog.Logger, discoveryURL string) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       logger,
		discoveryURL: discoveryURL,
		pick:         rand.Intn,
	}
}

// NewWithClient creates a new federation service with a custom HTTP client
// and selection function (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, discoveryURL string, pick func(n int) int) *Impl {
	if pick == nil {
		pick = rand.Intn
	}
	return &Impl{
		httpClient:   httpClient,
		logger:       logger,
		discoveryURL: discoveryURL,
		pick:         pick,
	}
}

type nodesResponse struct {
	Nodes []models.FederatedServer `json:"nodes"`
}

// Nodes fetches the current federation node list.
func (s *Impl) Nodes(ctx context.Context) ([]models.FederatedServer, error) {
	if s.discoveryURL == "" {
		return nil, models.ErrNoFederatedServersAvailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch federation nodes: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("federation discovery returned status %d", resp.StatusCode)
	}

	var out nodesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode federation nodes: %w", err)
	}
	return out.Nodes, nil
}

// PickRandom selects uniformly at random among the fetched nodes. There is
// no load-based ranking.
func (s *Impl) PickRandom(ctx context.Context) (*models.FederatedServer, error) {
	nodes, err := s.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, models.ErrNoFederatedServersAvailable
	}

	node := nodes[s.pick(len(nodes))]

	s.logger.Info().
		Str("server", node.ID).
		Str("url", node.URL).
		Msg("selected federation node")

	return &node, nil
}

// Available reports whether at least one federation node can be fetched.
func (s *Impl) Available(ctx context.Context) bool {
	nodes, err := s.Nodes(ctx)
	return err == nil && len(nodes) > 0
}
