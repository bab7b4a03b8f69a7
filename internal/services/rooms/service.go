// Package rooms is the HTTP client for room plumbing: listing hosted rooms,
// pause/resume, broadcasts, and transfer calls to remote nodes.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for room operations.
type Service interface {
	HostedRooms(ctx context.Context) ([]models.Room, error)
	ActiveRooms(ctx context.Context) ([]models.Room, error)
	Pause(ctx context.Context, roomID string, req models.PauseRequest) error
	Resume(ctx context.Context, roomID string) error
	PauseAll(ctx context.Context, reason string, waitingRoom, ambience bool)
	ResumeAll(ctx context.Context)
	Broadcast(ctx context.Context, msg models.BroadcastMessage)
	TransferToDevice(ctx context.Context, device models.Device, transferRooms []models.Room, sourceDeviceID string) (*models.TransferResponse, error)
	TransferToFederated(ctx context.Context, server models.FederatedServer, transferRooms []models.Room, sourceServer string) (*models.TransferResponse, error)
	ForceDisconnect(ctx context.Context, clientID string) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the rooms Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string // local node API
	token      string
}

// New creates a new rooms service talking to the local node API.
func New(logger zerolog.Logger, baseURL, token string) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:  logger,
		baseURL: baseURL,
		token:   token,
	}
}

// NewWithClient creates a new rooms service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL, token string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		token:      token,
	}
}

type roomListResponse struct {
	Rooms []models.Room `json:"rooms"`
}

// HostedRooms returns every room whose authoritative state lives on the
// local node, including empty ones.
func (s *Impl) HostedRooms(ctx context.Context) ([]models.Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/rooms", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("room list returned status %d", resp.StatusCode)
	}

	var list roomListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode room list: %w", err)
	}
	return list.Rooms, nil
}

// ActiveRooms returns only the hosted rooms with at least one member.
func (s *Impl) ActiveRooms(ctx context.Context) ([]models.Room, error) {
	all, err := s.HostedRooms(ctx)
	if err != nil {
		return nil, err
	}

	var active []models.Room
	for _, r := range all {
		if r.MemberCount > 0 {
			active = append(active, r)
		}
	}
	return active, nil
}

// Pause pauses a single room.
func (s *Impl) Pause(ctx context.Context, roomID string, req models.PauseRequest) error {
	return s.postJSON(ctx, fmt.Sprintf("%s/api/rooms/%s/pause", s.baseURL, roomID), s.token, req, nil)
}

// Resume resumes a single room.
func (s *Impl) Resume(ctx context.Context, roomID string) error {
	return s.postJSON(ctx, fmt.Sprintf("%s/api/rooms/%s/resume", s.baseURL, roomID), s.token, struct{}{}, nil)
}

// PauseAll issues a pause to every hosted room. Fire-and-forget: failures
// are logged and do not affect the caller.
func (s *Impl) PauseAll(ctx context.Context, reason string, waitingRoom, ambience bool) {
	all, err := s.HostedRooms(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not list rooms for pause")
		return
	}

	body := models.PauseRequest{
		Reason:          reason,
		WaitingRoom:     waitingRoom,
		AmbienceEnabled: ambience,
	}
	for _, r := range all {
		if err := s.Pause(ctx, r.ID, body); err != nil {
			s.logger.Warn().Err(err).Str("room", r.ID).Msg("pause failed")
		}
	}
}

// ResumeAll issues a resume to every hosted room, fire-and-forget.
func (s *Impl) ResumeAll(ctx context.Context) {
	all, err := s.HostedRooms(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not list rooms for resume")
		return
	}

	for _, r := range all {
		if err := s.Resume(ctx, r.ID); err != nil {
			s.logger.Warn().Err(err).Str("room", r.ID).Msg("resume failed")
		}
	}
}

// Broadcast sends a fire-and-forget notification to all connected users.
func (s *Impl) Broadcast(ctx context.Context, msg models.BroadcastMessage) {
	if err := s.postJSON(ctx, s.baseURL+"/api/broadcast", s.token, msg, nil); err != nil {
		s.logger.Warn().Err(err).Str("type", msg.Type).Msg("broadcast failed")
	}
}

// TransferToDevice POSTs the room set to a sibling device's transfer-accept
// endpoint. The payload is idempotent; the transfer is modeled as atomic.
func (s *Impl) TransferToDevice(ctx context.Context, device models.Device, transferRooms []models.Room, sourceDeviceID string) (*models.TransferResponse, error) {
	body := models.TransferRequest{
		Rooms:          transferRooms,
		SourceDeviceID: sourceDeviceID,
		TransferType:   "device_exit",
	}

	s.logger.Info().
		Str("device", device.ID).
		Int("rooms", len(transferRooms)).
		Msg("transferring rooms to device")

	var out models.TransferResponse
	if err := s.postJSON(ctx, device.URL+"/api/rooms/transfer-accept", device.AccessToken, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransferToFederated POSTs the room set to a federation node with
// preserveRoomIds set. Only a transport failure is an error: an error
// status or malformed body means the node was reached but did not preserve
// room identity, which callers treat as a degraded success.
func (s *Impl) TransferToFederated(ctx context.Context, server models.FederatedServer, transferRooms []models.Room, sourceServer string) (*models.TransferResponse, error) {
	body := models.FederatedTransferRequest{
		Rooms:           transferRooms,
		SourceServer:    sourceServer,
		PreserveRoomIDs: true,
	}

	s.logger.Info().
		Str("server", server.ID).
		Int("rooms", len(transferRooms)).
		Msg("transferring rooms to federated server")

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.URL+"/api/rooms/federated-transfer", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if server.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+server.AccessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach federated server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	out := &models.TransferResponse{}
	if resp.StatusCode != http.StatusOK {
		return out, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		out.Success = false
	}
	return out, nil
}

// ForceDisconnect kicks a single client off the local node.
func (s *Impl) ForceDisconnect(ctx context.Context, clientID string) error {
	return s.postJSON(ctx, s.baseURL+"/api/clients/"+clientID+"/disconnect", s.token, struct{}{}, nil)
}

func (s *Impl) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}

func (s *Impl) postJSON(ctx context.Context, url, token string, body, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
