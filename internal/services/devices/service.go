// Package devices tracks linked sibling devices and wakes sleeping ones.
package devices

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for sibling device operations.
type Service interface {
	List() []models.Device
	FirstOnline(ctx context.Context) (*models.Device, error)
	Refresh(ctx context.Context)
	Wake(ctx context.Context, device models.Device) (*models.WakeResult, error)
}

// WOLClient wraps the wol library for mocking.
type WOLClient interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultWOLClient is the default implementation using mdlayher/wol.
type DefaultWOLClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(ip.String()+":9", mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the devices Service interface.
type Impl struct {
	devices      []models.Device
	wolClient    WOLClient
	httpClient   HTTPClient
	logger       zerolog.Logger
	broadcastIP  string
	wakeTimeout  time.Duration
	pollInterval time.Duration

	mu sync.RWMutex
}

// New creates a new devices service from the configured registry.
func New(logger zerolog.Logger, devs []models.Device) *Impl {
	return &Impl{
		devices:   devs,
		wolClient: &DefaultWOLClient{},
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger:       logger,
		broadcastIP:  "255.255.255.255",
		wakeTimeout:  2 * time.Minute,
		pollInterval: 5 * time.Second,
	}
}

// NewWithClients creates a new devices service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, devs []models.Device, wolClient WOLClient, httpClient HTTPClient) *Impl {
	return &Impl{
		devices:      devs,
		wolClient:    wolClient,
		httpClient:   httpClient,
		logger:       logger,
		broadcastIP:  "255.255.255.255",
		wakeTimeout:  2 * time.Minute,
		pollInterval: 10 * time.Millisecond,
	}
}

// List returns the registry in configuration order.
func (s *Impl) List() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// Refresh probes every linked device's health endpoint and updates its
// online flag.
func (s *Impl) Refresh(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.devices {
		s.devices[i].Online = s.isOnline(ctx, s.devices[i])
	}
}

// FirstOnline refreshes the registry and returns the first device that is
// both linked and online, in configuration order. No further ranking.
func (s *Impl) FirstOnline(ctx context.Context) (*models.Device, error) {
	s.Refresh(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.devices {
		if d.Linked && d.Online {
			dev := d
			return &dev, nil
		}
	}
	return nil, models.ErrNoDevicesAvailable
}

func (s *Impl) isOnline(ctx context.Context, d models.Device) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL+"/api/health", nil)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Wake sends a WOL packet to the device and polls its health endpoint until
// it answers or the wake timeout elapses.
func (s *Impl) Wake(ctx context.Context, device models.Device) (*models.WakeResult, error) {
	result := &models.WakeResult{}
	start := time.Now()

	if device.MACAddress == "" {
		result.Error = fmt.Errorf("device %s has no MAC address configured", device.ID)
		return result, nil
	}

	mac, err := net.ParseMAC(device.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", device.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("device", device.ID).
		Str("mac", device.MACAddress).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(s.broadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // wake failures are reported in the result struct
	}

	result.PacketSent = true

	deadline := time.Now().Add(s.wakeTimeout)
	for {
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		default:
		}

		if time.Now().After(deadline) {
			result.WaitDuration = time.Since(start)
			result.Error = fmt.Errorf("timeout waiting for device %s to wake", device.ID)
			return result, nil
		}

		if s.isOnline(ctx, device) {
			result.DeviceReady = true
			result.WaitDuration = time.Since(start)

			s.logger.Info().
				Str("device", device.ID).
				Dur("duration", result.WaitDuration).
				Msg("device is awake")

			return result, nil
		}

		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(s.pollInterval):
		}
	}
}
