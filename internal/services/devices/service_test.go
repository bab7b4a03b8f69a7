package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type mockWOL struct {
	mu    sync.Mutex
	err   error
	woken []string
}

func (m *mockWOL) Wake(broadcastIP string, mac net.HardwareAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.woken = append(m.woken, mac.String())
	return m.err
}

// healthClient answers /api/health for the given hosts only.
type healthClient struct {
	mu          sync.Mutex
	onlineHosts map[string]bool
}

func (c *healthClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	online := c.onlineHosts[req.URL.Host]
	c.mu.Unlock()
	if !online {
		return nil, fmt.Errorf("dial %s: connection refused", req.URL.Host)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"status":"ok"}`)),
	}, nil
}

func (c *healthClient) setOnline(host string, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onlineHosts == nil {
		c.onlineHosts = map[string]bool{}
	}
	c.onlineHosts[host] = online
}

func registry() []models.Device {
	return []models.Device{
		{ID: "node-2", Name: "Office", URL: "http://192.168.1.20:8470", MACAddress: "aa:bb:cc:dd:ee:01", Linked: true},
		{ID: "node-3", Name: "Studio", URL: "http://192.168.1.30:8470", MACAddress: "aa:bb:cc:dd:ee:02", Linked: true},
		{ID: "node-4", Name: "Unlinked", URL: "http://192.168.1.40:8470", Linked: false},
	}
}

func TestList_ReturnsConfigurationOrder(t *testing.T) {
	svc := NewWithClients(testLogger(), registry(), &mockWOL{}, &healthClient{})

	devs := svc.List()

	require.Len(t, devs, 3)
	assert.Equal(t, "node-2", devs[0].ID)
	assert.Equal(t, "node-3", devs[1].ID)
}

func TestRefresh_UpdatesOnlineFlags(t *testing.T) {
	client := &healthClient{}
	client.setOnline("192.168.1.30:8470", true)
	svc := NewWithClients(testLogger(), registry(), &mockWOL{}, client)

	svc.Refresh(context.Background())

	devs := svc.List()
	assert.False(t, devs[0].Online)
	assert.True(t, devs[1].Online)
}

func TestFirstOnline_ConfigurationOrderWins(t *testing.T) {
	client := &healthClient{}
	client.setOnline("192.168.1.20:8470", true)
	client.setOnline("192.168.1.30:8470", true)
	svc := NewWithClients(testLogger(), registry(), &mockWOL{}, client)

	dev, err := svc.FirstOnline(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "node-2", dev.ID, "no ranking beyond configuration order")
}

func TestFirstOnline_SkipsUnlinkedDevices(t *testing.T) {
	client := &healthClient{}
	client.setOnline("192.168.1.40:8470", true) // online but not linked
	svc := NewWithClients(testLogger(), registry(), &mockWOL{}, client)

	_, err := svc.FirstOnline(context.Background())

	require.ErrorIs(t, err, models.ErrNoDevicesAvailable)
}

func TestFirstOnline_NoneOnline(t *testing.T) {
	svc := NewWithClients(testLogger(), registry(), &mockWOL{}, &healthClient{})

	_, err := svc.FirstOnline(context.Background())

	require.ErrorIs(t, err, models.ErrNoDevicesAvailable)
	assert.Equal(t, "No other online devices available", err.Error())
}

func TestWake_DeviceComesOnline(t *testing.T) {
	wolClient := &mockWOL{}
	client := &healthClient{}
	svc := NewWithClients(testLogger(), registry(), wolClient, client)

	go func() {
		time.Sleep(30 * time.Millisecond)
		client.setOnline("192.168.1.20:8470", true)
	}()

	result, err := svc.Wake(context.Background(), registry()[0])

	require.NoError(t, err)
	require.Nil(t, result.Error)
	assert.True(t, result.PacketSent)
	assert.True(t, result.DeviceReady)
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01"}, wolClient.woken)
}

func TestWake_NoMACConfigured(t *testing.T) {
	svc := NewWithClients(testLogger(), registry(), &mockWOL{}, &healthClient{})

	result, err := svc.Wake(context.Background(), registry()[2])

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.False(t, result.PacketSent)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), registry(), &mockWOL{}, &healthClient{})

	result, err := svc.Wake(context.Background(), models.Device{ID: "bad", MACAddress: "not-a-mac"})

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.False(t, result.PacketSent)
}

func TestWake_PacketSendFailure(t *testing.T) {
	wolClient := &mockWOL{err: errors.New("network unreachable")}
	svc := NewWithClients(testLogger(), registry(), wolClient, &healthClient{})

	result, err := svc.Wake(context.Background(), registry()[0])

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.False(t, result.PacketSent)
}

func TestWake_ContextCancelled(t *testing.T) {
	svc := NewWithClients(testLogger(), registry(), &mockWOL{}, &healthClient{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result, err := svc.Wake(ctx, registry()[0])

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.False(t, result.DeviceReady)
}
