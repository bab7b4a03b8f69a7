package router

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/Raywonder/voicelink-control/internal/services/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type mockChannel struct {
	mu     sync.Mutex
	result *models.CommandResult
	err    error
	sent   []models.CommandRequest
	closed int
}

func (m *mockChannel) Send(ctx context.Context, req models.CommandRequest) (*models.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &models.CommandResult{Success: true}, nil
	}
	return m.result, nil
}

func (m *mockChannel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *mockChannel) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockChannel) lastRequest() models.CommandRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type mockDiscovery struct {
	result *models.DiscoveryResult
	err    error
	calls  int
}

func (m *mockDiscovery) Discover(ctx context.Context, peerID, registeredURL string) (*models.DiscoveryResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &models.DiscoveryResult{Found: false}, nil
	}
	return m.result, nil
}

type fixture struct {
	router      *Impl
	direct      *mockChannel
	relays      map[string]*mockChannel
	relayFor    *mockChannel // template for newly built relays
	discovery   *mockDiscovery
	directCalls []string
}

func newFixture(mode models.ConnectionMode) *fixture {
	f := &fixture{
		direct:    &mockChannel{},
		relays:    map[string]*mockChannel{},
		relayFor:  &mockChannel{},
		discovery: &mockDiscovery{},
	}
	local := models.NodeSettings{ID: "node-1", Name: "Node One"}
	f.router = NewWithFactories(testLogger(), local, mode, f.discovery,
		func(baseURL, token string) transport.Channel {
			f.directCalls = append(f.directCalls, baseURL)
			return f.direct
		},
		func(peerID string) RelayChannel {
			ch := &mockChannel{result: f.relayFor.result, err: f.relayFor.err}
			f.relays[peerID] = ch
			return ch
		})
	return f
}

func peer() models.Device {
	return models.Device{ID: "node-2", Name: "Office", URL: "http://192.168.1.20:8470", AccessToken: "tok"}
}

func TestSendCommand_RejectsUnknownCommand(t *testing.T) {
	f := newFixture(models.ModeDirectOnly)

	_, err := f.router.SendCommand(context.Background(), peer(), models.RemoteCommand("rm_rf"), nil)

	require.Error(t, err)
	assert.Empty(t, f.router.AuditLog(), "rejected commands are not audited")
}

func TestSendCommand_DirectOnly(t *testing.T) {
	f := newFixture(models.ModeDirectOnly)

	result, err := f.router.SendCommand(context.Background(), peer(), models.CommandPauseRooms, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"http://192.168.1.20:8470"}, f.directCalls)
	assert.Empty(t, f.relays)

	sent := f.direct.lastRequest()
	assert.Equal(t, "direct", sent.ConnectionMethod)
	assert.Equal(t, "node-1", sent.SourceDeviceID)
	assert.Equal(t, "Node One", sent.SourceDeviceName)
}

func TestSendCommand_DirectOnly_NoURL(t *testing.T) {
	f := newFixture(models.ModeDirectOnly)
	p := peer()
	p.URL = ""

	_, err := f.router.SendCommand(context.Background(), p, models.CommandPauseRooms, nil)

	require.ErrorIs(t, err, models.ErrInvalidURL)
}

func TestSendCommand_TunnelOnly_ReusesRelayPerPeer(t *testing.T) {
	f := newFixture(models.ModeTunnelOnly)

	for i := 0; i < 3; i++ {
		_, err := f.router.SendCommand(context.Background(), peer(), models.CommandGetStatus, nil)
		require.NoError(t, err)
	}

	require.Len(t, f.relays, 1)
	assert.Equal(t, 3, f.relays["node-2"].sentCount())
	assert.Empty(t, f.directCalls)
	assert.Equal(t, "tunnel", f.relays["node-2"].lastRequest().ConnectionMethod)
}

func TestSendCommand_Hybrid_RelaySucceeds(t *testing.T) {
	f := newFixture(models.ModeHybrid)

	_, err := f.router.SendCommand(context.Background(), peer(), models.CommandGetStatus, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, f.relays["node-2"].sentCount())
	assert.Zero(t, f.direct.sentCount(), "no direct fallback when the relay works")
}

func TestSendCommand_Hybrid_FallsBackToDirectOnce(t *testing.T) {
	f := newFixture(models.ModeHybrid)
	f.relayFor.err = models.ErrChannelUnavailable

	result, err := f.router.SendCommand(context.Background(), peer(), models.CommandGetStatus, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.relays["node-2"].sentCount())
	assert.Equal(t, 1, f.direct.sentCount())
	assert.Equal(t, "direct", f.direct.lastRequest().ConnectionMethod)
}

func TestSendCommand_Hybrid_BothFail(t *testing.T) {
	f := newFixture(models.ModeHybrid)
	f.relayFor.err = models.ErrChannelUnavailable
	f.direct.err = errors.New("connection refused")

	_, err := f.router.SendCommand(context.Background(), peer(), models.CommandGetStatus, nil)

	require.Error(t, err)
	log := f.router.AuditLog()
	require.Len(t, log, 1)
	assert.Equal(t, models.StatusFailed, log[0].Status)
}

func TestSendCommand_Auto_DiscoveredAddressWins(t *testing.T) {
	f := newFixture(models.ModeAuto)
	f.discovery.result = &models.DiscoveryResult{Found: true, Address: "192.168.1.20:8470", Source: "mdns"}

	_, err := f.router.SendCommand(context.Background(), peer(), models.CommandGetStatus, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"http://192.168.1.20:8470"}, f.directCalls)
	assert.Equal(t, "local", f.direct.lastRequest().ConnectionMethod)
	assert.Empty(t, f.relays)
}

func TestSendCommand_Auto_FallsBackToRelay(t *testing.T) {
	f := newFixture(models.ModeAuto)
	f.discovery.err = models.ErrDiscoveryTimeout

	_, err := f.router.SendCommand(context.Background(), peer(), models.CommandGetStatus, nil)

	require.NoError(t, err)
	assert.Empty(t, f.directCalls)
	require.Len(t, f.relays, 1)
	assert.Equal(t, "tunnel", f.relays["node-2"].lastRequest().ConnectionMethod)
}

func TestSetMode_LeavingTunnelOnlyTearsDownRelays(t *testing.T) {
	f := newFixture(models.ModeTunnelOnly)
	_, err := f.router.SendCommand(context.Background(), peer(), models.CommandGetStatus, nil)
	require.NoError(t, err)

	f.router.SetMode(models.ModeDirectOnly)

	assert.Equal(t, models.ModeDirectOnly, f.router.Mode())
	relay := f.relays["node-2"]
	relay.mu.Lock()
	assert.Equal(t, 1, relay.closed)
	relay.mu.Unlock()
}

func TestSetMode_OtherTransitionsKeepRelays(t *testing.T) {
	f := newFixture(models.ModeHybrid)
	_, err := f.router.SendCommand(context.Background(), peer(), models.CommandGetStatus, nil)
	require.NoError(t, err)

	f.router.SetMode(models.ModeAuto)

	relay := f.relays["node-2"]
	relay.mu.Lock()
	assert.Zero(t, relay.closed)
	relay.mu.Unlock()
}

func TestAuditLog_OrderAndLifecycle(t *testing.T) {
	f := newFixture(models.ModeDirectOnly)

	_, err := f.router.SendCommand(context.Background(), peer(), models.CommandPauseRooms, nil)
	require.NoError(t, err)
	f.direct.err = errors.New("connection refused")
	_, err = f.router.SendCommand(context.Background(), peer(), models.CommandResumeRooms, nil)
	require.Error(t, err)

	log := f.router.AuditLog()
	require.Len(t, log, 2)
	assert.Equal(t, models.CommandPauseRooms, log[0].Command)
	assert.Equal(t, models.StatusCompleted, log[0].Status)
	assert.Equal(t, models.CommandResumeRooms, log[1].Command)
	assert.Equal(t, models.StatusFailed, log[1].Status)
	assert.Equal(t, "connection refused", log[1].Result)
	assert.NotEmpty(t, log[0].ID)
	assert.NotEqual(t, log[0].ID, log[1].ID)
}

func TestSendCommand_UnsuccessfulResultMarksFailed(t *testing.T) {
	f := newFixture(models.ModeDirectOnly)
	f.direct.result = &models.CommandResult{Success: false, Result: "Remote control is disabled on this device"}

	result, err := f.router.SendCommand(context.Background(), peer(), models.CommandStopServer, nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	log := f.router.AuditLog()
	require.Len(t, log, 1)
	assert.Equal(t, models.StatusFailed, log[0].Status)
	assert.Equal(t, "Remote control is disabled on this device", log[0].Result)
}

func TestClose_TearsDownAllRelays(t *testing.T) {
	f := newFixture(models.ModeTunnelOnly)
	_, err := f.router.SendCommand(context.Background(), peer(), models.CommandGetStatus, nil)
	require.NoError(t, err)
	other := models.Device{ID: "node-3", URL: "http://192.168.1.30:8470"}
	_, err = f.router.SendCommand(context.Background(), other, models.CommandGetStatus, nil)
	require.NoError(t, err)

	f.router.Close()

	for id, relay := range f.relays {
		relay.mu.Lock()
		assert.Equal(t, 1, relay.closed, id)
		relay.mu.Unlock()
	}
}
