package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type mockExit struct {
	handled     []models.ExitOption
	handleErr   error
	resumed     int
	resumeErr   error
	waiting     bool
	exitRunning bool
}

func (m *mockExit) InitiateExit(ctx context.Context) error { return nil }

func (m *mockExit) HandleOption(ctx context.Context, option models.ExitOption) error {
	m.handled = append(m.handled, option)
	return m.handleErr
}

func (m *mockExit) ResumeFromWaitingRoom(ctx context.Context) error {
	m.resumed++
	return m.resumeErr
}

func (m *mockExit) Progress() models.ExitProgress { return models.ExitProgress{} }

func (m *mockExit) TransferStatus() *models.TransferStatus { return nil }

func (m *mockExit) IsExitInProgress() bool { return m.exitRunning }

func (m *mockExit) WaitingRoomActive() bool { return m.waiting }

type mockRooms struct {
	active        []models.Room
	activeErr     error
	disconnected  []string
	disconnectErr error
}

func (m *mockRooms) HostedRooms(ctx context.Context) ([]models.Room, error) {
	return m.active, m.activeErr
}

func (m *mockRooms) ActiveRooms(ctx context.Context) ([]models.Room, error) {
	return m.active, m.activeErr
}

func (m *mockRooms) Pause(ctx context.Context, roomID string, req models.PauseRequest) error {
	return nil
}

func (m *mockRooms) Resume(ctx context.Context, roomID string) error { return nil }

func (m *mockRooms) PauseAll(ctx context.Context, reason string, waitingRoom, ambience bool) {}

func (m *mockRooms) ResumeAll(ctx context.Context) {}

func (m *mockRooms) Broadcast(ctx context.Context, msg models.BroadcastMessage) {}

func (m *mockRooms) TransferToDevice(ctx context.Context, device models.Device, transferRooms []models.Room, sourceDeviceID string) (*models.TransferResponse, error) {
	return &models.TransferResponse{Success: true}, nil
}

func (m *mockRooms) TransferToFederated(ctx context.Context, server models.FederatedServer, transferRooms []models.Room, sourceServer string) (*models.TransferResponse, error) {
	return &models.TransferResponse{Success: true}, nil
}

func (m *mockRooms) ForceDisconnect(ctx context.Context, clientID string) error {
	m.disconnected = append(m.disconnected, clientID)
	return m.disconnectErr
}

func newExecutor(remoteControl bool, exitSvc *mockExit, roomsSvc *mockRooms, opts Options) *Impl {
	cfg := models.NodeConfig{
		Node: models.NodeSettings{
			ID:                   "node-1",
			Name:                 "Node One",
			RemoteControlEnabled: remoteControl,
		},
	}
	opts.Exit = exitSvc
	opts.Rooms = roomsSvc
	return New(testLogger(), cfg, opts)
}

func request(cmd models.RemoteCommand, params map[string]string) models.CommandRequest {
	return models.CommandRequest{
		Command:          cmd,
		SourceDeviceID:   "node-2",
		SourceDeviceName: "Office",
		Params:           params,
	}
}

func TestHandle_RemoteControlDisabled(t *testing.T) {
	exitSvc := &mockExit{}
	executor := newExecutor(false, exitSvc, &mockRooms{}, Options{})

	for _, cmd := range []models.RemoteCommand{
		models.CommandStopServer,
		models.CommandGetStatus,
		models.CommandForceDisconnect,
	} {
		result := executor.Handle(context.Background(), request(cmd, nil))
		assert.False(t, result.Success)
		assert.Equal(t, "Remote control is disabled on this device", result.Result,
			"denial text must not vary by command")
	}

	// Nothing was executed, but every attempt is in the log.
	assert.Empty(t, exitSvc.handled)
	log := executor.Log()
	require.Len(t, log, 3)
	for _, entry := range log {
		assert.Equal(t, models.StatusFailed, entry.Status)
		assert.Equal(t, "node-2", entry.SourceDeviceID)
	}
}

func TestHandle_StopServer(t *testing.T) {
	exitSvc := &mockExit{}
	executor := newExecutor(true, exitSvc, &mockRooms{}, Options{})

	result := executor.Handle(context.Background(), request(models.CommandStopServer, nil))

	assert.True(t, result.Success)
	assert.Equal(t, []models.ExitOption{models.OptionJustExit}, exitSvc.handled)
}

func TestHandle_TransferRooms(t *testing.T) {
	exitSvc := &mockExit{}
	executor := newExecutor(true, exitSvc, &mockRooms{}, Options{})

	result := executor.Handle(context.Background(), request(models.CommandTransferRooms, nil))

	assert.True(t, result.Success)
	assert.Equal(t, []models.ExitOption{models.OptionAutoMove}, exitSvc.handled)
}

func TestHandle_RebootDevice(t *testing.T) {
	exitSvc := &mockExit{}
	executor := newExecutor(true, exitSvc, &mockRooms{}, Options{})

	result := executor.Handle(context.Background(), request(models.CommandRebootDevice, nil))

	assert.True(t, result.Success)
	assert.Equal(t, []models.ExitOption{models.OptionSystemReboot}, exitSvc.handled)
}

func TestHandle_PauseAndResume(t *testing.T) {
	exitSvc := &mockExit{}
	executor := newExecutor(true, exitSvc, &mockRooms{}, Options{})

	result := executor.Handle(context.Background(), request(models.CommandPauseRooms, nil))
	assert.True(t, result.Success)
	assert.Equal(t, []models.ExitOption{models.OptionWaitingRoom}, exitSvc.handled)

	result = executor.Handle(context.Background(), request(models.CommandResumeRooms, nil))
	assert.True(t, result.Success)
	assert.Equal(t, 1, exitSvc.resumed)
}

func TestHandle_ExitFailurePropagates(t *testing.T) {
	exitSvc := &mockExit{handleErr: models.ErrNoDevicesAvailable}
	executor := newExecutor(true, exitSvc, &mockRooms{}, Options{})

	result := executor.Handle(context.Background(), request(models.CommandTransferRooms, nil))

	assert.False(t, result.Success)
	assert.Equal(t, "No other online devices available", result.Result)

	log := executor.Log()
	require.Len(t, log, 1)
	assert.Equal(t, models.StatusFailed, log[0].Status)
}

func TestHandle_RestartServer(t *testing.T) {
	restarted := 0
	executor := newExecutor(true, &mockExit{}, &mockRooms{}, Options{
		RestartServer: func() error { restarted++; return nil },
	})

	result := executor.Handle(context.Background(), request(models.CommandRestartServer, nil))

	assert.True(t, result.Success)
	assert.Equal(t, 1, restarted)
}

func TestHandle_GetStatus(t *testing.T) {
	roomsSvc := &mockRooms{active: []models.Room{
		{ID: "r1", MemberCount: 2},
		{ID: "r2", MemberCount: 5},
	}}
	executor := newExecutor(true, &mockExit{waiting: true}, roomsSvc, Options{})

	result := executor.Handle(context.Background(), request(models.CommandGetStatus, nil))

	require.True(t, result.Success)
	var status models.NodeStatus
	require.NoError(t, json.Unmarshal([]byte(result.Result), &status))
	assert.Equal(t, "node-1", status.DeviceID)
	assert.Equal(t, 2, status.ActiveRooms)
	assert.Equal(t, 7, status.TotalUsers)
	assert.True(t, status.Waiting)
}

func TestHandle_GetActiveRooms(t *testing.T) {
	roomsSvc := &mockRooms{active: []models.Room{{ID: "r1", Name: "Lounge", MemberCount: 3}}}
	executor := newExecutor(true, &mockExit{}, roomsSvc, Options{})

	result := executor.Handle(context.Background(), request(models.CommandGetActiveRooms, nil))

	require.True(t, result.Success)
	var rooms []models.Room
	require.NoError(t, json.Unmarshal([]byte(result.Result), &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "Lounge", rooms[0].Name)
}

func TestHandle_ForceDisconnect(t *testing.T) {
	roomsSvc := &mockRooms{}
	executor := newExecutor(true, &mockExit{}, roomsSvc, Options{})

	result := executor.Handle(context.Background(), request(models.CommandForceDisconnect, map[string]string{"clientId": "client-42"}))

	assert.True(t, result.Success)
	assert.Equal(t, []string{"client-42"}, roomsSvc.disconnected)
}

func TestHandle_ForceDisconnect_MissingParam(t *testing.T) {
	roomsSvc := &mockRooms{}
	executor := newExecutor(true, &mockExit{}, roomsSvc, Options{})

	result := executor.Handle(context.Background(), request(models.CommandForceDisconnect, nil))

	assert.False(t, result.Success)
	assert.Equal(t, "missing required parameter: clientId", result.Result)
	assert.Empty(t, roomsSvc.disconnected)
}

func TestHandle_UpdateSettings(t *testing.T) {
	var applied string
	executor := newExecutor(true, &mockExit{}, &mockRooms{}, Options{
		ApplySettings: func(s string) error { applied = s; return nil },
	})

	result := executor.Handle(context.Background(), request(models.CommandUpdateSettings, map[string]string{"settings": `{"verbose":true}`}))

	assert.True(t, result.Success)
	assert.Equal(t, `{"verbose":true}`, applied)
}

func TestHandle_UpdateSettings_MissingParam(t *testing.T) {
	executor := newExecutor(true, &mockExit{}, &mockRooms{}, Options{
		ApplySettings: func(string) error { return errors.New("should not be called") },
	})

	result := executor.Handle(context.Background(), request(models.CommandUpdateSettings, nil))

	assert.False(t, result.Success)
	assert.Equal(t, "missing required parameter: settings", result.Result)
}

func TestHandle_UnknownCommand(t *testing.T) {
	executor := newExecutor(true, &mockExit{}, &mockRooms{}, Options{})

	result := executor.Handle(context.Background(), request(models.RemoteCommand("shrug"), nil))

	assert.False(t, result.Success)
	assert.Contains(t, result.Result, "unknown command")
}

func TestLog_AppendOnlyLifecycle(t *testing.T) {
	executor := newExecutor(true, &mockExit{}, &mockRooms{}, Options{})

	executor.Handle(context.Background(), request(models.CommandGetStatus, nil))
	executor.Handle(context.Background(), request(models.CommandForceDisconnect, nil))

	log := executor.Log()
	require.Len(t, log, 2)
	assert.Equal(t, models.StatusCompleted, log[0].Status)
	assert.Equal(t, models.StatusFailed, log[1].Status)
}
