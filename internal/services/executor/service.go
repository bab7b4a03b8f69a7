// Package executor validates and applies remote commands on the receiving
// node.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/Raywonder/voicelink-control/internal/services/exit"
	"github.com/Raywonder/voicelink-control/internal/services/rooms"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DenialMessage is returned for every command when remote control is
// disabled. The text is identical regardless of command kind.
const DenialMessage = "Remote control is disabled on this device"

// Service defines the interface for the command executor.
type Service interface {
	Handle(ctx context.Context, req models.CommandRequest) *models.CommandResult
	Log() []models.RemoteCommandLog
}

// Impl implements the executor Service interface.
type Impl struct {
	exitSvc       exit.Service
	roomsSvc      rooms.Service
	logger        zerolog.Logger
	node          models.NodeSettings
	remoteControl bool

	restartServer func() error
	applySettings func(settings string) error

	mu    sync.Mutex
	audit []models.RemoteCommandLog
}

// Options carries the injectable collaborators of the executor.
type Options struct {
	Exit          exit.Service
	Rooms         rooms.Service
	RestartServer func() error
	ApplySettings func(settings string) error
}

// New creates a new command executor.
func New(logger zerolog.Logger, cfg models.NodeConfig, opts Options) *Impl {
	s := &Impl{
		exitSvc:       opts.Exit,
		roomsSvc:      opts.Rooms,
		logger:        logger,
		node:          cfg.Node,
		remoteControl: cfg.Node.RemoteControlEnabled,
		restartServer: opts.RestartServer,
		applySettings: opts.ApplySettings,
	}
	if s.restartServer == nil {
		s.restartServer = func() error { return nil }
	}
	if s.applySettings == nil {
		s.applySettings = func(string) error { return nil }
	}
	return s
}

// Handle applies one incoming command and produces a structured result.
// When remote control is disabled every command is rejected with the fixed
// denial message; the attempt is still logged.
func (s *Impl) Handle(ctx context.Context, req models.CommandRequest) *models.CommandResult {
	entryID := s.appendAudit(req)

	if !s.remoteControl {
		s.logger.Warn().
			Str("command", string(req.Command)).
			Str("source", req.SourceDeviceID).
			Msg("remote command denied")
		s.updateAudit(entryID, models.StatusFailed, DenialMessage)
		return &models.CommandResult{Success: false, Result: DenialMessage}
	}

	s.updateAudit(entryID, models.StatusExecuting, "")
	result := s.execute(ctx, req)

	if result.Success {
		s.updateAudit(entryID, models.StatusCompleted, result.Result)
	} else {
		s.updateAudit(entryID, models.StatusFailed, result.Result)
	}
	return result
}

//nolint:gocyclo // one arm per command in the closed set
func (s *Impl) execute(ctx context.Context, req models.CommandRequest) *models.CommandResult {
	switch req.Command {
	case models.CommandStopServer:
		if err := s.exitSvc.HandleOption(ctx, models.OptionJustExit); err != nil {
			return failure(err.Error())
		}
		return success("server stopping")

	case models.CommandRestartServer:
		if err := s.restartServer(); err != nil {
			return failure(fmt.Sprintf("restart failed: %v", err))
		}
		return success("server restarted")

	case models.CommandTransferRooms:
		if err := s.exitSvc.HandleOption(ctx, models.OptionAutoMove); err != nil {
			return failure(err.Error())
		}
		return success("room transfer started")

	case models.CommandRebootDevice:
		if err := s.exitSvc.HandleOption(ctx, models.OptionSystemReboot); err != nil {
			return failure(err.Error())
		}
		return success("device rebooting")

	case models.CommandPauseRooms:
		if err := s.exitSvc.HandleOption(ctx, models.OptionWaitingRoom); err != nil {
			return failure(err.Error())
		}
		return success("rooms paused")

	case models.CommandResumeRooms:
		if err := s.exitSvc.ResumeFromWaitingRoom(ctx); err != nil {
			return failure(err.Error())
		}
		return success("rooms resumed")

	case models.CommandGetStatus:
		return s.getStatus(ctx)

	case models.CommandGetActiveRooms:
		return s.getActiveRooms(ctx)

	case models.CommandForceDisconnect:
		clientID, ok := req.Params["clientId"]
		if !ok || clientID == "" {
			return failure("missing required parameter: clientId")
		}
		if err := s.roomsSvc.ForceDisconnect(ctx, clientID); err != nil {
			return failure(fmt.Sprintf("disconnect failed: %v", err))
		}
		return success("client disconnected")

	case models.CommandUpdateSettings:
		settings, ok := req.Params["settings"]
		if !ok || settings == "" {
			return failure("missing required parameter: settings")
		}
		if err := s.applySettings(settings); err != nil {
			return failure(fmt.Sprintf("settings update failed: %v", err))
		}
		return success("settings updated")

	default:
		return failure(fmt.Sprintf("unknown command %q", req.Command))
	}
}

func (s *Impl) getStatus(ctx context.Context) *models.CommandResult {
	active, err := s.roomsSvc.ActiveRooms(ctx)
	if err != nil {
		return failure(fmt.Sprintf("could not read status: %v", err))
	}

	totalUsers := 0
	for _, r := range active {
		totalUsers += r.MemberCount
	}

	status := models.NodeStatus{
		DeviceID:    s.node.ID,
		DeviceName:  s.node.Name,
		ActiveRooms: len(active),
		TotalUsers:  totalUsers,
		Waiting:     s.exitSvc.WaitingRoomActive(),
	}
	data, err := json.Marshal(status)
	if err != nil {
		return failure(fmt.Sprintf("could not serialize status: %v", err))
	}
	return success(string(data))
}

func (s *Impl) getActiveRooms(ctx context.Context) *models.CommandResult {
	active, err := s.roomsSvc.ActiveRooms(ctx)
	if err != nil {
		return failure(fmt.Sprintf("could not list rooms: %v", err))
	}

	data, err := json.Marshal(active)
	if err != nil {
		return failure(fmt.Sprintf("could not serialize rooms: %v", err))
	}
	return success(string(data))
}

// Log returns a copy of the received-command audit log in append order.
// Entries are never deleted within a session.
func (s *Impl) Log() []models.RemoteCommandLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.RemoteCommandLog, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Impl) appendAudit(req models.CommandRequest) string {
	entry := models.RemoteCommandLog{
		ID:               uuid.NewString(),
		Command:          req.Command,
		SourceDeviceID:   req.SourceDeviceID,
		SourceDeviceName: req.SourceDeviceName,
		Timestamp:        time.Now().UTC(),
		Status:           models.StatusPending,
	}

	s.mu.Lock()
	s.audit = append(s.audit, entry)
	s.mu.Unlock()

	return entry.ID
}

func (s *Impl) updateAudit(id string, status models.CommandStatus, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.audit {
		if s.audit[i].ID == id {
			s.audit[i].Status = status
			if result != "" {
				s.audit[i].Result = result
			}
			return
		}
	}
}

func success(msg string) *models.CommandResult {
	return &models.CommandResult{Success: true, Result: msg}
}

func failure(msg string) *models.CommandResult {
	return &models.CommandResult{Success: false, Result: msg}
}
