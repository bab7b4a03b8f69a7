// Package exit decides and carries out what happens to a node's hosted
// rooms before the node stops accepting connections.
package exit

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/Raywonder/voicelink-control/internal/services/devices"
	"github.com/Raywonder/voicelink-control/internal/services/federation"
	"github.com/Raywonder/voicelink-control/internal/services/reboot"
	"github.com/Raywonder/voicelink-control/internal/services/rooms"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Service defines the interface for the exit orchestrator.
type Service interface {
	InitiateExit(ctx context.Context) error
	HandleOption(ctx context.Context, option models.ExitOption) error
	ResumeFromWaitingRoom(ctx context.Context) error
	Progress() models.ExitProgress
	TransferStatus() *models.TransferStatus
	IsExitInProgress() bool
	WaitingRoomActive() bool
}

// Impl implements the exit Service interface. It owns the exit state tag:
// transitions happen only through its methods, and any timer superseded by a
// transition is invalidated so stale callbacks never fire against a new
// state.
type Impl struct {
	roomsSvc      rooms.Service
	devicesSvc    devices.Service
	federationSvc federation.Service
	rebootSvc     reboot.Service
	logger        zerolog.Logger
	clock         clock.Clock
	cfg           models.ExitConfig
	node          models.NodeSettings
	rebootCfg     *models.RebootConfig

	stopServer  func()
	exitProcess func()
	playCue     func()

	mu             sync.Mutex
	progress       models.ExitProgress
	lastError      string
	exitInProgress bool
	waitingRoom    bool
	transfer       *models.TransferStatus
	waitingTimer   *clock.Timer
	autoMoveTicker *clock.Ticker
	autoMoveStop   chan struct{}
	onStateChange  func(models.ExitProgress)
}

// Options carries the injectable collaborators of the orchestrator.
type Options struct {
	Rooms      rooms.Service
	Devices    devices.Service
	Federation federation.Service
	Reboot     reboot.Service
	Clock      clock.Clock // nil means real time

	StopServer    func() // stops the local listener
	ExitProcess   func() // terminates the process, default os.Exit(0)
	PlayCue       func() // completion cue, default no-op
	OnStateChange func(models.ExitProgress)
}

// New creates a new exit orchestrator.
func New(logger zerolog.Logger, cfg models.NodeConfig, opts Options) *Impl {
	c := opts.Clock
	if c == nil {
		c = clock.New()
	}
	s := &Impl{
		roomsSvc:      opts.Rooms,
		devicesSvc:    opts.Devices,
		federationSvc: opts.Federation,
		rebootSvc:     opts.Reboot,
		logger:        logger,
		clock:         c,
		cfg:           cfg.Exit,
		node:          cfg.Node,
		rebootCfg:     cfg.Reboot,
		stopServer:    opts.StopServer,
		exitProcess:   opts.ExitProcess,
		playCue:       opts.PlayCue,
		onStateChange: opts.OnStateChange,
		progress:      models.ExitProgress{Stage: models.ExitIdle},
	}
	if s.stopServer == nil {
		s.stopServer = func() {}
	}
	if s.exitProcess == nil {
		s.exitProcess = func() { os.Exit(0) }
	}
	if s.playCue == nil {
		s.playCue = func() { logger.Debug().Msg("completion cue") }
	}
	return s
}

// Progress returns the current exit state.
func (s *Impl) Progress() models.ExitProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// LastError returns the most recent failure reason, if any.
func (s *Impl) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// TransferStatus returns the in-flight transfer, or nil.
func (s *Impl) TransferStatus() *models.TransferStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer == nil {
		return nil
	}
	t := *s.transfer
	return &t
}

// IsExitInProgress reports whether an exit option is being carried out.
func (s *Impl) IsExitInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitInProgress
}

// WaitingRoomActive reports whether users are parked in the waiting room.
func (s *Impl) WaitingRoomActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitingRoom
}

// InitiateExit queries hosted rooms with members. With none, the node shuts
// down immediately; otherwise the caller must pick an option.
func (s *Impl) InitiateExit(ctx context.Context) error {
	active, err := s.roomsSvc.ActiveRooms(ctx)
	if err != nil {
		s.fail(fmt.Sprintf("could not list rooms: %v", err))
		return err
	}

	if len(active) == 0 {
		s.logger.Info().Msg("no active rooms, shutting down immediately")
		s.shutdownNow()
		return nil
	}

	s.logger.Info().Int("rooms", len(active)).Msg("active rooms present, options required")
	s.setStage(models.ExitShowingOptions, "")
	return nil
}

// HandleOption dispatches the selected exit option.
func (s *Impl) HandleOption(ctx context.Context, option models.ExitOption) error {
	s.mu.Lock()
	s.exitInProgress = true
	s.mu.Unlock()

	s.logger.Info().Str("option", option.String()).Msg("handling exit option")

	switch option {
	case models.OptionTransferToDevice:
		return s.transferToDevice(ctx)
	case models.OptionTransferToFederated:
		return s.transferToFederated(ctx)
	case models.OptionWaitingRoom:
		return s.moveToWaitingRoom(ctx)
	case models.OptionAutoMove:
		return s.autoMove(ctx)
	case models.OptionJustExit:
		return s.justExit(ctx)
	case models.OptionSystemReboot:
		return s.systemReboot(ctx)
	default:
		return fmt.Errorf("unknown exit option %d", option)
	}
}

// transferToDevice hands all active rooms to the first online sibling.
func (s *Impl) transferToDevice(ctx context.Context) error {
	s.setStage(models.ExitTransferringToDevice, "")

	dev, err := s.devicesSvc.FirstOnline(ctx)
	if err != nil {
		s.fail(models.ErrNoDevicesAvailable.Error())
		return models.ErrNoDevicesAvailable
	}

	active, err := s.roomsSvc.ActiveRooms(ctx)
	if err != nil {
		s.fail(fmt.Sprintf("could not list rooms: %v", err))
		return err
	}

	s.beginTransfer(active, dev.ID, "")

	resp, err := s.roomsSvc.TransferToDevice(ctx, *dev, active, s.node.ID)
	if err != nil || !resp.Success {
		s.fail(models.ErrTransferFailed.Error())
		return models.ErrTransferFailed
	}

	// The transfer is modeled as atomic: counts jump to the full totals.
	s.completeTransfer()
	s.cancelAutoMove()
	s.playCue()

	s.roomsSvc.Broadcast(ctx, models.BroadcastMessage{
		Type:    "rooms_transferred",
		Message: fmt.Sprintf("Your room has moved to %s", dev.Name),
		Target:  dev.URL,
	})

	s.logger.Info().Str("device", dev.ID).Msg("device transfer complete")
	s.scheduleShutdown()
	return nil
}

// transferToFederated hands all active rooms to a random federation node.
// A reachable node that fails to preserve room identity still completes the
// exit; users are told a new room was created instead of the same one.
func (s *Impl) transferToFederated(ctx context.Context) error {
	s.setStage(models.ExitTransferringToFederated, "")

	node, err := s.federationSvc.PickRandom(ctx)
	if err != nil {
		s.fail(models.ErrNoFederatedServersAvailable.Error())
		return models.ErrNoFederatedServersAvailable
	}

	active, err := s.roomsSvc.ActiveRooms(ctx)
	if err != nil {
		s.fail(fmt.Sprintf("could not list rooms: %v", err))
		return err
	}

	s.beginTransfer(active, "", node.ID)

	resp, err := s.roomsSvc.TransferToFederated(ctx, *node, active, s.node.ID)
	if err != nil {
		s.fail(fmt.Sprintf("federated transfer failed: %v", err))
		return err
	}

	sameRoom := resp.Success
	s.completeTransfer()
	s.cancelAutoMove()
	s.playCue()

	s.roomsSvc.Broadcast(ctx, models.BroadcastMessage{
		Type:     "rooms_transferred",
		Message:  fmt.Sprintf("Your room has moved to %s", node.Name),
		SameRoom: &sameRoom,
		Target:   node.URL,
	})

	s.logger.Info().
		Str("server", node.ID).
		Bool("same_room", sameRoom).
		Msg("federated transfer complete")
	s.scheduleShutdown()
	return nil
}

// moveToWaitingRoom pauses every room and parks users until the node
// restarts or the deadline escalates to auto-move.
func (s *Impl) moveToWaitingRoom(ctx context.Context) error {
	s.mu.Lock()
	if s.waitingRoom {
		// Users are already parked: the rooms stay paused and the deadline
		// arms at most once per waiting-room entry.
		s.mu.Unlock()
		return nil
	}
	s.waitingRoom = true
	if s.waitingTimer != nil {
		s.waitingTimer.Stop()
	}
	s.waitingTimer = s.clock.AfterFunc(s.cfg.WaitingRoomTimeout, func() {
		s.logger.Info().Msg("waiting room deadline reached, starting auto-move")
		_ = s.autoMove(context.Background())
	})
	s.mu.Unlock()

	s.setStage(models.ExitMovingToWaitingRoom, "")

	s.roomsSvc.Broadcast(ctx, models.BroadcastMessage{
		Type:    "waiting_room",
		Message: "The server is restarting soon. You have been moved to a waiting room.",
	})
	s.roomsSvc.PauseAll(ctx, "waiting_room", true, s.cfg.AmbienceEnabled)

	s.setStage(models.ExitWaitingForRestart, "")
	return nil
}

// ResumeFromWaitingRoom clears the waiting state and resumes every room.
func (s *Impl) ResumeFromWaitingRoom(ctx context.Context) error {
	s.mu.Lock()
	if s.waitingTimer != nil {
		s.waitingTimer.Stop()
		s.waitingTimer = nil
	}
	s.waitingRoom = false
	s.exitInProgress = false
	s.mu.Unlock()
	s.cancelAutoMove()

	s.roomsSvc.ResumeAll(ctx)
	s.playCue()
	s.setStage(models.ExitIdle, "")

	s.logger.Info().Msg("resumed from waiting room")
	return nil
}

// autoMove escalates: sibling device first, then federation, then waiting
// room with a repeating re-scan for a newly online sibling.
func (s *Impl) autoMove(ctx context.Context) error {
	if _, err := s.devicesSvc.FirstOnline(ctx); err == nil {
		return s.transferToDevice(ctx)
	}

	// A linked sibling may just be asleep. Fire a wake attempt so the
	// re-scan below can find it.
	s.wakeSleepingSiblings(ctx)

	if s.federationSvc.Available(ctx) {
		return s.transferToFederated(ctx)
	}

	if err := s.moveToWaitingRoom(ctx); err != nil {
		return err
	}
	s.startRescan()
	return nil
}

// startRescan starts the repeating sibling re-scan. Each tick is a no-op
// unless a sibling has come online; the first successful transfer stops the
// ticker for good.
func (s *Impl) startRescan() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.autoMoveTicker != nil {
		return // already scanning
	}

	ticker := s.clock.Ticker(s.cfg.AutoMoveTimeout)
	stop := make(chan struct{})
	s.autoMoveTicker = ticker
	s.autoMoveStop = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx := context.Background()
				if _, err := s.devicesSvc.FirstOnline(ctx); err != nil {
					continue
				}
				s.cancelAutoMove()
				if err := s.transferToDevice(ctx); err != nil {
					s.logger.Warn().Err(err).Msg("re-scan transfer failed")
				}
				return
			}
		}
	}()
}

// cancelAutoMove stops the repeating re-scan if one is running.
func (s *Impl) cancelAutoMove() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.autoMoveTicker != nil {
		s.autoMoveTicker.Stop()
		s.autoMoveTicker = nil
	}
	if s.autoMoveStop != nil {
		close(s.autoMoveStop)
		s.autoMoveStop = nil
	}
}

// wakeSleepingSiblings sends a best-effort WOL packet to every linked
// device with a configured MAC.
func (s *Impl) wakeSleepingSiblings(ctx context.Context) {
	for _, d := range s.devicesSvc.List() {
		if !d.Linked || d.Online || d.MACAddress == "" {
			continue
		}
		dev := d
		go func() {
			result, err := s.devicesSvc.Wake(ctx, dev)
			if err != nil || result.Error != nil {
				s.logger.Debug().Str("device", dev.ID).Msg("wake attempt failed")
			}
		}()
	}
}

// justExit shuts down without relocating anyone.
func (s *Impl) justExit(ctx context.Context) error {
	s.roomsSvc.Broadcast(ctx, models.BroadcastMessage{
		Type:    "server_shutdown",
		Message: "The server is shutting down.",
	})
	s.shutdownNow()
	return nil
}

// systemReboot attempts a quick best-effort transfer, then restarts the host.
func (s *Impl) systemReboot(ctx context.Context) error {
	if dev, err := s.devicesSvc.FirstOnline(ctx); err == nil {
		if active, err := s.roomsSvc.ActiveRooms(ctx); err == nil && len(active) > 0 {
			// Best effort: the reboot proceeds whether or not this lands.
			if _, err := s.roomsSvc.TransferToDevice(ctx, *dev, active, s.node.ID); err != nil {
				s.logger.Warn().Err(err).Msg("pre-reboot transfer failed")
			}
		}
	}

	s.setStage(models.ExitShuttingDown, "")

	result, err := s.rebootSvc.Reboot(ctx, s.rebootCfg)
	if err != nil {
		s.fail(fmt.Sprintf("reboot failed: %v", err))
		return err
	}
	if result.Error != nil {
		s.fail(fmt.Sprintf("reboot failed: %v", result.Error))
		return result.Error
	}

	s.logger.Info().Str("method", result.Method).Msg("host restart issued")
	s.setStage(models.ExitComplete, "")
	return nil
}

// shutdownNow stops the server and terminates after the grace delays.
func (s *Impl) shutdownNow() {
	s.setStage(models.ExitShuttingDown, "")
	s.stopServer()
	s.setStage(models.ExitComplete, "")
	s.clock.AfterFunc(s.cfg.ProcessExitDelay, s.exitProcess)
}

// scheduleShutdown is the two-stage delayed shutdown after a transfer: the
// grace period lets the final notifications propagate before sockets close.
func (s *Impl) scheduleShutdown() {
	s.setStage(models.ExitComplete, "")
	s.clock.AfterFunc(s.cfg.ShutdownGrace, func() {
		s.stopServer()
		s.clock.AfterFunc(s.cfg.ProcessExitDelay, s.exitProcess)
	})
}

func (s *Impl) beginTransfer(active []models.Room, targetDevice, targetServer string) {
	totalUsers := 0
	for _, r := range active {
		totalUsers += r.MemberCount
	}

	s.mu.Lock()
	s.transfer = &models.TransferStatus{
		TotalRooms:   len(active),
		TotalUsers:   totalUsers,
		TargetDevice: targetDevice,
		TargetServer: targetServer,
	}
	s.mu.Unlock()
}

func (s *Impl) completeTransfer() {
	s.mu.Lock()
	if s.transfer != nil {
		s.transfer.TransferredRooms = s.transfer.TotalRooms
		s.transfer.TransferredUsers = s.transfer.TotalUsers
	}
	s.mu.Unlock()
}

func (s *Impl) setStage(stage models.ExitStage, message string) {
	s.mu.Lock()
	s.progress = models.ExitProgress{Stage: stage, Message: message}
	cb := s.onStateChange
	p := s.progress
	s.mu.Unlock()

	if cb != nil {
		cb(p)
	}
}

// fail records the reason and returns the caller to the options menu
// rather than terminating. The error stage passes through the state-change
// callback; pollers see the reason in the options-stage message and in
// LastError.
func (s *Impl) fail(reason string) {
	s.mu.Lock()
	s.lastError = reason
	s.mu.Unlock()

	s.logger.Error().Str("reason", reason).Msg("exit step failed")

	s.setStage(models.ExitError, reason)
	s.setStage(models.ExitShowingOptions, reason)
}
