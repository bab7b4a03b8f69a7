// Package router selects a transport per connection mode and delivers
// remote commands, keeping a per-session audit log.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/Raywonder/voicelink-control/internal/services/discovery"
	"github.com/Raywonder/voicelink-control/internal/services/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service defines the interface for the remote command router.
type Service interface {
	SendCommand(ctx context.Context, peer models.Device, cmd models.RemoteCommand, params map[string]string) (*models.CommandResult, error)
	SetMode(mode models.ConnectionMode)
	Mode() models.ConnectionMode
	AuditLog() []models.RemoteCommandLog
	Close()
}

// RelayChannel is a closeable command channel.
type RelayChannel interface {
	transport.Channel
	Close()
}

// DirectFactory builds a direct channel to an address.
type DirectFactory func(baseURL, token string) transport.Channel

// RelayFactory builds a relay channel for a peer.
type RelayFactory func(peerID string) RelayChannel

// Impl implements the router Service interface.
type Impl struct {
	logger       zerolog.Logger
	local        models.NodeSettings
	discoverySvc discovery.Service
	newDirect    DirectFactory
	newRelay     RelayFactory

	mu     sync.Mutex
	mode   models.ConnectionMode
	relays map[string]RelayChannel

	logMu sync.Mutex
	audit []models.RemoteCommandLog
}

// New creates a new router for the local node.
func New(logger zerolog.Logger, cfg models.NodeConfig, discoverySvc discovery.Service) *Impl {
	relayURL := cfg.Relay.URL
	return &Impl{
		logger:       logger,
		local:        cfg.Node,
		discoverySvc: discoverySvc,
		mode:         cfg.Connection.Mode,
		relays:       make(map[string]RelayChannel),
		newDirect: func(baseURL, token string) transport.Channel {
			return transport.NewDirect(logger, baseURL, token)
		},
		newRelay: func(peerID string) RelayChannel {
			return transport.NewRelay(logger, relayURL, peerID)
		},
	}
}

// NewWithFactories creates a router with custom channel factories (for testing).
func NewWithFactories(logger zerolog.Logger, local models.NodeSettings, mode models.ConnectionMode, discoverySvc discovery.Service, newDirect DirectFactory, newRelay RelayFactory) *Impl {
	return &Impl{
		logger:       logger,
		local:        local,
		discoverySvc: discoverySvc,
		mode:         mode,
		relays:       make(map[string]RelayChannel),
		newDirect:    newDirect,
		newRelay:     newRelay,
	}
}

// Mode returns the current connection mode.
func (s *Impl) Mode() models.ConnectionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the connection mode. Leaving tunnel-only tears down any
// open relay channel.
func (s *Impl) SetMode(mode models.ConnectionMode) {
	s.mu.Lock()
	old := s.mode
	s.mode = mode
	var toClose []RelayChannel
	if old == models.ModeTunnelOnly && mode != models.ModeTunnelOnly {
		for id, r := range s.relays {
			toClose = append(toClose, r)
			delete(s.relays, id)
		}
	}
	s.mu.Unlock()

	for _, r := range toClose {
		r.Close()
	}

	s.logger.Info().
		Str("from", old.String()).
		Str("to", mode.String()).
		Msg("connection mode changed")
}

// SendCommand delivers the command to the peer over whichever transport the
// current mode prescribes. Every accepted command is appended to the audit
// log before dispatch and marked completed or failed on result.
func (s *Impl) SendCommand(ctx context.Context, peer models.Device, cmd models.RemoteCommand, params map[string]string) (*models.CommandResult, error) {
	if !cmd.Valid() {
		return nil, fmt.Errorf("unknown command %q", cmd)
	}

	entryID := s.appendAudit(cmd, peer)

	req := models.CommandRequest{
		Command:          cmd,
		SourceDeviceID:   s.local.ID,
		SourceDeviceName: s.local.Name,
		Timestamp:        time.Now().UTC(),
		Params:           params,
	}

	s.updateAudit(entryID, models.StatusExecuting, "")

	result, err := s.dispatch(ctx, peer, req)
	if err != nil {
		s.updateAudit(entryID, models.StatusFailed, err.Error())
		return nil, err
	}
	if !result.Success {
		s.updateAudit(entryID, models.StatusFailed, result.Result)
	} else {
		s.updateAudit(entryID, models.StatusCompleted, result.Result)
	}
	return result, nil
}

func (s *Impl) dispatch(ctx context.Context, peer models.Device, req models.CommandRequest) (*models.CommandResult, error) {
	switch s.Mode() {
	case models.ModeDirectOnly:
		req.ConnectionMethod = "direct"
		return s.sendDirect(ctx, peer.URL, peer.AccessToken, req)

	case models.ModeTunnelOnly:
		req.ConnectionMethod = "tunnel"
		return s.sendRelay(ctx, peer, req)

	case models.ModeHybrid:
		req.ConnectionMethod = "tunnel"
		result, err := s.sendRelay(ctx, peer, req)
		if err == nil {
			return result, nil
		}
		s.logger.Warn().Err(err).Str("peer", peer.ID).Msg("relay send failed, falling back to direct")
		req.ConnectionMethod = "direct"
		return s.sendDirect(ctx, peer.URL, peer.AccessToken, req)

	default: // ModeAuto
		disc, err := s.discoverySvc.Discover(ctx, peer.ID, peer.URL)
		if err == nil && disc.Found {
			req.ConnectionMethod = "local"
			return s.sendDirect(ctx, "http://"+disc.Address, peer.AccessToken, req)
		}
		req.ConnectionMethod = "tunnel"
		return s.sendRelay(ctx, peer, req)
	}
}

func (s *Impl) sendDirect(ctx context.Context, baseURL, token string, req models.CommandRequest) (*models.CommandResult, error) {
	if baseURL == "" {
		return nil, models.ErrInvalidURL
	}
	return s.newDirect(baseURL, token).Send(ctx, req)
}

// sendRelay reuses the peer's relay channel if one is already open.
func (s *Impl) sendRelay(ctx context.Context, peer models.Device, req models.CommandRequest) (*models.CommandResult, error) {
	s.mu.Lock()
	relay, ok := s.relays[peer.ID]
	if !ok {
		relay = s.newRelay(peer.ID)
		s.relays[peer.ID] = relay
	}
	s.mu.Unlock()

	return relay.Send(ctx, req)
}

// AuditLog returns a copy of the command audit log in append order.
func (s *Impl) AuditLog() []models.RemoteCommandLog {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	out := make([]models.RemoteCommandLog, len(s.audit))
	copy(out, s.audit)
	return out
}

// Close tears down every open relay channel.
func (s *Impl) Close() {
	s.mu.Lock()
	var toClose []RelayChannel
	for id, r := range s.relays {
		toClose = append(toClose, r)
		delete(s.relays, id)
	}
	s.mu.Unlock()

	for _, r := range toClose {
		r.Close()
	}
}

func (s *Impl) appendAudit(cmd models.RemoteCommand, peer models.Device) string {
	entry := models.RemoteCommandLog{
		ID:               uuid.NewString(),
		Command:          cmd,
		SourceDeviceID:   s.local.ID,
		SourceDeviceName: s.local.Name,
		Timestamp:        time.Now().UTC(),
		Status:           models.StatusPending,
	}

	s.logMu.Lock()
	s.audit = append(s.audit, entry)
	s.logMu.Unlock()

	s.logger.Info().
		Str("command", string(cmd)).
		Str("peer", peer.ID).
		Msg("command accepted")

	return entry.ID
}

func (s *Impl) updateAudit(id string, status models.CommandStatus, result string) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

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
