package models

import "time"

// ConnectionMode selects how remote commands reach a peer.
type ConnectionMode int

const (
	// ModeAuto discovers a local address first and falls back to the relay.
	ModeAuto ConnectionMode = iota
	// ModeTunnelOnly uses the tunneled relay exclusively.
	ModeTunnelOnly
	// ModeDirectOnly uses local-direct or the registered URL exclusively.
	ModeDirectOnly
	// ModeHybrid tries the relay first and falls back to direct on failure.
	ModeHybrid
)

// String returns the mode name used in config files and logs.
func (m ConnectionMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeTunnelOnly:
		return "tunnel"
	case ModeDirectOnly:
		return "direct"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// RemoteCommand is one of the closed set of administrative commands.
type RemoteCommand string

const (
	CommandStopServer      RemoteCommand = "stop_server"
	CommandRestartServer   RemoteCommand = "restart_server"
	CommandTransferRooms   RemoteCommand = "transfer_rooms"
	CommandRebootDevice    RemoteCommand = "reboot_device"
	CommandPauseRooms      RemoteCommand = "pause_rooms"
	CommandResumeRooms     RemoteCommand = "resume_rooms"
	CommandGetStatus       RemoteCommand = "get_status"
	CommandGetActiveRooms  RemoteCommand = "get_active_rooms"
	CommandForceDisconnect RemoteCommand = "force_disconnect"
	CommandUpdateSettings  RemoteCommand = "update_settings"
)

// Valid reports whether the command is part of the closed set.
func (c RemoteCommand) Valid() bool {
	switch c {
	case CommandStopServer, CommandRestartServer, CommandTransferRooms,
		CommandRebootDevice, CommandPauseRooms, CommandResumeRooms,
		CommandGetStatus, CommandGetActiveRooms, CommandForceDisconnect,
		CommandUpdateSettings:
		return true
	}
	return false
}

// RequiresConfirmation reports whether the command should be confirmed
// before sending.
func (c RemoteCommand) RequiresConfirmation() bool {
	switch c {
	case CommandStopServer, CommandRestartServer, CommandRebootDevice,
		CommandTransferRooms, CommandForceDisconnect:
		return true
	}
	return false
}

// CommandStatus is the lifecycle state of an audit log entry.
type CommandStatus int

const (
	StatusPending CommandStatus = iota
	StatusExecuting
	StatusCompleted
	StatusFailed
)

// String returns the status name.
func (s CommandStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RemoteCommandLog is an append-only audit entry. Entries are never deleted
// within a session; only Status and Result change, in order
// Pending -> Executing -> Completed or Failed.
type RemoteCommandLog struct {
	ID               string
	Command          RemoteCommand
	SourceDeviceID   string
	SourceDeviceName string
	Timestamp        time.Time
	Status           CommandStatus
	Result           string
}

// CommandResult is the outcome of executing or sending a remote command.
type CommandResult struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
}

// CommandRequest is the wire shape of a remote command, shared by the HTTP
// endpoint and the relay frames.
type CommandRequest struct {
	Command          RemoteCommand     `json:"command"`
	SourceDeviceID   string            `json:"sourceDeviceId"`
	SourceDeviceName string            `json:"sourceDeviceName"`
	Timestamp        time.Time         `json:"timestamp"`
	ConnectionMethod string            `json:"connectionMethod,omitempty"`
	CommandID        string            `json:"commandId,omitempty"` // relay correlation
	Params           map[string]string `json:"params,omitempty"`
}

// RelayFrame is a tunneled-relay control frame. Requests carry
// Type "remote_command"; responses echo CommandID with Success and Result.
type RelayFrame struct {
	Type             string            `json:"type,omitempty"`
	Command          RemoteCommand     `json:"command,omitempty"`
	SourceDeviceID   string            `json:"sourceDeviceId,omitempty"`
	SourceDeviceName string            `json:"sourceDeviceName,omitempty"`
	Timestamp        time.Time         `json:"timestamp,omitempty"`
	CommandID        string            `json:"commandId,omitempty"`
	Params           map[string]string `json:"params,omitempty"`
	Success          *bool             `json:"success,omitempty"`
	Result           string            `json:"result,omitempty"`
}
