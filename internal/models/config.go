// Package models contains the data structures used throughout voicelink-control.
package models

import "time"

// NodeConfig holds the complete configuration for a control-plane node.
type NodeConfig struct {
	Node       NodeSettings
	Devices    []Device
	Federation FederationConfig
	Relay      RelayConfig
	Connection ConnectionConfig
	Exit       ExitConfig
	Reboot     *RebootConfig // nil if not configured
}

// NodeSettings identifies the local node and its listener.
type NodeSettings struct {
	ID                   string
	Name                 string
	ListenAddr           string
	RoomAPI              string // base URL of the local room server
	AccessToken          string
	RemoteControlEnabled bool
}

// FederationConfig points at the federation discovery endpoint.
type FederationConfig struct {
	DiscoveryURL string
}

// RelayConfig holds tunneled-relay settings.
type RelayConfig struct {
	URL     string
	Enabled bool
}

// ConnectionConfig selects the transport strategy for outbound commands.
type ConnectionConfig struct {
	Mode ConnectionMode
}

// ExitConfig holds exit orchestration timings.
type ExitConfig struct {
	WaitingRoomTimeout time.Duration // deadline before auto-move kicks in
	AutoMoveTimeout    time.Duration // interval between sibling re-scans
	ShutdownGrace      time.Duration // delay before stopping the local server
	ProcessExitDelay   time.Duration // further delay before process exit
	AmbienceEnabled    bool
}

// RebootConfig holds the optional SSH management fallback for host restarts.
type RebootConfig struct {
	SSHHost    string
	SSHPort    int
	SSHUser    string
	KeyPath    string
	PrivateKey []byte // loaded from KeyPath if nil
}
