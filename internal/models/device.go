package models

import "time"

// Device is a linked sibling device that can accept transferred rooms.
type Device struct {
	ID          string
	Name        string
	URL         string
	MACAddress  string // optional, enables Wake-on-LAN
	AccessToken string
	Linked      bool
	Online      bool
}

// WakeResult holds the outcome of waking a sibling device.
type WakeResult struct {
	PacketSent   bool
	DeviceReady  bool
	WaitDuration time.Duration
	Error        error
}

// RebootResult holds the outcome of a host restart attempt.
type RebootResult struct {
	Method     string // "shutdown", "sudo" or "ssh"
	CommandRun bool
	Output     string
	Error      error
}

// DiscoveryResult holds the outcome of a peer discovery run.
type DiscoveryResult struct {
	Found   bool
	Address string // host:port, IPv4 only
	Source  string // "mdns", "probe" or "registered"
}

// NodeStatus is the serialized answer to a get_status command.
type NodeStatus struct {
	DeviceID    string `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	ActiveRooms int    `json:"activeRooms"`
	TotalUsers  int    `json:"totalUsers"`
	Waiting     bool   `json:"waitingRoomActive"`
}
