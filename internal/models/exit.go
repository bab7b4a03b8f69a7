package models

// ExitStage is the state tag of the exit orchestrator.
type ExitStage int

const (
	// ExitIdle means no exit is in progress.
	ExitIdle ExitStage = iota
	// ExitShowingOptions means active rooms exist and a choice is pending.
	ExitShowingOptions
	// ExitTransferringToDevice means rooms are moving to a sibling device.
	ExitTransferringToDevice
	// ExitTransferringToFederated means rooms are moving to a federation node.
	ExitTransferringToFederated
	// ExitMovingToWaitingRoom means users are being parked in the waiting room.
	ExitMovingToWaitingRoom
	// ExitWaitingForRestart means rooms are paused and the node keeps running.
	ExitWaitingForRestart
	// ExitShuttingDown means the local server is stopping.
	ExitShuttingDown
	// ExitComplete is the terminal success state.
	ExitComplete
	// ExitError carries a failure reason; the orchestrator re-enters options.
	ExitError
)

// String returns a human-readable stage name.
func (s ExitStage) String() string {
	switch s {
	case ExitIdle:
		return "idle"
	case ExitShowingOptions:
		return "showing_options"
	case ExitTransferringToDevice:
		return "transferring_to_device"
	case ExitTransferringToFederated:
		return "transferring_to_federated"
	case ExitMovingToWaitingRoom:
		return "moving_to_waiting_room"
	case ExitWaitingForRestart:
		return "waiting_for_restart"
	case ExitShuttingDown:
		return "shutting_down"
	case ExitComplete:
		return "complete"
	case ExitError:
		return "error"
	default:
		return "unknown"
	}
}

// ExitProgress is the observable state of the exit orchestrator.
type ExitProgress struct {
	Stage   ExitStage
	Message string // failure reason, kept through the return to options
}

// ExitOption is a user-selectable exit action.
type ExitOption int

const (
	// OptionTransferToDevice moves rooms to the first online sibling device.
	OptionTransferToDevice ExitOption = iota
	// OptionTransferToFederated moves rooms to a random federation node.
	OptionTransferToFederated
	// OptionWaitingRoom pauses rooms and parks users until restart or auto-move.
	OptionWaitingRoom
	// OptionAutoMove escalates device -> federation -> waiting room.
	OptionAutoMove
	// OptionJustExit shuts down without relocating anyone.
	OptionJustExit
	// OptionSystemReboot restarts the host machine.
	OptionSystemReboot
)

// IsDangerous reports whether the option should be gated behind confirmation.
func (o ExitOption) IsDangerous() bool {
	return o == OptionJustExit || o == OptionSystemReboot
}

// String returns the option name used in logs and the CLI.
func (o ExitOption) String() string {
	switch o {
	case OptionTransferToDevice:
		return "transfer_to_device"
	case OptionTransferToFederated:
		return "transfer_to_federated"
	case OptionWaitingRoom:
		return "waiting_room"
	case OptionAutoMove:
		return "auto_move"
	case OptionJustExit:
		return "just_exit"
	case OptionSystemReboot:
		return "system_reboot"
	default:
		return "unknown"
	}
}

// TransferStatus tracks an in-flight room transfer. Counts only increase.
type TransferStatus struct {
	TotalRooms       int
	TransferredRooms int
	TotalUsers       int
	TransferredUsers int
	TargetDevice     string // set for device transfers
	TargetServer     string // set for federated transfers
}

// Progress returns the completed fraction, 0 when no rooms are involved.
func (t TransferStatus) Progress() float64 {
	if t.TotalRooms == 0 {
		return 0
	}
	return float64(t.TransferredRooms) / float64(t.TotalRooms)
}

// FederatedServer is a remote candidate for federated transfer.
type FederatedServer struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	IsOnline    bool    `json:"isOnline"`
	Load        float64 `json:"load"`
	RoomCount   int     `json:"roomCount"`
	AccessToken string  `json:"accessToken,omitempty"`
}
