package models

import "errors"

// Failure taxonomy for exit orchestration and remote command delivery.
var (
	// ErrNoDevicesAvailable means no linked sibling device is online.
	ErrNoDevicesAvailable = errors.New("No other online devices available")

	// ErrNoFederatedServersAvailable means the federation list came back empty.
	ErrNoFederatedServersAvailable = errors.New("no federated servers available")

	// ErrTransferFailed means the target rejected the rooms or was unreachable.
	ErrTransferFailed = errors.New("room transfer failed")

	// ErrDiscoveryTimeout means no address was found within the discovery bound.
	ErrDiscoveryTimeout = errors.New("peer discovery timed out")

	// ErrChannelUnavailable means the relay channel could not be established.
	ErrChannelUnavailable = errors.New("relay channel unavailable")

	// ErrPermissionDenied means remote control is disabled on the receiver.
	ErrPermissionDenied = errors.New("remote control is disabled on this device")

	// ErrInvalidParameters means a required command parameter is missing.
	ErrInvalidParameters = errors.New("missing required parameter")

	// ErrInvalidURL means a peer or relay URL could not be parsed.
	ErrInvalidURL = errors.New("invalid URL")
)
