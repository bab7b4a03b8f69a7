package models

// Room is the serialized form of a hosted room, as carried in transfer
// payloads. The control plane needs no more of the room model than this.
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"ownerId"`
	Visibility  string `json:"visibility"`
	Capacity    int    `json:"capacity"`
	MemberCount int    `json:"memberCount"`
	HasPassword bool   `json:"hasPassword"`
}

// TransferRequest is the body of a device transfer-accept call.
type TransferRequest struct {
	Rooms          []Room `json:"rooms"`
	SourceDeviceID string `json:"sourceDeviceId"`
	TransferType   string `json:"transferType"`
}

// FederatedTransferRequest is the body of a federated-transfer call.
type FederatedTransferRequest struct {
	Rooms           []Room `json:"rooms"`
	SourceServer    string `json:"sourceServer"`
	PreserveRoomIDs bool   `json:"preserveRoomIds"`
}

// TransferResponse is the remote node's answer to either transfer call.
type TransferResponse struct {
	Success bool `json:"success"`
}

// PauseRequest is the body of a room pause call.
type PauseRequest struct {
	Reason          string `json:"reason"`
	WaitingRoom     bool   `json:"waitingRoom"`
	AmbienceEnabled bool   `json:"ambienceEnabled"`
}

// BroadcastMessage is a fire-and-forget user notification.
type BroadcastMessage struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	SameRoom *bool  `json:"sameRoom,omitempty"` // federated transfer identity hint
	Target   string `json:"target,omitempty"`
}
