package bridge

import "time"

// State is the bridge loop state.
type State string

const (
	StateAwaitingMQTT     State = "awaiting_mqtt"
	StateAwaitingHardware State = "awaiting_hardware"
	StateOperating        State = "operating"
	StateStopped          State = "stopped"
)

// TargetStatus is the status of one connection target.
type TargetStatus string

const (
	TargetDisconnected TargetStatus = "disconnected"
	TargetConnecting   TargetStatus = "connecting"
	TargetConnected    TargetStatus = "connected"
)

// Target kinds.
const (
	TargetMQTT     = "mqtt"
	TargetHardware = "hardware"
)

// Target is one endpoint the bridge keeps a link to.
type Target struct {
	Kind           string
	Address        string
	Status         TargetStatus
	ConnectedSince time.Time
	Reconnects     int
}
