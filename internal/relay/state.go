package relay

// State is the lifecycle position of a relay slot or worker.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return "IDLE"
	}
}
