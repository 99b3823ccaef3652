package recognition

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateListening
	StateRestarting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRestarting:
		return "restarting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
