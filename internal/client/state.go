package client

// State — состояние соединения клиента.
//
//	Connected -> Disconnected -> Reconnecting -> Connected | GivingUp
type State int

const (
	Disconnected State = iota
	Reconnecting
	Connected
	GivingUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	case Connected:
		return "connected"
	case GivingUp:
		return "giving_up"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions will happen.
func (s State) Terminal() bool { return s == GivingUp }
