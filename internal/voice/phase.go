package voice

// Phase is the turn-taking state of a session.
type Phase int

const (
	Idle Phase = iota
	Recording
	Processing
	AgentSpeaking
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	case AgentSpeaking:
		return "agent_speaking"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in status JSON.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
