package session

// Mode is the coordinator's current exclusive activity.
type Mode int32

const (
	ModeIdle Mode = iota
	ModeRecording
	ModePlaying
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "IDLE"
	case ModeRecording:
		return "RECORDING"
	case ModePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}
