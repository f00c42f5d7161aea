package services

type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhasePlayingBack
	PhaseCheckpointing
	PhaseListening
	PhaseMutating
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhasePlayingBack:
		return "playing_back"
	case PhaseCheckpointing:
		return "checkpointing"
	case PhaseListening:
		return "listening"
	case PhaseMutating:
		return "mutating"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
