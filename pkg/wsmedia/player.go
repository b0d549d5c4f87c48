package wsmedia

// PlaybackState mirrors the state reported by the media pipeline.
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackBuffering
	PlaybackReady
	PlaybackEnded
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackIdle:
		return "Idle"
	case PlaybackBuffering:
		return "Buffering"
	case PlaybackReady:
		return "Ready"
	case PlaybackEnded:
		return "Ended"
	default:
		return "Unknown"
	}
}

// Player is the read-only view of the media pipeline used by telemetry.
type Player interface {
	CurrentPositionMs() int64
	PlaybackState() PlaybackState
}

// idlePlayer is used when no player is attached.
type idlePlayer struct{}

func (idlePlayer) CurrentPositionMs() int64     { return 0 }
func (idlePlayer) PlaybackState() PlaybackState { return PlaybackIdle }
