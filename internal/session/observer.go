package session

import "time"

// Observer receives coordinator notifications. All methods are called on the
// dispatch loop, so an observer may call back into the coordinator directly.
type Observer interface {
	// ArtifactReady fires once per successfully finalized recording.
	ArtifactReady(dest string)
	// PositionChanged fires on every sampling tick while playing.
	PositionChanged(pos time.Duration)
	// AmplitudeChanged fires on every sampling tick while playing or recording.
	// Values are dBFS: negative, 0 is loudest.
	AmplitudeChanged(db float64)
	// PlaybackEnded fires when playback reaches the end of the artifact.
	PlaybackEnded()
	// Failed reports a backend failure.
	Failed(err *Error)
}

type nopObserver struct{}

func (nopObserver) ArtifactReady(string)          {}
func (nopObserver) PositionChanged(time.Duration) {}
func (nopObserver) AmplitudeChanged(float64)      {}
func (nopObserver) PlaybackEnded()                {}
func (nopObserver) Failed(*Error)                 {}
