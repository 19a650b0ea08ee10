package session

import "time"

// Recorder is an opened capture resource bound to one destination.
type Recorder interface {
	Start() error
	// Stop requests finalization. The outcome is reported later through the
	// done callback passed to OpenRecorder.
	Stop()
	// Level returns the averaged power of the most recent input in dBFS.
	Level() float64
}

// RecorderBackend opens recorders. done is called exactly once, after Stop has
// finalized the artifact (nil) or when capture failed (non-nil). A recorder
// whose Start fails releases its resources and never calls done.
type RecorderBackend interface {
	OpenRecorder(dest string, done func(error)) (Recorder, error)
}

// Player is an opened playback resource bound to one artifact.
type Player interface {
	Play() error
	Pause() error
	Position() time.Duration
	Level() float64
	Close() error
}

// PlayerBackend opens players. ended is called when playback reaches the end
// of the artifact (nil) or breaks off (non-nil). It must be called before a
// later Play can start new output, so an end is never attributed to a run
// that began after it.
type PlayerBackend interface {
	OpenPlayer(src string, ended func(error)) (Player, error)
}

// Dispatcher runs functions on the coordinator's loop.
type Dispatcher interface {
	Post(fn func())
}
