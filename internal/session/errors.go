package session

import "fmt"

// ErrorKind identifies which part of a session failed.
type ErrorKind string

const (
	// ErrorKindRecorderUnavailable means the recording backend could not be opened or started.
	ErrorKindRecorderUnavailable ErrorKind = "recorder_unavailable"
	// ErrorKindRecordingFailed means capture started but did not finish cleanly.
	ErrorKindRecordingFailed ErrorKind = "recording_failed"
	// ErrorKindPlaybackUnavailable means the playback backend could not be opened or started.
	ErrorKindPlaybackUnavailable ErrorKind = "playback_unavailable"
	// ErrorKindPlaybackDecodeError means playback broke off mid-stream.
	ErrorKindPlaybackDecodeError ErrorKind = "playback_decode_error"
)

// Error is delivered to Observer.Failed for every backend failure.
type Error struct {
	Kind ErrorKind
	Dest string
	Err  error
}

func (e *Error) Error() string {
	if e.Dest == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Dest, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
