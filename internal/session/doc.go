// Package session coordinates exclusive use of the audio device between
// recording and playback.
//
// The Coordinator is a small state machine (idle, recording, playing) that
// runs on a single dispatch loop. While recording or playing it samples the
// active backend at a fixed rate and reports amplitude (and, during playback,
// position) to an Observer. Recordings are committed only after the backend
// confirms finalization; every backend failure is reported through
// Observer.Failed as an *Error carrying an ErrorKind.
package session
