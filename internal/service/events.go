package service

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/audiocomments/internal/session"
)

// EventType identifies a session event
type EventType string

const (
	EventModeChanged      EventType = "mode-changed"
	EventArtifactReady    EventType = "artifact-ready"
	EventPositionChanged  EventType = "position-changed"
	EventAmplitudeChanged EventType = "amplitude-changed"
	EventPlaybackEnded    EventType = "playback-ended"
	EventSessionError     EventType = "session-error"
	EventStatus           EventType = "status"
)

// Event is what subscribers receive, serialized as JSON on the event stream
type Event struct {
	Type EventType   `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// ModeData carries the new session mode
type ModeData struct {
	Mode string `json:"mode"`
}

// ArtifactData carries the path of a committed recording
type ArtifactData struct {
	Path string `json:"path"`
}

// PositionData carries the playback position
type PositionData struct {
	Seconds float64 `json:"seconds"`
}

// AmplitudeData carries the current level in dBFS
type AmplitudeData struct {
	LevelDB float64 `json:"level_db"`
}

// ErrorData describes a session failure
type ErrorData struct {
	Kind    string `json:"kind"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// RecordingOutcome reports whether ev settles the recording to dest and, if
// so, where it was saved or why it failed. An empty dest matches any
// recording. Failures of other kinds, such as a player that could not be
// prepared for the new file, leave the recording pending.
func RecordingOutcome(ev Event, dest string) (path string, settled bool, err error) {
	switch data := ev.Data.(type) {
	case ArtifactData:
		if dest == "" || data.Path == dest {
			return data.Path, true, nil
		}
	case ErrorData:
		if data.Kind == string(session.ErrorKindRecordingFailed) && (dest == "" || data.Path == dest) {
			return "", true, fmt.Errorf("recording failed: %s", data.Message)
		}
	}
	return "", false, nil
}

const subscriberBuffer = 256

// broker fans events out to subscribers. Slow subscribers lose events rather
// than stall the session loop.
type broker struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	dropped     func()
}

func newBroker(dropped func()) *broker {
	return &broker{
		subscribers: make(map[int]chan Event),
		dropped:     dropped,
	}
}

// subscribe registers a subscriber and returns its channel and an
// unsubscribe function that closes the channel.
func (b *broker) subscribe(initial ...Event) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	for _, ev := range initial {
		ch <- ev
	}
	b.subscribers[id] = ch
	slog.Debug("Event subscription added", "subscriber", id, "total", len(b.subscribers))

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(ch)
			}
			slog.Debug("Event subscription removed", "subscriber", id)
		})
	}
}

func (b *broker) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Debug("Dropping event for slow subscriber", "subscriber", id, "type", ev.Type)
			if b.dropped != nil {
				b.dropped()
			}
		}
	}
}

// close unsubscribes everyone.
func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
