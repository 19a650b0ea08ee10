package service

import (
	"log/slog"
	"time"

	"github.com/audiolibrelab/audiocomments/internal/session"
)

// observer adapts the service to session.Observer. Every method runs on
// the session loop.
type observer AudioCommentsService

func (o *observer) svc() *AudioCommentsService {
	return (*AudioCommentsService)(o)
}

func (o *observer) ArtifactReady(dest string) {
	s := o.svc()
	if err := s.store.SaveLastArtifact(dest); err != nil {
		slog.Warn("Failed to save last recording", "path", dest, "error", err)
	}
	s.metrics.recordingsTotal.Inc()
	s.metrics.lastRecordingUnixTs.SetToCurrentTime()
	s.clearLastError()

	s.syncMode()
	s.events.publish(Event{Type: EventArtifactReady, Data: ArtifactData{Path: dest}})
}

func (o *observer) PositionChanged(pos time.Duration) {
	s := o.svc()
	s.setSnapshot(&pos, nil)
	s.metrics.positionSeconds.Set(pos.Seconds())
	s.events.publish(Event{Type: EventPositionChanged, Data: PositionData{Seconds: pos.Seconds()}})
}

func (o *observer) AmplitudeChanged(db float64) {
	s := o.svc()
	s.setSnapshot(nil, &db)
	s.metrics.levelDB.Set(db)
	s.events.publish(Event{Type: EventAmplitudeChanged, Data: AmplitudeData{LevelDB: db}})
}

func (o *observer) PlaybackEnded() {
	s := o.svc()
	s.metrics.playbackEndedTotal.Inc()
	s.setSnapshot(ptr(time.Duration(0)), nil)
	s.syncMode()
	s.events.publish(Event{Type: EventPlaybackEnded})
}

func (o *observer) Failed(err *session.Error) {
	s := o.svc()
	if s.failures != nil {
		*s.failures = append(*s.failures, err)
	}

	s.setLastError(err.Error())
	s.metrics.failuresTotal.WithLabelValues(string(err.Kind)).Inc()

	s.syncMode()
	s.events.publish(Event{Type: EventSessionError, Data: ErrorData{
		Kind:    string(err.Kind),
		Path:    err.Dest,
		Message: err.Error(),
	}})
}
