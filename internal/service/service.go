package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/audiocomments/internal/audio"
	"github.com/audiolibrelab/audiocomments/internal/config"
	"github.com/audiolibrelab/audiocomments/internal/dispatch"
	"github.com/audiolibrelab/audiocomments/internal/session"
	"github.com/audiolibrelab/audiocomments/internal/storage"
)

// ErrNoRecording is returned by Play when nothing has been recorded yet.
var ErrNoRecording = errors.New("no recording available")

// Service represents the core audio comments service interface
type Service interface {
	// Session operations. They are executed on the session loop, which
	// must be running (see Run).
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error

	// Information operations
	Status() Status
	LastArtifact() string
	ListRecordings() ([]RecordingInfo, error)
	GetConfig() *config.Config
	GetLastError() string

	// Subscribe streams session events until the returned function is called.
	Subscribe() (<-chan Event, func())
	Metrics() *Metrics

	// Run executes the session loop until ctx is cancelled.
	Run(ctx context.Context) error
	// Close stops any activity. A recording in flight still finalizes.
	Close(ctx context.Context) error
}

// Status is a snapshot of the session
type Status struct {
	Mode         string  `json:"mode"`
	LastArtifact string  `json:"last_artifact,omitempty"`
	Position     float64 `json:"position_seconds"`
	LevelDB      float64 `json:"level_db"`
	LastError    string  `json:"last_error,omitempty"`
	Profile      string  `json:"profile"`
}

// RecordingInfo describes a recording on disk
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	IsLatest     bool      `json:"is_latest"`

	// CapturedAt is the start of capture, read from the file name. It is
	// nil for files this program did not name.
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// Options overrides the collaborators New builds from configuration.
type Options struct {
	Recorders session.RecorderBackend
	Players   session.PlayerBackend
	Scheduler session.Scheduler

	// Probe checks that capture can start before each recording.
	Probe func(*config.Config) error
}

// AudioCommentsService is the main service implementation
type AudioCommentsService struct {
	cfg         *config.Config
	queue       *dispatch.Queue
	coordinator *session.Coordinator
	store       *storage.StateStore
	probe       func(*config.Config) error
	metrics     *Metrics
	events      *broker

	// Loop-only state
	mode     session.Mode
	failures *[]*session.Error

	snapshotMutex sync.RWMutex
	position      time.Duration
	levelDB       float64

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service using the audio backends selected by cfg
func New(cfg *config.Config) (Service, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a service, filling unset options from cfg
func NewWithOptions(cfg *config.Config, opts Options) (Service, error) {
	if opts.Recorders == nil {
		recorders, err := audio.NewRecorderBackend(cfg)
		if err != nil {
			return nil, err
		}
		opts.Recorders = recorders
	}
	if opts.Players == nil {
		opts.Players = audio.NewPlayerBackend(cfg)
	}
	if opts.Probe == nil {
		opts.Probe = audio.ProbeCapture
	}

	s := &AudioCommentsService{
		cfg:     cfg,
		queue:   dispatch.NewQueue(),
		store:   storage.NewStateStore(cfg.Output.Directory),
		probe:   opts.Probe,
		metrics: NewMetrics(),
		levelDB: audio.SilenceDB,
	}
	s.events = newBroker(s.metrics.droppedEventsTotal.Inc)

	last, err := s.store.RestoreLastArtifact()
	if err != nil {
		slog.Warn("Failed to restore last recording", "path", s.store.Path(), "error", err)
	} else if last != "" {
		slog.Debug("Restored last recording", "path", last)
	}

	namer := storage.NewNamer(cfg.Output.Directory, cfg.Output.Format)
	s.coordinator, err = session.NewCoordinator(session.Config{
		Recorders:    opts.Recorders,
		Players:      opts.Players,
		Dispatcher:   s.queue,
		Scheduler:    opts.Scheduler,
		Observer:     (*observer)(s),
		Namer:        namer.Next,
		TickRate:     cfg.Session.TickRate,
		LastArtifact: last,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.mode = session.ModeIdle
	s.metrics.setMode(s.mode.String(), allModes()...)
	return s, nil
}

// Run executes the session loop until ctx is cancelled
func (s *AudioCommentsService) Run(ctx context.Context) error {
	slog.Debug("Session loop started")
	err := s.queue.Run(ctx)
	s.events.close()
	slog.Debug("Session loop stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// StartRecording checks capture is possible, then starts a new recording
func (s *AudioCommentsService) StartRecording(ctx context.Context) error {
	slog.Debug("Service.StartRecording called")
	s.metrics.operationsTotal.WithLabelValues("start_recording").Inc()

	if err := s.probe(s.cfg); err != nil {
		failure := &session.Error{Kind: session.ErrorKindRecorderUnavailable, Err: err}
		if derr := s.dispatch(ctx, func() { (*observer)(s).Failed(failure) }); derr != nil {
			return derr
		}
		return failure
	}

	s.clearLastError() // Clear any previous errors when starting a new operation
	return s.dispatch(ctx, s.coordinator.StartRecording)
}

// StopRecording stops the current recording. The artifact is committed
// asynchronously once the recording is finalized.
func (s *AudioCommentsService) StopRecording(ctx context.Context) error {
	s.metrics.operationsTotal.WithLabelValues("stop_recording").Inc()
	return s.dispatch(ctx, s.coordinator.StopRecording)
}

// Play starts or resumes playback of the last recording
func (s *AudioCommentsService) Play(ctx context.Context) error {
	s.metrics.operationsTotal.WithLabelValues("play").Inc()
	if s.coordinator.LastArtifact() == "" {
		return ErrNoRecording
	}
	return s.dispatch(ctx, s.coordinator.Play)
}

// Pause pauses playback
func (s *AudioCommentsService) Pause(ctx context.Context) error {
	s.metrics.operationsTotal.WithLabelValues("pause").Inc()
	return s.dispatch(ctx, s.coordinator.Pause)
}

// Close stops recording and releases playback. When a recording was in
// progress it waits until the recording is committed or fails.
func (s *AudioCommentsService) Close(ctx context.Context) error {
	events, unsubscribe := s.events.subscribe()
	defer unsubscribe()

	var dest string
	err := s.dispatch(ctx, func() {
		dest = s.coordinator.RecordingDest()
		s.coordinator.Close()
	})
	if err != nil {
		return err
	}
	if dest == "" {
		return nil
	}

	slog.Debug("Waiting for recording to finalize", "dest", dest)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, settled, err := RecordingOutcome(ev, dest); settled {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatch runs fn on the session loop and returns the first failure the
// session reported while running it.
func (s *AudioCommentsService) dispatch(ctx context.Context, fn func()) error {
	var failures []*session.Error
	err := s.queue.Do(ctx, func() {
		s.failures = &failures
		defer func() { s.failures = nil }()
		fn()
		s.syncMode()
	})
	if err != nil {
		return fmt.Errorf("session loop unavailable: %w", err)
	}
	if len(failures) > 0 {
		return failures[0]
	}
	return nil
}

// syncMode publishes a mode change. Runs on the loop.
func (s *AudioCommentsService) syncMode() {
	mode := s.coordinator.Mode()
	if mode == s.mode {
		return
	}
	slog.Debug("Session mode changed", "from", s.mode, "to", mode)
	s.mode = mode
	s.metrics.setMode(mode.String(), allModes()...)
	if mode != session.ModePlaying {
		s.setSnapshot(nil, ptr(audio.SilenceDB))
	}
	s.events.publish(Event{Type: EventModeChanged, Data: ModeData{Mode: mode.String()}})
}

// Status returns the current session snapshot
func (s *AudioCommentsService) Status() Status {
	s.snapshotMutex.RLock()
	position, level := s.position, s.levelDB
	s.snapshotMutex.RUnlock()

	return Status{
		Mode:         s.coordinator.Mode().String(),
		LastArtifact: s.coordinator.LastArtifact(),
		Position:     position.Seconds(),
		LevelDB:      level,
		LastError:    s.GetLastError(),
		Profile:      s.cfg.Profile,
	}
}

// LastArtifact returns the most recent committed recording
func (s *AudioCommentsService) LastArtifact() string {
	return s.coordinator.LastArtifact()
}

// Subscribe streams session events, starting with the current status
func (s *AudioCommentsService) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe(Event{Type: EventStatus, Time: time.Now(), Data: s.Status()})
}

// Metrics returns the service metrics
func (s *AudioCommentsService) Metrics() *Metrics {
	return s.metrics
}

// GetConfig returns the current configuration
func (s *AudioCommentsService) GetConfig() *config.Config {
	return s.cfg
}

// ListRecordings returns the recordings in the output directory, newest first
func (s *AudioCommentsService) ListRecordings() ([]RecordingInfo, error) {
	dir := s.cfg.Output.Directory
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	latest := s.LastArtifact()
	ext := "." + strings.ToLower(strings.TrimPrefix(s.cfg.Output.Format, "."))

	var recordings []RecordingInfo
	for _, file := range files {
		if file.IsDir() || strings.ToLower(filepath.Ext(file.Name())) != ext {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		path := filepath.Join(dir, file.Name())
		rec := RecordingInfo{
			Name:         file.Name(),
			Path:         path,
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			IsLatest:     path == latest,
		}
		if captured, ok := storage.ParseStamp(path); ok {
			rec.CapturedAt = &captured
		}
		recordings = append(recordings, rec)
	}

	// Names are timestamps, so reverse lexical order is newest first
	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].Name > recordings[j].Name
	})

	return recordings, nil
}

// GetLastError returns the last error message (thread-safe)
func (s *AudioCommentsService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *AudioCommentsService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
}

// clearLastError clears the last error message (thread-safe)
func (s *AudioCommentsService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

func (s *AudioCommentsService) setSnapshot(position *time.Duration, level *float64) {
	s.snapshotMutex.Lock()
	defer s.snapshotMutex.Unlock()
	if position != nil {
		s.position = *position
	}
	if level != nil {
		s.levelDB = *level
	}
}

func allModes() []string {
	return []string{session.ModeIdle.String(), session.ModeRecording.String(), session.ModePlaying.String()}
}

func ptr[T any](v T) *T {
	return &v
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
