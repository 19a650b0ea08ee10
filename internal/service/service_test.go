package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/audiocomments/internal/config"
	"github.com/audiolibrelab/audiocomments/internal/session"
	"github.com/audiolibrelab/audiocomments/internal/storage"
)

const waitTimeout = 2 * time.Second

type stubRecorder struct {
	done      func(error)
	level     float64
	finishErr error
}

func (r *stubRecorder) Start() error { return nil }

// Stop finalizes asynchronously, like a real capture process.
func (r *stubRecorder) Stop() {
	go r.done(r.finishErr)
}

func (r *stubRecorder) Level() float64 { return r.level }

type stubRecorders struct {
	mu        sync.Mutex
	opened    []string
	openErr   error
	finishErr error
}

func (b *stubRecorders) OpenRecorder(dest string, done func(error)) (session.Recorder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened = append(b.opened, dest)
	return &stubRecorder{done: done, level: -20, finishErr: b.finishErr}, nil
}

type stubPlayer struct {
	mu      sync.Mutex
	ended   func(error)
	playing bool
}

func (p *stubPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	return nil
}

func (p *stubPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *stubPlayer) Position() time.Duration { return 1500 * time.Millisecond }
func (p *stubPlayer) Level() float64          { return -12 }
func (p *stubPlayer) Close() error            { return nil }

type stubPlayers struct {
	mu      sync.Mutex
	players []*stubPlayer
}

func (b *stubPlayers) OpenPlayer(src string, ended func(error)) (session.Player, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &stubPlayer{ended: ended}
	b.players = append(b.players, p)
	return p, nil
}

func (b *stubPlayers) last() *stubPlayer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.players[len(b.players)-1]
}

type failingPlayers struct{}

func (failingPlayers) OpenPlayer(string, func(error)) (session.Player, error) {
	return nil, errors.New("decoder busy")
}

// idleScheduler never fires, so tests see only the events they cause.
type idleScheduler struct{}

func (idleScheduler) Every(time.Duration, func()) func() { return func() {} }

func newTestService(t *testing.T, dir string, opts Options) *AudioCommentsService {
	t.Helper()

	cfg := config.Default()
	cfg.Output.Directory = dir

	if opts.Recorders == nil {
		opts.Recorders = &stubRecorders{}
	}
	if opts.Players == nil {
		opts.Players = &stubPlayers{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = idleScheduler{}
	}
	if opts.Probe == nil {
		opts.Probe = func(*config.Config) error { return nil }
	}

	svc, err := NewWithOptions(cfg, opts)
	require.NoError(t, err)
	s := svc.(*AudioCommentsService)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		assert.NoError(t, s.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return s
}

// waitFor reads events until one of type want arrives.
func waitFor(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event stream closed while waiting for %s", want)
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestRecordThenPlay(t *testing.T) {
	dir := t.TempDir()
	players := &stubPlayers{}
	s := newTestService(t, dir, Options{Players: players})
	ctx := context.Background()

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	initial := <-events
	assert.Equal(t, EventStatus, initial.Type)
	assert.Equal(t, "IDLE", initial.Data.(Status).Mode)

	require.NoError(t, s.StartRecording(ctx))
	assert.Equal(t, "RECORDING", s.Status().Mode)
	ev := waitFor(t, events, EventModeChanged)
	assert.Equal(t, ModeData{Mode: "RECORDING"}, ev.Data)

	require.NoError(t, s.StopRecording(ctx))
	ready := waitFor(t, events, EventArtifactReady)
	dest := ready.Data.(ArtifactData).Path
	assert.Equal(t, dir, filepath.Dir(dest))
	assert.Equal(t, dest, s.LastArtifact())

	saved, err := storage.NewStateStore(dir).RestoreLastArtifact()
	require.NoError(t, err)
	assert.Equal(t, dest, saved)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.recordingsTotal))

	require.NoError(t, s.Play(ctx))
	assert.Equal(t, "PLAYING", s.Status().Mode)

	players.last().ended(nil)
	waitFor(t, events, EventPlaybackEnded)
	assert.Equal(t, "IDLE", s.Status().Mode)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.playbackEndedTotal))
}

func TestPlayWithoutRecording(t *testing.T) {
	s := newTestService(t, t.TempDir(), Options{})

	err := s.Play(context.Background())
	assert.ErrorIs(t, err, ErrNoRecording)
	assert.Equal(t, "IDLE", s.Status().Mode)
}

func TestPauseKeepsSessionIdle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, storage.NewStateStore(dir).SaveLastArtifact(filepath.Join(dir, "a.wav")))
	s := newTestService(t, dir, Options{})
	ctx := context.Background()

	require.NoError(t, s.Play(ctx))
	require.NoError(t, s.Pause(ctx))
	assert.Equal(t, "IDLE", s.Status().Mode)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.mode.WithLabelValues("IDLE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.metrics.mode.WithLabelValues("PLAYING")))
}

func TestProbeFailureReportsRecorderUnavailable(t *testing.T) {
	s := newTestService(t, t.TempDir(), Options{
		Probe: func(*config.Config) error { return errors.New("ffmpeg not found") },
	})

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	err := s.StartRecording(context.Background())
	require.Error(t, err)

	var sessionErr *session.Error
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, session.ErrorKindRecorderUnavailable, sessionErr.Kind)
	assert.Contains(t, s.GetLastError(), "ffmpeg not found")
	assert.Equal(t, "IDLE", s.Status().Mode)

	ev := waitFor(t, events, EventSessionError)
	assert.Equal(t, string(session.ErrorKindRecorderUnavailable), ev.Data.(ErrorData).Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.failuresTotal.WithLabelValues("recorder_unavailable")))
}

func TestOpenRecorderFailureIsReturned(t *testing.T) {
	s := newTestService(t, t.TempDir(), Options{
		Recorders: &stubRecorders{openErr: errors.New("device busy")},
	})

	err := s.StartRecording(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
	assert.Equal(t, "", s.LastArtifact())
}

func TestRestoresLastArtifact(t *testing.T) {
	dir := t.TempDir()
	last := filepath.Join(dir, "20260101T000000.000000000Z.wav")
	require.NoError(t, storage.NewStateStore(dir).SaveLastArtifact(last))

	s := newTestService(t, dir, Options{})
	assert.Equal(t, last, s.LastArtifact())
	assert.Equal(t, last, s.Status().LastArtifact)
}

func TestCloseWaitsForRecording(t *testing.T) {
	dir := t.TempDir()
	s := newTestService(t, dir, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	require.NoError(t, s.StartRecording(ctx))
	require.NoError(t, s.Close(ctx))

	assert.NotEmpty(t, s.LastArtifact())
	assert.Equal(t, "IDLE", s.Status().Mode)
}

func TestCloseKeepsRecordingWhenPlayerCannotOpen(t *testing.T) {
	dir := t.TempDir()
	s := newTestService(t, dir, Options{Players: failingPlayers{}})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	require.NoError(t, s.StartRecording(ctx))
	require.NoError(t, s.Close(ctx), "the recording was saved")

	last := s.LastArtifact()
	require.NotEmpty(t, last)
	state, err := storage.NewStateStore(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, last, state.LastArtifact)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.failuresTotal.WithLabelValues("playback_unavailable")))
}

func TestCloseReportsFailedRecording(t *testing.T) {
	dir := t.TempDir()
	recorders := &stubRecorders{finishErr: errors.New("ffmpeg exited with status 1")}
	s := newTestService(t, dir, Options{Recorders: recorders})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	require.NoError(t, s.StartRecording(ctx))
	err := s.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg exited with status 1")
	assert.Empty(t, s.LastArtifact())
}

func TestListRecordings(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "20260101T000000.000000000Z.wav")
	newer := filepath.Join(dir, "20260102T000000.000000000Z.wav")
	for _, path := range []string{older, newer, filepath.Join(dir, "notes.txt")} {
		require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.wav"), 0755))
	require.NoError(t, storage.NewStateStore(dir).SaveLastArtifact(older))

	s := newTestService(t, dir, Options{})
	recordings, err := s.ListRecordings()
	require.NoError(t, err)
	require.Len(t, recordings, 2)

	assert.Equal(t, newer, recordings[0].Path)
	assert.False(t, recordings[0].IsLatest)
	assert.Equal(t, older, recordings[1].Path)
	assert.True(t, recordings[1].IsLatest)
	assert.Equal(t, "2.0 KB", recordings[1].SizeHuman)
	require.NotNil(t, recordings[1].CapturedAt)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *recordings[1].CapturedAt)
}

func TestListRecordingsMissingDirectory(t *testing.T) {
	s := newTestService(t, filepath.Join(t.TempDir(), "missing"), Options{})
	recordings, err := s.ListRecordings()
	require.NoError(t, err)
	assert.Empty(t, recordings)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatBytes(tt.bytes))
	}
}
