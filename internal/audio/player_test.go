package audio

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 8000

type bufferSink struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writes   int
	drained  bool
	aborted  bool
	writeErr error

	// blockAfter makes Write block once this many writes succeeded, until Abort.
	blockAfter int
	abort      chan struct{}
	abortOnce  sync.Once
}

func newBufferSink() *bufferSink {
	return &bufferSink{abort: make(chan struct{})}
}

func (s *bufferSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.writeErr != nil {
		s.mu.Unlock()
		return 0, s.writeErr
	}
	if s.blockAfter > 0 && s.writes >= s.blockAfter {
		s.mu.Unlock()
		<-s.abort
		return 0, io.ErrClosedPipe
	}
	s.writes++
	n, err := s.buf.Write(p)
	s.mu.Unlock()
	return n, err
}

func (s *bufferSink) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drained = true
	return nil
}

func (s *bufferSink) Abort() error {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	s.abortOnce.Do(func() { close(s.abort) })
	return nil
}

func (s *bufferSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

type sinkRecorder struct {
	mu      sync.Mutex
	sinks   []*bufferSink
	formats []PCMFormat
	next    func() *bufferSink
	err     error
}

func (r *sinkRecorder) factory(format PCMFormat) (Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	s := newBufferSink()
	if r.next != nil {
		s = r.next()
	}
	r.sinks = append(r.sinks, s)
	r.formats = append(r.formats, format)
	return s, nil
}

func (r *sinkRecorder) sink(i int) *bufferSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinks[i]
}

func writeTestWAV(t *testing.T, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "comment.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, testRate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: testRate},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func constantSamples(n, value int) []int {
	samples := make([]int, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func waitEnded(t *testing.T, ended <-chan error) error {
	t.Helper()
	select {
	case err := <-ended:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for playback end")
		return nil
	}
}

func TestWAVPlayerPlaysToEndAndRewinds(t *testing.T) {
	path := writeTestWAV(t, constantSamples(3000, 8192))
	sinks := &sinkRecorder{}
	ended := make(chan error, 2)

	player, err := NewWAVBackend(sinks.factory).OpenPlayer(path, func(err error) { ended <- err })
	require.NoError(t, err)
	defer player.Close()

	require.NoError(t, player.Play())
	require.NoError(t, waitEnded(t, ended))

	first := sinks.sink(0)
	assert.Equal(t, 6000, first.Len())
	assert.True(t, first.drained)
	assert.Equal(t, PCMFormat{SampleRate: testRate, Channels: 1}, sinks.formats[0])
	assert.Equal(t, time.Duration(0), player.Position())

	require.NoError(t, player.Play())
	require.NoError(t, waitEnded(t, ended))
	assert.Equal(t, 6000, sinks.sink(1).Len())
}

func TestWAVPlayerReportsEndBeforeNextRunCanStart(t *testing.T) {
	path := writeTestWAV(t, constantSamples(100, 1))
	sinks := &sinkRecorder{}
	ended := make(chan bool, 1)

	var player *WAVPlayer
	opened, err := NewWAVBackend(sinks.factory).OpenPlayer(path, func(error) {
		// A Play racing with the end report must wait for it.
		free := player.mu.TryLock()
		if free {
			player.mu.Unlock()
		}
		ended <- free
	})
	require.NoError(t, err)
	player = opened.(*WAVPlayer)
	defer player.Close()

	require.NoError(t, player.Play())
	select {
	case free := <-ended:
		assert.False(t, free, "end was reported outside the player lock")
	case <-time.After(time.Second):
		t.Fatal("playback did not end")
	}
}

func TestWAVPlayerPauseKeepsPosition(t *testing.T) {
	path := writeTestWAV(t, constantSamples(4*playbackChunkFrames, 8192))
	sinks := &sinkRecorder{next: func() *bufferSink {
		s := newBufferSink()
		s.blockAfter = 1
		return s
	}}
	ended := make(chan error, 1)

	player, err := NewWAVBackend(sinks.factory).OpenPlayer(path, func(err error) { ended <- err })
	require.NoError(t, err)
	defer player.Close()

	require.NoError(t, player.Play())
	require.NoError(t, player.Play(), "second Play while playing is a no-op")

	want := time.Duration(playbackChunkFrames) * time.Second / testRate
	require.Eventually(t, func() bool { return player.Position() == want }, time.Second, time.Millisecond)
	assert.InDelta(t, -12.04, player.Level(), 0.01)

	require.NoError(t, player.Pause())
	assert.True(t, sinks.sink(0).aborted)
	assert.Equal(t, want, player.Position())
	assert.Equal(t, SilenceDB, player.Level())

	select {
	case err := <-ended:
		t.Fatalf("paused player reported end: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	sinks.next = nil
	require.NoError(t, player.Play())
	require.NoError(t, waitEnded(t, ended))
	assert.Greater(t, sinks.sink(1).Len(), 0)
	assert.Less(t, sinks.sink(1).Len(), 4*playbackChunkFrames*2)
}

func TestWAVPlayerOutputErrorReportsEnd(t *testing.T) {
	path := writeTestWAV(t, constantSamples(3000, 1))
	sinks := &sinkRecorder{next: func() *bufferSink {
		s := newBufferSink()
		s.writeErr = errors.New("broken pipe")
		return s
	}}
	ended := make(chan error, 1)

	player, err := NewWAVBackend(sinks.factory).OpenPlayer(path, func(err error) { ended <- err })
	require.NoError(t, err)
	defer player.Close()

	require.NoError(t, player.Play())
	err = waitEnded(t, ended)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio output failed")
	assert.True(t, sinks.sink(0).aborted)
}

func TestWAVPlayerSinkUnavailable(t *testing.T) {
	path := writeTestWAV(t, constantSamples(10, 1))
	sinks := &sinkRecorder{err: errors.New("no audio player found")}

	player, err := NewWAVBackend(sinks.factory).OpenPlayer(path, func(error) {})
	require.NoError(t, err)
	defer player.Close()

	assert.ErrorContains(t, player.Play(), "failed to open audio output")
}

func TestWAVPlayerRejectsInvalidFiles(t *testing.T) {
	backend := NewWAVBackend((&sinkRecorder{}).factory)

	_, err := backend.OpenPlayer(filepath.Join(t.TempDir(), "missing.wav"), func(error) {})
	assert.ErrorContains(t, err, "audio file not found")

	junk := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not RIFF data"), 0644))
	_, err = backend.OpenPlayer(junk, func(error) {})
	assert.ErrorContains(t, err, "not a valid WAV file")
}

func TestWAVPlayerClose(t *testing.T) {
	path := writeTestWAV(t, constantSamples(10, 1))

	player, err := NewWAVBackend((&sinkRecorder{}).factory).OpenPlayer(path, func(error) {})
	require.NoError(t, err)

	require.NoError(t, player.Close())
	require.NoError(t, player.Close())
	assert.ErrorContains(t, player.Play(), "is closed")
}

func TestToS16(t *testing.T) {
	assert.Equal(t, []int{-32768, 0, 32512}, toS16(nil, []int{0, 128, 255}, 8))
	assert.Equal(t, []int{100, -100}, toS16(nil, []int{100, -100}, 16))
	assert.Equal(t, []int{32767, -32768}, toS16(nil, []int{8388607, -8388608}, 24))
}

func TestPlayerArgs(t *testing.T) {
	mono := PCMFormat{SampleRate: 44100, Channels: 1}

	args, err := playerArgs("aplay", mono)
	require.NoError(t, err)
	assert.Equal(t, []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "44100", "-c", "1", "-"}, args)

	args, err = playerArgs("paplay", PCMFormat{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	assert.Contains(t, args, "--rate=48000")
	assert.Contains(t, args, "--channels=2")

	args, err = playerArgs("ffplay", PCMFormat{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	assert.Contains(t, args, "stereo")

	_, err = playerArgs("vlc", mono)
	assert.ErrorContains(t, err, "unsupported player")
}

func TestFindAudioPlayer(t *testing.T) {
	stubCommands(t, "", nil)
	lookPath = func(file string) (string, error) {
		if file == "aplay" {
			return "/usr/bin/aplay", nil
		}
		return "", errors.New("not found")
	}

	player, err := findAudioPlayer("auto")
	require.NoError(t, err)
	assert.Equal(t, "aplay", player)

	_, err = findAudioPlayer("paplay")
	assert.ErrorContains(t, err, "audio player paplay not found")

	assert.Equal(t, []string{"aplay"}, GetAvailablePlayers())
}
