package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/audiocomments/internal/config"
	"github.com/audiolibrelab/audiocomments/internal/session"
)

const playbackChunkFrames = 1024

// PCMFormat describes the s16le stream handed to a Sink.
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// Sink consumes s16le PCM and renders it.
type Sink interface {
	io.Writer
	// Drain ends the stream and blocks until everything written was played.
	Drain() error
	// Abort stops output immediately.
	Abort() error
}

// SinkFactory opens a sink for one playback run.
type SinkFactory func(format PCMFormat) (Sink, error)

// WAVBackend opens WAV players that render through a Sink.
type WAVBackend struct {
	newSink SinkFactory
}

// NewWAVBackend creates a player backend writing to sinks from newSink.
func NewWAVBackend(newSink SinkFactory) *WAVBackend {
	return &WAVBackend{newSink: newSink}
}

// OpenPlayer decodes the WAV header of src and positions it at the first frame.
func (b *WAVBackend) OpenPlayer(src string, ended func(error)) (session.Player, error) {
	file, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("not a valid WAV file: %s", src)
	}
	if err := decoder.FwdToPCM(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read PCM data of %s: %w", src, err)
	}
	if decoder.SampleRate == 0 || decoder.NumChans == 0 {
		file.Close()
		return nil, fmt.Errorf("unsupported WAV format in %s", src)
	}

	return &WAVPlayer{
		src:      src,
		ended:    ended,
		newSink:  b.newSink,
		file:     file,
		decoder:  decoder,
		format:   PCMFormat{SampleRate: int(decoder.SampleRate), Channels: int(decoder.NumChans)},
		bitDepth: int(decoder.BitDepth),
		meter:    NewMeter(),
	}, nil
}

// WAVPlayer plays one WAV file. Position counts frames handed to the sink.
type WAVPlayer struct {
	src      string
	ended    func(error)
	newSink  SinkFactory
	file     *os.File
	decoder  *wav.Decoder
	format   PCMFormat
	bitDepth int
	meter    *Meter

	frames atomic.Int64

	mu     sync.Mutex
	run    *playbackRun
	closed bool
}

type playbackRun struct {
	sink Sink
	stop chan struct{}
	done chan struct{}
}

// Play starts or resumes feeding the sink from the current position.
func (p *WAVPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("player for %s is closed", p.src)
	}
	if p.run != nil {
		return nil
	}

	sink, err := p.newSink(p.format)
	if err != nil {
		return fmt.Errorf("failed to open audio output: %w", err)
	}

	run := &playbackRun{sink: sink, stop: make(chan struct{}), done: make(chan struct{})}
	p.run = run
	go p.feed(run)
	return nil
}

// Pause stops output and keeps the position.
func (p *WAVPlayer) Pause() error {
	p.halt()
	p.meter.Reset()
	return nil
}

// Position returns how far playback has progressed.
func (p *WAVPlayer) Position() time.Duration {
	return time.Duration(p.frames.Load()) * time.Second / time.Duration(p.format.SampleRate)
}

// Level returns the power of the most recently played buffer in dBFS.
func (p *WAVPlayer) Level() float64 {
	return p.meter.Level()
}

// Close stops playback and releases the file.
func (p *WAVPlayer) Close() error {
	p.halt()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.file.Close()
}

// halt stops the current run, if any, and waits for its feeder to exit.
func (p *WAVPlayer) halt() {
	p.mu.Lock()
	run := p.run
	p.run = nil
	p.mu.Unlock()

	if run == nil {
		return
	}
	close(run.stop)
	if err := run.sink.Abort(); err != nil {
		slog.Debug("Failed to abort audio output", "error", err)
	}
	<-run.done
}

func (p *WAVPlayer) feed(run *playbackRun) {
	defer close(run.done)

	channels := p.format.Channels
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: p.format.SampleRate},
		Data:           make([]int, playbackChunkFrames*channels),
		SourceBitDepth: p.bitDepth,
	}
	samples := make([]int, 0, len(buf.Data))
	pcm := make([]byte, 0, len(buf.Data)*2)

	for {
		select {
		case <-run.stop:
			return
		default:
		}

		n, err := p.decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			p.finish(run, fmt.Errorf("failed to decode %s: %w", p.src, err))
			return
		}
		n -= n % channels
		if n == 0 {
			p.endOfStream(run)
			return
		}

		samples = toS16(samples[:0], buf.Data[:n], p.bitDepth)
		pcm = encodeS16LE(pcm[:0], samples)
		if _, err := run.sink.Write(pcm); err != nil {
			if stopped(run) {
				return
			}
			p.finish(run, fmt.Errorf("audio output failed: %w", err))
			return
		}
		p.frames.Add(int64(n / channels))
		p.meter.Update(samples, 16)
	}
}

func (p *WAVPlayer) endOfStream(run *playbackRun) {
	drainErr := run.sink.Drain()
	if stopped(run) {
		return
	}

	// Rewind so the next Play starts from the beginning
	if err := p.rewind(); err != nil {
		p.finish(run, fmt.Errorf("failed to rewind %s: %w", p.src, err))
		return
	}
	p.frames.Store(0)
	p.meter.Reset()

	if drainErr != nil {
		p.finish(run, fmt.Errorf("audio output failed: %w", drainErr))
		return
	}
	p.finish(run, nil)
}

func (p *WAVPlayer) rewind() error {
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	decoder := wav.NewDecoder(p.file)
	if err := decoder.FwdToPCM(); err != nil {
		return err
	}
	p.decoder = decoder
	return nil
}

// finish retires run and reports the outcome unless the run was halted. The
// report is made under mu so a concurrent Play cannot start the next run first.
func (p *WAVPlayer) finish(run *playbackRun, err error) {
	if err != nil {
		run.sink.Abort()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run != run {
		return
	}
	p.run = nil
	p.ended(err)
}

func stopped(run *playbackRun) bool {
	select {
	case <-run.stop:
		return true
	default:
		return false
	}
}

// toS16 rescales decoded samples of any bit depth to signed 16 bit.
func toS16(dst, src []int, bitDepth int) []int {
	for _, s := range src {
		switch {
		case bitDepth == 8:
			// 8 bit WAV is unsigned
			s = (s - 128) << 8
		case bitDepth > 16:
			s >>= bitDepth - 16
		case bitDepth < 16:
			s <<= 16 - bitDepth
		}
		dst = append(dst, s)
	}
	return dst
}

// encodeS16LE appends samples as little-endian signed 16-bit PCM.
func encodeS16LE(dst []byte, samples []int) []byte {
	for _, s := range samples {
		v := uint16(int16(s))
		dst = append(dst, byte(v), byte(v>>8))
	}
	return dst
}

// playerCommands lists supported output programs in order of preference.
var playerCommands = []string{"paplay", "ffplay", "aplay"}

// findAudioPlayer resolves the configured player, picking the first one
// installed when it is "auto".
func findAudioPlayer(preferred string) (string, error) {
	preferred = strings.ToLower(preferred)
	if preferred != "" && preferred != "auto" {
		if _, err := lookPath(preferred); err != nil {
			return "", fmt.Errorf("audio player %s not found: %w", preferred, err)
		}
		return preferred, nil
	}

	for _, player := range playerCommands {
		if _, err := lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(playerCommands, ", "))
}

// playerArgs builds the command line that reads raw s16le PCM from stdin.
func playerArgs(player string, format PCMFormat) ([]string, error) {
	rate := strconv.Itoa(format.SampleRate)
	channels := strconv.Itoa(format.Channels)

	switch player {
	case "paplay":
		return []string{"--raw", "--format=s16le", "--rate=" + rate, "--channels=" + channels}, nil
	case "aplay":
		return []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels, "-"}, nil
	case "ffplay":
		layout := "mono"
		if format.Channels == 2 {
			layout = "stereo"
		}
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", "-f", "s16le", "-ar", rate, "-ch_layout", layout, "-i", "-"}, nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}

// CommandSinks returns a SinkFactory that pipes PCM into the configured player.
func CommandSinks(cfg *config.Config) SinkFactory {
	preferred := cfg.Audio.Player
	return func(format PCMFormat) (Sink, error) {
		player, err := findAudioPlayer(preferred)
		if err != nil {
			return nil, fmt.Errorf("no suitable audio player found: %w", err)
		}
		args, err := playerArgs(player, format)
		if err != nil {
			return nil, err
		}
		return startCommandSink(player, args)
	}
}

type commandSink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	once sync.Once
	err  error
}

func startCommandSink(name string, args []string) (*commandSink, error) {
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	slog.Debug("Started audio output", "command", name+" "+strings.Join(args, " "))
	return &commandSink{cmd: cmd, stdin: stdin}, nil
}

func (s *commandSink) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *commandSink) Drain() error {
	s.stdin.Close()
	if err := s.wait(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", s.cmd.Path, err)
	}
	return nil
}

func (s *commandSink) Abort() error {
	s.stdin.Close()
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	s.wait()
	return nil
}

// wait reaps the process once; concurrent callers block until it exits.
func (s *commandSink) wait() error {
	s.once.Do(func() {
		s.err = s.cmd.Wait()
	})
	return s.err
}
