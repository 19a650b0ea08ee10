package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
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

const (
	captureBitDepth    = 16
	captureChunkFrames = 512
	defaultStopTimeout = 5 * time.Second
	wavHeaderSize      = 44
)

// captureProcess is a running capture command streaming raw PCM.
type captureProcess interface {
	Stdout() io.Reader
	Interrupt() error
	Kill() error
	Wait() error
}

type startCaptureFunc func(name string, args []string) (captureProcess, error)

// FFmpegBackend opens recorders that capture through an ffmpeg process and
// encode its raw PCM output to WAV.
type FFmpegBackend struct {
	command     string
	inputFormat string
	inputDevice string
	sampleRate  int
	channels    int

	start       startCaptureFunc
	stopTimeout time.Duration
}

// NewFFmpegBackend creates a capture backend from the audio configuration.
func NewFFmpegBackend(cfg *config.Config) *FFmpegBackend {
	command := cfg.Audio.Command
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegBackend{
		command:     command,
		inputFormat: cfg.Audio.InputFormat,
		inputDevice: cfg.Audio.InputDevice,
		sampleRate:  cfg.Audio.SampleRate,
		channels:    cfg.Audio.Channels,
		start:       startFFmpeg,
		stopTimeout: defaultStopTimeout,
	}
}

// Args returns the ffmpeg arguments used for capture.
func (b *FFmpegBackend) Args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-f", b.inputFormat,
		"-i", b.inputDevice,
		"-ac", strconv.Itoa(b.channels),
		"-ar", strconv.Itoa(b.sampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	}
}

// OpenRecorder prepares a recorder writing to dest. Nothing is captured until Start.
func (b *FFmpegBackend) OpenRecorder(dest string, done func(error)) (session.Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FFmpegRecorder{
		backend:  b,
		dest:     dest,
		done:     done,
		meter:    NewMeter(),
		finished: make(chan struct{}),
	}, nil
}

// FFmpegRecorder captures a single recording.
type FFmpegRecorder struct {
	backend *FFmpegBackend
	dest    string
	done    func(error)
	meter   *Meter

	proc     captureProcess
	stopping atomic.Bool
	stopOnce sync.Once
	finished chan struct{}
}

// Start creates the destination file and launches the capture process.
func (r *FFmpegRecorder) Start() error {
	if r.proc != nil {
		return fmt.Errorf("recorder already started")
	}

	// Remove existing output file
	os.Remove(r.dest)

	file, err := os.Create(r.dest)
	if err != nil {
		return fmt.Errorf("failed to create recording file: %w", err)
	}
	encoder := wav.NewEncoder(file, r.backend.sampleRate, captureBitDepth, r.backend.channels, 1)

	args := r.backend.Args()
	slog.Info("Starting FFmpeg capture", "command", r.backend.command+" "+strings.Join(args, " "), "dest", r.dest)

	proc, err := r.backend.start(r.backend.command, args)
	if err != nil {
		file.Close()
		os.Remove(r.dest)
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}
	r.proc = proc

	go r.capture(proc, file, encoder)
	return nil
}

// Stop interrupts the capture process. Completion is reported through done.
func (r *FFmpegRecorder) Stop() {
	if r.proc == nil {
		return
	}
	r.stopOnce.Do(func() {
		r.stopping.Store(true)

		slog.Debug("Sending SIGINT to FFmpeg process")
		if err := r.proc.Interrupt(); err != nil {
			slog.Debug("Failed to send interrupt to FFmpeg, falling back to SIGKILL", "error", err)
			r.proc.Kill()
		}

		go func() {
			select {
			case <-r.finished:
			case <-time.After(r.backend.stopTimeout):
				slog.Warn("FFmpeg did not exit within timeout, force killing", "dest", r.dest)
				r.proc.Kill()
			}
		}()
	})
}

// Level returns the power of the most recently captured buffer in dBFS.
func (r *FFmpegRecorder) Level() float64 {
	return r.meter.Level()
}

func (r *FFmpegRecorder) capture(proc captureProcess, file *os.File, encoder *wav.Encoder) {
	channels := r.backend.channels
	frameBytes := channels * captureBitDepth / 8
	raw := make([]byte, captureChunkFrames*frameBytes)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: r.backend.sampleRate},
		SourceBitDepth: captureBitDepth,
	}

	var frames int64
	var encodeErr error
	stdout := proc.Stdout()
	for {
		n, readErr := io.ReadFull(stdout, raw)
		n -= n % frameBytes
		if n > 0 && encodeErr == nil {
			buf.Data = decodeS16LE(buf.Data[:0], raw[:n])
			if err := encoder.Write(buf); err != nil {
				encodeErr = fmt.Errorf("failed to encode audio: %w", err)
				// Keep draining so ffmpeg is not blocked on a full pipe
			} else {
				frames += int64(n / frameBytes)
				r.meter.Update(buf.Data, captureBitDepth)
			}
		}
		if readErr != nil {
			if readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
				slog.Debug("FFmpeg output read failed", "error", readErr)
			}
			break
		}
	}

	waitErr := proc.Wait()
	r.meter.Reset()

	if err := encoder.Close(); err != nil && encodeErr == nil {
		encodeErr = fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	if err := file.Close(); err != nil && encodeErr == nil {
		encodeErr = fmt.Errorf("failed to close recording file: %w", err)
	}

	err := encodeErr
	if err == nil {
		err = r.exitError(waitErr)
	}
	if err == nil {
		err = validateOutputFile(r.dest, frames)
	}
	if err != nil {
		os.Remove(r.dest)
	} else {
		slog.Debug("FFmpeg capture finished", "dest", r.dest, "frames", frames)
	}

	close(r.finished)
	r.done(err)
}

// exitError interprets the capture process exit status.
func (r *FFmpegRecorder) exitError(err error) error {
	if err == nil {
		return nil
	}
	if !r.stopping.Load() {
		return fmt.Errorf("capture exited unexpectedly: %w", err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Exit code 255 is how ffmpeg reports a graceful interrupt
		if exitErr.ExitCode() == 255 {
			slog.Debug("FFmpeg exited normally after interrupt signal")
			return nil
		}
		if exitErr.ProcessState != nil {
			stateStr := exitErr.ProcessState.String()
			if stateStr == "signal: interrupt" || stateStr == "signal: killed" {
				slog.Debug("FFmpeg exited normally due to signal", "state", stateStr)
				return nil
			}
		}
	}
	return fmt.Errorf("FFmpeg process failed: %w", err)
}

// validateOutputFile checks that the recording holds audio frames.
func validateOutputFile(path string, frames int64) error {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("recording file not found: %s", path)
	}
	if frames == 0 || fileInfo.Size() <= wavHeaderSize {
		return fmt.Errorf("recording failed: no audio captured (%d bytes)", fileInfo.Size())
	}

	slog.Debug("Output file validated", "size", fileInfo.Size(), "frames", frames)
	return nil
}

// decodeS16LE appends little-endian signed 16-bit samples to dst.
func decodeS16LE(dst []int, raw []byte) []int {
	for i := 0; i+1 < len(raw); i += 2 {
		dst = append(dst, int(int16(uint16(raw[i])|uint16(raw[i+1])<<8)))
	}
	return dst
}

type execCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu        sync.Mutex
	stderrBuf strings.Builder
	stderrEOF chan struct{}
}

func startFFmpeg(name string, args []string) (captureProcess, error) {
	cmd := exec.Command(name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execCapture{cmd: cmd, stdout: stdout, stderrEOF: make(chan struct{})}
	go p.readOutput(stderr, "stderr")
	return p, nil
}

// readOutput buffers the process diagnostics for error reports.
func (p *execCapture) readOutput(pipe io.Reader, label string) {
	defer close(p.stderrEOF)
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		p.mu.Lock()
		p.stderrBuf.WriteString(line + "\n")
		p.mu.Unlock()
		slog.Debug("FFmpeg output", "stream", label, "line", line)
	}
}

func (p *execCapture) Stdout() io.Reader {
	return p.stdout
}

func (p *execCapture) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *execCapture) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execCapture) Wait() error {
	<-p.stderrEOF
	err := p.cmd.Wait()
	if err != nil {
		p.mu.Lock()
		output := strings.TrimSpace(p.stderrBuf.String())
		p.mu.Unlock()
		if output != "" {
			return fmt.Errorf("%w: %s", err, output)
		}
	}
	return err
}
