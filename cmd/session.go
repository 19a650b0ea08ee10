package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/audiolibrelab/audiocomments/internal/service"
)

const (
	finalizeTimeout = 10 * time.Second
	meterWidth      = 30
	meterFloorDB    = -60.0
)

// liveSession runs a service and its session loop for the lifetime of a command.
type liveSession struct {
	svc       service.Service
	cancel    context.CancelFunc
	done      chan error
	interrupt chan os.Signal
	enter     *lineWatcher
}

func startSession() (*liveSession, error) {
	svc, err := service.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ls := &liveSession{
		svc:       svc,
		cancel:    cancel,
		done:      make(chan error, 1),
		interrupt: make(chan os.Signal, 1),
		enter:     newLineWatcher(os.Stdin),
	}
	go func() {
		ls.done <- svc.Run(ctx)
	}()

	signal.Notify(ls.interrupt, os.Interrupt, syscall.SIGTERM)
	return ls, nil
}

// stop releases the audio device, waiting for a recording in flight to finalize.
func (ls *liveSession) stop() error {
	signal.Stop(ls.interrupt)

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	closeErr := ls.svc.Close(ctx)

	ls.cancel()
	if err := <-ls.done; err != nil {
		slog.Debug("Session loop ended with error", "error", err)
	}
	return closeErr
}

// record captures one comment until Enter or Ctrl+C and returns its path.
func (ls *liveSession) record() (string, error) {
	events, unsubscribe := ls.svc.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	if err := ls.svc.StartRecording(ctx); err != nil {
		return "", fmt.Errorf("failed to start recording: %w", err)
	}
	fmt.Println("Recording... press Enter or Ctrl+C to stop")

	enter := ls.enter.C()
	ls.enter.reset()
	for stopping := false; !stopping; {
		select {
		case ev, ok := <-events:
			if !ok {
				return "", errors.New("session ended unexpectedly")
			}
			if data, ok := ev.Data.(service.AmplitudeData); ok {
				fmt.Printf("\r%s", renderMeter(data.LevelDB))
			}
			// The recorder may stop on its own.
			if path, settled, err := service.RecordingOutcome(ev, ""); settled {
				clearLine()
				return path, err
			}
		case <-enter:
			stopping = true
		case <-ls.interrupt:
			stopping = true
		}
	}

	clearLine()
	slog.Info("Stopping recording...")
	if err := ls.svc.StopRecording(ctx); err != nil {
		return "", fmt.Errorf("failed to stop recording: %w", err)
	}

	timeout := time.After(finalizeTimeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return "", errors.New("session ended before the recording was saved")
			}
			if data, ok := ev.Data.(service.ErrorData); ok {
				slog.Warn("Session reported a problem", "kind", data.Kind, "error", data.Message)
			}
			if path, settled, err := service.RecordingOutcome(ev, ""); settled {
				return path, err
			}
		case <-timeout:
			return "", fmt.Errorf("recording was not finalized within %s", finalizeTimeout)
		}
	}
}

// play plays the last comment until it ends or Ctrl+C pauses it.
func (ls *liveSession) play() error {
	events, unsubscribe := ls.svc.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	if err := ls.svc.Play(ctx); err != nil {
		if errors.Is(err, service.ErrNoRecording) {
			return errors.New("nothing to play yet, record a comment first")
		}
		return fmt.Errorf("playback failed: %w", err)
	}
	fmt.Printf("Playing %s... press Ctrl+C to pause\n", filepath.Base(ls.svc.LastArtifact()))

	var position float64
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return errors.New("session ended unexpectedly")
			}
			switch data := ev.Data.(type) {
			case service.PositionData:
				position = data.Seconds
			case service.AmplitudeData:
				fmt.Printf("\r%6.1fs %s", position, renderMeter(data.LevelDB))
			case service.ErrorData:
				clearLine()
				return fmt.Errorf("playback failed: %s", data.Message)
			}
			if ev.Type == service.EventPlaybackEnded {
				clearLine()
				fmt.Println("Playback finished")
				return nil
			}
		case <-ls.interrupt:
			clearLine()
			if err := ls.svc.Pause(ctx); err != nil {
				return fmt.Errorf("failed to pause: %w", err)
			}
			fmt.Printf("Paused at %.1fs\n", ls.svc.Status().Position)
			return nil
		}
	}
}

// lineWatcher signals each line read from r. One reader serves every
// recording of a session, so no line is left to a stale scanner.
type lineWatcher struct {
	r     io.Reader
	once  sync.Once
	lines chan struct{}
}

func newLineWatcher(r io.Reader) *lineWatcher {
	return &lineWatcher{r: r, lines: make(chan struct{}, 1)}
}

// C starts reading on first use and returns the signal channel.
func (w *lineWatcher) C() <-chan struct{} {
	w.once.Do(func() {
		go w.scan()
	})
	return w.lines
}

// reset drops a line typed while nobody was waiting.
func (w *lineWatcher) reset() {
	select {
	case <-w.lines:
	default:
	}
}

func (w *lineWatcher) scan() {
	scanner := bufio.NewScanner(w.r)
	for scanner.Scan() {
		select {
		case w.lines <- struct{}{}:
		default:
		}
	}
}

// renderMeter draws a level bar between meterFloorDB and 0 dBFS.
func renderMeter(db float64) string {
	filled := int((db - meterFloorDB) / -meterFloorDB * meterWidth)
	if filled < 0 {
		filled = 0
	}
	if filled > meterWidth {
		filled = meterWidth
	}

	label := fmt.Sprintf("%6.1f dB", db)
	if db <= meterFloorDB {
		label = "  -inf dB"
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", meterWidth-filled) + "] " + label
}

func clearLine() {
	fmt.Printf("\r%s\r", strings.Repeat(" ", meterWidth+20))
}
