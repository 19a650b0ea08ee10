package session

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config wires a Coordinator to its collaborators.
type Config struct {
	Recorders  RecorderBackend
	Players    PlayerBackend
	Dispatcher Dispatcher
	Scheduler  Scheduler
	Observer   Observer

	// Namer returns a fresh, unique destination for each recording.
	Namer func() string

	// TickRate is the sampling cadence in ticks per second (default 60).
	TickRate int

	// LastArtifact restores the most recent recording of a previous run.
	LastArtifact string
}

// state is the tagged session variant: idleState, recordingState or playingState.
type state interface {
	mode() Mode
}

type idleState struct {
	player *boundPlayer
}

type recordingState struct {
	dest     string
	recorder Recorder
}

type playingState struct {
	player *boundPlayer
}

func (*idleState) mode() Mode      { return ModeIdle }
func (*recordingState) mode() Mode { return ModeRecording }
func (*playingState) mode() Mode   { return ModePlaying }

// boundPlayer remembers which artifact a player was opened for. run counts
// the Play calls that started output; an end report carries the run it
// belongs to.
type boundPlayer struct {
	Player
	artifact string
	run      atomic.Uint64
}

// Coordinator arbitrates the audio device between recording and playback and
// reports amplitude and position while either is active.
//
// Every method except Mode, IsRecording, IsPlaying and LastArtifact must be
// called on the dispatch loop. Backend callbacks are posted to the loop by
// the coordinator itself.
type Coordinator struct {
	recorders  RecorderBackend
	players    PlayerBackend
	dispatcher Dispatcher
	scheduler  Scheduler
	observer   Observer
	namer      func() string
	interval   time.Duration

	state state
	last  string

	// pending holds destinations whose finalization has not been reported yet.
	pending map[string]struct{}

	cancelSampling func()
	generation     uint64

	mode         atomic.Int32
	lastArtifact atomic.Value
}

// NewCoordinator validates cfg and returns an idle coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Recorders == nil {
		return nil, errors.New("recorder backend is required")
	}
	if cfg.Players == nil {
		return nil, errors.New("player backend is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Namer == nil {
		return nil, errors.New("namer is required")
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = TickerScheduler{Dispatcher: cfg.Dispatcher}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	c := &Coordinator{
		recorders:  cfg.Recorders,
		players:    cfg.Players,
		dispatcher: cfg.Dispatcher,
		scheduler:  cfg.Scheduler,
		observer:   cfg.Observer,
		namer:      cfg.Namer,
		interval:   TickInterval(cfg.TickRate),
		pending:    make(map[string]struct{}),
	}
	c.setState(&idleState{})
	c.setLast(cfg.LastArtifact)
	return c, nil
}

// Mode returns the current activity. Safe from any goroutine.
func (c *Coordinator) Mode() Mode {
	return Mode(c.mode.Load())
}

// IsRecording reports whether capture is in progress. Safe from any goroutine.
func (c *Coordinator) IsRecording() bool {
	return c.Mode() == ModeRecording
}

// IsPlaying reports whether playback is in progress. Safe from any goroutine.
func (c *Coordinator) IsPlaying() bool {
	return c.Mode() == ModePlaying
}

// LastArtifact returns the destination of the most recent successful
// recording, or "" if there is none. Safe from any goroutine.
func (c *Coordinator) LastArtifact() string {
	last, _ := c.lastArtifact.Load().(string)
	return last
}

// RecordingDest returns the destination being captured, or "" when not
// recording.
func (c *Coordinator) RecordingDest() string {
	if rs, ok := c.state.(*recordingState); ok {
		return rs.dest
	}
	return ""
}

// StartRecording tears down playback, opens a recorder on a fresh destination
// and starts sampling. An in-flight recording is stopped first and still
// commits when its backend confirms.
func (c *Coordinator) StartRecording() {
	if rs, ok := c.state.(*recordingState); ok {
		slog.Debug("Restarting recording", "previous", rs.dest)
		c.StopRecording()
	}
	c.releasePlayback()

	dest := c.namer()
	c.pending[dest] = struct{}{}

	recorder, err := c.recorders.OpenRecorder(dest, c.recordingDone(dest))
	if err != nil {
		delete(c.pending, dest)
		c.fail(ErrorKindRecorderUnavailable, dest, err)
		return
	}
	if err := recorder.Start(); err != nil {
		delete(c.pending, dest)
		c.fail(ErrorKindRecorderUnavailable, dest, err)
		return
	}

	c.setState(&recordingState{dest: dest, recorder: recorder})
	c.startSampling()
	slog.Info("Recording started", "dest", dest)
}

// StopRecording asks the recorder to finalize and stops sampling. The artifact
// is committed only once the backend confirms.
func (c *Coordinator) StopRecording() {
	rs, ok := c.state.(*recordingState)
	if !ok {
		slog.Debug("StopRecording ignored", "mode", c.Mode())
		return
	}

	c.stopSampling()
	c.setState(&idleState{})
	rs.recorder.Stop()
	slog.Info("Recording stop requested", "dest", rs.dest)
}

// Play starts or resumes playback of the last artifact. Without a completed
// recording it does nothing.
func (c *Coordinator) Play() {
	idle, ok := c.state.(*idleState)
	if !ok {
		slog.Debug("Play ignored", "mode", c.Mode())
		return
	}
	if c.last == "" {
		slog.Debug("Play ignored, no recording available")
		return
	}

	player := idle.player
	if player == nil || player.artifact != c.last {
		c.closePlayer(player)
		idle.player = nil

		opened, err := c.openPlayer(c.last)
		if err != nil {
			c.fail(ErrorKindPlaybackUnavailable, c.last, err)
			return
		}
		player = opened
		idle.player = opened
	}

	if err := player.Play(); err != nil {
		c.fail(ErrorKindPlaybackUnavailable, player.artifact, err)
		return
	}
	player.run.Add(1)

	c.setState(&playingState{player: player})
	c.startSampling()
	slog.Debug("Playback started", "artifact", player.artifact)
}

// Pause pauses playback and stops sampling. It does nothing unless playing.
func (c *Coordinator) Pause() {
	ps, ok := c.state.(*playingState)
	if !ok {
		slog.Debug("Pause ignored", "mode", c.Mode())
		return
	}

	c.stopSampling()
	if err := ps.player.Pause(); err != nil {
		c.closePlayer(ps.player)
		c.setState(&idleState{})
		c.fail(ErrorKindPlaybackUnavailable, ps.player.artifact, err)
		return
	}
	c.setState(&idleState{player: ps.player})
	slog.Debug("Playback paused", "artifact", ps.player.artifact)
}

// Close stops any activity and releases the player. A recording in flight is
// asked to finalize; its completion is still reported.
func (c *Coordinator) Close() {
	c.StopRecording()
	c.releasePlayback()
}

func (c *Coordinator) recordingDone(dest string) func(error) {
	return func(err error) {
		c.dispatcher.Post(func() {
			c.finishRecording(dest, err)
		})
	}
}

func (c *Coordinator) finishRecording(dest string, err error) {
	if _, ok := c.pending[dest]; !ok {
		slog.Debug("Ignoring duplicate recording completion", "dest", dest)
		return
	}
	delete(c.pending, dest)

	// The recorder finished on its own, without StopRecording.
	if rs, ok := c.state.(*recordingState); ok && rs.dest == dest {
		c.stopSampling()
		c.setState(&idleState{})
	}

	if err != nil {
		c.fail(ErrorKindRecordingFailed, dest, err)
		return
	}

	c.setLast(dest)
	if idle, ok := c.state.(*idleState); ok {
		c.closePlayer(idle.player)
		idle.player = nil

		player, err := c.openPlayer(dest)
		if err != nil {
			c.fail(ErrorKindPlaybackUnavailable, dest, err)
		} else {
			idle.player = player
		}
	}

	slog.Info("Recording finalized", "dest", dest)
	c.observer.ArtifactReady(dest)
}

func (c *Coordinator) openPlayer(artifact string) (*boundPlayer, error) {
	bp := &boundPlayer{artifact: artifact}
	player, err := c.players.OpenPlayer(artifact, func(err error) {
		run := bp.run.Load()
		c.dispatcher.Post(func() {
			c.playbackEnded(bp, run, err)
		})
	})
	if err != nil {
		return nil, err
	}
	bp.Player = player
	return bp, nil
}

// playbackEnded handles an end report for run of bp. Reports for an earlier
// run arrive after a Pause and Play cycle and are dropped.
func (c *Coordinator) playbackEnded(bp *boundPlayer, run uint64, err error) {
	if run != bp.run.Load() {
		slog.Debug("Ignoring end of a previous playback run", "artifact", bp.artifact, "run", run)
		return
	}

	switch s := c.state.(type) {
	case *playingState:
		if s.player != bp {
			return
		}
		c.stopSampling()
		if err != nil {
			c.closePlayer(bp)
			c.setState(&idleState{})
			c.fail(ErrorKindPlaybackDecodeError, bp.artifact, err)
			return
		}
		c.setState(&idleState{player: bp})
		slog.Debug("Playback finished", "artifact", bp.artifact)
		c.observer.PlaybackEnded()

	case *idleState:
		if s.player != bp || err == nil {
			return
		}
		c.closePlayer(bp)
		s.player = nil
		c.fail(ErrorKindPlaybackDecodeError, bp.artifact, err)
	}
}

// releasePlayback closes any player and leaves the session idle.
func (c *Coordinator) releasePlayback() {
	switch s := c.state.(type) {
	case *playingState:
		c.stopSampling()
		if err := s.player.Pause(); err != nil {
			slog.Debug("Pause before release failed", "error", err)
		}
		c.closePlayer(s.player)
		c.setState(&idleState{})
	case *idleState:
		c.closePlayer(s.player)
		s.player = nil
	}
}

func (c *Coordinator) closePlayer(bp *boundPlayer) {
	if bp == nil || bp.Player == nil {
		return
	}
	if err := bp.Close(); err != nil {
		slog.Warn("Failed to close player", "artifact", bp.artifact, "error", err)
	}
}

func (c *Coordinator) startSampling() {
	c.stopSampling()
	gen := c.generation
	c.cancelSampling = c.scheduler.Every(c.interval, func() {
		c.tick(gen)
	})
}

func (c *Coordinator) stopSampling() {
	if c.cancelSampling != nil {
		c.cancelSampling()
		c.cancelSampling = nil
	}
	c.generation++
}

// tick reports one sample. Ticks scheduled under an older generation were in
// flight when sampling stopped and are dropped.
func (c *Coordinator) tick(gen uint64) {
	if gen != c.generation || c.cancelSampling == nil {
		return
	}

	switch s := c.state.(type) {
	case *playingState:
		c.observer.AmplitudeChanged(s.player.Level())
		c.observer.PositionChanged(s.player.Position())
	case *recordingState:
		c.observer.AmplitudeChanged(s.recorder.Level())
	default:
		slog.Error("Sampling tick while idle", "generation", gen)
	}
}

func (c *Coordinator) fail(kind ErrorKind, dest string, err error) {
	slog.Error("Media session failure", "kind", kind, "dest", dest, "error", err)
	c.observer.Failed(&Error{Kind: kind, Dest: dest, Err: err})
}

func (c *Coordinator) setState(s state) {
	c.state = s
	c.mode.Store(int32(s.mode()))
}

func (c *Coordinator) setLast(dest string) {
	c.last = dest
	c.lastArtifact.Store(dest)
}
