package session

import (
	"fmt"
	"time"
)

type queueDispatcher struct {
	queue []func()
}

func (d *queueDispatcher) Post(fn func()) {
	d.queue = append(d.queue, fn)
}

func (d *queueDispatcher) drain() {
	for len(d.queue) > 0 {
		fn := d.queue[0]
		d.queue = d.queue[1:]
		fn()
	}
}

type scheduledTick struct {
	interval  time.Duration
	fn        func()
	cancelled bool
}

type fakeScheduler struct {
	ticks []*scheduledTick
}

func (s *fakeScheduler) Every(interval time.Duration, fn func()) func() {
	t := &scheduledTick{interval: interval, fn: fn}
	s.ticks = append(s.ticks, t)
	return func() { t.cancelled = true }
}

func (s *fakeScheduler) active() []*scheduledTick {
	var out []*scheduledTick
	for _, t := range s.ticks {
		if !t.cancelled {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) fire() {
	for _, t := range s.active() {
		t.fn()
	}
}

type fakeRecorder struct {
	dest    string
	done    func(error)
	started bool
	stopped bool
	level   float64
}

func (r *fakeRecorder) Start() error {
	r.started = true
	return nil
}

func (r *fakeRecorder) Stop() {
	r.stopped = true
}

func (r *fakeRecorder) Level() float64 {
	return r.level
}

type fakeRecorderBackend struct {
	log       *[]string
	recorders []*fakeRecorder
	openErr   error
	startErr  error
}

func (b *fakeRecorderBackend) OpenRecorder(dest string, done func(error)) (Recorder, error) {
	if b.log != nil {
		*b.log = append(*b.log, "open-recorder:"+dest)
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	rec := &fakeRecorder{dest: dest, done: done, level: -20}
	b.recorders = append(b.recorders, rec)
	if b.startErr != nil {
		return failingStartRecorder{rec, b.startErr}, nil
	}
	return rec, nil
}

func (b *fakeRecorderBackend) last() *fakeRecorder {
	if len(b.recorders) == 0 {
		return nil
	}
	return b.recorders[len(b.recorders)-1]
}

type failingStartRecorder struct {
	*fakeRecorder
	err error
}

func (r failingStartRecorder) Start() error {
	return r.err
}

type fakePlayer struct {
	log     *[]string
	src     string
	ended   func(error)
	playing bool
	closed  bool
	plays   int
	pos     time.Duration
	level   float64
	playErr error
}

func (p *fakePlayer) Play() error {
	if p.playErr != nil {
		return p.playErr
	}
	p.playing = true
	p.plays++
	return nil
}

func (p *fakePlayer) Pause() error {
	p.playing = false
	return nil
}

func (p *fakePlayer) Position() time.Duration {
	return p.pos
}

func (p *fakePlayer) Level() float64 {
	return p.level
}

func (p *fakePlayer) Close() error {
	if p.log != nil {
		*p.log = append(*p.log, "close-player:"+p.src)
	}
	p.playing = false
	p.closed = true
	return nil
}

type fakePlayerBackend struct {
	log     *[]string
	players []*fakePlayer
	openErr error
	playErr error
}

func (b *fakePlayerBackend) OpenPlayer(src string, ended func(error)) (Player, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	p := &fakePlayer{log: b.log, src: src, ended: ended, pos: 1500 * time.Millisecond, level: -12, playErr: b.playErr}
	b.players = append(b.players, p)
	return p, nil
}

func (b *fakePlayerBackend) last() *fakePlayer {
	if len(b.players) == 0 {
		return nil
	}
	return b.players[len(b.players)-1]
}

func (b *fakePlayerBackend) open() int {
	n := 0
	for _, p := range b.players {
		if !p.closed {
			n++
		}
	}
	return n
}

type observedEvent struct {
	kind  string
	dest  string
	db    float64
	pos   time.Duration
	error *Error
}

type recordingObserver struct {
	events []observedEvent
}

func (o *recordingObserver) ArtifactReady(dest string) {
	o.events = append(o.events, observedEvent{kind: "artifact", dest: dest})
}

func (o *recordingObserver) PositionChanged(pos time.Duration) {
	o.events = append(o.events, observedEvent{kind: "position", pos: pos})
}

func (o *recordingObserver) AmplitudeChanged(db float64) {
	o.events = append(o.events, observedEvent{kind: "amplitude", db: db})
}

func (o *recordingObserver) PlaybackEnded() {
	o.events = append(o.events, observedEvent{kind: "ended"})
}

func (o *recordingObserver) Failed(err *Error) {
	o.events = append(o.events, observedEvent{kind: "failed", error: err})
}

func (o *recordingObserver) count(kind string) int {
	n := 0
	for _, e := range o.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (o *recordingObserver) kinds() []string {
	out := make([]string, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.kind)
	}
	return out
}

func (o *recordingObserver) reset() {
	o.events = nil
}

type sequenceNamer struct {
	n int
}

func (s *sequenceNamer) next() string {
	s.n++
	return fmt.Sprintf("/tmp/rec-%03d.wav", s.n)
}
