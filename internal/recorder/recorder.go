package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// ErrInvalidTransition is returned when an operation is not valid from the
// current state.
var ErrInvalidTransition = errors.New("invalid recorder transition")

// Thumbnailer derives a still from finalized media. A nil result means no
// thumbnail could be produced.
type Thumbnailer interface {
	ExtractSoft(ctx context.Context, media []byte, mime string, duration time.Duration) []byte
}

// Config bounds a capture session.
type Config struct {
	MaxDuration  time.Duration
	TickInterval time.Duration
	Clock        Clock
	Thumbnailer  Thumbnailer
}

// Tick is delivered to observers while recording.
type Tick struct {
	Elapsed   time.Duration
	Remaining time.Duration
}

// Capture is the finalized output of a session.
type Capture struct {
	Media     []byte
	Thumbnail []byte
	MIMEType  string
	Duration  time.Duration
}

// Recorder is a bounded capture session. It owns its Device from
// Initialize until the first terminal transition.
type Recorder struct {
	id     string
	cfg    Config
	device Device
	logger *zap.Logger

	mu         sync.Mutex
	machine    *fsm.FSM
	elapsed    time.Duration
	segment    time.Time
	gen        uint64
	cutoff     Timer
	ticker     Timer
	deviceOpen bool
	capture    *Capture
	thumbDone  bool
	cause      error
	done       chan struct{}
	tornDown   bool

	obsMu   sync.Mutex
	onTick  []func(Tick)
	onState []func(State)

	chunkMu   sync.Mutex
	chunks    bytes.Buffer
	accepting bool
}

// New creates an idle recorder around device.
func New(device Device, cfg Config, logger *zap.Logger) (*Recorder, error) {
	if device == nil {
		return nil, errors.New("recorder: nil device")
	}
	if cfg.MaxDuration <= 0 {
		return nil, errors.New("recorder: max duration must be positive")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Recorder{
		id:      id,
		cfg:     cfg,
		device:  device,
		logger:  logger.With(zap.String("session_id", id)),
		machine: newMachine(),
		done:    make(chan struct{}),
	}, nil
}

// ID identifies the session in logs.
func (r *Recorder) ID() string { return r.id }

// OnTick registers an elapsed-time observer. Observers run on the timer
// goroutine and must not block.
func (r *Recorder) OnTick(f func(Tick)) {
	r.obsMu.Lock()
	r.onTick = append(r.onTick, f)
	r.obsMu.Unlock()
}

// OnState registers a state-change observer.
func (r *Recorder) OnState(f func(State)) {
	r.obsMu.Lock()
	r.onState = append(r.onState, f)
	r.obsMu.Unlock()
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state()
}

// DeviceActive reports whether the capture device is still held.
func (r *Recorder) DeviceActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deviceOpen
}

// Done is closed once the device has been released.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Err returns the failure that moved the session to StateError.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}

// Elapsed returns captured time so far, excluding paused intervals.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsedLocked()
}

// Initialize acquires the capture device.
func (r *Recorder) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if err := r.fire(eventInitialize); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	r.notifyState(StateInitializing)

	openErr := r.device.Open(ctx)

	r.mu.Lock()
	if r.state() != StateInitializing {
		// Cancelled while opening; the device was never recorded as held.
		r.mu.Unlock()
		if openErr == nil {
			if err := r.device.Close(); err != nil {
				r.logger.Warn("close device after cancel", zap.Error(err))
			}
		}
		return fmt.Errorf("%w: cancelled during initialization", ErrInvalidTransition)
	}
	if openErr != nil {
		r.failLocked(fmt.Errorf("open device: %w", openErr))
		r.mu.Unlock()
		r.notifyState(StateError)
		return openErr
	}
	r.deviceOpen = true
	_ = r.fire(eventReady)
	r.mu.Unlock()

	r.logger.Info("capture device ready", zap.String("mime_type", r.device.MIMEType()))
	r.notifyState(StateReady)
	return nil
}

// Start begins capture. Valid only from StateReady.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if err := r.check(eventStart); err != nil {
		r.mu.Unlock()
		return err
	}
	r.chunkMu.Lock()
	r.accepting = true
	r.chunkMu.Unlock()

	if err := r.device.Start(sink{r}); err != nil {
		r.failLocked(fmt.Errorf("start device: %w", err))
		r.mu.Unlock()
		r.notifyState(StateError)
		return err
	}
	_ = r.fire(eventStart)
	r.segment = r.cfg.Clock.Now()
	r.armLocked()
	r.mu.Unlock()

	r.notifyState(StateRecording)
	return nil
}

// Pause suspends capture without ending the session.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	if err := r.check(eventPause); err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.device.Pause(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("pause device: %w", err)
	}
	r.elapsed = min(r.elapsedLocked(), r.cfg.MaxDuration)
	r.disarmLocked()
	_ = r.fire(eventPause)
	r.mu.Unlock()

	r.notifyState(StatePaused)
	return nil
}

// Resume continues a paused capture.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	if err := r.check(eventResume); err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.device.Resume(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("resume device: %w", err)
	}
	_ = r.fire(eventResume)
	r.segment = r.cfg.Clock.Now()
	if r.elapsed >= r.cfg.MaxDuration {
		r.finalizeLocked("max_duration")
		r.mu.Unlock()
		r.notifyState(StateRecording)
		r.notifyState(StateStopped)
		return nil
	}
	r.armLocked()
	r.mu.Unlock()

	r.notifyState(StateRecording)
	return nil
}

// Stop finalizes the capture and returns it. Calling Stop after the
// recorder stopped on its own returns the same capture.
func (r *Recorder) Stop(ctx context.Context) (Capture, error) {
	r.mu.Lock()
	stopped := false
	if r.state() != StateStopped {
		if err := r.check(eventStop); err != nil {
			r.mu.Unlock()
			return Capture{}, err
		}
		r.finalizeLocked("manual")
		stopped = true
	}
	r.mu.Unlock()

	if stopped {
		r.notifyState(StateStopped)
	}
	return r.result(ctx), nil
}

// Review hands the stopped capture to the review step.
func (r *Recorder) Review(ctx context.Context) (Capture, error) {
	r.mu.Lock()
	if err := r.fire(eventReview); err != nil {
		r.mu.Unlock()
		return Capture{}, err
	}
	r.mu.Unlock()

	r.notifyState(StateReviewing)
	return r.result(ctx), nil
}

// Cancel discards the session and releases the device.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	if err := r.fire(eventCancel); err != nil {
		r.mu.Unlock()
		return err
	}
	r.capture = nil
	r.teardownLocked()
	r.mu.Unlock()

	r.logger.Info("capture cancelled")
	r.notifyState(StateCancelled)
	return nil
}

func (r *Recorder) result(ctx context.Context) Capture {
	r.mu.Lock()
	if r.capture == nil {
		r.mu.Unlock()
		return Capture{}
	}
	c := *r.capture
	need := !r.thumbDone && r.cfg.Thumbnailer != nil
	r.thumbDone = true
	r.mu.Unlock()

	if !need {
		return c
	}
	c.Thumbnail = r.cfg.Thumbnailer.ExtractSoft(ctx, c.Media, c.MIMEType, c.Duration)

	r.mu.Lock()
	if r.capture != nil {
		r.capture.Thumbnail = c.Thumbnail
	}
	r.mu.Unlock()
	return c
}

func (r *Recorder) state() State {
	return State(r.machine.Current())
}

func (r *Recorder) check(event string) error {
	if !r.machine.Can(event) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, r.state())
	}
	return nil
}

func (r *Recorder) fire(event string) error {
	if err := r.check(event); err != nil {
		return err
	}
	if err := r.machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return nil
}

func (r *Recorder) elapsedLocked() time.Duration {
	if r.state() != StateRecording {
		return r.elapsed
	}
	return r.elapsed + r.cfg.Clock.Now().Sub(r.segment)
}

func (r *Recorder) armLocked() {
	r.gen++
	gen := r.gen
	remaining := r.cfg.MaxDuration - r.elapsed
	r.cutoff = r.cfg.Clock.AfterFunc(remaining, func() { r.handleCutoff(gen) })
	r.ticker = r.cfg.Clock.AfterFunc(r.cfg.TickInterval, func() { r.handleTick(gen) })
}

func (r *Recorder) disarmLocked() {
	r.gen++
	if r.cutoff != nil {
		r.cutoff.Stop()
		r.cutoff = nil
	}
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

func (r *Recorder) handleCutoff(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.state() != StateRecording {
		r.mu.Unlock()
		return
	}
	r.finalizeLocked("max_duration")
	r.mu.Unlock()
	r.notifyState(StateStopped)
}

func (r *Recorder) handleTick(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.state() != StateRecording {
		r.mu.Unlock()
		return
	}
	elapsed := r.elapsedLocked()
	if elapsed >= r.cfg.MaxDuration {
		r.finalizeLocked("max_duration")
		r.mu.Unlock()
		r.notifyState(StateStopped)
		return
	}
	r.ticker = r.cfg.Clock.AfterFunc(r.cfg.TickInterval, func() { r.handleTick(gen) })
	r.mu.Unlock()

	t := Tick{Elapsed: elapsed, Remaining: r.cfg.MaxDuration - elapsed}
	r.obsMu.Lock()
	observers := append([]func(Tick){}, r.onTick...)
	r.obsMu.Unlock()
	for _, f := range observers {
		f(t)
	}
}

// finalizeLocked moves a recording or paused session to StateStopped,
// keeping whatever the device delivered.
func (r *Recorder) finalizeLocked(reason string) {
	r.elapsed = min(r.elapsedLocked(), r.cfg.MaxDuration)
	r.disarmLocked()
	if err := r.device.Stop(); err != nil {
		r.logger.Warn("stop device", zap.Error(err))
	}

	r.chunkMu.Lock()
	r.accepting = false
	media := bytes.Clone(r.chunks.Bytes())
	r.chunks.Reset()
	r.chunkMu.Unlock()

	_ = r.fire(eventStop)
	r.capture = &Capture{
		Media:    media,
		MIMEType: r.device.MIMEType(),
		Duration: r.elapsed,
	}
	r.teardownLocked()
	r.logger.Info("capture stopped",
		zap.String("reason", reason),
		zap.Duration("duration", r.elapsed),
		zap.Int("bytes", len(media)),
	)
}

func (r *Recorder) failLocked(err error) {
	r.cause = err
	_ = r.fire(eventFail)
	r.teardownLocked()
	r.logger.Error("capture failed", zap.Error(err))
}

// teardownLocked is the only place the device is released. It runs once,
// on the first of Stopped, Cancelled, or Error.
func (r *Recorder) teardownLocked() {
	if r.tornDown {
		return
	}
	r.tornDown = true
	r.disarmLocked()

	r.chunkMu.Lock()
	r.accepting = false
	r.chunks.Reset()
	r.chunkMu.Unlock()

	if r.deviceOpen {
		if err := r.device.Close(); err != nil {
			r.logger.Warn("close device", zap.Error(err))
		}
		r.deviceOpen = false
	}
	close(r.done)
}

func (r *Recorder) deviceLost(err error) {
	r.mu.Lock()
	s := r.state()
	if s != StateRecording && s != StatePaused {
		r.mu.Unlock()
		return
	}
	r.chunkMu.Lock()
	captured := r.chunks.Len()
	r.chunkMu.Unlock()

	next := StateStopped
	if captured > 0 {
		r.logger.Warn("capture device lost, keeping partial recording", zap.Error(err))
		r.finalizeLocked("device_lost")
	} else {
		next = StateError
		r.failLocked(fmt.Errorf("device lost: %w", err))
	}
	r.mu.Unlock()
	r.notifyState(next)
}

func (r *Recorder) notifyState(s State) {
	r.obsMu.Lock()
	observers := append([]func(State){}, r.onState...)
	r.obsMu.Unlock()
	for _, f := range observers {
		f(s)
	}
}

type sink struct{ r *Recorder }

func (s sink) WriteChunk(p []byte) {
	s.r.chunkMu.Lock()
	defer s.r.chunkMu.Unlock()
	if s.r.accepting {
		s.r.chunks.Write(p)
	}
}

func (s sink) Lost(err error) {
	go s.r.deviceLost(err)
}
