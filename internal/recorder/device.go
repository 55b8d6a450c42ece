package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives data from a capturing device. Both methods return without
// waiting on the recorder's state machine.
type Sink interface {
	// WriteChunk appends encoded media. p is not retained by the device.
	WriteChunk(p []byte)
	// Lost reports that the device disconnected or failed mid-capture.
	Lost(err error)
}

// Device is the capture hardware. The recorder opens it once, and closes it
// exactly once on whichever exit path is taken.
type Device interface {
	Open(ctx context.Context) error
	Start(sink Sink) error
	Pause() error
	Resume() error
	// Stop ends capture and delivers any buffered chunks before returning.
	Stop() error
	Close() error
	MIMEType() string
}

// ErrSourceExhausted is reported through Sink.Lost when a ReaderDevice runs
// out of input.
var ErrSourceExhausted = errors.New("capture source exhausted")

// ReaderDevice replays an encoded stream as if it were a live camera,
// delivering ChunkSize bytes every Interval.
type ReaderDevice struct {
	src       io.Reader
	mime      string
	chunkSize int
	interval  time.Duration

	paused    atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// NewReaderDevice constructs a ReaderDevice over src.
func NewReaderDevice(src io.Reader, mime string, chunkSize int, interval time.Duration) *ReaderDevice {
	if chunkSize <= 0 {
		chunkSize = 64 << 10
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ReaderDevice{
		src:       src,
		mime:      mime,
		chunkSize: chunkSize,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (d *ReaderDevice) Open(ctx context.Context) error {
	if d.src == nil {
		return errors.New("no capture source")
	}
	return ctx.Err()
}

func (d *ReaderDevice) Start(sink Sink) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("device already started")
	}
	go d.run(sink)
	return nil
}

func (d *ReaderDevice) run(sink Sink) {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	buf := make([]byte, d.chunkSize)
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			if d.paused.Load() {
				continue
			}
			n, err := d.src.Read(buf)
			if n > 0 {
				sink.WriteChunk(buf[:n])
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = ErrSourceExhausted
				}
				sink.Lost(err)
				return
			}
		}
	}
}

func (d *ReaderDevice) Pause() error {
	d.paused.Store(true)
	return nil
}

func (d *ReaderDevice) Resume() error {
	d.paused.Store(false)
	return nil
}

func (d *ReaderDevice) Stop() error {
	d.stopOnce.Do(func() { close(d.stop) })
	if d.started.Load() {
		<-d.done
	}
	return nil
}

// Close stops capture and closes the source if it is an io.Closer. Later
// calls return the first result.
func (d *ReaderDevice) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}
	d.closeOnce.Do(func() {
		if c, ok := d.src.(io.Closer); ok {
			if err := c.Close(); err != nil {
				d.closeErr = fmt.Errorf("close capture source: %w", err)
			}
		}
	})
	return d.closeErr
}

func (d *ReaderDevice) MIMEType() string {
	return d.mime
}
