// Package portaudio implements [audio.Capture] and [audio.Playback] on the
// default PortAudio input and output devices.
//
// A single [Device] owns the PortAudio library lifetime: [New] initialises it
// and [Device.Close] terminates it. Construct one per process.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
)

const (
	defaultFrameDuration = 20 * time.Millisecond
	frameBufferDepth     = 64
)

// Compile-time interface assertions.
var (
	_ audio.Capture  = (*Device)(nil)
	_ audio.Playback = (*Device)(nil)
)

// Option configures a [Device].
type Option func(*Device)

// WithFrameDuration sets the size of each captured and played buffer.
func WithFrameDuration(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.frameDuration = d
		}
	}
}

// Device is the process-wide PortAudio microphone and speaker.
type Device struct {
	frameDuration time.Duration

	mu     sync.Mutex
	closed bool
}

// New initialises PortAudio. The returned Device must be closed to release
// the library.
func New(opts ...Option) (*Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", classify(err))
	}
	d := &Device{frameDuration: defaultFrameDuration}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Open starts a capture stream on the default input device.
func (d *Device) Open(ctx context.Context, format audio.Format) (audio.CaptureStream, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("portaudio: invalid capture format %+v", format)
	}
	if _, err := pa.DefaultInputDevice(); err != nil {
		return nil, fmt.Errorf("portaudio: default input: %w", audio.ErrDeviceUnavailable)
	}

	frames := int(int64(format.SampleRate) * int64(d.frameDuration) / int64(time.Second))
	buf := make([]int16, frames*format.Channels)
	stream, err := pa.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), frames, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w", classify(err))
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w", classify(err))
	}

	cs := &captureStream{
		stream: stream,
		buf:    buf,
		format: format,
		frames: make(chan audio.AudioFrame, frameBufferDepth),
		done:   make(chan struct{}),
		frameD: d.frameDuration,
	}
	go cs.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = cs.Close()
		case <-cs.done:
		}
	}()
	return cs, nil
}

// Play writes chunks to the default output device until chunks is closed or
// ctx is cancelled.
func (d *Device) Play(ctx context.Context, format audio.Format, chunks <-chan []byte) error {
	if err := d.checkOpen(); err != nil {
		go audio.Drain(chunks)
		return err
	}
	frames := int(int64(format.SampleRate) * int64(d.frameDuration) / int64(time.Second))
	buf := make([]int16, frames*format.Channels)
	stream, err := pa.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), frames, buf)
	if err != nil {
		go audio.Drain(chunks)
		return fmt.Errorf("portaudio: open output: %w", classify(err))
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		go audio.Drain(chunks)
		return fmt.Errorf("portaudio: start output: %w", classify(err))
	}

	var pending []int16
	write := func() error {
		n := copy(buf, pending)
		clear(buf[n:])
		pending = pending[n:]
		if err := stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", classify(err))
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = stream.Abort()
			go audio.Drain(chunks)
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				for len(pending) > 0 {
					if err := write(); err != nil {
						return err
					}
				}
				return stream.Stop()
			}
			pending = append(pending, audio.PCM16ToInt16(chunk)...)
			for len(pending) >= len(buf) {
				if ctx.Err() != nil {
					break
				}
				if err := write(); err != nil {
					go audio.Drain(chunks)
					return err
				}
			}
		}
	}
}

// Close terminates PortAudio. It is safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return pa.Terminate()
}

func (d *Device) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("portaudio: device closed: %w", audio.ErrDeviceUnavailable)
	}
	return nil
}

// classify maps PortAudio failures onto the audio package sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, pa.DeviceUnavailable), errors.Is(err, pa.InvalidDevice):
		return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	default:
		return err
	}
}

type captureStream struct {
	stream *pa.Stream
	buf    []int16
	format audio.Format
	frameD time.Duration

	frames chan audio.AudioFrame
	done   chan struct{}

	mu      sync.Mutex
	closing bool
	err     error
	once    sync.Once
}

func (c *captureStream) readLoop() {
	defer close(c.frames)
	defer close(c.done)

	var ts time.Duration
	for {
		err := c.stream.Read()
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}
		if err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio: input overflow")
				continue
			}
			c.mu.Lock()
			c.err = fmt.Errorf("portaudio: read: %w", classify(err))
			c.mu.Unlock()
			return
		}

		data := make([]byte, len(c.buf)*2)
		for i, s := range c.buf {
			data[i*2] = byte(s)
			data[i*2+1] = byte(s >> 8)
		}
		select {
		case c.frames <- audio.AudioFrame{
			Data:       data,
			SampleRate: c.format.SampleRate,
			Channels:   c.format.Channels,
			Timestamp:  ts,
		}:
		default:
			slog.Warn("portaudio: capture consumer too slow, dropping frame")
		}
		ts += c.frameD
	}
}

func (c *captureStream) Frames() <-chan audio.AudioFrame { return c.frames }

func (c *captureStream) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *captureStream) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		err = c.stream.Stop()
		<-c.done
		if cerr := c.stream.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

var _ audio.Device = (*Device)(nil)
