// Package mock provides test doubles for the audio device interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
)

// Capture is a mock implementation of audio.Capture. Every Open returns a new
// Stream whose frames are fed by the test.
type Capture struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	streams []*Stream
}

// Open records the call and returns a new Stream.
func (c *Capture) Open(_ context.Context, format audio.Format) (audio.CaptureStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	s := &Stream{Format: format, frames: make(chan audio.AudioFrame, 16)}
	c.streams = append(c.streams, s)
	return s, nil
}

// Streams returns every stream opened so far.
func (c *Capture) Streams() []*Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Stream, len(c.streams))
	copy(out, c.streams)
	return out
}

// OpenCount returns the number of successful Open calls.
func (c *Capture) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

var _ audio.Capture = (*Capture)(nil)

// Stream is a mock audio.CaptureStream.
type Stream struct {
	Format audio.Format

	mu     sync.Mutex
	frames chan audio.AudioFrame
	closed bool
	err    error
}

// Push delivers one frame. It is a no-op after the stream closed.
func (s *Stream) Push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- audio.AudioFrame{Data: data, SampleRate: s.Format.SampleRate, Channels: s.Format.Channels}
}

// Fail ends the stream with err, as if the device disappeared.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.frames)
}

func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Closed reports whether Close or Fail has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

var _ audio.CaptureStream = (*Stream)(nil)

// PlayCall records one completed or interrupted Play invocation.
type PlayCall struct {
	Format      audio.Format
	Bytes       int
	Interrupted bool
}

// Playback is a mock implementation of audio.Playback.
//
// By default Play consumes chunks as fast as they arrive. Set Hold to make
// every Play block after consuming its chunks until Release is called or its
// context is cancelled, which simulates a long utterance.
type Playback struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play after the chunks are drained.
	PlayErr error

	// Hold keeps Play blocked until Release or cancellation.
	Hold bool

	calls   []PlayCall
	started chan struct{}
	release chan struct{}
}

// Play drains chunks and records the call.
func (p *Playback) Play(ctx context.Context, format audio.Format, chunks <-chan []byte) error {
	p.mu.Lock()
	hold := p.Hold
	if p.release == nil {
		p.release = make(chan struct{}, 64)
	}
	release := p.release
	started := p.started
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	n := 0
	interrupted := false
loop:
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				break loop
			}
			n += len(c)
		case <-ctx.Done():
			interrupted = true
			go audio.Drain(chunks)
			break loop
		}
	}
	if hold && !interrupted {
		select {
		case <-release:
		case <-ctx.Done():
			interrupted = true
		}
	}

	p.mu.Lock()
	p.calls = append(p.calls, PlayCall{Format: format, Bytes: n, Interrupted: interrupted})
	err := p.PlayErr
	p.mu.Unlock()

	if interrupted {
		return ctx.Err()
	}
	return err
}

// Started returns a channel that receives a value each time Play begins.
func (p *Playback) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan struct{}, 64)
	}
	return p.started
}

// Release lets one held Play call return.
func (p *Playback) Release() {
	p.mu.Lock()
	if p.release == nil {
		p.release = make(chan struct{}, 64)
	}
	release := p.release
	p.mu.Unlock()
	release <- struct{}{}
}

// Calls returns a copy of the recorded Play calls.
func (p *Playback) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.calls))
	copy(out, p.calls)
	return out
}

var _ audio.Playback = (*Playback)(nil)

// Device combines a Capture and a Playback into an audio.Device.
type Device struct {
	Capture
	Playback

	mu     sync.Mutex
	closed int
}

// Close records the call.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

// CloseCount returns the number of Close calls.
func (d *Device) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

var _ audio.Device = (*Device)(nil)
