package tts

import (
	"context"
	"sync"
)

// Stream is a running synthesis. The producer sends PCM with [Stream.Send]
// and ends the stream exactly once with [Stream.Finish]; the consumer drains
// [Stream.Audio] and then reads [Stream.Err].
type Stream struct {
	audio chan []byte
	once  sync.Once

	mu  sync.Mutex
	err error
}

// NewStream returns a stream whose audio channel holds up to buffer chunks.
func NewStream(buffer int) *Stream {
	return &Stream{audio: make(chan []byte, buffer)}
}

// Audio emits little-endian 16-bit PCM. It is closed when synthesis ends;
// the caller must drain it.
func (s *Stream) Audio() <-chan []byte { return s.audio }

// Send delivers one chunk. It returns false if ctx ended first.
func (s *Stream) Send(ctx context.Context, pcm []byte) bool {
	select {
	case s.audio <- pcm:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish records why synthesis ended and closes Audio. No Send may follow.
// Later calls are no-ops.
func (s *Stream) Finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.audio)
	})
}

// Err reports why the stream ended: nil when all text was synthesised. It is
// only meaningful once Audio has been closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
