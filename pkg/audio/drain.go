package audio

// Drain reads from ch until it is closed, discarding all values. Use it to
// release a producer goroutine when playback is abandoned mid-stream.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
