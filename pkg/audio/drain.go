package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it when abandoning a streaming result channel so the goroutines feeding
// it can observe cancellation and exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
