package speech

import "context"

// Speaker defines the contract for any speech output vendor
// implementation.
type Speaker interface {
	// Name returns the provider name for logging/metrics.
	Name() string
	// Start prepares the provider, e.g. dials remote synthesis.
	Start(ctx context.Context) error
	// Close releases the provider.
	Close() error
	// Speak synthesizes and plays text, blocking until playback
	// finishes or fails. It returns exactly once per call, on success
	// or error.
	Speak(ctx context.Context, text string) error
	// Stop cancels any in-progress utterance. Safe to call when idle.
	Stop()
	// Speaking reports whether an utterance is currently audible.
	Speaking() bool
}

// Config contains vendor-agnostic speech configuration.
type Config struct {
	Language   string
	SampleRate int
}
