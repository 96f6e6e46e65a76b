package generation

import "context"

// TokenSource submits a prompt to a generative-text provider and yields
// the response incrementally. A returned Stream is finite and not
// restartable: a retried submission must open a fresh stream rather than
// resume a half-open one.
type TokenSource interface {
	// Submit starts a generation. It fails fast if the provider rejects
	// the request, so transient rejections stay visible to the retry
	// executor wrapping the call.
	Submit(ctx context.Context, prompt string) (Stream, error)
}

// Stream is a lazy, finite sequence of text fragments.
type Stream interface {
	// Next returns the next fragment, io.EOF after the final one, or an
	// error if the provider fails mid-sequence.
	Next() (string, error)

	// Close releases the underlying provider stream. Safe to call after
	// Next returned an error or io.EOF.
	Close() error
}
