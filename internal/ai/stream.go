package ai

import "context"

// StreamProvider is a streaming chat completion backend.
//
// StreamChat returns immediately. Deltas arrive on the first channel in
// generation order; at most one error arrives on the second. The error is
// sent before the delta channel is closed, so a reader that drains deltas
// and then receives from errs observes it. Both channels are closed when the
// stream ends or ctx is done.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

// emit delivers one delta unless the consumer has gone away.
func emit(ctx context.Context, chunks chan<- string, delta string) bool {
	select {
	case chunks <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}
