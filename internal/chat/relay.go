package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/suPer8Hu/hackgpt/internal/ai"
)

// ErrStreamTimeout is reported when a response exceeds the relay's duration bound.
var ErrStreamTimeout = errors.New("chat: response timed out")

type State int

const (
	StatePending State = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// StreamWriter is the client side of one relayed response.
type StreamWriter interface {
	// Delta sends one content event. The first call commits the response.
	Delta(text string) error
	// Done sends the end-of-stream sentinel.
	Done() error
	// InlineError reports a failure over an already committed stream.
	InlineError(msg string) error
	// Reject reports a failure before anything was committed.
	Reject(err error)
	// Keepalive writes a comment line that clients ignore.
	Keepalive() error
}

// Outcome is the terminal result of Relay.Run.
type Outcome struct {
	State  State
	Text   string
	Deltas int
	Err    error
}

// Relay forwards one upstream token stream to a StreamWriter.
type Relay struct {
	Upstream ai.StreamProvider
	// MaxDuration bounds the whole upstream stream; zero means unbounded.
	MaxDuration time.Duration
	// KeepaliveEvery is the idle ping interval once the stream is committed;
	// zero disables pings.
	KeepaliveEvery time.Duration
}

// Run relays until the upstream ends, fails, or ctx is cancelled. It writes
// exactly one terminal signal: Done, InlineError or Reject, or nothing when
// the client went away.
func (r *Relay) Run(ctx context.Context, w StreamWriter, messages []ai.Message) Outcome {
	out := Outcome{State: StatePending}

	var (
		upCtx  context.Context
		cancel context.CancelFunc
	)
	if r.MaxDuration > 0 {
		upCtx, cancel = context.WithTimeout(ctx, r.MaxDuration)
	} else {
		upCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var tick <-chan time.Time
	if r.KeepaliveEvery > 0 {
		t := time.NewTicker(r.KeepaliveEvery)
		defer t.Stop()
		tick = t.C
	}

	chunks, errs := r.Upstream.StreamChat(upCtx, messages)
	out.State = StateStreaming

	var text strings.Builder
	abort := func(err error) Outcome {
		cancel()
		out.State = StateAborted
		out.Text = text.String()
		out.Err = err
		return out
	}

loop:
	for {
		select {
		case <-ctx.Done():
			return abort(ctx.Err())

		case <-tick:
			if out.Deltas == 0 {
				continue
			}
			if err := w.Keepalive(); err != nil {
				return abort(err)
			}

		case delta, ok := <-chunks:
			if !ok {
				break loop
			}
			// a cancel can race a buffered delta; never write after it
			if ctx.Err() != nil {
				return abort(ctx.Err())
			}
			text.WriteString(delta)
			if err := w.Delta(delta); err != nil {
				return abort(err)
			}
			out.Deltas++
		}
	}

	err := <-errs
	out.Text = text.String()

	switch {
	case ctx.Err() != nil:
		return abort(ctx.Err())
	case err == nil && upCtx.Err() != nil:
		// the provider stopped without reporting the deadline
		err = ErrStreamTimeout
	case err != nil && errors.Is(upCtx.Err(), context.DeadlineExceeded):
		err = ErrStreamTimeout
	}

	if err != nil {
		out.State = StateFailed
		out.Err = err
		if out.Deltas == 0 {
			w.Reject(err)
			return out
		}
		if werr := w.InlineError(err.Error()); werr != nil {
			return abort(werr)
		}
		return out
	}

	if werr := w.Done(); werr != nil {
		return abort(werr)
	}
	out.State = StateCompleted
	return out
}
