package chat

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/suPer8Hu/hackgpt/internal/ai"
	"github.com/suPer8Hu/hackgpt/internal/logx"
)

type PersistKind string

const (
	PersistUserTurn      PersistKind = "user_turn"
	PersistAssistantTurn PersistKind = "assistant_turn"
	PersistTouchSession  PersistKind = "touch_session"
)

// PersistEvent is one unit of best-effort persistence work. At is captured
// when the event is created so that late writes keep the session order.
type PersistEvent struct {
	Kind      PersistKind `json:"kind"`
	SessionID string      `json:"session_id"`
	UserID    uint64      `json:"user_id"`
	Content   string      `json:"content,omitempty"`
	First     bool        `json:"first,omitempty"`
	At        time.Time   `json:"at"`
}

// Sink accepts persistence work without waiting for storage. Implementations
// log their own failures; nothing is reported back to the caller.
type Sink interface {
	Submit(ctx context.Context, ev PersistEvent)
}

// Recorder applies persistence events to the store.
type Recorder struct {
	repo *Repo
}

func NewRecorder(repo *Repo) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) Apply(ctx context.Context, ev PersistEvent) error {
	switch ev.Kind {
	case PersistUserTurn, PersistAssistantTurn:
		role := ai.RoleUser
		if ev.Kind == PersistAssistantTurn {
			role = ai.RoleAssistant
		}
		return r.repo.InsertMessage(ctx, &Message{
			SessionID: ev.SessionID,
			UserID:    ev.UserID,
			Role:      role,
			Content:   ev.Content,
			CreatedAt: ev.At,
		})
	case PersistTouchSession:
		var title string
		if ev.First {
			title = DeriveTitle(ev.Content)
		}
		return r.repo.TouchSession(ctx, ev.UserID, ev.SessionID, title, ev.At)
	default:
		return fmt.Errorf("unknown persist event kind %q", ev.Kind)
	}
}

// Persistence exposes the named best-effort writes of a chat exchange. None
// of its methods wait for storage.
type Persistence struct {
	Sink Sink
	Now  func() time.Time
}

func (p Persistence) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Persistence) RecordUserTurn(ctx context.Context, sessionID string, userID uint64, prompt string) {
	p.Sink.Submit(ctx, PersistEvent{Kind: PersistUserTurn, SessionID: sessionID, UserID: userID, Content: prompt, At: p.now()})
}

func (p Persistence) RecordAssistantTurn(ctx context.Context, sessionID string, userID uint64, text string) {
	p.Sink.Submit(ctx, PersistEvent{Kind: PersistAssistantTurn, SessionID: sessionID, UserID: userID, Content: text, At: p.now()})
}

// TouchSession sets the title from prompt on the first message and bumps
// updated_at every time.
func (p Persistence) TouchSession(ctx context.Context, sessionID string, userID uint64, isFirst bool, prompt string) {
	ev := PersistEvent{Kind: PersistTouchSession, SessionID: sessionID, UserID: userID, First: isFirst, At: p.now()}
	if isFirst {
		ev.Content = prompt
	}
	p.Sink.Submit(ctx, ev)
}

// AsyncSink applies events in-process on background workers. Events of one
// session always land on the same worker, so they are written in submission
// order.
type AsyncSink struct {
	rec     *Recorder
	timeout time.Duration
	shards  []chan asyncTask
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type asyncTask struct {
	ctx context.Context
	ev  PersistEvent
}

func NewAsyncSink(rec *Recorder, workers int, timeout time.Duration) *AsyncSink {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &AsyncSink{rec: rec, timeout: timeout, shards: make([]chan asyncTask, workers)}
	for i := range s.shards {
		s.shards[i] = make(chan asyncTask, 256)
		s.workers.Add(1)
		go s.run(s.shards[i])
	}
	return s
}

func (s *AsyncSink) run(tasks <-chan asyncTask) {
	defer s.workers.Done()
	for t := range tasks {
		s.apply(t)
	}
}

func (s *AsyncSink) apply(t asyncTask) {
	defer s.pending.Done()
	ctx, cancel := context.WithTimeout(t.ctx, s.timeout)
	defer cancel()
	if err := s.rec.Apply(ctx, t.ev); err != nil {
		logx.FromContext(t.ctx).Error("persist failed",
			"kind", t.ev.Kind, "session_id", t.ev.SessionID, "error", err)
	}
}

// Submit queues ev. The request context only contributes its logger; the
// write outlives the request.
func (s *AsyncSink) Submit(ctx context.Context, ev PersistEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		logx.FromContext(ctx).Warn("persist dropped, sink closed", "kind", ev.Kind, "session_id", ev.SessionID)
		return
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(ev.SessionID))
	shard := s.shards[int(h.Sum32()%uint32(len(s.shards)))]

	s.pending.Add(1)
	select {
	case shard <- asyncTask{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		s.pending.Done()
		logx.FromContext(ctx).Error("persist dropped, queue full", "kind", ev.Kind, "session_id", ev.SessionID)
	}
}

// Wait blocks until every submitted event has been applied or dropped.
func (s *AsyncSink) Wait() {
	s.pending.Wait()
}

// Close stops accepting events and waits for queued ones.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, ch := range s.shards {
		close(ch)
	}
	s.mu.Unlock()
	s.workers.Wait()
}

// Publisher hands events to an out-of-process consumer.
type Publisher interface {
	PublishPersist(ctx context.Context, ev PersistEvent) error
}

// QueueSink publishes events to a broker; cmd/worker applies them.
type QueueSink struct {
	pub     Publisher
	timeout time.Duration

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

func NewQueueSink(pub Publisher, timeout time.Duration) *QueueSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &QueueSink{pub: pub, timeout: timeout}
}

func (s *QueueSink) Submit(ctx context.Context, ev PersistEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		logx.FromContext(ctx).Warn("persist dropped, sink closed", "kind", ev.Kind, "session_id", ev.SessionID)
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := s.pub.PublishPersist(pctx, ev); err != nil {
			logx.FromContext(ctx).Error("persist publish failed",
				"kind", ev.Kind, "session_id", ev.SessionID, "error", err)
		}
	}()
}

// Close stops accepting events and waits for in-flight publishes. Call it
// before closing the publisher.
func (s *QueueSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}
