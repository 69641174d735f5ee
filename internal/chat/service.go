package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/hackgpt/internal/ai"
	"github.com/suPer8Hu/hackgpt/internal/logx"
	"github.com/suPer8Hu/hackgpt/internal/prompt"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound = errors.New("chat: session not found")
	ErrEmptyPrompt     = errors.New("chat: prompt is required")
)

type Options struct {
	// ContextWindowSize caps how many prior turns are sent upstream.
	ContextWindowSize int
	DefaultProvider   string
	DefaultModel      string
	StreamMaxDuration time.Duration
	KeepaliveInterval time.Duration
}

type Service struct {
	repo     *Repo
	registry *ai.Registry
	persist  Persistence
	opts     Options
}

func NewService(repo *Repo, registry *ai.Registry, sink Sink, opts Options) *Service {
	if opts.ContextWindowSize <= 0 || opts.ContextWindowSize > 100 {
		opts.ContextWindowSize = 20
	}
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = "openrouter"
	}
	return &Service{repo: repo, registry: registry, persist: Persistence{Sink: sink}, opts: opts}
}

func (s *Service) CreateSession(ctx context.Context, userID uint64, provider, model string) (*Session, error) {
	if provider == "" {
		provider = s.opts.DefaultProvider
		if model == "" {
			model = s.opts.DefaultModel
		}
	}

	sid, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:       sid,
		UserID:   userID,
		Title:    DefaultTitle,
		Provider: strings.ToLower(provider),
		Model:    model,
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	return s.repo.ListSessions(ctx, userID, 200)
}

func (s *Service) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	err := s.repo.DeleteSession(ctx, userID, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// ownedSession loads the session and hides sessions of other users.
func (s *Service) ownedSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ListMessages returns up to limit turns older than beforeID, oldest first.
func (s *Service) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	desc, err := s.repo.ListMessages(ctx, userID, sessionID, limit, beforeID)
	if err != nil {
		return nil, err
	}
	return reverse(desc), nil
}

// LoadHistory resolves an owned session and returns its most recent turns
// in chronological order.
func (s *Service) LoadHistory(ctx context.Context, userID uint64, sessionID string) (*Session, []Message, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.recentHistory(ctx, userID, sess.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	return sess, history, nil
}

func (s *Service) recentHistory(ctx context.Context, userID uint64, sessionID string) ([]Message, error) {
	desc, err := s.repo.ListRecentMessagesDesc(ctx, userID, sessionID, s.opts.ContextWindowSize)
	if err != nil {
		return nil, err
	}
	return reverse(desc), nil
}

func reverse(desc []Message) []Message {
	out := make([]Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		out = append(out, desc[i])
	}
	return out
}

// SendRequest is one inbound chat prompt. UserID 0 is an anonymous caller.
type SendRequest struct {
	UserID       uint64
	SessionID    string
	Prompt       string
	CodeUnlocked bool
}

// Exchange is a validated request ready to be relayed.
type Exchange struct {
	UserID         uint64
	SessionID      string
	SessionCreated bool
	Prompt         string
	Flags          prompt.Flags
	SystemPrompt   string
	History        []Message

	upstream ai.StreamProvider
}

// Persistent reports whether the exchange is saved (authenticated with a session).
func (e *Exchange) Persistent() bool {
	return e.UserID != 0 && e.SessionID != ""
}

func (e *Exchange) IsFirstMessage() bool {
	return len(e.History) == 0
}

// Messages builds the upstream conversation: system, history, new prompt.
func (e *Exchange) Messages() []ai.Message {
	out := make([]ai.Message, 0, len(e.History)+2)
	out = append(out, ai.Message{Role: ai.RoleSystem, Content: e.SystemPrompt})
	for _, m := range e.History {
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return append(out, ai.Message{Role: ai.RoleUser, Content: e.Prompt})
}

// Prepare validates the prompt, picks the system prompt and, for
// authenticated callers, resolves (or creates) the session and its history.
// Nothing is written to the client here.
func (s *Service) Prepare(ctx context.Context, req SendRequest) (*Exchange, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	flags := prompt.ForMessage(req.Prompt, req.CodeUnlocked)
	ex := &Exchange{
		UserID:       req.UserID,
		Prompt:       req.Prompt,
		Flags:        flags,
		SystemPrompt: prompt.Assemble(flags),
	}

	provider, model := s.opts.DefaultProvider, s.opts.DefaultModel
	switch {
	case req.UserID == 0:
		// anonymous: no session, no history, nothing persisted

	case req.SessionID == "":
		sess, err := s.CreateSession(ctx, req.UserID, "", "")
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		ex.SessionID = sess.ID
		ex.SessionCreated = true
		provider, model = sess.Provider, sess.Model

	default:
		sess, history, err := s.LoadHistory(ctx, req.UserID, req.SessionID)
		if err != nil {
			return nil, err
		}
		ex.SessionID = sess.ID
		ex.History = history
		provider, model = sess.Provider, sess.Model
	}

	up, err := s.registry.Get(ctx, provider, model)
	if err != nil {
		return nil, err
	}
	ex.upstream = up
	return ex, nil
}

// Stream relays the exchange to w and fires the best-effort writes around
// it. It never waits on storage.
func (s *Service) Stream(ctx context.Context, ex *Exchange, w StreamWriter) Outcome {
	log := logx.FromContext(ctx).With("session_id", ex.SessionID)

	if ex.Persistent() {
		s.persist.RecordUserTurn(ctx, ex.SessionID, ex.UserID, ex.Prompt)
		s.persist.TouchSession(ctx, ex.SessionID, ex.UserID, ex.IsFirstMessage(), ex.Prompt)
	}

	relay := &Relay{
		Upstream:       ex.upstream,
		MaxDuration:    s.opts.StreamMaxDuration,
		KeepaliveEvery: s.opts.KeepaliveInterval,
	}
	start := time.Now()
	out := relay.Run(ctx, w, ex.Messages())

	if ex.Persistent() && out.State == StateCompleted && out.Text != "" {
		s.persist.RecordAssistantTurn(ctx, ex.SessionID, ex.UserID, out.Text)
	}

	attrs := []any{
		"state", out.State.String(),
		"deltas", out.Deltas,
		"chars", len(out.Text),
		"debug", ex.Flags.Debug,
		"architecture", ex.Flags.Architecture,
		"crunch", ex.Flags.Crunch,
		"code", ex.Flags.Code,
		"cost", time.Since(start).String(),
	}
	switch out.State {
	case StateFailed:
		log.Warn("chat stream failed", append(attrs, "error", out.Err)...)
	default:
		log.Info("chat stream finished", attrs...)
	}
	return out
}
