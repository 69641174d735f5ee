package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/suPer8Hu/hackgpt/internal/ai"
)

func TestRecorder_TouchSetsTitleOnlyOnFirstMessage(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	rec := NewRecorder(repo)
	ctx := context.Background()

	sess := &Session{ID: "01TESTSESSION0000000000001", UserID: 1, Title: DefaultTitle, Provider: "fake", Model: "m"}
	if err := repo.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	t1 := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
	if err := rec.Apply(ctx, PersistEvent{Kind: PersistTouchSession, SessionID: sess.ID, UserID: 1, First: true, Content: "how do I start", At: t1}); err != nil {
		t.Fatalf("first touch: %v", err)
	}
	got, _ := repo.GetSession(ctx, sess.ID)
	if got.Title != "how do I start" || !got.UpdatedAt.Equal(t1) {
		t.Fatalf("after first touch: title=%q updated=%v", got.Title, got.UpdatedAt)
	}

	t2 := t1.Add(time.Minute)
	if err := rec.Apply(ctx, PersistEvent{Kind: PersistTouchSession, SessionID: sess.ID, UserID: 1, At: t2}); err != nil {
		t.Fatalf("second touch: %v", err)
	}
	got, _ = repo.GetSession(ctx, sess.ID)
	if got.Title != "how do I start" {
		t.Fatalf("title changed on a later touch: %q", got.Title)
	}
	if !got.UpdatedAt.Equal(t2) {
		t.Fatalf("updated_at not bumped: %v", got.UpdatedAt)
	}

	// another user's touch is a no-op
	if err := rec.Apply(ctx, PersistEvent{Kind: PersistTouchSession, SessionID: sess.ID, UserID: 2, First: true, Content: "hijack", At: t2.Add(time.Minute)}); err != nil {
		t.Fatalf("foreign touch: %v", err)
	}
	got, _ = repo.GetSession(ctx, sess.ID)
	if got.Title != "how do I start" {
		t.Fatalf("foreign touch changed the title to %q", got.Title)
	}
}

func TestRecorder_UnknownKind(t *testing.T) {
	rec := NewRecorder(NewRepo(openTestDB(t)))
	if err := rec.Apply(context.Background(), PersistEvent{Kind: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestAsyncSink_KeepsSessionOrder(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	sink := NewAsyncSink(NewRecorder(repo), 3, time.Second)
	defer sink.Close()

	p := Persistence{Sink: sink}
	ctx := context.Background()
	const sid = "01TESTSESSION0000000000002"
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			p.RecordUserTurn(ctx, sid, 1, fmt.Sprintf("u%d", i))
		} else {
			p.RecordAssistantTurn(ctx, sid, 1, fmt.Sprintf("a%d", i))
		}
	}
	sink.Wait()

	var msgs []Message
	if err := db.Where("session_id = ?", sid).Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(msgs) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		wantRole, prefix := ai.RoleUser, "u"
		if i%2 == 1 {
			wantRole, prefix = ai.RoleAssistant, "a"
		}
		if m.Role != wantRole || m.Content != fmt.Sprintf("%s%d", prefix, i) {
			t.Fatalf("message %d out of order: %+v", i, m)
		}
		if i > 0 && m.CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("created_at went backwards at %d", i)
		}
	}
}

func TestAsyncSink_DropsAfterClose(t *testing.T) {
	db := openTestDB(t)
	sink := NewAsyncSink(NewRecorder(NewRepo(db)), 1, time.Second)
	sink.Close()
	sink.Close()

	sink.Submit(context.Background(), PersistEvent{Kind: PersistUserTurn, SessionID: "s", UserID: 1, Content: "late", At: time.Now()})
	sink.Wait()

	var n int64
	db.Model(&Message{}).Count(&n)
	if n != 0 {
		t.Fatalf("closed sink wrote %d messages", n)
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []PersistEvent
	err  error
	done chan struct{}
}

func (p *fakePublisher) PublishPersist(ctx context.Context, ev PersistEvent) error {
	p.mu.Lock()
	p.got = append(p.got, ev)
	p.mu.Unlock()
	p.done <- struct{}{}
	return p.err
}

func TestQueueSink_PublishesWithoutBlocking(t *testing.T) {
	pub := &fakePublisher{done: make(chan struct{}, 2), err: errors.New("broker down")}
	sink := NewQueueSink(pub, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	sink.Submit(ctx, PersistEvent{Kind: PersistUserTurn, SessionID: "s", Content: "hi"})
	cancel()
	sink.Submit(ctx, PersistEvent{Kind: PersistAssistantTurn, SessionID: "s", Content: "yo"})

	for i := 0; i < 2; i++ {
		select {
		case <-pub.done:
		case <-time.After(time.Second):
			t.Fatalf("publish %d never happened", i)
		}
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.got) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(pub.got))
	}
}

func TestDeriveTitle(t *testing.T) {
	long := ""
	for i := 0; i < 70; i++ {
		long += "é"
	}
	cases := []struct {
		in, want string
	}{
		{"  hello   world \n", "hello   world"},
		{"", DefaultTitle},
		{"   ", DefaultTitle},
		{long, long[:2*TitleMaxRunes]},
	}
	for _, tc := range cases {
		if got := DeriveTitle(tc.in); got != tc.want {
			t.Fatalf("DeriveTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type gatedPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	n       int
}

func (p *gatedPublisher) PublishPersist(ctx context.Context, ev PersistEvent) error {
	<-p.release
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
	return nil
}

func (p *gatedPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func TestQueueSink_CloseDrainsInflight(t *testing.T) {
	pub := &gatedPublisher{release: make(chan struct{})}
	sink := NewQueueSink(pub, time.Second)
	ctx := context.Background()

	sink.Submit(ctx, PersistEvent{Kind: PersistUserTurn, SessionID: "s"})
	sink.Submit(ctx, PersistEvent{Kind: PersistAssistantTurn, SessionID: "s"})

	closed := make(chan struct{})
	go func() {
		sink.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatalf("Close returned while publishes were still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(pub.release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("Close did not return after publishes finished")
	}
	if n := pub.count(); n != 2 {
		t.Fatalf("expected 2 publishes before Close returned, got %d", n)
	}

	sink.Submit(ctx, PersistEvent{Kind: PersistUserTurn, SessionID: "s"})
	sink.Close()
	if n := pub.count(); n != 2 {
		t.Fatalf("closed sink published again: %d", n)
	}
}
