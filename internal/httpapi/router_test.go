package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/hackgpt/internal/ai"
	"github.com/suPer8Hu/hackgpt/internal/auth"
	"github.com/suPer8Hu/hackgpt/internal/chat"
	appdb "github.com/suPer8Hu/hackgpt/internal/db"
	"github.com/suPer8Hu/hackgpt/internal/httpapi/handlers"
	"gorm.io/gorm"
)

type fakeUpstream struct {
	mu     sync.Mutex
	deltas []string
	err    error
	last   []ai.Message
}

func (f *fakeUpstream) script(deltas []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas, f.err = deltas, err
}

func (f *fakeUpstream) lastMessages() []ai.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeUpstream) StreamChat(ctx context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	f.mu.Lock()
	f.last = append([]ai.Message(nil), messages...)
	deltas, failure := f.deltas, f.err
	f.mu.Unlock()

	chunks := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, d := range deltas {
			select {
			case chunks <- d:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if failure != nil {
			errs <- failure
		}
	}()
	return chunks, errs
}

type countingLimiter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (l *countingLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hits == nil {
		l.hits = map[string]int{}
	}
	l.hits[key]++
	return l.hits[key] <= limit, nil
}

type testApp struct {
	db   *gorm.DB
	up   *fakeUpstream
	sink *chat.AsyncSink
	r    *gin.Engine
}

func newTestApp(t *testing.T, opts RouterOptions) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, appdb.Migrate(db, appdb.Schema()...))

	up := &fakeUpstream{}
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.StreamProvider, error) {
		return up, nil
	})

	repo := chat.NewRepo(db)
	sink := chat.NewAsyncSink(chat.NewRecorder(repo), 2, time.Second)
	t.Cleanup(sink.Close)

	chatSvc := chat.NewService(repo, reg, sink, chat.Options{DefaultProvider: "fake", DefaultModel: "m"})
	authSvc := auth.NewService(db, "test-secret", time.Hour)
	h := handlers.NewHandler(authSvc, chatSvc, "open-sesame")

	return &testApp{db: db, up: up, sink: sink, r: NewRouter(h, opts)}
}

func (a *testApp) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return env
}

func (a *testApp) signUp(t *testing.T, username string) string {
	t.Helper()
	w := a.do(http.MethodPost, "/auth/signup", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "hunter22",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Token string `json:"token"`
		User  struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data), w.Body.String())
	require.NotEmpty(t, data.Token)
	require.Equal(t, username+"@example.com", data.User.Email)
	return data.Token
}

func TestPing(t *testing.T) {
	a := newTestApp(t, RouterOptions{})
	for _, p := range []string{"/ping", "/test"} {
		w := a.do(http.MethodGet, p, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), "Working")
	}
	require.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/nope", "", nil).Code)
}

func TestSend_AnonymousStreams(t *testing.T) {
	a := newTestApp(t, RouterOptions{})
	a.up.script([]string{"Hel", "lo"}, nil)

	w := a.do(http.MethodPost, "/send", "", map[string]any{"prompt": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Empty(t, w.Header().Get("X-Session-Id"))
	require.Equal(t,
		"data: {\"content\":\"Hel\"}\n\ndata: {\"content\":\"lo\"}\n\ndata: [DONE]\n\n",
		w.Body.String())

	a.sink.Wait()
	var n int64
	a.db.Model(&chat.Session{}).Count(&n)
	require.Zero(t, n)
	a.db.Model(&chat.Message{}).Count(&n)
	require.Zero(t, n)
}

func TestSend_InvalidInputs(t *testing.T) {
	a := newTestApp(t, RouterOptions{})
	for _, body := range []string{
		`{"prompt": 42}`,
		`{"prompt": ""}`,
		`{"prompt": "   "}`,
		`{"prompt": null}`,
		`{}`,
		`not json`,
	} {
		w := a.do(http.MethodPost, "/send", "", body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
		env := decode(t, w)
		require.Equal(t, 10001, env.Code)
		require.Equal(t, "invalid inputs", env.Message)
	}
	require.Nil(t, a.up.lastMessages(), "upstream must not be called")
}

func TestSend_PreStreamFailureIsJSON(t *testing.T) {
	a := newTestApp(t, RouterOptions{})
	a.up.script(nil, errors.New("openrouter 503"))

	w := a.do(http.MethodPost, "/send", "", map[string]any{"prompt": "hi"})
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Equal(t, 50201, decode(t, w).Code)
}

func TestSend_MidStreamFailureIsInline(t *testing.T) {
	a := newTestApp(t, RouterOptions{})
	a.up.script([]string{"a", "b"}, errors.New("reset"))

	w := a.do(http.MethodPost, "/send", "", map[string]any{"prompt": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Equal(t, 2, strings.Count(body, `"content"`))
	require.Contains(t, body, `data: {"error":"reset"}`)
	require.NotContains(t, body, "[DONE]")
}

func TestSend_AuthenticatedSessionFlow(t *testing.T) {
	a := newTestApp(t, RouterOptions{})
	token := a.signUp(t, "ada")
	other := a.signUp(t, "bob")

	a.up.script([]string{"Think ", "about it."}, nil)
	w := a.do(http.MethodPost, "/send", token, map[string]any{"prompt": "Is this design scalable enough for launch?"})
	require.Equal(t, http.StatusOK, w.Code)
	sid := w.Header().Get("X-Session-Id")
	require.NotEmpty(t, sid)
	require.Contains(t, a.up.lastMessages()[0].Content, "ARCHITECTURE CONTEXT")
	a.sink.Wait()

	w = a.do(http.MethodGet, "/sessions/"+sid+"/messages", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page []chat.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page), w.Body.String())
	require.Len(t, page, 2)
	require.Equal(t, "user", page[0].Role)
	require.Equal(t, "Think about it.", page[1].Content)
	require.Equal(t, strconv.FormatUint(page[0].ID, 10), w.Header().Get("X-Next-Before-Id"))

	w = a.do(http.MethodGet, "/sessions", token, nil)
	var list []chat.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list), w.Body.String())
	require.Len(t, list, 1)
	require.Equal(t, sid, list[0].ID)
	require.Equal(t, "Is this design scalable enough for launch?", list[0].Title)

	// another user cannot see or continue the session
	require.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/sessions/"+sid+"/messages", other, nil).Code)
	require.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/send", other, map[string]any{"prompt": "hi", "sessionId": sid}).Code)
	require.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, "/sessions/"+sid, other, nil).Code)

	// continuing sends history upstream
	a.up.script([]string{"ok"}, nil)
	w = a.do(http.MethodPost, "/send", token, map[string]any{"prompt": "and then?", "sessionId": sid})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, sid, w.Header().Get("X-Session-Id"))
	require.Len(t, a.up.lastMessages(), 4)
	a.sink.Wait()

	require.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/sessions/"+sid, token, nil).Code)
	require.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/sessions/"+sid+"/messages", token, nil).Code)
}

func TestSend_CodeKeyUnlocksCodeMode(t *testing.T) {
	a := newTestApp(t, RouterOptions{})
	a.up.script([]string{"x"}, nil)

	a.do(http.MethodPost, "/send", "", map[string]any{"prompt": "hi", "codeKey": "wrong"})
	require.Contains(t, a.up.lastMessages()[0].Content, "must NOT write code")

	a.do(http.MethodPost, "/send", "", map[string]any{"prompt": "hi", "codeKey": "open-sesame"})
	require.Contains(t, a.up.lastMessages()[0].Content, "Code mode is unlocked")
}

func TestSessions_RequireAuth(t *testing.T) {
	a := newTestApp(t, RouterOptions{})
	require.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/sessions", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/sessions", "garbage", nil).Code)
	require.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/auth/me", "", nil).Code)

	token := a.signUp(t, "cleo")
	w := a.do(http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "cleo@example.com")
	require.NotContains(t, w.Body.String(), "hunter22")

	w = a.do(http.MethodPost, "/sessions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sess chat.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess), w.Body.String())
	require.NotEmpty(t, sess.ID)
	require.Equal(t, chat.DefaultTitle, sess.Title)
	require.False(t, sess.CreatedAt.IsZero())

	w = a.do(http.MethodGet, "/sessions", token, nil)
	var list []chat.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list), w.Body.String())
	require.Len(t, list, 1)
	require.Equal(t, sess.ID, list[0].ID)

	// errors keep the envelope so clients can read message
	w = a.do(http.MethodGet, "/sessions/nope/messages", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	env := decode(t, w)
	require.Equal(t, 40004, env.Code)
	require.Equal(t, "session not found", env.Message)
}


func TestAuth_SignInAndConflicts(t *testing.T) {
	a := newTestApp(t, RouterOptions{})
	a.signUp(t, "dan")

	w := a.do(http.MethodPost, "/auth/signup", "", map[string]string{
		"username": "dan2", "email": "dan@example.com", "password": "hunter22",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodPost, "/auth/signin", "", map[string]string{"email": "dan@example.com", "password": "nope-nope"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodPost, "/auth/signin", "", map[string]string{"email": "dan@example.com", "password": "nope-nope"})
	require.Equal(t, "invalid email or password", decode(t, w).Message)

	w = a.do(http.MethodPost, "/auth/signin", "", map[string]string{"email": "dan@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body, "token")
	require.Contains(t, body, "user")
	require.NotContains(t, body, "code")
}

func TestSend_RateLimited(t *testing.T) {
	a := newTestApp(t, RouterOptions{Limiter: &countingLimiter{}, RateLimitPerMinute: 2})
	a.up.script([]string{"x"}, nil)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/send", "", map[string]any{"prompt": "hi"}).Code)
	}
	w := a.do(http.MethodPost, "/send", "", map[string]any{"prompt": "hi"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, 42901, decode(t, w).Code)
}
