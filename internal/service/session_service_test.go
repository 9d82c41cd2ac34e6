package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/projectm/lms-session/internal/adapter/outbound/gateway"
	"github.com/projectm/lms-session/internal/adapter/outbound/memory"
	"github.com/projectm/lms-session/internal/clock/clocktest"
	"github.com/projectm/lms-session/internal/domain/activity"
	"github.com/projectm/lms-session/internal/domain/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// authAPI mimics the LMS auth service.
type authAPI struct {
	mu       sync.Mutex
	token    string
	lastBody map[string]any
}

func (a *authAPI) handler() http.Handler {
	mux := http.NewServeMux()
	issue := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var in map[string]any
		_ = json.Unmarshal(body, &in)
		a.mu.Lock()
		a.lastBody = in
		a.mu.Unlock()

		if r.Header.Get("Authorization") != "" {
			http.Error(w, `{"detail":"unexpected credentials"}`, http.StatusBadRequest)
			return
		}
		if in["password"] != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Incorrect email or password"}`))
			return
		}
		a.mu.Lock()
		a.token = "access-1"
		a.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
			"user": map[string]any{
				"id": "u-1", "email": in["email"], "full_name": "Ada Lovelace",
				"role": "student", "created_at": "2026-01-02T03:04:05Z",
			},
		})
	}
	mux.HandleFunc("/api/auth/login", issue)
	mux.HandleFunc("/api/auth/register", issue)
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		ok := a.token != "" && r.Header.Get("Authorization") == "Bearer "+a.token
		a.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u-1","email":"ada@example.com","full_name":"Ada Lovelace","role":"student","created_at":"2026-01-02T03:04:05Z"}`))
	})
	mux.HandleFunc("/api/auth/reset-password", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var in map[string]any
		_ = json.Unmarshal(body, &in)
		a.mu.Lock()
		a.lastBody = in
		a.mu.Unlock()
		if r.Header.Get("Authorization") != "" {
			http.Error(w, `{"detail":"unexpected credentials"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Reset link sent"}`))
	})
	mux.HandleFunc("/api/courses", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

type harness struct {
	api     *authAPI
	kv      *memory.KVStore
	store   *session.Store
	gateway *gateway.Gateway
	clock   *clocktest.Fake
	svc     *SessionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := &authAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	kv := memory.NewKVStore()
	store := session.NewStore(kv)
	clk := clocktest.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	gw, err := gateway.New(context.Background(), srv.URL, store,
		gateway.WithLogger(testLogger()), gateway.WithClock(clk))
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}
	svc, err := NewSessionService(SessionConfig{
		Gateway:     gw,
		Store:       store,
		Clock:       clk,
		IdleTimeout: 30 * time.Minute,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewSessionService() error = %v", err)
	}
	return &harness{api: api, kv: kv, store: store, gateway: gw, clock: clk, svc: svc}
}

func TestLogin_StoresCredentials(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user == nil || user.ID != "u-1" || user.Role != "student" {
		t.Errorf("Login() user = %+v, want id u-1 role student", user)
	}

	creds, _ := h.store.Credentials(ctx)
	if creds.AccessToken != "access-1" || creds.RefreshToken != "refresh-1" {
		t.Errorf("stored credentials = %+v, want access-1/refresh-1", creds)
	}
	last, ok, _ := h.store.LastActivity(ctx)
	if !ok || !last.Equal(h.clock.Now()) {
		t.Errorf("LastActivity() = %v, %v, want %v", last, ok, h.clock.Now())
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "nope"})
	if !errors.Is(err, gateway.ErrClient) {
		t.Fatalf("Login() error = %v, want ErrClient", err)
	}
	var gerr *gateway.Error
	if !errors.As(err, &gerr) || gerr.Message != "Incorrect email or password" {
		t.Errorf("Login() message = %v, want server detail", err)
	}
	if ok, _ := h.gateway.Authenticated(ctx); ok {
		t.Error("Authenticated() = true after failed login")
	}
}

func TestLogin_RequiresFields(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if _, err := h.svc.Login(context.Background(), LoginRequest{Email: "ada@example.com"}); err == nil {
		t.Error("Login() without password = nil error")
	}
}

func TestRegister_SendsProfile(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.svc.Register(context.Background(), RegisterRequest{
		Email: "ada@example.com", Password: "secret", FullName: "Ada Lovelace", Role: "instructor",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	h.api.mu.Lock()
	body := h.api.lastBody
	h.api.mu.Unlock()
	if body["full_name"] != "Ada Lovelace" || body["role"] != "instructor" {
		t.Errorf("register body = %v, want full_name and role", body)
	}
}

func TestResetPassword(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.ResetPassword(ctx, ResetPasswordRequest{}); err == nil {
		t.Error("ResetPassword() without email succeeded")
	}
	if _, err := h.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "secret"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	msg, err := h.svc.ResetPassword(ctx, ResetPasswordRequest{Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if msg != "Reset link sent" {
		t.Errorf("ResetPassword() = %q, want %q", msg, "Reset link sent")
	}
	h.api.mu.Lock()
	body := h.api.lastBody
	h.api.mu.Unlock()
	if body["email"] != "ada@example.com" {
		t.Errorf("reset body = %v, want email", body)
	}
	if tok, _ := h.store.AccessToken(ctx); tok != "access-1" {
		t.Errorf("access token = %q, want session untouched", tok)
	}
}

func TestMe(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Me(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Me() before login error = %v, want ErrNotAuthenticated", err)
	}
	if _, err := h.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "secret"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	user, err := h.svc.Me(ctx)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Errorf("Me().Email = %q, want %q", user.Email, "ada@example.com")
	}
}

func TestCall_NoContent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp, err := h.svc.Call(context.Background(), http.MethodGet, "/api/courses", nil, nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !resp.NoContent {
		t.Error("Call().NoContent = false, want true for 204")
	}
}

func TestLogout_ClearsSessionState(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	var events []session.Ended
	h.gateway.OnSessionEnded(func(ev session.Ended) { events = append(events, ev) })

	if _, err := h.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "secret"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := h.svc.StartLive(ctx); err != nil {
		t.Fatalf("StartLive() error = %v", err)
	}
	if err := h.svc.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if h.kv.Len() != 0 {
		t.Errorf("store has %d keys after logout, want 0", h.kv.Len())
	}
	if len(events) != 1 || events[0].Reason != session.ReasonUserLogout {
		t.Errorf("events = %+v, want one user_logout", events)
	}
}

func TestStartLive_RequiresSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if err := h.svc.StartLive(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("StartLive() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Authenticated || st.AccessToken != "-" || st.LastActivity != nil {
		t.Errorf("Status() before login = %+v", st)
	}

	if _, err := h.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "secret"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	h.clock.Jump(10 * time.Minute)

	st, err = h.svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Authenticated {
		t.Error("Status().Authenticated = false after login")
	}
	if st.AccessToken != session.Fingerprint("access-1") {
		t.Errorf("Status().AccessToken = %q, want fingerprint", st.AccessToken)
	}
	if st.IdleRemaining != "20m0s" {
		t.Errorf("Status().IdleRemaining = %q, want %q", st.IdleRemaining, "20m0s")
	}

	if err := h.svc.StartLive(ctx); err != nil {
		t.Fatalf("StartLive() error = %v", err)
	}
	st, _ = h.svc.Status(ctx)
	if !st.LiveSession || st.IdleRemaining != "" {
		t.Errorf("Status() during live session = %+v, want live and no countdown", st)
	}
}

func TestAttachMonitor_StopsOnLogout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	m, err := activity.NewMonitor(activity.Config{
		Store:       h.store,
		Clock:       h.clock,
		Logout:      h.gateway,
		IdleTimeout: 30 * time.Minute,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	h.svc.AttachMonitor(m)

	if _, err := h.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "secret"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if m.State() != activity.StateArmed {
		t.Fatalf("State() = %v, want Armed", m.State())
	}

	if err := h.svc.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if m.State() != activity.StateStopped {
		t.Errorf("State() after logout = %v, want Stopped", m.State())
	}
	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d timers after logout, want 0", h.clock.Pending())
	}
}

func TestAttachMonitor_IdleLogout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	m, err := activity.NewMonitor(activity.Config{
		Store: h.store, Clock: h.clock, Logout: h.gateway,
		IdleTimeout: 30 * time.Minute, Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	h.svc.AttachMonitor(m)
	var ended []session.Ended
	h.gateway.OnSessionEnded(func(ev session.Ended) { ended = append(ended, ev) })

	if _, err := h.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "secret"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.clock.Advance(30 * time.Minute)

	if len(ended) != 1 {
		t.Fatalf("session ended %d times, want 1", len(ended))
	}
	if ended[0].Reason != session.ReasonInactivity {
		t.Errorf("Reason = %q, want %q", ended[0].Reason, session.ReasonInactivity)
	}
	if want := h.clock.Now().UTC(); !ended[0].At.Equal(want) {
		t.Errorf("At = %v, want %v", ended[0].At, want)
	}

	if ok, _ := h.gateway.Authenticated(ctx); ok {
		t.Error("Authenticated() = true after idle timeout")
	}
	if m.State() != activity.StateStopped {
		t.Errorf("State() = %v, want Stopped after session end", m.State())
	}
}
