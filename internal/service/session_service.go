package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/projectm/lms-session/internal/adapter/outbound/gateway"
	"github.com/projectm/lms-session/internal/clock"
	"github.com/projectm/lms-session/internal/domain/activity"
	"github.com/projectm/lms-session/internal/domain/live"
	"github.com/projectm/lms-session/internal/domain/session"
)

// ErrNotAuthenticated is returned by operations that need a stored session.
var ErrNotAuthenticated = errors.New("not logged in")

// AuthPaths are the auth service endpoints, relative to the API base URL.
type AuthPaths struct {
	Login         string
	Register      string
	Me            string
	ResetPassword string
}

// DefaultAuthPaths are the LMS auth service routes.
var DefaultAuthPaths = AuthPaths{
	Login:         "/api/auth/login",
	Register:      "/api/auth/register",
	Me:            "/api/auth/me",
	ResetPassword: "/api/auth/reset-password",
}

// LoginRequest is the body of the login call.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of the registration call. Role defaults to
// student on the server when empty.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role,omitempty"`
}

// ResetPasswordRequest is the body of the password reset call.
type ResetPasswordRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// User is the account returned by the auth service.
type User struct {
	ID        string    `json:"id" yaml:"id"`
	Email     string    `json:"email" yaml:"email"`
	FullName  string    `json:"full_name" yaml:"full_name"`
	Role      string    `json:"role" yaml:"role"`
	StudentID string    `json:"student_id,omitempty" yaml:"student_id,omitempty"`
	ClassName string    `json:"class_name,omitempty" yaml:"class_name,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         *User  `json:"user"`
}

// Status is a point-in-time view of the local session.
type Status struct {
	Authenticated bool `json:"authenticated" yaml:"authenticated"`
	// AccessToken and RefreshToken are fingerprints, never the tokens.
	AccessToken  string     `json:"access_token" yaml:"access_token"`
	RefreshToken string     `json:"refresh_token" yaml:"refresh_token"`
	LastActivity *time.Time `json:"last_activity,omitempty" yaml:"last_activity,omitempty"`
	// IdleRemaining is the time left before an inactivity logout. Zero
	// when the session is exempt or already past the threshold.
	IdleRemaining string `json:"idle_remaining,omitempty" yaml:"idle_remaining,omitempty"`
	LiveSession   bool   `json:"live_session" yaml:"live_session"`
}

// SessionConfig holds SessionService dependencies.
type SessionConfig struct {
	Gateway     *gateway.Gateway
	Store       *session.Store
	Live        *live.Tracker
	Paths       AuthPaths
	Clock       clock.Clock
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// SessionService drives the session lifecycle on behalf of a host: it
// signs users in and out, reports session state and forwards API calls
// through the gateway.
type SessionService struct {
	gateway     *gateway.Gateway
	store       *session.Store
	live        *live.Tracker
	paths       AuthPaths
	clock       clock.Clock
	idleTimeout time.Duration
	logger      *slog.Logger
}

// NewSessionService creates a SessionService and subscribes it to session
// end events so the activity timestamp and live flag never outlive the
// session they belong to.
func NewSessionService(cfg SessionConfig) (*SessionService, error) {
	if cfg.Gateway == nil || cfg.Store == nil {
		return nil, errors.New("service: gateway and store are required")
	}
	s := &SessionService{
		gateway:     cfg.Gateway,
		store:       cfg.Store,
		live:        cfg.Live,
		paths:       cfg.Paths,
		clock:       cfg.Clock,
		idleTimeout: cfg.IdleTimeout,
		logger:      cfg.Logger,
	}
	if s.paths == (AuthPaths{}) {
		s.paths = DefaultAuthPaths
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = activity.DefaultIdleTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.live == nil {
		s.live = live.NewTracker(cfg.Store.KV(), s.logger)
	}
	s.gateway.OnSessionEnded(s.onSessionEnded)
	return s, nil
}

// AttachMonitor routes session end events to m so it stops when the
// session ends for any reason.
func (s *SessionService) AttachMonitor(m *activity.Monitor) {
	s.gateway.OnSessionEnded(m.HandleSessionEnded)
}

func (s *SessionService) onSessionEnded(ev session.Ended) {
	// The session is already gone; the caller's context may be too.
	ctx := context.Background()
	if err := s.store.ClearActivity(ctx); err != nil {
		s.logger.Warn("failed to clear activity timestamp", "error", err)
	}
	if err := s.live.Exit(ctx); err != nil {
		s.logger.Warn("failed to clear live session flag", "error", err)
	}
	s.logger.Debug("session state cleared", "reason", ev.Reason)
}

// Login authenticates with email and password and stores the issued tokens.
func (s *SessionService) Login(ctx context.Context, req LoginRequest) (*User, error) {
	if req.Email == "" || req.Password == "" {
		return nil, errors.New("email and password are required")
	}
	return s.authenticate(ctx, s.paths.Login, req)
}

// Register creates an account and signs it in.
func (s *SessionService) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if req.Email == "" || req.Password == "" || req.FullName == "" {
		return nil, errors.New("email, password and full name are required")
	}
	return s.authenticate(ctx, s.paths.Register, req)
}

func (s *SessionService) authenticate(ctx context.Context, path string, body any) (*User, error) {
	resp, err := gateway.Call[authResponse](ctx, s.gateway, &gateway.Request{
		Method:    http.MethodPost,
		Path:      path,
		Body:      body,
		Anonymous: true,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.AccessToken == "" {
		return nil, &gateway.Error{Kind: gateway.KindUnexpectedError, Status: http.StatusOK, Message: "auth response carried no access token"}
	}

	creds := session.Credentials{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if err := s.gateway.Begin(ctx, creds); err != nil {
		return nil, fmt.Errorf("store credentials: %w", err)
	}
	// Signing in counts as activity; a timestamp left by an earlier
	// session must not expire this one.
	if err := s.store.RecordActivity(ctx, s.clock.Now()); err != nil {
		s.logger.Warn("failed to record login activity", "error", err)
	}
	if resp.User != nil {
		s.logger.Info("signed in", "user_id", resp.User.ID, "role", resp.User.Role)
	}
	return resp.User, nil
}

// ResetPassword asks the auth service to start a password reset for email.
// It needs no session and leaves any stored one untouched. Returns the
// server's message, if any.
func (s *SessionService) ResetPassword(ctx context.Context, req ResetPasswordRequest) (string, error) {
	if req.Email == "" {
		return "", errors.New("email is required")
	}
	resp, err := gateway.Call[messageResponse](ctx, s.gateway, &gateway.Request{
		Method:    http.MethodPost,
		Path:      s.paths.ResetPassword,
		Body:      req,
		Anonymous: true,
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Message, nil
}

// Logout ends the session locally. The auth service keeps no server-side
// session, so nothing is sent.
func (s *SessionService) Logout(ctx context.Context) error {
	return s.gateway.Logout(ctx)
}

// Me returns the signed-in user.
func (s *SessionService) Me(ctx context.Context) (*User, error) {
	ok, err := s.gateway.Authenticated(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAuthenticated
	}
	user, err := gateway.Call[User](ctx, s.gateway, &gateway.Request{Method: http.MethodGet, Path: s.paths.Me})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &gateway.Error{Kind: gateway.KindUnexpectedError, Status: http.StatusNoContent, Message: "current user response was empty"}
	}
	return user, nil
}

// Call sends an arbitrary authenticated request. body may be nil.
func (s *SessionService) Call(ctx context.Context, method, path string, query url.Values, body json.RawMessage) (*gateway.Response, error) {
	req := &gateway.Request{Method: method, Path: path, Query: query}
	if len(body) > 0 {
		req.Body = body
	}
	return s.gateway.Send(ctx, req)
}

// Status reports the local session state.
func (s *SessionService) Status(ctx context.Context) (*Status, error) {
	creds, err := s.store.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Authenticated: creds.AccessToken != "",
		AccessToken:   session.Fingerprint(creds.AccessToken),
		RefreshToken:  session.Fingerprint(creds.RefreshToken),
	}

	st.LiveSession, err = s.live.Active(ctx)
	if err != nil {
		return nil, err
	}

	last, ok, err := s.store.LastActivity(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		st.LastActivity = &last
		if st.Authenticated && !st.LiveSession {
			if remaining := s.idleTimeout - s.clock.Now().Sub(last); remaining > 0 {
				st.IdleRemaining = remaining.Round(time.Second).String()
			} else {
				st.IdleRemaining = "0s"
			}
		}
	}
	return st, nil
}

// StartLive marks a live session in progress, suspending inactivity logout.
func (s *SessionService) StartLive(ctx context.Context) error {
	ok, err := s.gateway.Authenticated(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthenticated
	}
	return s.live.Enter(ctx)
}

// EndLive clears the live session flag.
func (s *SessionService) EndLive(ctx context.Context) error {
	return s.live.Exit(ctx)
}
