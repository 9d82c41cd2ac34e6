// Package gateway sends authenticated requests to the LMS API.
//
// It attaches the stored access token to every call, refreshes it once
// when the server rejects it, replays the rejected calls, and normalizes
// every failure into an *Error. When the session can no longer be
// refreshed it clears the stored credentials and emits session.Ended.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/projectm/lms-session/internal/clock"
	"github.com/projectm/lms-session/internal/ctxkey"
	"github.com/projectm/lms-session/internal/domain/session"
	"github.com/projectm/lms-session/internal/port/outbound"
)

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 10 << 20

// Gateway is the single path for API calls. Safe for concurrent use.
type Gateway struct {
	baseURL     string
	refreshPath string
	timeout     time.Duration
	httpClient  *http.Client
	store       *session.Store
	logger      *slog.Logger
	metrics     outbound.MetricsRecorder
	tracer      trace.Tracer
	clock       clock.Clock

	// active is true while an authenticated session exists. It gates
	// session.Ended so it fires once per session.
	active atomic.Bool

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
	// settled counts finished refreshes; last holds the outcome of the
	// most recent one. A call compares the count it was sent under to
	// tell whether its token was already replaced.
	settled uint64
	last    refreshResult

	listenersMu sync.Mutex
	listeners   []func(session.Ended)
}

// New creates a Gateway for the API at baseURL. The session is considered
// active when the store already holds an access token.
func New(ctx context.Context, baseURL string, store *session.Store, opts ...Option) (*Gateway, error) {
	if baseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	if store == nil {
		return nil, errors.New("gateway: session store is required")
	}
	g := &Gateway{
		baseURL:     strings.TrimRight(baseURL, "/"),
		refreshPath: DefaultRefreshPath,
		timeout:     DefaultTimeout,
		store:       store,
		logger:      slog.Default(),
		metrics:     outbound.NopRecorder{},
		tracer:      noop.NewTracerProvider().Tracer(""),
		clock:       clock.Real(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: g.timeout}
	} else if g.httpClient.Timeout == 0 {
		c := *g.httpClient
		c.Timeout = g.timeout
		g.httpClient = &c
	}

	token, err := store.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	g.active.Store(token != "")
	return g, nil
}

// OnSessionEnded registers fn to be called once each time an authenticated
// session ends. Listeners run synchronously on the goroutine that ended it.
func (g *Gateway) OnSessionEnded(fn func(session.Ended)) {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Begin stores freshly issued credentials and marks the session active.
func (g *Gateway) Begin(ctx context.Context, creds session.Credentials) error {
	if creds.AccessToken == "" {
		return errors.New("gateway: access token is required")
	}
	if err := g.store.SaveCredentials(ctx, creds); err != nil {
		return err
	}
	g.active.Store(true)
	g.logger.Info("session started", "token", session.Fingerprint(creds.AccessToken))
	return nil
}

// Authenticated reports whether an access token is stored.
func (g *Gateway) Authenticated(ctx context.Context) (bool, error) {
	token, err := g.store.AccessToken(ctx)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

// Logout ends the session at the user's request.
func (g *Gateway) Logout(ctx context.Context) error {
	return g.ForceLogout(ctx, session.ReasonUserLogout)
}

// ForceLogout clears the stored credentials and emits session.Ended if a
// session was active. Calling it again clears again but emits nothing.
func (g *Gateway) ForceLogout(ctx context.Context, reason session.Reason) error {
	err := g.store.ClearCredentials(ctx)
	if err != nil {
		g.logger.Error("failed to clear credentials", "reason", reason, "error", err)
	}
	if g.active.CompareAndSwap(true, false) {
		g.logger.Info("session ended", "reason", reason)
		g.metrics.SessionEnded(string(reason))
		g.emit(session.Ended{Reason: reason, At: g.clock.Now().UTC()})
	}
	return err
}

func (g *Gateway) emit(ev session.Ended) {
	g.listenersMu.Lock()
	listeners := make([]func(session.Ended), len(g.listeners))
	copy(listeners, g.listeners)
	g.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Send performs req. A 2xx reply is returned as a Response; every other
// outcome is returned as an *Error.
func (g *Gateway) Send(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	requestID := uuid.New().String()
	ctx = context.WithValue(ctx, ctxkey.RequestIDKey{}, requestID)
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, g.logger.With("request_id", requestID))

	start := time.Now()
	resp, err := g.send(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = string(KindUnexpectedError)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	}
	g.metrics.RequestDone(req.Method, outcome, time.Since(start))
	return resp, err
}

func (g *Gateway) send(ctx context.Context, req *Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, &Error{Kind: KindUnexpectedError, Message: "request body could not be encoded", Err: err}
	}

	gen := g.refreshGeneration()
	var token string
	if !req.Anonymous {
		token, err = g.store.AccessToken(ctx)
		if err != nil {
			return nil, &Error{Kind: KindUnexpectedError, Message: "credentials could not be read", Err: err}
		}
	}
	return g.exchange(ctx, req, body, token, gen)
}

// exchange sends one attempt and classifies the outcome. gen is the
// refresh generation observed before token was read.
func (g *Gateway) exchange(ctx context.Context, req *Request, body []byte, token string, gen uint64) (*Response, error) {
	resp, err := g.roundTrip(ctx, req, body, token)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}
	return g.classify(ctx, req, body, token, gen, resp)
}

// classify maps a non-2xx reply to its outcome. The cases are checked in
// order and do not overlap.
func (g *Gateway) classify(ctx context.Context, req *Request, body []byte, token string, gen uint64, resp *Response) (*Response, error) {
	status := resp.Status
	logger := loggerFrom(ctx, g.logger)

	switch {
	case g.isRefreshPath(req.Path):
		_ = g.ForceLogout(ctx, session.ReasonRefreshFailed)
		return nil, &Error{Kind: KindAuthExpired, Status: status, Message: "your session has expired, please log in again"}

	case status == http.StatusUnauthorized && !req.Anonymous && !isRetried(ctx):
		next, err := g.tokenForRetry(ctx, token, gen)
		if err != nil {
			return nil, err
		}
		logger.Debug("replaying request with refreshed token", "path", req.Path)
		return g.exchange(markRetried(ctx), req, body, next, gen)

	case status == http.StatusUnauthorized && !req.Anonymous:
		logger.Warn("request rejected after token refresh", "path", req.Path)
		_ = g.ForceLogout(ctx, session.ReasonRetryExhausted)
		return nil, &Error{Kind: KindAuthRetryExhausted, Status: status, Message: "your session is no longer valid, please log in again"}

	case status >= 400 && status < 500:
		msg := serverMessage(resp.Body)
		if msg == "" {
			msg = defaultMessage(status)
		}
		return nil, &Error{Kind: KindClientError, Status: status, Message: msg}

	case status >= 500 && status < 600:
		msg := serverMessage(resp.Body)
		if msg == "" {
			msg = defaultMessage(status)
		}
		logger.Warn("server error", "path", req.Path, "status", status)
		return nil, &Error{Kind: KindServerError, Status: status, Message: msg}

	default:
		return nil, &Error{Kind: KindUnexpectedError, Status: status, Message: fmt.Sprintf("unexpected response status %d", status)}
	}
}

// tokenForRetry returns the token to replay a 401 with. A call sent with a
// token that has since been replaced is replayed with the current one;
// otherwise the token is refreshed.
func (g *Gateway) tokenForRetry(ctx context.Context, sentWith string, gen uint64) (string, error) {
	current, err := g.store.AccessToken(ctx)
	if err != nil {
		return "", &Error{Kind: KindUnexpectedError, Message: "credentials could not be read", Err: err}
	}
	if current != "" && current != sentWith {
		return current, nil
	}
	return g.refresh(ctx, gen)
}

func (g *Gateway) isRefreshPath(p string) bool {
	return strings.TrimRight(p, "/") == strings.TrimRight(g.refreshPath, "/")
}

// roundTrip performs a single HTTP exchange with no classification beyond
// "did a response arrive". Failures are NetworkError. A replayed call
// reuses the X-Request-ID of the original.
func (g *Gateway) roundTrip(ctx context.Context, req *Request, body []byte, token string) (*Response, error) {
	logger := loggerFrom(ctx, g.logger)
	requestID, _ := ctx.Value(ctxkey.RequestIDKey{}).(string)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	target := g.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindUnexpectedError, Message: "request could not be built", Err: err}
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("X-Request-ID", requestID)
	if token != "" && !req.Anonymous {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	logger.Debug("sending request", "method", method, "path", req.Path,
		"token", session.Fingerprint(token), "retry", isRetried(ctx))

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		logger.Debug("request failed", "path", req.Path, "error", err)
		return nil, &Error{Kind: KindNetworkError, Message: "unable to reach the server, check your connection", Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, &Error{Kind: KindNetworkError, Status: httpResp.StatusCode, Message: "the response was interrupted", Err: err}
	}

	logger.Debug("response received", "path", req.Path, "status", httpResp.StatusCode, "bytes", len(data))
	return &Response{
		Status:    httpResp.StatusCode,
		Header:    httpResp.Header,
		Body:      data,
		NoContent: isEmptyBody(httpResp.StatusCode, data),
	}, nil
}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(ctxkey.RetriedKey{}).(bool)
	return v
}

func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxkey.RetriedKey{}, true)
}

// loggerFrom returns the request-scoped logger stored in ctx, or fallback.
func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}
