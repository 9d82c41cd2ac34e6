package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/projectm/lms-session/internal/domain/session"
)

// refreshResult resolves a call waiting on the in-flight refresh.
type refreshResult struct {
	token string
	err   error
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	// RefreshToken is present only when the server rotates it.
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// errNoRefreshToken marks a refresh that could not start.
var errNoRefreshToken = errors.New("no refresh token stored")

// refresh returns a new access token. At most one refresh runs at a time;
// callers arriving while one is in flight wait for its outcome and are
// resumed in arrival order. A caller whose call was sent before the most
// recent refresh settled takes that outcome instead of starting another.
func (g *Gateway) refresh(ctx context.Context, sentUnder uint64) (string, error) {
	g.mu.Lock()
	if g.refreshing {
		ch := make(chan refreshResult, 1)
		g.waiters = append(g.waiters, ch)
		n := len(g.waiters)
		g.mu.Unlock()

		g.metrics.RefreshWaiters(n)
		select {
		case r := <-ch:
			return r.token, r.err
		case <-ctx.Done():
			// The refresh keeps running; the buffered channel absorbs its result.
			return "", &Error{Kind: KindNetworkError, Message: "request cancelled while waiting for session refresh", Err: ctx.Err()}
		}
	}
	if g.settled != sentUnder {
		r := g.last
		g.mu.Unlock()
		return r.token, r.err
	}
	g.refreshing = true
	g.mu.Unlock()

	token, err := g.performRefresh(ctx)

	var result refreshResult
	var reason session.Reason
	if err != nil {
		reason = session.ReasonRefreshFailed
		if errors.Is(err, errNoRefreshToken) {
			reason = session.ReasonNoRefreshToken
		}
		authErr := &Error{Kind: KindAuthExpired, Message: "your session has expired, please log in again", Err: err}
		var gerr *Error
		if errors.As(err, &gerr) {
			authErr.Status = gerr.Status
		}
		result.err = authErr
	} else {
		result.token = token
	}

	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.refreshing = false
	g.settled++
	g.last = result
	g.mu.Unlock()
	g.metrics.RefreshWaiters(0)

	if result.err != nil {
		g.metrics.RefreshDone("failure")
		loggerFrom(ctx, g.logger).Warn("session refresh failed", "reason", reason, "error", err, "waiters", len(waiters))
		_ = g.ForceLogout(ctx, reason)
	} else {
		g.metrics.RefreshDone("success")
		loggerFrom(ctx, g.logger).Info("session refreshed", "token", session.Fingerprint(token), "waiters", len(waiters))
	}
	for _, w := range waiters {
		w <- result
	}
	return result.token, result.err
}

// refreshGeneration returns the number of refreshes settled so far.
func (g *Gateway) refreshGeneration() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settled
}

// performRefresh exchanges the stored refresh token for a new access token
// and persists it. It runs detached from the caller's cancellation,
// bounded by the request timeout.
func (g *Gateway) performRefresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	ctx, span := g.tracer.Start(ctx, "gateway.refresh")
	defer span.End()

	creds, err := g.store.Credentials(ctx)
	if err != nil {
		return "", err
	}
	if creds.RefreshToken == "" {
		span.SetStatus(codes.Error, "no refresh token")
		return "", errNoRefreshToken
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: creds.RefreshToken})
	if err != nil {
		return "", err
	}
	req := &Request{Method: http.MethodPost, Path: g.refreshPath, Anonymous: true}
	resp, err := g.roundTrip(ctx, req, body, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh request failed")
		return "", err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	if resp.Status < 200 || resp.Status >= 300 {
		span.SetStatus(codes.Error, "refresh rejected")
		return "", &Error{Kind: KindAuthExpired, Status: resp.Status, Message: serverMessage(resp.Body)}
	}

	var out refreshResponse
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &Error{Kind: KindUnexpectedError, Status: resp.Status, Message: "refresh response carried no access token"}
	}

	// Persisted before the in-flight flag is released so no caller can
	// observe the old token after the refresh settles.
	if err := g.store.SetAccessToken(ctx, out.AccessToken, out.RefreshToken); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}
