package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/projectm/lms-session/internal/port/outbound"
)

// Store reads and writes session state through a KeyValueStore.
// It holds no state of its own; every read goes to the backend so that
// writes from other processes sharing the store are observed.
type Store struct {
	kv outbound.KeyValueStore
}

// NewStore creates a Store over kv.
func NewStore(kv outbound.KeyValueStore) *Store {
	return &Store{kv: kv}
}

// KV returns the underlying key-value store.
func (s *Store) KV() outbound.KeyValueStore {
	return s.kv
}

// Credentials returns the stored token pair. Missing keys yield empty fields.
func (s *Store) Credentials(ctx context.Context) (Credentials, error) {
	access, _, err := s.kv.Get(ctx, KeyAccessToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("read access token: %w", err)
	}
	refresh, _, err := s.kv.Get(ctx, KeyRefreshToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("read refresh token: %w", err)
	}
	return Credentials{AccessToken: access, RefreshToken: refresh}, nil
}

// AccessToken returns the stored access token, or "" when absent.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	v, _, err := s.kv.Get(ctx, KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	return v, nil
}

// SaveCredentials replaces both tokens. An empty refresh token removes the
// stored one.
func (s *Store) SaveCredentials(ctx context.Context, c Credentials) error {
	if err := s.kv.Set(ctx, KeyAccessToken, c.AccessToken); err != nil {
		return fmt.Errorf("write access token: %w", err)
	}
	if c.RefreshToken == "" {
		if err := s.kv.Delete(ctx, KeyRefreshToken); err != nil {
			return fmt.Errorf("delete refresh token: %w", err)
		}
		return nil
	}
	if err := s.kv.Set(ctx, KeyRefreshToken, c.RefreshToken); err != nil {
		return fmt.Errorf("write refresh token: %w", err)
	}
	return nil
}

// SetAccessToken stores a refreshed access token. A non-empty rotated
// refresh token replaces the stored one; an empty one leaves it untouched.
func (s *Store) SetAccessToken(ctx context.Context, access, rotatedRefresh string) error {
	if err := s.kv.Set(ctx, KeyAccessToken, access); err != nil {
		return fmt.Errorf("write access token: %w", err)
	}
	if rotatedRefresh != "" {
		if err := s.kv.Set(ctx, KeyRefreshToken, rotatedRefresh); err != nil {
			return fmt.Errorf("write refresh token: %w", err)
		}
	}
	return nil
}

// ClearCredentials removes both tokens.
func (s *Store) ClearCredentials(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyAccessToken, KeyRefreshToken); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// LastActivity returns the persisted last-interaction time. ok is false when
// nothing is stored or the stored value is not a unix-millisecond integer.
func (s *Store) LastActivity(ctx context.Context) (t time.Time, ok bool, err error) {
	v, found, err := s.kv.Get(ctx, KeyLastActivity)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last activity: %w", err)
	}
	if !found {
		return time.Time{}, false, nil
	}
	ms, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// RecordActivity persists t as the last-interaction time.
func (s *Store) RecordActivity(ctx context.Context, t time.Time) error {
	if err := s.kv.Set(ctx, KeyLastActivity, strconv.FormatInt(t.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("write last activity: %w", err)
	}
	return nil
}

// ClearActivity removes the persisted last-interaction time.
func (s *Store) ClearActivity(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyLastActivity); err != nil {
		return fmt.Errorf("clear last activity: %w", err)
	}
	return nil
}

// Exempt reports whether a live session is in progress. Only the literal
// "true" counts; the flag is written by the live package.
func (s *Store) Exempt(ctx context.Context) (bool, error) {
	v, _, err := s.kv.Get(ctx, KeyLiveSessionActive)
	if err != nil {
		return false, fmt.Errorf("read live session flag: %w", err)
	}
	return v == "true", nil
}
