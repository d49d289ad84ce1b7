// Package backoff throttles repeated failed login attempts with an
// exponential delay per (IP, username) key, blocking the key outright after
// too many failures. Every attempt leaves an audit row.
package backoff

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ivansuy/finalsecurityandaudit/internal/logger"
	"github.com/ivansuy/finalsecurityandaudit/pkg/config"
	"github.com/ivansuy/finalsecurityandaudit/pkg/database/queries"
)

// AttemptLogger records one audit row per registered attempt.
type AttemptLogger interface {
	Insert(ctx context.Context, attempt *queries.AuthAttempt) error
}

// Result is the throttling outcome for one attempt.
type Result struct {
	Delay     time.Duration
	FailCount int
	Blocked   bool
}

type keyState struct {
	failCount    int
	blockedUntil time.Time
	expiresAt    time.Time
}

// Service owns the per-key state explicitly; it is held by the server
// instance that created it, never shared process-wide.
type Service struct {
	cfg      config.BackoffConfig
	attempts AttemptLogger

	mu    sync.Mutex
	state map[string]*keyState
}

func NewService(cfg config.BackoffConfig, attempts AttemptLogger) *Service {
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = 8
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 10 * time.Minute
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	return &Service{
		cfg:      cfg,
		attempts: attempts,
		state:    make(map[string]*keyState),
	}
}

// BuildKey derives the throttling key from IP and username.
func BuildKey(ip string, username *string) string {
	user := "-"
	if username != nil && *username != "" {
		user = *username
	}
	return strings.ToLower(ip + "|" + user)
}

// RegisterAttempt records one login attempt and returns the delay to apply
// before responding, the failure count for the key, and whether the key is
// currently blocked.
func (s *Service) RegisterAttempt(ctx context.Context, key string, success bool, ip string, username *string, reason string) (Result, error) {
	now := time.Now().UTC()
	result := s.update(key, success, now)

	attempt := &queries.AuthAttempt{
		AttemptAtUtc:          now,
		Username:              username,
		IPAddress:             ip,
		Success:               success && !result.Blocked,
		FailCountForKey:       result.FailCount,
		BackoffSecondsApplied: int(result.Delay.Seconds()),
		Reason:                &reason,
	}
	if result.Blocked {
		blocked := "Blocked"
		attempt.Reason = &blocked
	}

	if err := s.attempts.Insert(ctx, attempt); err != nil {
		// The audit row must not break the login flow.
		logger.WithIP(ip).Errorf("Failed to log auth attempt: %v", err)
	}

	return result, nil
}

func (s *Service) update(key string, success bool, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.state[key]
	if !ok || now.After(state.expiresAt) {
		state = &keyState{}
		s.state[key] = state
	}
	state.expiresAt = now.Add(s.cfg.Window)

	if !state.blockedUntil.IsZero() && now.Before(state.blockedUntil) {
		return Result{FailCount: state.failCount, Blocked: true}
	}

	if success {
		state.failCount = 0
		state.blockedUntil = time.Time{}
		return Result{}
	}

	state.failCount++
	delaySeconds := math.Min(math.Pow(2, float64(state.failCount)), s.cfg.MaxBackoff.Seconds())
	delay := time.Duration(delaySeconds * float64(time.Second))

	if state.failCount >= s.cfg.BlockThreshold {
		state.blockedUntil = now.Add(s.cfg.BlockTime)
	}

	return Result{
		Delay:     delay,
		FailCount: state.failCount,
		Blocked:   !state.blockedUntil.IsZero() && now.Before(state.blockedUntil),
	}
}

// Prune drops expired keys. Called opportunistically by the owner.
func (s *Service) Prune() {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, state := range s.state {
		if now.After(state.expiresAt) {
			delete(s.state, key)
		}
	}
}
