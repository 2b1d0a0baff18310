package ai

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"
)

// ErrRateLimited wraps provider 429 responses so callers can back off.
var ErrRateLimited = errors.New("ai: rate limited")

// ErrUnavailable wraps provider 5xx responses and open circuit breakers.
var ErrUnavailable = errors.New("ai: service unavailable")

// classify maps a provider error onto our sentinel errors so the retry
// logic upstream only has to check IsTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrUnavailable, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 429:
			return errors.Join(ErrRateLimited, err)
		case gerr.Code >= 500:
			return errors.Join(ErrUnavailable, err)
		}
		return err
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return errors.Join(ErrUnavailable, err)
	}

	// The genai SDK sometimes surfaces transport problems as plain strings.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "quota") {
		return errors.Join(ErrRateLimited, err)
	}
	if strings.Contains(msg, "unavailable") || strings.Contains(msg, "deadline exceeded") {
		return errors.Join(ErrUnavailable, err)
	}

	return err
}

// IsTransient reports whether err is worth retrying with backoff.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
