package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
)

// ClassifyError wraps a raw adapter error with the matching error sentinel so
// handlers map it to the right status: unreachable sources become
// SOURCE_UNAVAILABLE, deadline hits become SOURCE_TIMEOUT, and everything the
// source itself refused (bad SQL, permissions, constraint failures) becomes
// SOURCE_REJECTED.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apperrors.ErrSourceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", apperrors.ErrSourceTimeout, err)
		}
		return fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) {
		return fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") {
		return fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, err)
	}

	return fmt.Errorf("%w: %v", apperrors.ErrSourceRejected, err)
}

// EffectiveLimit normalizes a requested row limit against MaxQueryLimit.
func EffectiveLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
