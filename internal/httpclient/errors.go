package httpclient

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/valyala/fasthttp"

	"yqhp/load-engine/pkg/types"
)

// Classify maps a transport error to an ErrorKind. Typed errors are checked
// first, message matching is the fallback for errors fasthttp wraps as text.
func Classify(err error) types.ErrorKind {
	if err == nil {
		return ""
	}

	if errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrDialTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return types.ErrKindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return types.ErrKindTimeout
		}
		return types.ErrKindDNSFailure
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return types.ErrKindConnectionRefused
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.ErrKindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return types.ErrKindTimeout
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "lookup "):
		return types.ErrKindDNSFailure
	case strings.Contains(msg, "connection refused"):
		return types.ErrKindConnectionRefused
	}
	return types.ErrKindOther
}
