package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Category classifies an RPC-side failure for metrics and retry decisions.
type Category string

const (
	CategoryTimeout    Category = "timeout"
	CategoryConnection Category = "connection"
	CategoryRPC        Category = "rpc"
	CategoryValue      Category = "value"
	CategoryUnknown    Category = "unknown"
)

// CallError is the tagged error surfaced by every Client operation. Callers
// branch on Category and Permanent instead of matching error strings.
type CallError struct {
	Op        string
	Category  Category
	Code      int
	Permanent bool
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc operation %s failed (%s): %v", e.Op, e.Category, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// JSON-RPC codes treated as permanent: retrying the identical request
// cannot succeed.
var permanentRPCCodes = map[int]bool{
	-32600: true, // invalid request
	-32601: true, // method not found
	-32602: true, // invalid params
	-32700: true, // parse error
}

var tooLargeKeywords = []string{
	"too big",
	"too large",
	"response size",
	"exceeded max",
	"exceed maximum",
	"block range",
	"range too wide",
	"query returned more than",
}

// Categorize maps an arbitrary transport error onto exactly one Category and
// wraps it in a CallError. Errors already wrapped pass through unchanged.
func Categorize(op string, err error) *CallError {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Op: op, Category: CategoryTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CallError{Op: op, Category: CategoryTimeout, Err: err}
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return &CallError{Op: op, Category: CategoryConnection, Err: err}
	}

	message := strings.ToLower(err.Error())
	for _, keyword := range []string{"connection refused", "connection reset", "network unreachable", "no such host", "eof", "broken pipe", "tls"} {
		if strings.Contains(message, keyword) {
			return &CallError{Op: op, Category: CategoryConnection, Err: err}
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		code := rpcErr.ErrorCode()
		return &CallError{
			Op:        op,
			Category:  CategoryRPC,
			Code:      code,
			Permanent: permanentRPCCodes[code],
			Err:       err,
		}
	}

	if strings.Contains(message, "json-rpc") || strings.Contains(message, "rpc error") {
		return &CallError{Op: op, Category: CategoryRPC, Err: err}
	}

	return &CallError{Op: op, Category: CategoryUnknown, Err: err}
}

// NewValueError marks a decoding or ABI-level failure; these are permanent
// and never retried.
func NewValueError(op string, err error) *CallError {
	return &CallError{Op: op, Category: CategoryValue, Permanent: true, Err: err}
}

// ErrorCategory extracts the category from an error, defaulting to unknown.
func ErrorCategory(err error) Category {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Category
	}
	return CategoryUnknown
}

// IsRetryable reports whether a transparent retry of the same request is
// worthwhile. Too-wide log ranges are excluded: the chunker reacts to those
// by splitting, not by repeating.
func IsRetryable(err error) bool {
	var callErr *CallError
	if !errors.As(err, &callErr) {
		return true
	}

	switch callErr.Category {
	case CategoryTimeout, CategoryConnection, CategoryUnknown:
		return true
	case CategoryRPC:
		return !callErr.Permanent && !IsTooLargeRange(err)
	default:
		return false
	}
}

// IsTooLargeRange reports whether the provider rejected an eth_getLogs call
// for covering too wide a span or producing too large a response.
func IsTooLargeRange(err error) bool {
	var callErr *CallError
	if !errors.As(err, &callErr) {
		return false
	}

	if callErr.Category != CategoryRPC {
		return false
	}

	message := strings.ToLower(callErr.Err.Error())
	for _, keyword := range tooLargeKeywords {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	return false
}
