package retry

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/lib/pq"
)

// ErrNotVisibleYet is returned by storage reads when rows written moments ago
// are not queryable yet. Classified as an expected transient.
var ErrNotVisibleYet = errors.New("rows not visible yet")

// ClassifyWarehouseError is the default classifier for warehouse operations.
//
// Freshly created destinations report undefined-table until the catalog
// settles, and streaming writes lag reads; both are the normal first-attempt
// outcome on a new deployment, not real failures.
func ClassifyWarehouseError(err error) Classification {
	if err == nil {
		return ExpectedTransient
	}

	if errors.Is(err, ErrNotVisibleYet) || errors.Is(err, sql.ErrNoRows) {
		return ExpectedTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return UnexpectedTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return UnexpectedTransient
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == "42P01": // undefined_table: destination not ready yet
			return ExpectedTransient
		case strings.HasPrefix(code, "28"): // invalid authorization
			return Permanent
		case strings.HasPrefix(code, "42"): // syntax or access rule violation
			return Permanent
		case strings.HasPrefix(code, "22"): // data exception
			return Permanent
		case strings.HasPrefix(code, "23"): // integrity constraint violation
			return Permanent
		case strings.HasPrefix(code, "08"): // connection exception
			return UnexpectedTransient
		case strings.HasPrefix(code, "40"): // serialization failure, deadlock
			return UnexpectedTransient
		case strings.HasPrefix(code, "53"): // insufficient resources
			return UnexpectedTransient
		case code == "57P03": // cannot_connect_now
			return UnexpectedTransient
		}
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "does not exist"),
		strings.Contains(s, "not found"),
		strings.Contains(s, "streaming buffer"):
		return ExpectedTransient
	case strings.Contains(s, "permission"),
		strings.Contains(s, "unauthorized"),
		strings.Contains(s, "forbidden"),
		strings.Contains(s, "schema mismatch"):
		return Permanent
	case strings.Contains(s, "quota"),
		strings.Contains(s, "too many requests"),
		strings.Contains(s, "rate limit"),
		strings.Contains(s, "connection refused"),
		strings.Contains(s, "connection reset"),
		strings.Contains(s, "timeout"):
		return UnexpectedTransient
	}

	// Unknown failures retry rather than fail fast.
	return UnexpectedTransient
}
