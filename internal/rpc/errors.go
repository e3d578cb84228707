package rpc

import (
	stderrors "errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const (
	CodeFunctionNotFound = "FUNCTION_NOT_FOUND"
	CodeOffline          = "OFFLINE"
	CodeAborted          = "ABORTED"
	CodeDuplicateKey     = "DUPLICATE_KEY"
	CodePermissionDenied = "PERMISSION_DENIED"
)

// Error is a failure reported by the backend, carrying enough structure to
// classify it without matching on free-form text.
type Error struct {
	Code       string
	HTTPStatus int
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("backend error (http %d): %s", e.HTTPStatus, e.Message)
}

// IsNotFound reports whether err is the backend's "procedure not found"
// signature for the named procedure: a missing-function code, an HTTP 404,
// or a message that names the function. Generic error text never matches.
func IsNotFound(err error, procedure string) bool {
	var be *Error
	if !stderrors.As(err, &be) {
		return false
	}
	if be.Code == CodeFunctionNotFound || be.HTTPStatus == 404 {
		return true
	}
	pattern := regexp.MustCompile(
		`(?i)function\s+"?` + regexp.QuoteMeta(procedure) + `"?\s+(does not exist|not found|is unknown)`,
	)
	return pattern.MatchString(be.Message)
}

// IsUnavailable reports whether err is a transient connectivity failure:
// the device is offline or the request was aborted mid-flight.
func IsUnavailable(err error) bool {
	var be *Error
	if stderrors.As(err, &be) {
		return be.Code == CodeOffline || be.Code == CodeAborted
	}
	var ne net.Error
	if stderrors.As(err, &ne) {
		return true
	}
	// url.Error wraps dial failures that are not net.Error on some platforms.
	return err != nil && strings.Contains(err.Error(), "connection refused")
}

// IsDuplicateKey reports whether err is a duplicate insert on a key that
// already represents a completed operation. Callers treat this as success.
func IsDuplicateKey(err error) bool {
	var be *Error
	if stderrors.As(err, &be) && be.Code == CodeDuplicateKey {
		return true
	}
	var me *mysql.MySQLError
	return stderrors.As(err, &me) && me.Number == 1062
}

func IsPermissionDenied(err error) bool {
	var be *Error
	if !stderrors.As(err, &be) {
		return false
	}
	return be.Code == CodePermissionDenied || be.HTTPStatus == 403
}
