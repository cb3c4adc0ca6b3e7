package ecs

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"

	"github.com/NavarchProject/drainwatch/pkg/retry"
)

// ErrQuery classifies every failure to get a well-formed answer from the orchestrator.
var ErrQuery = errors.New("cluster query failed")

// QueryError is returned by every ClusterClient method.
type QueryError struct {
	Op        string // API operation, e.g. "ListTasks"
	Cause     error
	Retryable bool // throttling, server-side or transport failure
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("ecs %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// Is matches ErrQuery.
func (e *QueryError) Is(target error) bool {
	return target == ErrQuery
}

// NewQueryError wraps cause, classifying whether another attempt may succeed.
func NewQueryError(op string, cause error) *QueryError {
	return &QueryError{Op: op, Cause: cause, Retryable: isTransient(cause)}
}

// IsRetryable reports whether err is a QueryError worth retrying.
// It is meant to be used as a retry.Config RetryableFunc.
func IsRetryable(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Retryable
	}
	return false
}

var throttleCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestThrottledException":              true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
	"ServerException":                        true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"InternalFailure":                        true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if throttleCodes[apiErr.ErrorCode()] {
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	type statusCoder interface {
		HTTPStatusCode() int
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		return code == 429 || code >= 500
	}

	if retry.IsTimeout(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
