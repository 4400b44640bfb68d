/***************************************************************
 *
 * Copyright (C) 2025, Morph Project
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package api

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// AuthError indicates the service rejected our bearer credential.  The
// poller responds by refreshing the credential and retrying, up to its
// retry budget.
type AuthError struct {
	Op string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: request was not authorized", e.Op)
}

// ThrottleError indicates the service rate-limited the request.  Always
// retryable after a pause.
type ThrottleError struct {
	Op string
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("%s: request was throttled by the service", e.Op)
}

// TransportError indicates the request never completed at the network
// level (connection reset, timeout, DNS failure); no HTTP response was
// seen.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request failed: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ServiceError carries a non-2xx response that is neither an auth
// rejection nor throttling.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: service returned HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: service returned HTTP %d", e.Op, e.StatusCode)
}

// IsAuthError reports whether err (or anything it wraps) is a credential
// rejection.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsRetryable reports whether the error is transient from the polling
// loop's perspective: throttling, server-side 5xx responses, and
// network-level failures are worth another attempt, client-side 4xx
// responses are not.
func IsRetryable(err error) bool {
	var throttle *ThrottleError
	if errors.As(err, &throttle) {
		return true
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.StatusCode >= 500 && svcErr.StatusCode < 600
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		// A cancelled request is the caller's doing, not a network blip.
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return false
}
