// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error variables for backend failures. An *APIError unwraps to the one
// matching its status.
var (
	// ErrUnauthorized indicates a 401 from the backend.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrLoginRequired indicates the session could not be recovered by a
	// token refresh and the user has to log in again.
	ErrLoginRequired = errors.New("login required")

	// ErrForbidden indicates a 403.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates a 404.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates a 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrBadRequest indicates any other 4xx, or an envelope with a non-200
	// code.
	ErrBadRequest = errors.New("bad request")

	// ErrServerError indicates a 5xx.
	ErrServerError = errors.New("server error")

	// ErrNoRefreshToken means a refresh was needed but none is stored.
	ErrNoRefreshToken = errors.New("no refresh token")
)

// APIError is a failed backend call.
type APIError struct {
	// Op is the client operation, e.g. "list sessions".
	Op string
	// Status is the HTTP status code.
	Status int
	// Code is the envelope code, when the body carried one.
	Code int
	// Message is the envelope msg, or the status text.
	Message string

	loginRequired bool
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != 0 && e.Code != e.Status {
		return fmt.Sprintf("%s: HTTP %d [code %d]: %s", e.Op, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, msg)
}

// Unwrap returns the sentinel for the status.
func (e *APIError) Unwrap() error {
	status := e.Status
	if status >= 200 && status < 300 && e.Code != 0 {
		status = e.Code
	}
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrServerError
	default:
		return ErrBadRequest
	}
}

// Is matches ErrLoginRequired for a 401 that could not be recovered.
func (e *APIError) Is(target error) bool {
	return target == ErrLoginRequired && e.loginRequired
}

// IsLoginRequired reports whether err means the user must log in again.
func IsLoginRequired(err error) bool {
	return errors.Is(err, ErrLoginRequired)
}
