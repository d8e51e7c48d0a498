// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

var ErrNotConnected = errors.New("handler is not connected")

// AuthError is terminal, retrying with the same credentials will not help.
type AuthError struct {
	Protocol Protocol
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Protocol, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection lost during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// ThrottledError is returned once the server kept throttling after all retries.
type ThrottledError struct {
	StatusCode int
	RetryAfter time.Duration
	Attempts   int
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("request still throttled after %d attempts, last status %d", e.Attempts, e.StatusCode)
}

// RecoveryError means reconnection was given up, the session is failed.
type RecoveryError struct {
	Attempts int
	Err      error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("could not recover connection after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RecoveryError) Unwrap() error {
	return e.Err
}

type NotFoundError struct {
	Id string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %q not found", e.Id)
}

type UnsupportedProtocolError struct {
	Protocol string
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("unsupported protocol %q", e.Protocol)
}

type ParseError struct {
	Id  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse message %s: %v", e.Id, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

func IsRecoveryError(err error) bool {
	var recoveryErr *RecoveryError
	return errors.As(err, &recoveryErr)
}

func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnectionError reports whether err means the underlying session is gone
// and a reconnect may help. Timeouts count as connection errors.
func IsConnectionError(err error) bool {
	if err == nil || IsAuthError(err) || IsRecoveryError(err) {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	if IsTimeout(err) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}
