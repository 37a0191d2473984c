package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// RecoveryAction classifies a tool-server failure for the retry path.
type RecoveryAction int

const (
	// NoRetry — not recoverable (bad request, auth failure, timeout).
	NoRetry RecoveryAction = iota
	// RetryNewSession — transport died; recreate the session and retry once.
	RetryNewSession
)

// ClassifyError decides the recovery action for a tool-server error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return RetryNewSession
	}
	if isConnectionError(err) {
		return RetryNewSession
	}
	return NoRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
