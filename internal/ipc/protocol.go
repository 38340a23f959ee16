// Package ipc implements the daemon's control socket: one JSON request and
// one JSON response per connection.
package ipc

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Commands accepted by the daemon
const (
	CommandShow      = "show"
	CommandCycleNext = "cycle-next"
	CommandCyclePrev = "cycle-prev"
	CommandCancel    = "cancel"
	CommandCommit    = "commit"
	CommandPing      = "ping"
	CommandStatus    = "status"
)

// Response statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Error tags carried by failed responses
const (
	ErrTagBackendUnavailable = "backend_unavailable"
	ErrTagUnknownCommand     = "unknown_command"
	ErrTagInternal           = "internal"
	ErrTagTimeout            = "timeout"
)

// ErrControlPlaneIO wraps failures on a single client connection.
var ErrControlPlaneIO = errors.New("control plane I/O error")

// ErrAlreadyRunning is returned by Listen when another daemon answers on the socket.
var ErrAlreadyRunning = errors.New("daemon already running")

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK builds a success response
func OK(message string) Response {
	return Response{Status: StatusOK, Message: message}
}

// Fail builds an error response with the given tag
func Fail(tag, message string) Response {
	return Response{Status: StatusError, Error: tag, Message: message}
}

// Known reports whether command is part of the protocol.
func Known(command string) bool {
	switch command {
	case CommandShow, CommandCycleNext, CommandCyclePrev, CommandCancel,
		CommandCommit, CommandPing, CommandStatus:
		return true
	}
	return false
}

// DefaultSocketPath returns $XDG_RUNTIME_DIR/witcher.sock, or a path under
// /tmp when the runtime directory is not set.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "witcher.sock")
	}
	return "/tmp/witcher.sock"
}
