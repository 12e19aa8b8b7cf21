// Unified error handling for the G-code interpreter host
//
// Copyright (C) 2026  RepRap Host Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Parse errors: the command is discarded, interpreter state unchanged
	ErrParseField   ErrorCode = "PARSE_FIELD"
	ErrParseMissing ErrorCode = "PARSE_MISSING_FIELD"
	ErrParseArray   ErrorCode = "PARSE_ARRAY_OVERFLOW"
	ErrParseUnknown ErrorCode = "PARSE_UNKNOWN_CMD"

	// Precondition errors: the command is rejected, no state mutation
	ErrPrecondUnhomed ErrorCode = "PRECOND_UNHOMED_AXIS"
	ErrPrecondBusy    ErrorCode = "PRECOND_SEQUENCE_BUSY"
	ErrPrecondNoFile  ErrorCode = "PRECOND_NO_FILE"
	ErrPrecondNoTool  ErrorCode = "PRECOND_NO_TOOL"

	// Resource exhaustion: backpressure, the caller retries later
	ErrResourceQueue ErrorCode = "RESOURCE_CODE_QUEUE"
	ErrResourceStack ErrorCode = "RESOURCE_STACK"

	// Hardware/physical errors: fatal to the enclosing sequence
	ErrHardwareProbe   ErrorCode = "HARDWARE_PROBE"
	ErrHardwareEndstop ErrorCode = "HARDWARE_ENDSTOP"
	ErrHardwareHeater  ErrorCode = "HARDWARE_HEATER"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
	ErrRuntimeFile ErrorCode = "RUNTIME_FILE"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Source is the command channel the failing line came from
	Source string

	// Command is the G-code line being executed (if applicable)
	Command string

	// Step names the sequence step that failed (homing/probing/tool change)
	Step string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("[%s] %s (command %q)", e.Code, e.Message, e.Command)
	}
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (step %s)", e.Code, e.Message, e.Step)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetSource sets the originating command channel
func (e *HostError) SetSource(source string) *HostError {
	e.Source = source
	return e
}

// SetCommand sets the failing command text
func (e *HostError) SetCommand(command string) *HostError {
	e.Command = command
	return e
}

// SetStep sets the failing sequence step
func (e *HostError) SetStep(step string) *HostError {
	e.Step = step
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a category and message
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Parse errors

// ParseError creates an error for a malformed field value
func ParseError(command string, err error) *HostError {
	return Wrap(err, ErrParseField, "malformed field value").SetCommand(command)
}

// MissingParameterError creates an error for a missing required field
func MissingParameterError(command string, letter byte) *HostError {
	return New(ErrParseMissing, fmt.Sprintf("missing required field %c", letter)).SetCommand(command)
}

// ArrayOverflowError creates an error for an over-capacity value list
func ArrayOverflowError(command string, capacity int) *HostError {
	return New(ErrParseArray, fmt.Sprintf("more than %d values in list", capacity)).SetCommand(command)
}

// UnknownCommandError creates an error for an unrecognised code
func UnknownCommandError(command string) *HostError {
	return New(ErrParseUnknown, "unsupported command").SetCommand(command)
}

// Precondition errors

// UnhomedAxisError creates an error for a move on an unhomed axis
func UnhomedAxisError(axis byte) *HostError {
	return New(ErrPrecondUnhomed, fmt.Sprintf("%c axis has not been homed", axis))
}

// SequenceBusyError creates an error for a sequence requested mid-sequence
func SequenceBusyError(requested, active string) *HostError {
	return New(ErrPrecondBusy, fmt.Sprintf("cannot start %s while %s is in progress", requested, active))
}

// NoFileError creates an error for a file operation without a file
func NoFileError(path string) *HostError {
	return New(ErrPrecondNoFile, fmt.Sprintf("file %s not found", path))
}

// NoToolError creates an error for an unknown tool number
func NoToolError(tool int) *HostError {
	return New(ErrPrecondNoTool, fmt.Sprintf("tool %d is not defined", tool))
}

// Resource exhaustion

// QueueFullError creates a backpressure error for the delayed code queue
func QueueFullError() *HostError {
	return New(ErrResourceQueue, "delayed code queue is full; retry later")
}

// StackError creates an error for modal stack overflow or underflow
func StackError(op string, depth int) *HostError {
	return New(ErrResourceStack, fmt.Sprintf("modal stack %s at depth %d", op, depth))
}

// Hardware errors

// ProbeFailedError creates an error for a probe that never triggered
func ProbeFailedError(point int) *HostError {
	return New(ErrHardwareProbe, fmt.Sprintf("probe did not trigger at point %d", point))
}

// EndstopFailedError creates an error for an endstop that never triggered
func EndstopFailedError(axis byte) *HostError {
	return New(ErrHardwareEndstop, fmt.Sprintf("%c endstop did not trigger within travel limit", axis))
}

// HeaterTimeoutError creates an error for a heater that never arrived
func HeaterTimeoutError(heater int) *HostError {
	return New(ErrHardwareHeater, fmt.Sprintf("heater %d failed to reach target in time", heater))
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// FileError wraps a storage failure
func FileError(path string, err error) *HostError {
	return Wrap(err, ErrRuntimeFile, fmt.Sprintf("file operation on %s failed", path))
}

// RecoverPanic safely recovers from panic and converts to error
func RecoverPanic() *HostError {
	if r := recover(); r != nil {
		var err error
		switch x := r.(type) {
		case string:
			err = RuntimeError(fmt.Sprintf("panic: %s", x))
		case runtime.Error:
			err = RuntimeError(x.Error())
		case error:
			err = RuntimeError(x.Error())
		default:
			err = RuntimeError(fmt.Sprintf("panic: %v", x))
		}
		return err.(*HostError)
	}
	return nil
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if hostErr, ok := err.(*HostError); ok {
		return hostErr.Code == code
	}
	return false
}

// IsParse checks if error is a parse error
func IsParse(err error) bool {
	return Is(err, ErrParseField) ||
		Is(err, ErrParseMissing) ||
		Is(err, ErrParseArray) ||
		Is(err, ErrParseUnknown)
}

// IsPrecondition checks if error is a precondition error
func IsPrecondition(err error) bool {
	return Is(err, ErrPrecondUnhomed) ||
		Is(err, ErrPrecondBusy) ||
		Is(err, ErrPrecondNoFile) ||
		Is(err, ErrPrecondNoTool)
}

// IsResource checks if error is a resource-exhaustion (backpressure) error
func IsResource(err error) bool {
	return Is(err, ErrResourceQueue) ||
		Is(err, ErrResourceStack)
}

// IsHardware checks if error is fatal to the enclosing sequence
func IsHardware(err error) bool {
	return Is(err, ErrHardwareProbe) ||
		Is(err, ErrHardwareEndstop) ||
		Is(err, ErrHardwareHeater)
}
