// Package domain defines core types, interfaces, and errors for the ETL orchestrator.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ConfigurationError indicates missing or invalid metadata. It is fatal and
// aborts a run before any pipeline executes.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Message }

// CycleDetectedError reports a dependency cycle between pipeline definitions.
// Names lists the pipelines on the cycle in traversal order.
type CycleDetectedError struct {
	Names []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Names, " -> "))
}

// UnitInvocationError wraps a failure returned by a named transform or load unit.
type UnitInvocationError struct {
	Unit string
	Err  error
}

func (e *UnitInvocationError) Error() string {
	return fmt.Sprintf("unit %s failed: %v", e.Unit, e.Err)
}

func (e *UnitInvocationError) Unwrap() error { return e.Err }

// MergeConflictError indicates that two writers touched the same business key
// of an SCD2 target concurrently.
type MergeConflictError struct {
	Table string
	Key   string
	Cause string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict on %s key %s: %s", e.Table, e.Key, e.Cause)
}

// ScoringRuleError indicates a DQ predicate could not be evaluated.
type ScoringRuleError struct {
	EntityType string
	FieldName  string
	RuleType   RuleType
	Err        error
}

func (e *ScoringRuleError) Error() string {
	return fmt.Sprintf("dq rule %s.%s (%s): %v", e.EntityType, e.FieldName, e.RuleType, e.Err)
}

func (e *ScoringRuleError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrConfiguration creates a ConfigurationError with a formatted message.
func ErrConfiguration(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// Error codes stored on execution records.
const (
	ErrorCodeUnitInvocation = "UNIT_INVOCATION"
	ErrorCodeMergeConflict  = "MERGE_CONFLICT"
	ErrorCodeConfiguration  = "CONFIGURATION"
	ErrorCodeCancelled      = "CANCELLED"
	ErrorCodeUpstream       = "UPSTREAM_FAILURE"
	ErrorCodeRunHalted      = "RUN_HALTED"
	ErrorCodeDisabledDep    = "DISABLED_DEPENDENCY"
	ErrorCodeInternal       = "INTERNAL"
	ErrorCodeInterrupted    = "INTERRUPTED"
)

// IsRetryable reports whether an attempt that failed with err may be retried.
// Merge conflicts, invalid input and configuration problems fail the same way
// on every attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var mc *MergeConflictError
	var ce *ConfigurationError
	var cy *CycleDetectedError
	var ve *ValidationError
	switch {
	case errors.As(err, &mc), errors.As(err, &ce), errors.As(err, &cy), errors.As(err, &ve):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// ErrorCode maps an error to the stable code recorded in the execution log.
func ErrorCode(err error) string {
	var (
		mc *MergeConflictError
		ce *ConfigurationError
		ui *UnitInvocationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &mc):
		return ErrorCodeMergeConflict
	case errors.As(err, &ce):
		return ErrorCodeConfiguration
	case errors.Is(err, context.Canceled):
		return ErrorCodeCancelled
	case errors.As(err, &ui):
		return ErrorCodeUnitInvocation
	default:
		return ErrorCodeInternal
	}
}
