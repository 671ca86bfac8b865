// Package errors provides a structured error system for spillcache with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for spillcache operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Storage Errors
	ErrCodeDirectoryUnavailable ErrorCode = "DIRECTORY_UNAVAILABLE"
	ErrCodeStorageWrite         ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageRead          ErrorCode = "STORAGE_READ"

	// Integrity Errors
	ErrCodeIntegrity   ErrorCode = "INTEGRITY_VIOLATION"
	ErrCodePartCorrupt ErrorCode = "PART_CORRUPT"
	ErrCodePartMissing ErrorCode = "PART_MISSING"

	// State Management Errors
	ErrCodeCacheDeleted ErrorCode = "CACHE_DELETED"
	ErrCodeReaderClosed ErrorCode = "READER_CLOSED"
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// Operation Errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"

	// Internal System Errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryIntegrity     ErrorCategory = "integrity"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Terminal errors end the life of the object that raised them
	// (a reader or the producer); nothing is retried internally.
	Terminal bool `json:"terminal"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Terminal {
		parts = append(parts, "Terminal=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *CacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with default values for its code.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Terminal:  IsTerminalByDefault(code),
	}
}

// Newf is NewError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error with the given cause.
func Wrap(cause error, code ErrorCode, message string) *CacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodeDirectoryUnavailable, ErrCodeStorageWrite, ErrCodeStorageRead:
		return CategoryStorage
	case ErrCodeIntegrity, ErrCodePartCorrupt, ErrCodePartMissing:
		return CategoryIntegrity
	case ErrCodeCacheDeleted, ErrCodeReaderClosed, ErrCodeInvalidState:
		return CategoryState
	case ErrCodeOperationTimeout, ErrCodeOperationCanceled, ErrCodeOperationFailed:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsTerminalByDefault reports whether errors with this code end the life of
// the reader or producer that raised them.
func IsTerminalByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeOperationTimeout, ErrCodeOperationCanceled,
		ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad, ErrCodeConfigSave:
		return false
	default:
		return true
	}
}

// HasCode reports whether any error in err's chain is a CacheError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var cacheErr *CacheError
	for err != nil {
		if stderrors.As(err, &cacheErr) {
			if cacheErr.Code == code {
				return true
			}
			err = cacheErr.Cause
			continue
		}
		return false
	}
	return false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// CodeOf returns the code of the first CacheError in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) ErrorCode {
	var cacheErr *CacheError
	if stderrors.As(err, &cacheErr) {
		return cacheErr.Code
	}
	return ErrCodeInternalError
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithDetail adds detailed information to an error
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *CacheError) WithStack() *CacheError {
	e.Stack = CaptureStack(2)
	return e
}

// GetRecommendation returns a recommendation for fixing the error
func (e *CacheError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeDirectoryUnavailable: "Check that the spill directory exists or can be created " +
			"and that the process has write permission on it.",
		ErrCodeStorageWrite: "Check free disk space in the spill directory. " +
			"The cache is incomplete and must be discarded.",
		ErrCodeStorageRead: "A part file could not be read. Check that nothing else " +
			"is removing files from the spill directory.",
		ErrCodeIntegrity: "The producer wrote an empty part for non-empty input. " +
			"The cache is incomplete and must be discarded.",
		ErrCodePartCorrupt: "A part file failed to decode. The spill directory may have " +
			"been modified while the cache was in use.",
		ErrCodePartMissing: "A part was removed before this reader reached it. " +
			"Do not share a cache between a consuming reader and other readers.",
		ErrCodeCacheDeleted: "The cache was deleted. Create a new cache to replay the stream.",
		ErrCodeReaderClosed: "The reader was closed. Obtain a new reader from the cache.",
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}
	return "Please check the error message for details."
}

// DetailedDiagnostic returns a multi-line diagnostic message
func (e *CacheError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.Message))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}

	if len(e.Details) > 0 {
		parts = append(parts, "\nDetails:")
		for k, v := range e.Details {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, v))
		}
	}

	parts = append(parts, "\nRecommendation:")
	parts = append(parts, "  "+e.GetRecommendation())

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}
