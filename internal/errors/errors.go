package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Chrono error code.
type ErrorCode string

const (
	// Configuration errors fail fast, before a run starts.
	ErrInvalidPattern  ErrorCode = "INVALID_PATTERN"  // 400
	ErrInvalidRule     ErrorCode = "INVALID_RULE"     // 400
	ErrInvalidTemplate ErrorCode = "INVALID_TEMPLATE" // 400
	ErrInvalidConfig   ErrorCode = "INVALID_CONFIG"   // 400

	// Resolution errors are recorded per plan entry.
	ErrUnresolvedReference ErrorCode = "UNRESOLVED_REFERENCE" // 422
	ErrUnsafeTraversal     ErrorCode = "UNSAFE_TRAVERSAL"     // 422

	ErrConflictUnresolved ErrorCode = "CONFLICT_UNRESOLVED" // 409

	// Execution errors are recorded per report entry.
	ErrPermissionDenied  ErrorCode = "PERMISSION_DENIED"  // 403
	ErrDiskFull          ErrorCode = "DISK_FULL"          // 507
	ErrSourceMissing     ErrorCode = "SOURCE_MISSING"     // 404
	ErrDestinationExists ErrorCode = "DESTINATION_EXISTS" // 409
	ErrCrossDevice       ErrorCode = "CROSS_DEVICE"       // 500
	ErrIOFailure         ErrorCode = "IO_FAILURE"         // 500

	// Undo/redo errors leave the history untouched.
	ErrUndoConflict  ErrorCode = "UNDO_CONFLICT"   // 409
	ErrUndoMissing   ErrorCode = "UNDO_MISSING"    // 410
	ErrNothingToUndo ErrorCode = "NOTHING_TO_UNDO" // 404
	ErrNothingToRedo ErrorCode = "NOTHING_TO_REDO" // 404

	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrInvalidState   ErrorCode = "INVALID_STATE"   // 409
	ErrEngineBusy     ErrorCode = "ENGINE_BUSY"     // 423
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrFileNotFound   ErrorCode = "FILE_NOT_FOUND"  // 404
	ErrCancelled      ErrorCode = "CANCELLED"       // 499
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// Category groups error codes so callers can render feedback per class.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryResolution    Category = "resolution"
	CategoryConflict      Category = "conflict"
	CategoryExecution     Category = "execution"
	CategoryUndo          Category = "undo"
	CategoryRequest       Category = "request"
	CategoryInternal      Category = "internal"
)

// Category returns the class the code belongs to.
func (c ErrorCode) Category() Category {
	switch c {
	case ErrInvalidPattern, ErrInvalidRule, ErrInvalidTemplate, ErrInvalidConfig:
		return CategoryConfiguration
	case ErrUnresolvedReference, ErrUnsafeTraversal:
		return CategoryResolution
	case ErrConflictUnresolved:
		return CategoryConflict
	case ErrPermissionDenied, ErrDiskFull, ErrSourceMissing, ErrDestinationExists, ErrCrossDevice, ErrIOFailure:
		return CategoryExecution
	case ErrUndoConflict, ErrUndoMissing, ErrNothingToUndo, ErrNothingToRedo:
		return CategoryUndo
	case ErrInternal:
		return CategoryInternal
	default:
		return CategoryRequest
	}
}

// ChronoError represents a structured error with code, status, and details.
type ChronoError struct {
	Code    ErrorCode      `json:"code"`
	Status  int            `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

// Error implements the error interface.
func (e *ChronoError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *ChronoError) Unwrap() error {
	return e.Cause
}

// WithDetail returns e after setting a detail key.
func (e *ChronoError) WithDetail(key string, value any) *ChronoError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewInvalidPattern creates a 400 error for a regex or glob that does not compile.
func NewInvalidPattern(pattern string, err error) *ChronoError {
	return &ChronoError{
		Code:    ErrInvalidPattern,
		Status:  400,
		Message: fmt.Sprintf("invalid pattern %q: %v", pattern, err),
		Details: map[string]any{"pattern": pattern},
		Cause:   err,
	}
}

// NewInvalidRule creates a 400 error for rule bounds or values that can never be valid.
func NewInvalidRule(kind, msg string) *ChronoError {
	return &ChronoError{
		Code:    ErrInvalidRule,
		Status:  400,
		Message: fmt.Sprintf("invalid %s rule: %s", kind, msg),
		Details: map[string]any{"rule": kind},
	}
}

// NewInvalidTemplate creates a 400 error for a template that fails to parse.
func NewInvalidTemplate(template, msg string) *ChronoError {
	return &ChronoError{
		Code:    ErrInvalidTemplate,
		Status:  400,
		Message: fmt.Sprintf("invalid template %q: %s", template, msg),
		Details: map[string]any{"template": template},
	}
}

// NewInvalidConfig creates a 400 error for an unusable configuration value.
func NewInvalidConfig(field, msg string) *ChronoError {
	return &ChronoError{
		Code:    ErrInvalidConfig,
		Status:  400,
		Message: fmt.Sprintf("invalid %s: %s", field, msg),
		Details: map[string]any{"field": field},
	}
}

// NewUnresolvedReference creates a 422 error naming the template reference that had no value.
func NewUnresolvedReference(ref, file string) *ChronoError {
	return &ChronoError{
		Code:    ErrUnresolvedReference,
		Status:  422,
		Message: fmt.Sprintf("template reference [%s] has no value for %s", ref, file),
		Details: map[string]any{"reference": ref, "file": file},
	}
}

// NewUnsafeTraversal creates a 422 error for a resolved path that would leave the destination root.
func NewUnsafeTraversal(path, file string) *ChronoError {
	return &ChronoError{
		Code:    ErrUnsafeTraversal,
		Status:  422,
		Message: fmt.Sprintf("resolved path %q escapes the destination root", path),
		Details: map[string]any{"path": path, "file": file},
	}
}

// NewConflictUnresolved creates a 409 error when no usable destination name exists.
func NewConflictUnresolved(destination, reason string) *ChronoError {
	return &ChronoError{
		Code:    ErrConflictUnresolved,
		Status:  409,
		Message: fmt.Sprintf("cannot resolve conflict at %s: %s", destination, reason),
		Details: map[string]any{"destination": destination, "reason": reason},
	}
}

// NewExecution creates an execution error. Stage names the step that failed
// and sourceIntact tells the caller whether the source file is untouched.
func NewExecution(code ErrorCode, stage, path string, sourceIntact bool, cause error) *ChronoError {
	status := 500
	switch code {
	case ErrPermissionDenied:
		status = 403
	case ErrDiskFull:
		status = 507
	case ErrSourceMissing:
		status = 404
	case ErrDestinationExists:
		status = 409
	}
	msg := fmt.Sprintf("%s failed for %s", stage, path)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &ChronoError{
		Code:    code,
		Status:  status,
		Message: msg,
		Details: map[string]any{"stage": stage, "path": path, "source_intact": sourceIntact},
		Cause:   cause,
	}
}

// NewUndoConflict creates a 409 error when reversing a record would clobber a file.
func NewUndoConflict(path, reason string) *ChronoError {
	return &ChronoError{
		Code:    ErrUndoConflict,
		Status:  409,
		Message: fmt.Sprintf("cannot reverse operation at %s: %s", path, reason),
		Details: map[string]any{"path": path, "reason": reason},
	}
}

// NewUndoMissing creates a 410 error when the file a record refers to is gone.
func NewUndoMissing(path string) *ChronoError {
	return &ChronoError{
		Code:    ErrUndoMissing,
		Status:  410,
		Message: fmt.Sprintf("file no longer exists: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewNothingToUndo creates a 404 error for an empty undo stack.
func NewNothingToUndo() *ChronoError {
	return &ChronoError{
		Code:    ErrNothingToUndo,
		Status:  404,
		Message: "no operation to undo",
	}
}

// NewNothingToRedo creates a 404 error when no undone record is available.
func NewNothingToRedo() *ChronoError {
	return &ChronoError{
		Code:    ErrNothingToRedo,
		Status:  404,
		Message: "no operation to redo",
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ChronoError {
	return &ChronoError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidState creates a 409 error for a call the engine state does not allow.
func NewInvalidState(state, action string) *ChronoError {
	return &ChronoError{
		Code:    ErrInvalidState,
		Status:  409,
		Message: fmt.Sprintf("cannot %s while engine is %s", action, state),
		Details: map[string]any{"state": state, "action": action},
	}
}

// NewEngineBusy creates a 423 error when another operation holds the engine or session.
func NewEngineBusy(msg string) *ChronoError {
	return &ChronoError{
		Code:    ErrEngineBusy,
		Status:  423,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing session or record.
func NewNotFound(identifier string) *ChronoError {
	return &ChronoError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing input file or directory.
func NewFileNotFound(path string) *ChronoError {
	return &ChronoError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewCancelled creates a 499 error for an operation stopped by its context.
func NewCancelled(operation string) *ChronoError {
	return &ChronoError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ChronoError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ChronoError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// As returns the ChronoError in err's chain, if any.
func As(err error) (*ChronoError, bool) {
	var cErr *ChronoError
	if stderrors.As(err, &cErr) {
		return cErr, true
	}
	return nil, false
}

// Is checks if an error is a ChronoError with the given code.
func Is(err error, code ErrorCode) bool {
	if cErr, ok := As(err); ok {
		return cErr.Code == code
	}
	return false
}

// CodeOf returns the code of err, or ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if cErr, ok := As(err); ok {
		return cErr.Code
	}
	return ErrInternal
}

// Wrap converts any error into a ChronoError, keeping existing ones as-is.
func Wrap(err error) *ChronoError {
	if err == nil {
		return nil
	}
	if cErr, ok := As(err); ok {
		return cErr
	}
	return NewInternal(err)
}
