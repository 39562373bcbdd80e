package dbmap

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable kind of an *Error.
type ErrorCode string

const (
	ErrCodeMappingNotFound               ErrorCode = "MappingNotFound"
	ErrCodePropertyAndMappingNotFound    ErrorCode = "PropertyAndMappingNotFound"
	ErrCodeMalformedMetaNameSyntax       ErrorCode = "MalformedMetaNameSyntax"
	ErrCodeTemplateNotFound              ErrorCode = "TemplateNotFound"
	ErrCodeTemplateArgumentCountMismatch ErrorCode = "TemplateArgumentCountMismatch"
	ErrCodeParameterValueMissing         ErrorCode = "ParameterValueMissing"
	ErrCodeConnectionCreationFailed      ErrorCode = "ConnectionCreationFailed"
	ErrCodeConnectionClosed              ErrorCode = "ConnectionClosed"
	ErrCodeTransactionBeginFailed        ErrorCode = "TransactionBeginFailed"
	ErrCodeTransactionCommitFailed       ErrorCode = "TransactionCommitFailed"
	ErrCodeTransactionRollbackFailed     ErrorCode = "TransactionRollbackFailed"
	ErrCodeExecutionFailed               ErrorCode = "ExecutionFailed"
	ErrCodeLastInsertIdNotNumber         ErrorCode = "LastInsertIdNotNumber"
	ErrCodeColumnNotInResultSet          ErrorCode = "ColumnNotInResultSet"
	ErrCodePropertyWriteFailed           ErrorCode = "PropertyWriteFailed"
	ErrCodeConfigurationInvalid          ErrorCode = "ConfigurationInvalid"
)

// Error is the only error type returned by dbmap operations.
// Driver errors are kept as Cause and reachable through errors.Unwrap.
type Error struct {
	Code   ErrorCode
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dbmap: %s: %s: %s", e.Code, e.Detail, fixStringEncoding(e.Cause.Error()))
	}
	return fmt.Sprintf("dbmap: %s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code, so the
// sentinel values below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinel values for errors.Is comparisons.
var (
	ErrMappingNotFound               = &Error{Code: ErrCodeMappingNotFound}
	ErrPropertyAndMappingNotFound    = &Error{Code: ErrCodePropertyAndMappingNotFound}
	ErrMalformedMetaNameSyntax       = &Error{Code: ErrCodeMalformedMetaNameSyntax}
	ErrTemplateNotFound              = &Error{Code: ErrCodeTemplateNotFound}
	ErrTemplateArgumentCountMismatch = &Error{Code: ErrCodeTemplateArgumentCountMismatch}
	ErrParameterValueMissing         = &Error{Code: ErrCodeParameterValueMissing}
	ErrConnectionCreationFailed      = &Error{Code: ErrCodeConnectionCreationFailed}
	ErrConnectionClosed              = &Error{Code: ErrCodeConnectionClosed}
	ErrTransactionBeginFailed        = &Error{Code: ErrCodeTransactionBeginFailed}
	ErrTransactionCommitFailed       = &Error{Code: ErrCodeTransactionCommitFailed}
	ErrTransactionRollbackFailed     = &Error{Code: ErrCodeTransactionRollbackFailed}
	ErrExecutionFailed               = &Error{Code: ErrCodeExecutionFailed}
	ErrLastInsertIdNotNumber         = &Error{Code: ErrCodeLastInsertIdNotNumber}
	ErrColumnNotInResultSet          = &Error{Code: ErrCodeColumnNotInResultSet}
	ErrPropertyWriteFailed           = &Error{Code: ErrCodePropertyWriteFailed}
	ErrConfigurationInvalid          = &Error{Code: ErrCodeConfigurationInvalid}
)

func newError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// wrapError attaches a driver error. An error that already is an *Error is
// returned unchanged so codes raised deeper in the stack survive.
func wrapError(err error, code ErrorCode, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...), Cause: err}
}

// IsCode reports whether err is (or wraps) an *Error carrying code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// CodeOf returns the code of err, or "" when err is not a dbmap error.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
