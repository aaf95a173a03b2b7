package csm

import "fmt"

// Validation error codes.
const (
	CodeSymbolCountOutOfRange        = "CSM_SYMBOL_COUNT_OUT_OF_RANGE"
	CodeSymbolFormatInvalid          = "CSM_SYMBOL_FORMAT_INVALID"
	CodeSymbolDuplicated             = "CSM_SYMBOL_DUPLICATED"
	CodeModeInvalid                  = "CSM_MODE_INVALID"
	CodeLiveConfirmRequired          = "CSM_LIVE_CONFIRM_REQUIRED"
	CodeCredentialFieldMissing       = "CSM_CREDENTIAL_REQUIRED_FIELD_MISSING"
	CodeModeSwitchPreconditionFailed = "CSM_MODE_SWITCH_PRECONDITION_FAILED"
)

// ValidationError rejects a settings request. Field names the offending
// input; Value carries a safe-to-log rendering of it.
type ValidationError struct {
	Code  string
	Field string
	Value any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field=%s, value=%v", e.Code, e.Field, e.Value)
}

func newValidationError(code, field string, value any) *ValidationError {
	return &ValidationError{Code: code, Field: field, Value: value}
}
