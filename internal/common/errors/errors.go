// Package errors provides the standardized error taxonomy shared by the
// landing page workers, the HTTP intake API and the Zeebe job plumbing.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrCodeUploadFailed        ErrorCode = "UPLOAD_FAILED"
	ErrCodeMalformedTemplate   ErrorCode = "MALFORMED_TEMPLATE"
	ErrCodeTemplateNotFound    ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeProvisioningFailed  ErrorCode = "PROVISIONING_FAILED"
	ErrCodePersistenceFailed   ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeSubmissionThrottled ErrorCode = "SUBMISSION_THROTTLED"
	ErrCodePageNotFound        ErrorCode = "PAGE_NOT_FOUND"
	ErrCodeNoChanges           ErrorCode = "NO_CHANGES"
	ErrCodeParseError          ErrorCode = "PARSE_ERROR"
	ErrCodeExternalService     ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout             ErrorCode = "TIMEOUT"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error. Message is safe
// to show to the submitter; Details is for logs only.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches any *StandardError carrying the same code, so callers can write
// errors.Is(err, &StandardError{Code: ErrCodeValidationFailed}).
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns e after setting key.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// MetadataString returns a string metadata value or "".
func (e *StandardError) MetadataString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewValidationError reports a missing or malformed submission field.
// message is the corrective text shown to the submitter.
func NewValidationError(field, message string) *StandardError {
	return newError(ErrCodeValidationFailed, message, fmt.Sprintf("field: %s", field), false, nil).
		WithMetadata("field", field)
}

// NewUploadError reports a rejected file or a failed storage write.
func NewUploadError(message string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return newError(ErrCodeUploadFailed, message, details, false, err)
}

func NewMalformedTemplateError(details string, err error) *StandardError {
	return newError(ErrCodeMalformedTemplate, "Template is not a valid element tree", details, false, err)
}

func NewTemplateNotFoundError(templateID int) *StandardError {
	return newError(ErrCodeTemplateNotFound, "Template not found in library",
		fmt.Sprintf("templateId: %d", templateID), false, nil)
}

// NewProvisioningError carries the collaborator's reason code in Metadata["reason"].
func NewProvisioningError(reason, message string, err error) *StandardError {
	details := reason
	if err != nil {
		details = fmt.Sprintf("%s: %s", reason, err.Error())
	}
	return newError(ErrCodeProvisioningFailed, message, details, false, err).
		WithMetadata("reason", reason)
}

// NewPersistenceError wraps a storage failure behind a generic user message.
func NewPersistenceError(operation string, err error) *StandardError {
	details := operation
	if err != nil {
		details = fmt.Sprintf("%s: %s", operation, err.Error())
	}
	return newError(ErrCodePersistenceFailed, "Failed to save landing page. Please try again.",
		details, true, err).WithMetadata("operation", operation)
}

func NewSubmissionThrottledError(reason string) *StandardError {
	return newError(ErrCodeSubmissionThrottled,
		"You have already submitted a form. Only one submission is allowed per session.",
		reason, false, nil).WithMetadata("reason", reason)
}

func NewPageNotFoundError(details string) *StandardError {
	return newError(ErrCodePageNotFound, "This is not a valid Dynamic Site Maker landing page.",
		details, false, nil)
}

func NewNoChangesError() *StandardError {
	return newError(ErrCodeNoChanges, "No changes were made.", "", false, nil)
}

func NewParseError(err error) *StandardError {
	return newError(ErrCodeParseError, "Invalid job variables", err.Error(), false, err)
}

// NewExternalServiceError reports an unreachable or failing dependency.
func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("%s is unavailable", service),
		err.Error(), true, err).WithMetadata("service", service)
}

func NewTimeoutError(operation string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("%s timed out", operation),
		err.Error(), true, err).WithMetadata("operation", operation)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false, err)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidationFailed:    "VALIDATION_FAILED",
	ErrCodeUploadFailed:        "UPLOAD_FAILED",
	ErrCodeMalformedTemplate:   "MALFORMED_TEMPLATE",
	ErrCodeTemplateNotFound:    "TEMPLATE_NOT_FOUND",
	ErrCodeProvisioningFailed:  "PROVISIONING_FAILED",
	ErrCodePersistenceFailed:   "PERSISTENCE_FAILED",
	ErrCodeSubmissionThrottled: "SUBMISSION_THROTTLED",
	ErrCodePageNotFound:        "PAGE_NOT_FOUND",
	ErrCodeNoChanges:           "NO_CHANGES",
	ErrCodeParseError:          "PARSE_ERROR",
	ErrCodeExternalService:     "EXTERNAL_SERVICE_ERROR",
	ErrCodeTimeout:             "TIMEOUT",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodePersistenceFailed, ErrCodeExternalService:
		return 3
	case ErrCodeTimeout:
		return 2
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// Normalize returns the *StandardError in err's chain, or wraps err as INTERNAL_ERROR.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// CodeOf returns the code of the *StandardError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "PARSE"):
		return "VALIDATION"
	case strings.Contains(codeStr, "UPLOAD"):
		return "UPLOAD"
	case strings.Contains(codeStr, "TEMPLATE"):
		return "TEMPLATE"
	case strings.Contains(codeStr, "PROVISIONING"):
		return "PROVISIONING"
	case strings.Contains(codeStr, "PERSISTENCE"):
		return "PERSISTENCE"
	case strings.Contains(codeStr, "THROTTLED"):
		return "THROTTLE"
	case code == ErrCodeExternalService || code == ErrCodeTimeout:
		return "INTEGRATION"
	default:
		return "OTHER"
	}
}
