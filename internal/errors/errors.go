package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all fatal pipeline failures.
// Recoverable stage failures never become errors; they are reported as coverage gaps.
type ErrorCode string

const (
	// ProviderUnavailable indicates a required embedding or LLM provider is missing
	ProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	// IndexEmpty indicates the knowledge index contains no entities
	IndexEmpty ErrorCode = "INDEX_EMPTY"
	// IndexNotReady indicates the index has not reached a ready phase
	IndexNotReady ErrorCode = "INDEX_NOT_READY"
	// InvalidEmbedding indicates the embedding service returned something that is not a usable vector
	InvalidEmbedding ErrorCode = "INVALID_EMBEDDING"
	// InvalidObserver indicates the stage observer cannot be invoked
	InvalidObserver ErrorCode = "INVALID_OBSERVER"
	// InvalidQuery indicates the query failed validation
	InvalidQuery ErrorCode = "INVALID_QUERY"
	// StorageFailure indicates the storage backend returned an unexpected error
	StorageFailure ErrorCode = "STORAGE_FAILURE"
	// CacheCorrupt indicates a persisted cache entry could not be decoded
	CacheCorrupt ErrorCode = "CACHE_CORRUPT"
	// NotFound indicates a looked-up record does not exist
	NotFound ErrorCode = "NOT_FOUND"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
	// Configure suggests changing configuration
	Configure FixActionType = "configure"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
	Setting     string        `json:"setting,omitempty"`
}

// Drilldown represents a suggested follow-up query
type Drilldown struct {
	Label string `json:"label"`
	Query string `json:"query"`
}

// PackError represents a pipeline error with code, message, and suggestions
type PackError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	Drilldowns     []Drilldown `json:"drilldowns,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// NewPackError creates a new PackError
func NewPackError(code ErrorCode, message string, cause error, suggestedFixes []FixAction, drilldowns []Drilldown) *PackError {
	return &PackError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: suggestedFixes,
		Drilldowns:     drilldowns,
	}
}

// New creates a PackError carrying the predefined fixes for its code.
func New(code ErrorCode, message string, cause error) *PackError {
	return NewPackError(code, message, cause, GetSuggestedFixes(code), nil)
}

// Error implements the error interface
func (e *PackError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *PackError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *PackError) WithDetails(details interface{}) *PackError {
	e.Details = details
	return e
}

// HasCode reports whether err (or anything it wraps) is a PackError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var pe *PackError
	for err != nil {
		if !stderrors.As(err, &pe) {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.cause
	}
	return false
}

// CodeOf returns the code of the outermost PackError in err's chain, or InternalError.
func CodeOf(err error) ErrorCode {
	var pe *PackError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return InternalError
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	ProviderUnavailable: {
		{
			Type:        Configure,
			Setting:     "synthesis.model",
			Description: "Configure an LLM provider or lower the query's llmRequirement to optional",
		},
	},
	IndexEmpty: {
		{
			Type:        RunCommand,
			Command:     "ctxpack index",
			Safe:        true,
			Description: "Index the repository before querying",
		},
	},
	IndexNotReady: {
		{
			Type:        RunCommand,
			Command:     "ctxpack query --wait-for-index=30s",
			Safe:        true,
			Description: "Wait for indexing to finish",
		},
	},
	InvalidEmbedding: {
		{
			Type:        Configure,
			Setting:     "embeddings.model",
			Description: "Check the embedding model configuration",
		},
	},
	CacheCorrupt: {
		{
			Type:        RunCommand,
			Command:     "ctxpack cache prune --all",
			Safe:        true,
			Description: "Drop the persistent query cache",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
