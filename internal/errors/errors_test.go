package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewPackError(t *testing.T) {
	cause := stderrors.New("underlying error")
	fixes := []FixAction{{Type: RunCommand, Command: "ctxpack index"}}
	drilldowns := []Drilldown{{Label: "Check", Query: "status"}}

	err := NewPackError(IndexEmpty, "index has no entities", cause, fixes, drilldowns)

	if err.Code != IndexEmpty {
		t.Errorf("Code = %v, want %v", err.Code, IndexEmpty)
	}
	if err.Message != "index has no entities" {
		t.Errorf("Message = %q, want %q", err.Message, "index has no entities")
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
	if len(err.Drilldowns) != 1 {
		t.Errorf("len(Drilldowns) = %d, want 1", len(err.Drilldowns))
	}
}

func TestPackError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      ProviderUnavailable,
			message:   "synthesis provider missing",
			cause:     stderrors.New("no api key"),
			wantParts: []string{"PROVIDER_UNAVAILABLE", "synthesis provider missing", "no api key"},
		},
		{
			name:      "without cause",
			code:      InvalidEmbedding,
			message:   "embedding is empty",
			wantParts: []string{"INVALID_EMBEDDING", "embedding is empty"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPackError(tt.code, tt.message, tt.cause, nil, nil).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestPackError_Unwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := NewPackError(InternalError, "something went wrong", cause, nil, nil)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should see the cause")
	}

	errNoCause := NewPackError(InvalidQuery, "bad depth", nil, nil, nil)
	if errNoCause.Unwrap() != nil {
		t.Errorf("Unwrap() on error without cause should return nil")
	}
}

func TestPackError_WithDetails(t *testing.T) {
	err := NewPackError(InvalidQuery, "bad depth", nil, nil, nil)
	details := map[string]string{"depth": "L9"}

	if result := err.WithDetails(details); result != err {
		t.Error("WithDetails should return the same error for chaining")
	}
	if err.Details == nil {
		t.Error("Details should be set")
	}
}

func TestHasCode(t *testing.T) {
	inner := New(InvalidEmbedding, "vector has NaN", nil)
	outer := New(StorageFailure, "search failed", inner)
	wrapped := fmt.Errorf("pipeline: %w", outer)

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct match", inner, InvalidEmbedding, true},
		{"outer code", wrapped, StorageFailure, true},
		{"nested code", wrapped, InvalidEmbedding, true},
		{"absent code", wrapped, IndexEmpty, false},
		{"plain error", stderrors.New("x"), InternalError, false},
		{"nil error", nil, InternalError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCode(tt.err, tt.code); got != tt.want {
				t.Errorf("HasCode(%v, %s) = %v, want %v", tt.err, tt.code, got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("wrap: %w", New(IndexEmpty, "empty", nil))); got != IndexEmpty {
		t.Errorf("CodeOf = %s, want %s", got, IndexEmpty)
	}
	if got := CodeOf(stderrors.New("plain")); got != InternalError {
		t.Errorf("CodeOf(plain) = %s, want %s", got, InternalError)
	}
}

func TestGetSuggestedFixes(t *testing.T) {
	tests := []struct {
		code    ErrorCode
		wantNil bool
	}{
		{ProviderUnavailable, false},
		{IndexEmpty, false},
		{IndexNotReady, false},
		{InvalidEmbedding, false},
		{CacheCorrupt, false},
		{NotFound, true},
		{InternalError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			fixes := GetSuggestedFixes(tt.code)
			if tt.wantNil && fixes != nil {
				t.Errorf("GetSuggestedFixes(%v) = %v, want nil", tt.code, fixes)
			}
			if !tt.wantNil && len(fixes) == 0 {
				t.Errorf("GetSuggestedFixes(%v) should not be empty", tt.code)
			}
		})
	}
}

func TestErrorActionsMap(t *testing.T) {
	for code, fixes := range ErrorActions {
		if len(fixes) == 0 {
			t.Errorf("ErrorActions[%v] has no fix actions", code)
		}
		for i, fix := range fixes {
			if fix.Type == "" {
				t.Errorf("ErrorActions[%v][%d].Type is empty", code, i)
			}
		}
	}
}
