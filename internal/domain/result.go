package domain

import (
	"fmt"
	"time"
)

// StageStatus discriminates the variants of a StageResult.
type StageStatus string

const (
	// StageSuccess means the stage ran and contributed its output.
	StageSuccess StageStatus = "success"
	// StageFailure means the stage ran and failed; Error carries the detail.
	StageFailure StageStatus = "failure"
	// StagePartial means the stage ran and contributed part of its output
	// before the governor refused a further request.
	StagePartial StageStatus = "partial"
	// StageSkipped is a planned skip, e.g. a provider with no token available.
	StageSkipped StageStatus = "skipped"
	// StageRequiresApproval means the stage cannot run until an operator acts,
	// e.g. a provider whose daily quota is exhausted.
	StageRequiresApproval StageStatus = "requires_approval"
)

// Stage error codes.
const (
	CodeTimeout     = "timeout"
	CodeCancelled   = "cancelled"
	CodeProvider    = "provider_error"
	CodeRateLimited = "rate_limited"
	CodeDailyQuota  = "daily_quota_exhausted"
	CodeUnsupported = "unsupported_capability"
)

// StageError is the structured error detail of a failed or blocked stage.
type StageError struct {
	Stage    string `json:"stage"`
	Provider string `json:"provider,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Cause    error  `json:"-"`
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s[%s]: %s: %s", e.Stage, e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// StageResult records the outcome of one stage of work, typically one
// provider's contribution to an orchestrated search.
type StageResult struct {
	Stage     string        `json:"stage"`
	Provider  string        `json:"provider,omitempty"`
	Status    StageStatus   `json:"status"`
	Documents int           `json:"documents"`
	Duration  time.Duration `json:"duration_ns"`
	Error     *StageError   `json:"error,omitempty"`
}

// Success builds a successful StageResult.
func Success(stage, provider string, documents int, d time.Duration) StageResult {
	return StageResult{Stage: stage, Provider: provider, Status: StageSuccess, Documents: documents, Duration: d}
}

// Failure builds a failed StageResult.
func Failure(stage, provider, code string, cause error, documents int, d time.Duration) StageResult {
	msg := code
	if cause != nil {
		msg = cause.Error()
	}
	return StageResult{
		Stage:     stage,
		Provider:  provider,
		Status:    StageFailure,
		Documents: documents,
		Duration:  d,
		Error:     &StageError{Stage: stage, Provider: provider, Code: code, Message: msg, Cause: cause},
	}
}

// Skipped builds a planned-skip StageResult.
func Skipped(stage, provider, code, reason string) StageResult {
	return StageResult{
		Stage:    stage,
		Provider: provider,
		Status:   StageSkipped,
		Error:    &StageError{Stage: stage, Provider: provider, Code: code, Message: reason},
	}
}

// Unsupported builds the planned skip of a provider named by an intent that
// lacks the capability the stage needs. The cause is ErrProviderUnavailable.
func Unsupported(stage, provider string, capability ProviderCapability) StageResult {
	r := Skipped(stage, provider, CodeUnsupported, fmt.Sprintf("provider does not support %s", capability))
	r.Error.Cause = ErrProviderUnavailable
	return r
}

// Partial builds the result of a provider that stopped early because the
// governor refused a further request. The documents delivered before the
// refusal count as its contribution.
func Partial(stage, provider string, cause *BudgetError, documents int, d time.Duration) StageResult {
	return StageResult{
		Stage:     stage,
		Provider:  provider,
		Status:    StagePartial,
		Documents: documents,
		Duration:  d,
		Error:     &StageError{Stage: stage, Provider: provider, Code: cause.Code, Message: cause.Error(), Cause: cause},
	}
}

// RequiresApproval builds a StageResult that is blocked pending operator action.
func RequiresApproval(stage, provider, code, reason string) StageResult {
	return StageResult{
		Stage:    stage,
		Provider: provider,
		Status:   StageRequiresApproval,
		Error:    &StageError{Stage: stage, Provider: provider, Code: code, Message: reason},
	}
}

// IsSuccess reports whether the result is the Success variant.
func (r StageResult) IsSuccess() bool {
	return r.Status == StageSuccess
}
