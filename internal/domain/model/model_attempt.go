package model

import "time"

// ErrorCategory classifies a failed provider call for retry decisions.
type ErrorCategory string

const (
	ErrCategoryNone        ErrorCategory = ""
	ErrCategoryRateLimited ErrorCategory = "rate_limited"
	ErrCategoryUnavailable ErrorCategory = "model_unavailable"
	ErrCategoryOther       ErrorCategory = "other"
)

// ModelAttempt is one provider invocation made by the gateway. It stays in
// diagnostics (logs, status) and is never shown to the user.
type ModelAttempt struct {
	Model    string        `json:"model"`
	Attempt  int           `json:"attempt"`
	Success  bool          `json:"success"`
	Category ErrorCategory `json:"category,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
	Latency  time.Duration `json:"latency"`
}
