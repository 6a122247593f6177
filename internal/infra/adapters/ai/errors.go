// File: internal/infra/adapters/ai/errors.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"google.golang.org/genai"

	"health-triage/internal/domain"
	"health-triage/internal/domain/model"
)

// ProviderError is a provider failure normalised to an HTTP-ish status and a
// provider code. Adapters without an SDK error type return it directly.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %d: %s", e.Provider, e.StatusCode, e.Message)
}

// ExhaustedError is returned when every candidate model failed. It carries
// the full attempt trail for diagnostics and matches domain.ErrAllModelsFailed.
type ExhaustedError struct {
	Attempts []model.ModelAttempt
	// Cause is the last error seen; context errors surface here.
	Cause error
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString(domain.ErrAllModelsFailed.Error())
	fmt.Fprintf(&b, " after %d attempts", len(e.Attempts))
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s#%d %s", a.Model, a.Attempt, a.Category)
	}
	return b.String()
}

func (e *ExhaustedError) Is(target error) bool { return target == domain.ErrAllModelsFailed }

func (e *ExhaustedError) Unwrap() error { return e.Cause }

var unavailableHints = []string{
	"model_not_found", "not found", "not_found", "deprecated", "decommissioned",
	"invalid model", "unknown model", "does not exist", "no longer available", "is not supported",
}

var transientHints = []string{
	"rate limit", "rate_limit", "quota", "resource_exhausted", "resource exhausted",
	"overloaded", "temporarily unavailable", "try again", "unavailable", "timeout",
}

// Classify maps a provider error to a retry category.
//
//	rate_limited:      429, 5xx, quota / overload wording, per-attempt deadline
//	model_unavailable: 404, 410, unknown / deprecated model wording
//	other:             everything else
func Classify(err error) model.ErrorCategory {
	if err == nil {
		return model.ErrCategoryNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrCategoryRateLimited
	}

	status, code, msg := inspect(err)
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return model.ErrCategoryUnavailable
	case status == http.StatusTooManyRequests || status >= 500:
		return model.ErrCategoryRateLimited
	}

	text := strings.ToLower(code + " " + msg)
	for _, h := range unavailableHints {
		if strings.Contains(text, h) {
			return model.ErrCategoryUnavailable
		}
	}
	for _, h := range transientHints {
		if strings.Contains(text, h) {
			return model.ErrCategoryRateLimited
		}
	}
	return model.ErrCategoryOther
}

func inspect(err error) (status int, code, msg string) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode, pe.Code, pe.Message
	}
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode, oe.Code, oe.Message
	}
	var ge genai.APIError
	if errors.As(err, &ge) {
		return ge.Code, ge.Status, ge.Message
	}
	var gp *genai.APIError
	if errors.As(err, &gp) {
		return gp.Code, gp.Status, gp.Message
	}
	return 0, "", err.Error()
}
