package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidExecContext  = errors.New("invalid execution context")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrConflict            = errors.New("concurrent modification")

	// Session lifecycle
	ErrSessionClosed     = errors.New("session is closed")
	ErrSessionEscalated  = errors.New("session is handled by a human worker")
	ErrInvalidTransition = errors.New("invalid session status transition")

	// Assessment
	ErrAssessmentComplete = errors.New("assessment already complete")
	ErrUnknownSymptom     = errors.New("no assessment flow for symptom")

	// Model gateway
	ErrAllModelsFailed = errors.New("all models failed")
	ErrNoModels        = errors.New("no candidate models configured")

	ErrRateLimited = errors.New("rate limited")
)
