package sentinel

import (
	"errors"
	"fmt"
)

var errMissingCredentials = errors.New("SH_CLIENT_ID and SH_CLIENT_SECRET must be set")

// AuthError reports rejected or missing credentials. It is never retried.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("satellite provider authentication failed (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("satellite provider authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// QuotaExceededError reports that the account has no processing quota left.
// It is never retried.
type QuotaExceededError struct {
	Status  int
	Message string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("satellite provider quota exceeded (HTTP %d): %s", e.Status, e.Message)
}

// ProviderError is any other failed request. Status is zero for transport
// errors.
type ProviderError struct {
	Status    int
	Message   string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("satellite provider request failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("satellite provider HTTP %d: %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("satellite provider HTTP %d: %s", e.Status, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetriesExhaustedError is returned once every attempt allowed by the retry
// policy failed with a retryable error.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("satellite fetch gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }
