package service

import (
	"errors"
	"fmt"
)

// Validation failure causes. Callers of KeyStore.Validate never see these;
// they exist for audit logging and metrics.
var (
	ErrKeyNotFound   = errors.New("api key not found")
	ErrKeyDisabled   = errors.New("api key disabled")
	ErrKeyExpired    = errors.New("api key expired")
	ErrInvalidSecret = errors.New("invalid secret")
)

var (
	// ErrCollisionExhausted means issuance could not find an unused secret
	// within the retry bound. Retrying the whole issuance is safe.
	ErrCollisionExhausted = errors.New("secret collision retries exhausted")
	ErrInvalidCost        = errors.New("cost must be a positive integer no greater than 1000000000")
	ErrInvalidQuota       = errors.New("quota must be a positive integer")
	ErrInvalidExpiry      = errors.New("expiry must not exceed 36500 days")
)

// StorageError wraps any infrastructure failure from the store. Writes that
// return a StorageError must be treated as not having happened.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// failureReason maps a validation error to its metric/log label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return "not_found"
	case errors.Is(err, ErrKeyDisabled):
		return "disabled"
	case errors.Is(err, ErrKeyExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSecret):
		return "invalid_secret"
	case IsStorageError(err):
		return "storage_error"
	}
	return "unknown"
}
